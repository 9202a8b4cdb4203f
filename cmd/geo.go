package main

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/streetlives/peer-analytics/internal/analytics"
	"github.com/streetlives/peer-analytics/internal/boundary"
	"github.com/streetlives/peer-analytics/internal/db"
	"github.com/streetlives/peer-analytics/internal/fetcher"
)

var geoCmd = &cobra.Command{
	Use:   "geo",
	Short: "Manage catalog boundary geometries",
	Long:  "Create the PostGIS boundary tables and load neighborhood and district shapefiles into them.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("geo")
	},
}

var geoMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create boundary tables and spatial indexes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		pool, err := openPool(ctx, cfg.Catalog.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := boundary.Migrate(ctx, pool); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Boundary tables ready")
		return nil
	},
}

var geoLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load boundary shapefiles listed in the manifest",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		manifestPath, _ := cmd.Flags().GetString("manifest")
		if manifestPath == "" {
			manifestPath = cfg.Boundary.Manifest
		}
		m, err := boundary.ReadManifest(manifestPath)
		if err != nil {
			return err
		}

		kindsStr, _ := cmd.Flags().GetString("kinds")
		kinds, err := parseKinds(kindsStr)
		if err != nil {
			return err
		}
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		opts := boundary.LoadOptions{
			Kinds:       kinds,
			TempDir:     cfg.Boundary.TempDir,
			Concurrency: concurrency,
			DryRun:      dryRun,
		}

		zap.L().Info("starting boundary load",
			zap.String("manifest", manifestPath),
			zap.String("kinds", kindsStr),
			zap.Bool("dry_run", dryRun),
		)

		var pool db.Pool
		if !dryRun {
			p, err := openPool(ctx, cfg.Catalog.DatabaseURL)
			if err != nil {
				return err
			}
			defer p.Close()
			if err := boundary.Migrate(ctx, p); err != nil {
				return eris.Wrap(err, "geo load: migrate")
			}
			pool = p
		}

		f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Retry: retryConfig(cfg.GA4.Retry)})
		results, err := boundary.NewLoader(pool, f).Load(ctx, m, opts)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, r := range results {
			fmt.Fprintf(out, "%-14s %6d\n", r.Kind, r.Rows)
		}
		return nil
	},
}

var geoStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last boundary load per geometry type",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		pool, err := openPool(ctx, cfg.Catalog.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		status, err := boundary.LoadStatus(ctx, pool)
		if err != nil {
			return err
		}
		printBoundaryStatus(cmd.OutOrStdout(), status)
		return nil
	},
}

// parseKinds parses a comma-separated list of geometry types.
func parseKinds(s string) ([]analytics.GeometryKind, error) {
	var kinds []analytics.GeometryKind
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, err := analytics.ParseKind(part)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func printBoundaryStatus(w io.Writer, status []boundary.StatusRow) {
	if len(status) == 0 {
		fmt.Fprintln(w, "No boundaries loaded yet")
		return
	}

	fmt.Fprintf(w, "%-14s %8s %10s %-17s %s\n", "Kind", "Rows", "Duration", "Loaded At", "Source")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, s := range status {
		fmt.Fprintf(w, "%-14s %8d %8dms %-17s %s\n",
			s.Kind, s.RowCount, s.DurationMs, s.LoadedAt.Format("2006-01-02 15:04"), s.Source)
	}
}

func init() {
	geoLoadCmd.Flags().String("manifest", "", "boundary manifest (default from config)")
	geoLoadCmd.Flags().String("kinds", "", "comma-separated geometry types (default: every manifest source)")
	geoLoadCmd.Flags().Int("concurrency", 2, "parallel sources")
	geoLoadCmd.Flags().Bool("dry-run", false, "download and parse without loading")

	geoCmd.AddCommand(geoMigrateCmd, geoLoadCmd, geoStatusCmd)
	rootCmd.AddCommand(geoCmd)
}
