package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/streetlives/peer-analytics/internal/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Location catalog maintenance",
}

var catalogSnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Copy the Postgres catalog into a SQLite snapshot",
	Long: "Exports locations, slug redirects, taxonomy counts and boundaries from Postgres " +
		"into a SQLite file that serve and report can use with catalog.driver=sqlite.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if out, _ := cmd.Flags().GetString("out"); out != "" {
			cfg.Catalog.SQLitePath = out
		}
		if err := cfg.Validate("snapshot"); err != nil {
			return err
		}

		ctx := cmd.Context()
		pool, err := openPool(ctx, cfg.Catalog.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		snap, err := catalog.NewPostgres(pool).Snapshot(ctx)
		if err != nil {
			return err
		}

		dst, err := catalog.NewSQLite(cfg.Catalog.SQLitePath)
		if err != nil {
			return err
		}
		defer dst.Close() //nolint:errcheck

		if err := dst.Migrate(ctx); err != nil {
			return err
		}
		if err := dst.Import(ctx, snap); err != nil {
			return err
		}

		zap.L().Info("catalog snapshot written",
			zap.String("path", cfg.Catalog.SQLitePath),
			zap.Int("locations", len(snap.Locations)),
			zap.Int("redirects", len(snap.Redirects)),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d locations to %s\n", len(snap.Locations), cfg.Catalog.SQLitePath)
		return nil
	},
}

func init() {
	catalogSnapshotCmd.Flags().String("out", "", "snapshot path (default catalog.sqlite_path)")
	catalogCmd.AddCommand(catalogSnapshotCmd)
	rootCmd.AddCommand(catalogCmd)
}
