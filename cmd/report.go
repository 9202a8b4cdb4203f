package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/streetlives/peer-analytics/internal/analytics"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Run one aggregation and print it as JSON",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("report")
	},
}

// runReport opens the service, runs fn and writes its result to w.
func runReport(cmd *cobra.Command, fn func(ctx context.Context, svc *analytics.Service, p analytics.Period) (any, error)) error {
	p, err := reportPeriod(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	svc, store, err := newService(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	out, err := fn(ctx, svc, p)
	if err != nil {
		return err
	}
	return writeReport(cmd.OutOrStdout(), out)
}

func writeReport(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "report: encode output")
}

// reportPeriod reads --start and --end.
func reportPeriod(cmd *cobra.Command) (analytics.Period, error) {
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")

	s, err := time.Parse(time.DateOnly, start)
	if err != nil {
		return analytics.Period{}, eris.Errorf("report: --start must be YYYY-MM-DD, got %q", start)
	}
	e, err := time.Parse(time.DateOnly, end)
	if err != nil {
		return analytics.Period{}, eris.Errorf("report: --end must be YYYY-MM-DD, got %q", end)
	}
	p := analytics.Period{Start: s, End: e}
	return p, p.Validate()
}

func kindFlag(cmd *cobra.Command, name string) (analytics.GeometryKind, error) {
	raw, _ := cmd.Flags().GetString(name)
	return analytics.ParseKind(raw)
}

var reportGeoCmd = &cobra.Command{
	Use:   "geo",
	Short: "Users per geography unit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		kind, err := kindFlag(cmd, "kind")
		if err != nil {
			return err
		}
		embedded, _ := cmd.Flags().GetBool("embedded")
		return runReport(cmd, func(ctx context.Context, svc *analytics.Service, p analytics.Period) (any, error) {
			if embedded {
				return svc.EmbeddedGeography(ctx, p, kind)
			}
			return svc.Geography(ctx, p, kind)
		})
	},
}

var reportCategoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "Service category distribution per geography unit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		kind, err := kindFlag(cmd, "kind")
		if err != nil {
			return err
		}
		return runReport(cmd, func(ctx context.Context, svc *analytics.Service, p analytics.Period) (any, error) {
			return svc.Categories(ctx, p, kind)
		})
	},
}

var reportFlowCmd = &cobra.Command{
	Use:   "flow",
	Short: "Visitor flow between two geography kinds",
	RunE: func(cmd *cobra.Command, _ []string) error {
		from, err := kindFlag(cmd, "from")
		if err != nil {
			return err
		}
		to, err := kindFlag(cmd, "to")
		if err != nil {
			return err
		}
		return runReport(cmd, func(ctx context.Context, svc *analytics.Service, p analytics.Period) (any, error) {
			return svc.Flow(ctx, p, from, to)
		})
	},
}

var reportLocationsCmd = &cobra.Command{
	Use:   "locations",
	Short: "Users per location",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runReport(cmd, func(ctx context.Context, svc *analytics.Service, p analytics.Period) (any, error) {
			return svc.Locations(ctx, p)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{reportGeoCmd, reportCategoriesCmd, reportFlowCmd, reportLocationsCmd} {
		c.Flags().String("start", "", "first day of the period (YYYY-MM-DD)")
		c.Flags().String("end", "", "last day of the period (YYYY-MM-DD)")
		_ = c.MarkFlagRequired("start")
		_ = c.MarkFlagRequired("end")
		reportCmd.AddCommand(c)
	}
	reportGeoCmd.Flags().String("kind", "neighborhood", "geometry type")
	reportGeoCmd.Flags().Bool("embedded", false, "use the geography embedded in geolocation events")
	reportCategoriesCmd.Flags().String("kind", "neighborhood", "geometry type")
	reportFlowCmd.Flags().String("from", "neighborhood", "visitor geometry type")
	reportFlowCmd.Flags().String("to", "neighborhood", "location geometry type")

	rootCmd.AddCommand(reportCmd)
}
