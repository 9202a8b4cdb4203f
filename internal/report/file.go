package report

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/streetlives/peer-analytics/internal/analytics"
	"github.com/streetlives/peer-analytics/internal/fetcher"
)

// FileOptions configures a FileSource.
type FileOptions struct {
	// PageViews and Events are local paths or http(s) URLs of CSV or XLSX
	// exports. Events serves requests that name an event.
	PageViews string
	Events    string
	// Columns maps a dimension or metric name to the export's column
	// header. Keys match case-insensitively. Unmapped names are looked up
	// as-is.
	Columns map[string]string
	// DateColumn, when present in the export, restricts rows to the
	// requested period. Values are YYYYMMDD or YYYY-MM-DD.
	DateColumn string
	// EventColumn, when present in the export, restricts rows to the
	// requested event. Defaults to "eventName".
	EventColumn string
	// Sheet selects an XLSX sheet by name. Empty means the first sheet.
	Sheet string
}

// FileSource serves reports from exported GA4 files.
type FileSource struct {
	opts    FileOptions
	fetcher fetcher.Fetcher
}

// NewFileSource creates a FileSource. f downloads remote exports and may be
// nil when every path is local.
func NewFileSource(opts FileOptions, f fetcher.Fetcher) *FileSource {
	if opts.EventColumn == "" {
		opts.EventColumn = "eventName"
	}
	cols := make(map[string]string, len(opts.Columns))
	for k, v := range opts.Columns {
		cols[strings.ToLower(k)] = v
	}
	opts.Columns = cols
	return &FileSource{opts: opts, fetcher: f}
}

// Fetch implements analytics.Source. The export is re-read on every call.
func (s *FileSource) Fetch(ctx context.Context, req analytics.ReportRequest) ([]analytics.ReportRow, error) {
	path := s.opts.PageViews
	if req.EventName != "" {
		path = s.opts.Events
	}
	if path == "" {
		return nil, eris.Errorf("report: no export configured for event %q", req.EventName)
	}

	table, err := s.load(ctx, path)
	if err != nil {
		return nil, err
	}
	rows, err := s.convert(table, req)
	if err != nil {
		return nil, eris.Wrapf(err, "report: %s", path)
	}
	zap.L().Debug("report: export rows read",
		zap.String("path", path),
		zap.Int("rows", len(table.Rows)),
		zap.Int("kept", len(rows)),
	)
	return rows, nil
}

func (s *FileSource) load(ctx context.Context, path string) (*fetcher.Table, error) {
	ext := exportExt(path)
	if isRemote(path) {
		if s.fetcher == nil {
			return nil, eris.Errorf("report: no fetcher for remote export %s", path)
		}
		dir, err := os.MkdirTemp("", "peer-analytics-export-*")
		if err != nil {
			return nil, eris.Wrap(err, "report: create temp dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck

		local := filepath.Join(dir, "export"+ext)
		if _, err := s.fetcher.DownloadToFile(ctx, path, local); err != nil {
			return nil, eris.Wrapf(err, "report: download %s", path)
		}
		path = local
	}

	switch ext {
	case ".xlsx":
		t, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetName: s.opts.Sheet, Comment: "#"})
		return t, eris.Wrapf(err, "report: read %s", path)
	case ".csv", ".tsv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "report: open %s", path)
		}
		defer f.Close() //nolint:errcheck

		opts := fetcher.CSVOptions{Comment: '#', TrimSpace: true}
		if ext == ".tsv" {
			opts.Delimiter = '\t'
		}
		t, err := fetcher.ReadCSV(ctx, f, opts)
		return t, eris.Wrapf(err, "report: read %s", path)
	default:
		return nil, eris.Errorf("report: unsupported export format %q", ext)
	}
}

func (s *FileSource) column(t *fetcher.Table, name string) int {
	if h, ok := s.opts.Columns[strings.ToLower(name)]; ok && h != "" {
		return t.Column(h)
	}
	return t.Column(name)
}

func (s *FileSource) convert(t *fetcher.Table, req analytics.ReportRequest) ([]analytics.ReportRow, error) {
	dims := make(map[string]int, len(req.Dimensions))
	for _, d := range req.Dimensions {
		if i := s.column(t, d); i >= 0 {
			dims[d] = i
		} else {
			zap.L().Warn("report: dimension missing from export", zap.String("dimension", d))
		}
	}
	metrics := make(map[string]int, len(req.Metrics))
	for _, m := range req.Metrics {
		if i := s.column(t, m); i >= 0 {
			metrics[m] = i
		}
	}

	dateCol := -1
	if s.opts.DateColumn != "" {
		dateCol = s.column(t, s.opts.DateColumn)
	}
	eventCol := -1
	if req.EventName != "" {
		eventCol = s.column(t, s.opts.EventColumn)
	}

	out := make([]analytics.ReportRow, 0, len(t.Rows))
	for n, rec := range t.Rows {
		if eventCol >= 0 && cell(rec, eventCol) != req.EventName {
			continue
		}
		if dateCol >= 0 {
			in, err := withinPeriod(cell(rec, dateCol), req.Start, req.End)
			if err != nil {
				return nil, eris.Wrapf(err, "row %d", n+1)
			}
			if !in {
				continue
			}
		}

		row := analytics.ReportRow{
			Dimensions: make(map[string]string, len(dims)),
			Metrics:    make(map[string]int64, len(metrics)),
		}
		for name, i := range dims {
			if v, ok := dimensionValue(cell(rec, i)); ok {
				row.Dimensions[name] = v
			}
		}
		for name, i := range metrics {
			raw := cell(rec, i)
			if strings.TrimSpace(raw) == "" {
				continue
			}
			v, err := parseCount(name, raw)
			if err != nil {
				return nil, eris.Wrapf(err, "row %d", n+1)
			}
			row.Metrics[name] = v
		}
		out = append(out, row)
	}
	return out, nil
}

func cell(rec []string, i int) string {
	if i < len(rec) {
		return rec[i]
	}
	return ""
}

// withinPeriod reports whether raw falls in [start, end] by calendar day.
func withinPeriod(raw string, start, end time.Time) (bool, error) {
	v := strings.TrimSpace(raw)
	var (
		day time.Time
		err error
	)
	if len(v) == 8 {
		day, err = time.Parse("20060102", v)
	} else {
		day, err = time.Parse(time.DateOnly, v)
	}
	if err != nil {
		return false, eris.Wrapf(analytics.ErrMalformedRow, "report: date %q", raw)
	}
	if !start.IsZero() && day.Before(truncateDay(start)) {
		return false, nil
	}
	if !end.IsZero() && day.After(truncateDay(end)) {
		return false, nil
	}
	return true, nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func isRemote(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

func exportExt(path string) string {
	if isRemote(path) {
		if u, err := url.Parse(path); err == nil {
			path = u.Path
		}
	}
	return strings.ToLower(filepath.Ext(path))
}
