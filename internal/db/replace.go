package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// StageColumn is one column of the staging table.
type StageColumn struct {
	Name string
	Type string // SQL type, e.g. "text" or "geometry"
}

// ReplaceConfig defines a staged replacement of a slice of a table.
type ReplaceConfig struct {
	Table string // target table, optionally schema-qualified
	Stage []StageColumn
	// Target lists the target columns filled by Select.
	Target []string
	// Select holds one SQL expression over the staged columns per Target
	// column. Nil selects the staged columns by name.
	Select []string
	// Where scopes the rows deleted before insert. Empty replaces the
	// whole table. Args bind its placeholders.
	Where string
	Args  []any
	// BatchSize bounds each staging COPY (0 = DefaultBatchSize).
	BatchSize int
}

// BulkReplace swaps the scoped rows of a table for rows in one transaction:
//  1. Creates a temp staging table dropped on commit
//  2. COPY rows into the staging table
//  3. DELETE the scoped target rows
//  4. INSERT INTO target SELECT ... FROM staging
//
// Readers see either the old rows or the new ones.
func BulkReplace(ctx context.Context, pool Pool, cfg ReplaceConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cfg.Stage) == 0 {
		return 0, eris.New("db: replace: no staging columns specified")
	}
	if len(cfg.Target) == 0 {
		return 0, eris.New("db: replace: no target columns specified")
	}

	stageNames := make([]string, len(cfg.Stage))
	defs := make([]string, len(cfg.Stage))
	for i, c := range cfg.Stage {
		stageNames[i] = c.Name
		defs[i] = pgx.Identifier{c.Name}.Sanitize() + " " + c.Type
	}

	selectList := cfg.Select
	if selectList == nil {
		selectList = make([]string, len(cfg.Target))
		for i, c := range cfg.Target {
			selectList[i] = pgx.Identifier{c}.Sanitize()
		}
	}
	if len(selectList) != len(cfg.Target) {
		return 0, eris.Errorf("db: replace: %d select expressions for %d target columns", len(selectList), len(cfg.Target))
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: replace: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	stage := "_stage_" + strings.ReplaceAll(cfg.Table, ".", "_")

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (%s) ON COMMIT DROP",
		pgx.Identifier{stage}.Sanitize(),
		strings.Join(defs, ", "),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: replace: create staging table for %s", cfg.Table)
	}

	if _, err := CopyFrom(ctx, tx, pgx.Identifier{stage}, stageNames, rows, cfg.BatchSize); err != nil {
		return 0, eris.Wrapf(err, "db: replace: COPY into staging table for %s", cfg.Table)
	}

	deleteSQL := "DELETE FROM " + sanitizeTable(cfg.Table)
	if cfg.Where != "" {
		deleteSQL += " WHERE " + cfg.Where
	}
	if _, err := tx.Exec(ctx, deleteSQL, cfg.Args...); err != nil {
		return 0, eris.Wrapf(err, "db: replace: delete from %s", cfg.Table)
	}

	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s",
		sanitizeTable(cfg.Table),
		quoteAndJoin(cfg.Target),
		strings.Join(selectList, ", "),
		pgx.Identifier{stage}.Sanitize(),
	)
	tag, err := tx.Exec(ctx, insertSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: replace: insert into %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: replace: commit tx")
	}

	return tag.RowsAffected(), nil
}

// sanitizeTable handles schema-qualified table names like "public.nyc_districts".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
