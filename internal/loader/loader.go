// Package loader implements the Loader: paged, parameterized batch inserts
// with conflict policy and per-row fallback on batch failure.
package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dbashand/dbreplicate/internal/config"
	"github.com/dbashand/dbreplicate/internal/model"
	"github.com/dbashand/dbreplicate/internal/runerr"
	"github.com/dbashand/dbreplicate/internal/sqlident"
)

// Options configures one Load call.
type Options struct {
	ConflictPolicy config.ConflictPolicy
	// ConflictColumns names the columns PostgreSQL needs as the ON CONFLICT
	// target when ConflictPolicy is ConflictUpdate (its primary key, or
	// failing that a unique constraint). Unused for ConflictError/ConflictSkip.
	ConflictColumns []string
	BatchSize       int
	ClearFirst      bool
}

// RowError records one row's insert failure during per-row fallback.
type RowError struct {
	Index int
	Err   error
}

// Result is the Loader's outcome for one table.
type Result struct {
	InsertedRows int64
	TotalRows    int
	Batches      int
	Errors       []RowError
}

// Loader performs batch inserts against the target.
type Loader struct {
	pool *pgxpool.Pool
}

// New builds a Loader over pool.
func New(pool *pgxpool.Pool) *Loader {
	return &Loader{pool: pool}
}

// ClearTable issues an unconditional full delete, used for the pre-sync
// clear and for rollback.
func (l *Loader) ClearTable(ctx context.Context, table string) error {
	_, err := l.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s", sqlident.Quote(table)))
	return err
}

// Load inserts rows into table under opts, against the given column
// metadata. It never returns an error for per-row failures — those surface
// in Result.Errors — only for connection-level faults or an empty effective
// column set.
func (l *Loader) Load(ctx context.Context, table string, rows []model.Row, columns []model.ColumnMeta, opts Options) (*Result, error) {
	result := &Result{TotalRows: len(rows)}

	if opts.ClearFirst {
		if err := l.ClearTable(ctx, table); err != nil {
			return nil, runerr.NewTable(runerr.KindInsertFailed, table, fmt.Errorf("clear before load: %w", err))
		}
	}
	if len(rows) == 0 {
		return result, nil
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = len(rows)
	}

	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]
		result.Batches++

		effective := effectiveColumns(batch, columns)
		if len(effective) == 0 {
			return nil, runerr.NewTable(runerr.KindSchemaMismatch, table, fmt.Errorf("no target column intersects any row in batch"))
		}

		stmt := buildInsertStatement(table, effective, len(batch), opts.ConflictPolicy, opts.ConflictColumns)
		params := buildParams(batch, effective)
		if len(params) != len(batch)*len(effective) {
			// Programmer error: the statement's placeholder count and the
			// flattened parameter slice must agree by construction.
			panic(fmt.Sprintf("loader: param count %d does not match %d rows x %d columns", len(params), len(batch), len(effective)))
		}

		tag, err := l.pool.Exec(ctx, stmt, params...)
		if err == nil {
			result.InsertedRows += tag.RowsAffected()
			continue
		}

		// Fallback: re-execute one row at a time so a single poison row
		// doesn't forfeit the rest of the batch.
		rowStmt := buildInsertStatement(table, effective, 1, opts.ConflictPolicy, opts.ConflictColumns)
		for i, row := range batch {
			rowParams := buildParams([]model.Row{row}, effective)
			tag, rowErr := l.pool.Exec(ctx, rowStmt, rowParams...)
			if rowErr != nil {
				result.Errors = append(result.Errors, RowError{Index: start + i, Err: rowErr})
				continue
			}
			result.InsertedRows += tag.RowsAffected()
		}
	}

	return result, nil
}

// effectiveColumns computes intersect(target.columns, union(keys(row_i)))
// for one batch, preserving target column declared (ordinal) order.
func effectiveColumns(rows []model.Row, columns []model.ColumnMeta) []string {
	present := make(map[string]bool)
	for _, row := range rows {
		for _, cell := range row {
			present[cell.Name] = true
		}
	}
	var effective []string
	for _, c := range columns {
		if present[c.Name] {
			effective = append(effective, c.Name)
		}
	}
	return effective
}

// buildInsertStatement builds a single parameterized multi-row insert
// statement: placeholders numbered sequentially, column identifiers quoted,
// and the conflict-policy suffix appended. ConflictUpdate requires a
// conflict target — PostgreSQL rejects a bare "ON CONFLICT DO UPDATE" with
// no inference column list or constraint name — so conflictColumns (the
// table's primary key, or a unique constraint) is used as that target, and
// the SET clause assigns every remaining column from EXCLUDED, mirroring
// UpsertData's uniqueColumns/updateSet split.
func buildInsertStatement(table string, columns []string, rowCount int, policy config.ConflictPolicy, conflictColumns []string) string {
	quotedCols := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = sqlident.Quote(c)
	}

	var valueTuples []string
	param := 1
	for r := 0; r < rowCount; r++ {
		placeholders := make([]string, len(columns))
		for i := range columns {
			placeholders[i] = fmt.Sprintf("$%d", param)
			param++
		}
		valueTuples = append(valueTuples, "("+strings.Join(placeholders, ", ")+")")
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		sqlident.Quote(table),
		strings.Join(quotedCols, ", "),
		strings.Join(valueTuples, ", "),
	)

	switch policy {
	case config.ConflictSkip:
		stmt += " ON CONFLICT DO NOTHING"
	case config.ConflictUpdate:
		stmt += conflictUpdateSuffix(columns, conflictColumns)
	}
	return stmt
}

// conflictUpdateSuffix builds the "ON CONFLICT (...) DO UPDATE SET ..."
// suffix for ConflictUpdate. With no known conflict target there is no
// valid way to express DO UPDATE, so it degrades to DO NOTHING; the same
// happens when every effective column is itself part of the conflict
// target, since SET would otherwise have nothing left to assign.
func conflictUpdateSuffix(columns, conflictColumns []string) string {
	if len(conflictColumns) == 0 {
		return " ON CONFLICT DO NOTHING"
	}

	isConflictColumn := make(map[string]bool, len(conflictColumns))
	quotedConflict := make([]string, len(conflictColumns))
	for i, c := range conflictColumns {
		quotedConflict[i] = sqlident.Quote(c)
		isConflictColumn[c] = true
	}
	target := " ON CONFLICT (" + strings.Join(quotedConflict, ", ") + ")"

	var sets []string
	for _, c := range columns {
		if isConflictColumn[c] {
			continue
		}
		q := sqlident.Quote(c)
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}
	if len(sets) == 0 {
		return target + " DO NOTHING"
	}
	return target + " DO UPDATE SET " + strings.Join(sets, ", ")
}

// buildParams flattens rows' effective-column values in row-major order.
// Missing keys become null; empty strings are already normalized to null by
// the Transformer, so no second pass happens here; arrays/objects arrive
// pre-serialized as model.Value JSON text.
func buildParams(rows []model.Row, columns []string) []interface{} {
	params := make([]interface{}, 0, len(rows)*len(columns))
	for _, row := range rows {
		for _, col := range columns {
			v, ok := row.Get(col)
			if !ok {
				params = append(params, nil)
				continue
			}
			params = append(params, v.Native())
		}
	}
	return params
}
