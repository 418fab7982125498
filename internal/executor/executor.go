// Package executor drives the Executor: the phase sequence that owns
// target resources, maintains RunStats, and enforces the all-or-nothing
// (or continue-on-error) commit contract.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dbashand/dbreplicate/internal/config"
	"github.com/dbashand/dbreplicate/internal/loader"
	"github.com/dbashand/dbreplicate/internal/logger"
	"github.com/dbashand/dbreplicate/internal/model"
	"github.com/dbashand/dbreplicate/internal/planner"
	"github.com/dbashand/dbreplicate/internal/runerr"
	"github.com/dbashand/dbreplicate/internal/schemainspect"
	"github.com/dbashand/dbreplicate/internal/target"
	"github.com/dbashand/dbreplicate/internal/transform"
	"github.com/dbashand/dbreplicate/internal/uiprogress"
)

// State is one node of the Executor's phase state machine.
type State string

const (
	StateInit             State = "INIT"
	StateAuth             State = "AUTH"
	StateConnect          State = "CONNECT"
	StateDiscover         State = "DISCOVER"
	StatePlan             State = "PLAN"
	StateDryRunAnalyze    State = "DRY_RUN_ANALYZE"
	StateClear            State = "CLEAR"
	StateSync             State = "SYNC"
	StateFinalize         State = "FINALIZE"
	StateCleanup          State = "CLEANUP"
	StateAbort            State = "ABORT"
	StateDone             State = "DONE"
	StateAborted          State = "ABORTED"
)

// dryRunSampleSize bounds the sample page fetched per table during dry-run
// analysis.
const dryRunSampleSize = 10

// UpstreamClient is the subset of internal/upstream.Client the Executor
// depends on, narrowed to an interface so tests can substitute a fake.
type UpstreamClient interface {
	Authenticate(ctx context.Context, username, password string) error
	ListTables(ctx context.Context) ([]model.TableDescriptor, error)
	CountRows(ctx context.Context, tableID int64) int64
	FetchPage(ctx context.Context, tableID int64, offset, limit int) ([]string, []model.Row, error)
	Logout(ctx context.Context)
}

// SchemaInspector is the subset of internal/schemainspect.Inspector the
// Executor depends on, narrowed to an interface so tests can substitute a
// fake instead of a live target connection.
type SchemaInspector interface {
	EnumCatalog(ctx context.Context) (model.EnumCatalog, error)
	TableColumns(ctx context.Context, tableName string) ([]model.ColumnMeta, error)
	ForeignKeys(ctx context.Context, tableName string) ([]model.ForeignKeyEdge, error)
	UniqueColumns(ctx context.Context, tableName string) ([]string, error)
}

// Loader is the subset of internal/loader.Loader the Executor depends on.
type Loader interface {
	ClearTable(ctx context.Context, table string) error
	Load(ctx context.Context, table string, rows []model.Row, columns []model.ColumnMeta, opts loader.Options) (*loader.Result, error)
}

// Executor owns the phase sequence, the target connection, and RunStats for
// one run.
type Executor struct {
	cfg      *config.RunConfig
	upstream UpstreamClient
	log      *logger.Logger

	pool      *pgxpool.Pool
	inspector SchemaInspector
	ld        Loader

	state State
	stats *model.RunStats
}

// New builds an Executor; the target connection, SchemaInspector, and
// Loader are constructed during Connect, not here, so State starts at INIT
// with no target resources held.
func New(cfg *config.RunConfig, upstream UpstreamClient, log *logger.Logger) *Executor {
	return &Executor{cfg: cfg, upstream: upstream, log: log, state: StateInit}
}

// State returns the Executor's current phase, mainly for tests.
func (e *Executor) State() State { return e.state }

// Run drives the full phase sequence and returns the completed RunStats.
// The returned error is non-nil exactly when the run should exit non-zero:
// a fatal phase failure, or a sync-failed after Finalize when
// continue_on_error is not set.
func (e *Executor) Run(ctx context.Context) (*model.RunStats, error) {
	e.stats = model.NewRunStats()
	defer func() {
		e.stats.EndedAt = time.Now()
	}()

	if err := e.runPhases(ctx); err != nil {
		e.state = StateAbort
		e.cleanup(context.Background())
		e.state = StateAborted
		return e.stats, err
	}

	e.state = StateCleanup
	e.cleanup(context.Background())
	e.state = StateDone
	return e.stats, nil
}

func (e *Executor) runPhases(ctx context.Context) error {
	uiprogress.Step("Authenticating with upstream")
	e.state = StateAuth
	if err := e.upstream.Authenticate(ctx, e.cfg.UpstreamUsername, e.cfg.UpstreamPassword); err != nil {
		uiprogress.Error("authentication failed: %v", err)
		return err
	}
	uiprogress.Success("authenticated")

	uiprogress.Step("Connecting to target")
	e.state = StateConnect
	pool, err := target.Connect(ctx, e.cfg, e.log)
	if err != nil {
		uiprogress.Error("target connect failed: %v", err)
		return err
	}
	e.pool = pool
	e.inspector = schemainspect.New(pool, e.log)
	e.ld = loader.New(pool)
	uiprogress.Success("connected")

	return e.runCore(ctx)
}

// runCore drives Discover through Finalize against whatever
// SchemaInspector/Loader are already assigned (live, via Connect, or a test
// fake). Auth and Connect are the only phases runCore does not own.
func (e *Executor) runCore(ctx context.Context) error {
	uiprogress.Step("Discovering schema")
	e.state = StateDiscover
	tables, columnsByTable, uniqueColumnsByTable, enumCatalog, fks, err := e.discover(ctx)
	if err != nil {
		uiprogress.Error("discovery failed: %v", err)
		return err
	}
	e.stats.TotalTables = len(tables)
	uiprogress.Success("discovered %d tables", len(tables))

	uiprogress.Step("Planning table order")
	e.state = StatePlan
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	plan := planner.Plan(names, fks)
	for _, cycle := range plan.Cycles {
		e.stats.CycleWarnings = append(e.stats.CycleWarnings, cycle)
		e.log.Warnf("cycle-detected among tables: %v", cycle)
		uiprogress.Warning("cycle detected among tables: %v", cycle)
	}
	uiprogress.Success("insertion order: %v", plan.InsertionOrder)

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if e.cfg.Mode == config.ModeDryRun {
		uiprogress.Step("Dry-run analysis")
		e.state = StateDryRunAnalyze
		e.dryRunAnalyze(ctx, tables, columnsByTable, enumCatalog, fks)
		uiprogress.Success("dry-run analysis complete")
		return nil
	}

	uiprogress.Step("Clearing target tables")
	e.state = StateClear
	e.clear(ctx, plan.DeletionOrder)

	uiprogress.Step("Synchronizing tables")
	e.state = StateSync
	tablesByName := make(map[string]model.TableDescriptor, len(tables))
	for _, t := range tables {
		tablesByName[t.Name] = t
	}
	for _, name := range plan.InsertionOrder {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		td, ok := tablesByName[name]
		if !ok {
			continue
		}
		e.syncTable(ctx, td, columnsByTable[name], uniqueColumnsByTable[name], enumCatalog)
	}

	e.state = StateFinalize
	return e.finalize(ctx, plan.DeletionOrder)
}

// discover implements the Discover phase: ListTables, then lazily-cached
// TableColumns/EnumCatalog/ForeignKeys/UniqueColumns per table.
func (e *Executor) discover(ctx context.Context) ([]model.TableDescriptor, map[string][]model.ColumnMeta, map[string][]string, model.EnumCatalog, []model.ForeignKeyEdge, error) {
	tables, err := e.upstream.ListTables(ctx)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}

	enumCatalog, err := e.inspector.EnumCatalog(ctx)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}

	columnsByTable := make(map[string][]model.ColumnMeta, len(tables))
	uniqueColumnsByTable := make(map[string][]string, len(tables))
	var allFKs []model.ForeignKeyEdge
	for _, t := range tables {
		cols, err := e.inspector.TableColumns(ctx, t.Name)
		if err != nil {
			return nil, nil, nil, nil, nil, err
		}
		columnsByTable[t.Name] = cols

		uniqueCols, err := e.inspector.UniqueColumns(ctx, t.Name)
		if err != nil {
			return nil, nil, nil, nil, nil, err
		}
		uniqueColumnsByTable[t.Name] = uniqueCols

		fks, err := e.inspector.ForeignKeys(ctx, t.Name)
		if err != nil {
			return nil, nil, nil, nil, nil, err
		}
		allFKs = append(allFKs, fks...)
	}

	return tables, columnsByTable, uniqueColumnsByTable, enumCatalog, allFKs, nil
}

// clear implements the Clear phase: unconditional delete per table in
// deletion order; a table that cannot be cleared is logged at WARN and
// skipped, never fatal.
func (e *Executor) clear(ctx context.Context, deletionOrder []string) {
	for _, table := range deletionOrder {
		if err := e.ld.ClearTable(ctx, table); err != nil {
			e.log.Warnf("could not clear table %s before sync: %v", table, err)
			uiprogress.Warning("could not clear %s: %v", table, err)
		}
	}
}

// syncTable implements one table's iteration of the Sync phase: CountRows,
// extract all pages, transform, load; per-table failure recording depends
// on continue_on_error.
func (e *Executor) syncTable(ctx context.Context, td model.TableDescriptor, columns []model.ColumnMeta, uniqueColumns []string, enumCatalog model.EnumCatalog) {
	tableLog := e.log.WithFields(map[string]string{"table": td.Name})
	total := e.upstream.CountRows(ctx, td.UpstreamID)
	if total == 0 {
		e.stats.SuccessfulTables++
		tableLog.Info("no rows to synchronize")
		return
	}
	e.stats.RowsPlanned += total

	bar := uiprogress.NewTableBar(td.Name, total)
	defer bar.Finish()

	tr := transform.New(enumCatalog)
	counters := &transform.Counters{}

	var (
		timing       model.TableTiming
		insertedRows int64
		failed       bool
		failKind     runerr.Kind
		failDetail   string
	)

	offset := 0
	limit := e.cfg.BatchSize
	var extracted int64
	for {
		extractStart := time.Now()
		_, rows, err := e.upstream.FetchPage(ctx, td.UpstreamID, offset, limit)
		timing.Extract += time.Since(extractStart)
		if err != nil {
			failed = true
			failKind = runerr.KindExtractFailed
			failDetail = err.Error()
			break
		}

		transformStart := time.Now()
		transformed := make([]model.Row, len(rows))
		for i, row := range rows {
			out, _ := tr.Transform(row, columns, counters, false)
			transformed[i] = out
		}
		timing.Transform += time.Since(transformStart)

		loadStart := time.Now()
		result, err := e.ld.Load(ctx, td.Name, transformed, columns, loader.Options{
			ConflictPolicy:  e.cfg.ConflictPolicy,
			ConflictColumns: uniqueColumns,
			BatchSize:       e.cfg.BatchSize,
		})
		timing.Load += time.Since(loadStart)
		if err != nil {
			var rerr *runerr.Error
			kind := runerr.KindInsertFailed
			if errors.As(err, &rerr) {
				kind = rerr.Kind
			}
			failed = true
			failKind = kind
			failDetail = err.Error()
			break
		}

		insertedRows += result.InsertedRows
		bar.Add(len(rows))
		extracted += int64(len(rows))

		if len(rows) < limit || extracted >= total {
			break
		}
		offset += limit
	}

	e.stats.EnumTransformations += counters.EnumTransformations
	e.stats.DefaultSubstitutions += counters.DefaultSubstitutions
	e.stats.NullSubstitutions += counters.NullSubstitutions
	e.stats.CoercionFailures += counters.CoercionFailures
	e.stats.RecordTiming(td.Name, timing)
	e.stats.RowsInserted += insertedRows

	if !failed && insertedRows != total && e.cfg.ConflictPolicy == config.ConflictError {
		failed = true
		failKind = runerr.KindRowCountMismatch
		failDetail = fmt.Sprintf("inserted %d rows, planned %d", insertedRows, total)
	}

	if failed {
		e.stats.RecordFailure(td.Name, string(failKind), failDetail)
		tableLog.Error(fmt.Sprintf("table failed: %s: %s", failKind, failDetail))
		uiprogress.Error("%s: %s", td.Name, failDetail)
		return
	}

	e.stats.SuccessfulTables++
	uiprogress.Success("%s: %d rows", td.Name, insertedRows)
}

// finalize rolls back on any table failure when enable_rollback is set,
// raising sync-failed; otherwise it lets the run end successfully even with
// a non-empty failed-table list when continue_on_error is set.
func (e *Executor) finalize(ctx context.Context, deletionOrder []string) error {
	if len(e.stats.FailedTables) == 0 {
		return nil
	}

	if e.cfg.EnableRollback {
		uiprogress.Warning("rolling back: %d table(s) failed", len(e.stats.FailedTables))
		e.rollback(ctx, deletionOrder)
		return runerr.New(runerr.KindSyncFailed, fmt.Errorf("%d table(s) failed, rolled back", len(e.stats.FailedTables)))
	}

	if e.cfg.ContinueOnError {
		return nil
	}

	return runerr.New(runerr.KindSyncFailed, fmt.Errorf("%d table(s) failed", len(e.stats.FailedTables)))
}

// rollback iterates deletion order, deleting each table; a table that
// cannot be cleared during rollback is a rollback-warning, never fatal.
// Idempotent: re-running against an already-cleared target is a no-op per
// table (DELETE FROM an empty table succeeds).
func (e *Executor) rollback(ctx context.Context, deletionOrder []string) {
	for _, table := range deletionOrder {
		if err := e.ld.ClearTable(ctx, table); err != nil {
			e.log.Warnf("rollback-warning: could not clear %s: %v", table, err)
		}
	}
}

// dryRunAnalyze implements the dry-run mode: for every table with nonzero
// CountRows, fetch a small sample, run the Transformer in validate-only
// mode, and record the resulting diagnostics without touching the target.
func (e *Executor) dryRunAnalyze(ctx context.Context, tables []model.TableDescriptor, columnsByTable map[string][]model.ColumnMeta, enumCatalog model.EnumCatalog, fks []model.ForeignKeyEdge) {
	upstreamTableSet := make(map[string]bool, len(tables))
	for _, t := range tables {
		upstreamTableSet[t.Name] = true
	}
	orphanedByTable := orphanedForeignKeys(fks, upstreamTableSet)

	tr := transform.New(enumCatalog)
	for _, t := range tables {
		total := e.upstream.CountRows(ctx, t.UpstreamID)
		if total == 0 {
			continue
		}

		columns := columnsByTable[t.Name]
		issue := model.DryRunIssue{Table: t.Name}

		_, rows, err := e.upstream.FetchPage(ctx, t.UpstreamID, 0, dryRunSampleSize)
		if err != nil {
			issue.AnalysisError = err.Error()
			e.stats.DryRunIssues = append(e.stats.DryRunIssues, issue)
			continue
		}

		counters := &transform.Counters{}
		for _, row := range rows {
			_, rowIssues := tr.Transform(row, columns, counters, true)
			issue.DataTransformationNeeded += len(rowIssues)
		}

		for _, c := range columns {
			if c.Family == model.FamilyEnum {
				issue.SchemaChange = true
				break
			}
		}

		issue.DefaultColumnNeverPopulated = defaultColumnsNeverPopulated(columns, rows)
		issue.OrphanedForeignKeys = orphanedByTable[t.Name]

		e.stats.DryRunIssues = append(e.stats.DryRunIssues, issue)
	}
}

// defaultColumnsNeverPopulated reports target columns that declare a
// default expression but never appear populated in the sampled rows.
func defaultColumnsNeverPopulated(columns []model.ColumnMeta, rows []model.Row) []string {
	var out []string
	for _, c := range columns {
		if !c.HasDefault {
			continue
		}
		populated := false
		for _, row := range rows {
			if v, ok := row.Get(c.Name); ok && !v.IsNull() {
				populated = true
				break
			}
		}
		if !populated {
			out = append(out, c.Name)
		}
	}
	return out
}

// orphanedForeignKeys flags target FK edges that reference a table absent
// from the discovered Upstream table set — surfaced only, never
// auto-corrected.
func orphanedForeignKeys(fks []model.ForeignKeyEdge, upstreamTableSet map[string]bool) map[string][]string {
	out := make(map[string][]string)
	for _, fk := range fks {
		if !upstreamTableSet[fk.ReferencedTable] {
			out[fk.Table] = append(out[fk.Table], fk.ReferencedTable)
		}
	}
	return out
}

// cleanup closes all target connections and logs out of the upstream
// session; cleanup errors are logged, never propagated.
func (e *Executor) cleanup(ctx context.Context) {
	uiprogress.Step("Cleaning up")
	e.upstream.Logout(ctx)
	if e.pool != nil {
		e.pool.Close()
	}
	uiprogress.Success("done")
}

// Stats returns the Executor's RunStats, valid once Run has returned.
func (e *Executor) Stats() *model.RunStats { return e.stats }
