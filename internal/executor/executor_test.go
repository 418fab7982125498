package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbashand/dbreplicate/internal/config"
	"github.com/dbashand/dbreplicate/internal/loader"
	"github.com/dbashand/dbreplicate/internal/logger"
	"github.com/dbashand/dbreplicate/internal/model"
)

// fakeUpstream is a scripted UpstreamClient: one FetchPage call per table
// returns that table's full row set, then an empty page.
type fakeUpstream struct {
	tables  []model.TableDescriptor
	rows    map[int64][]model.Row
	fetched map[int64]bool
	authErr error
}

func (f *fakeUpstream) Authenticate(ctx context.Context, username, password string) error {
	return f.authErr
}
func (f *fakeUpstream) ListTables(ctx context.Context) ([]model.TableDescriptor, error) {
	return f.tables, nil
}
func (f *fakeUpstream) CountRows(ctx context.Context, tableID int64) int64 {
	return int64(len(f.rows[tableID]))
}
func (f *fakeUpstream) FetchPage(ctx context.Context, tableID int64, offset, limit int) ([]string, []model.Row, error) {
	if f.fetched == nil {
		f.fetched = make(map[int64]bool)
	}
	if f.fetched[tableID] || offset > 0 {
		return nil, nil, nil
	}
	f.fetched[tableID] = true
	rows := f.rows[tableID]
	return unionColumnNames(rows), rows, nil
}
func (f *fakeUpstream) Logout(ctx context.Context) {}

// unionColumnNames computes the union of column names across rows, in
// first-seen order, mirroring what a real upstream page response reports.
func unionColumnNames(rows []model.Row) []string {
	seen := make(map[string]bool)
	var names []string
	for _, row := range rows {
		for _, cell := range row {
			if !seen[cell.Name] {
				seen[cell.Name] = true
				names = append(names, cell.Name)
			}
		}
	}
	return names
}

// fakeInspector returns fixed schema metadata, ignoring the live target.
type fakeInspector struct {
	columns       map[string][]model.ColumnMeta
	fks           []model.ForeignKeyEdge
	catalog       model.EnumCatalog
	uniqueColumns map[string][]string
}

func (f *fakeInspector) EnumCatalog(ctx context.Context) (model.EnumCatalog, error) {
	return f.catalog, nil
}
func (f *fakeInspector) TableColumns(ctx context.Context, tableName string) ([]model.ColumnMeta, error) {
	return f.columns[tableName], nil
}
func (f *fakeInspector) ForeignKeys(ctx context.Context, tableName string) ([]model.ForeignKeyEdge, error) {
	var out []model.ForeignKeyEdge
	for _, fk := range f.fks {
		if fk.Table == tableName {
			out = append(out, fk)
		}
	}
	return out, nil
}
func (f *fakeInspector) UniqueColumns(ctx context.Context, tableName string) ([]string, error) {
	return f.uniqueColumns[tableName], nil
}

// fakeLoader records Load/ClearTable calls without touching any database.
type fakeLoader struct {
	cleared  []string
	loaded   []string
	failTable string
}

func (f *fakeLoader) ClearTable(ctx context.Context, table string) error {
	f.cleared = append(f.cleared, table)
	return nil
}
func (f *fakeLoader) Load(ctx context.Context, table string, rows []model.Row, columns []model.ColumnMeta, opts loader.Options) (*loader.Result, error) {
	f.loaded = append(f.loaded, table)
	if table == f.failTable {
		return nil, fakeLoadErr{table}
	}
	return &loader.Result{InsertedRows: int64(len(rows)), TotalRows: len(rows)}, nil
}

type fakeLoadErr struct{ table string }

func (e fakeLoadErr) Error() string { return "load failed for " + e.table }

func newTestExecutor(t *testing.T, upstream *fakeUpstream, inspector *fakeInspector, ld *fakeLoader, cfg *config.RunConfig) *Executor {
	t.Helper()
	if cfg == nil {
		cfg = &config.RunConfig{
			BatchSize:       100,
			ConflictPolicy:  config.ConflictError,
			Mode:            config.ModeSync,
			EnableRollback:  true,
			ContinueOnError: false,
		}
	}
	e := New(cfg, upstream, logger.New(logger.LevelError))
	e.inspector = inspector
	e.ld = ld
	e.stats = model.NewRunStats()
	return e
}

func usersOrdersFixture() (*fakeUpstream, *fakeInspector) {
	upstream := &fakeUpstream{
		tables: []model.TableDescriptor{
			{UpstreamID: 1, Name: "users"},
			{UpstreamID: 2, Name: "orders"},
		},
		rows: map[int64][]model.Row{
			1: {{{Name: "id", Value: model.Int64(1)}}},
			2: {{{Name: "id", Value: model.Int64(1)}, {Name: "user_id", Value: model.Int64(1)}}},
		},
	}
	inspector := &fakeInspector{
		columns: map[string][]model.ColumnMeta{
			"users":  {{Name: "id", Family: model.FamilyInteger}},
			"orders": {{Name: "id", Family: model.FamilyInteger}, {Name: "user_id", Family: model.FamilyInteger}},
		},
		fks: []model.ForeignKeyEdge{{Table: "orders", ReferencedTable: "users"}},
	}
	return upstream, inspector
}

func TestRunCoreSyncSucceeds(t *testing.T) {
	upstream, inspector := usersOrdersFixture()
	ld := &fakeLoader{}
	e := newTestExecutor(t, upstream, inspector, ld, nil)

	err := e.runCore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, e.stats.SuccessfulTables)
	assert.Empty(t, e.stats.FailedTables)
	assert.Equal(t, []string{"users", "orders"}, ld.loaded)
	assert.Equal(t, int64(2), e.stats.RowsInserted)
}

func TestRunCoreSyncFailedTableRecordedWithoutRollback(t *testing.T) {
	upstream, inspector := usersOrdersFixture()
	ld := &fakeLoader{failTable: "orders"}
	cfg := &config.RunConfig{
		BatchSize:       100,
		ConflictPolicy:  config.ConflictError,
		Mode:            config.ModeSync,
		EnableRollback:  false,
		ContinueOnError: true,
	}
	e := newTestExecutor(t, upstream, inspector, ld, cfg)

	err := e.runCore(context.Background())
	require.NoError(t, err)
	require.Len(t, e.stats.FailedTables, 1)
	assert.Equal(t, "orders", e.stats.FailedTables[0].Name)
	assert.Equal(t, 1, e.stats.SuccessfulTables)
}

func TestRunCoreSyncFailedTableTriggersRollback(t *testing.T) {
	upstream, inspector := usersOrdersFixture()
	ld := &fakeLoader{failTable: "orders"}
	cfg := &config.RunConfig{
		BatchSize:       100,
		ConflictPolicy:  config.ConflictError,
		Mode:            config.ModeSync,
		EnableRollback:  true,
		ContinueOnError: false,
	}
	e := newTestExecutor(t, upstream, inspector, ld, cfg)

	err := e.runCore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync-failed")
	// the Clear phase and then the rollback each clear in deletion order:
	// orders before users
	assert.Equal(t, []string{"orders", "users", "orders", "users"}, ld.cleared)
}

func TestRunCoreDryRunNeverLoads(t *testing.T) {
	upstream, inspector := usersOrdersFixture()
	ld := &fakeLoader{}
	cfg := &config.RunConfig{
		BatchSize:      100,
		ConflictPolicy: config.ConflictError,
		Mode:           config.ModeDryRun,
	}
	e := newTestExecutor(t, upstream, inspector, ld, cfg)

	err := e.runCore(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ld.loaded)
	assert.Empty(t, ld.cleared)
	assert.Len(t, e.stats.DryRunIssues, 2)
}

func TestRunCoreRecordsCycleWarning(t *testing.T) {
	upstream := &fakeUpstream{
		tables: []model.TableDescriptor{
			{UpstreamID: 1, Name: "a"},
			{UpstreamID: 2, Name: "b"},
		},
		rows: map[int64][]model.Row{
			1: {{{Name: "id", Value: model.Int64(1)}}},
			2: {{{Name: "id", Value: model.Int64(1)}}},
		},
	}
	inspector := &fakeInspector{
		columns: map[string][]model.ColumnMeta{
			"a": {{Name: "id"}},
			"b": {{Name: "id"}},
		},
		fks: []model.ForeignKeyEdge{
			{Table: "a", ReferencedTable: "b"},
			{Table: "b", ReferencedTable: "a"},
		},
	}
	ld := &fakeLoader{}
	e := newTestExecutor(t, upstream, inspector, ld, nil)

	err := e.runCore(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, e.stats.CycleWarnings)
}

func TestRunCoreDiscoverFailurePropagates(t *testing.T) {
	upstream := &fakeUpstream{}
	inspector := &fakeInspector{}
	ld := &fakeLoader{}
	e := newTestExecutor(t, upstream, inspector, ld, nil)
	e.upstream = &erroringUpstream{}

	err := e.runCore(context.Background())
	require.Error(t, err)
}

type erroringUpstream struct{ fakeUpstream }

func (e *erroringUpstream) ListTables(ctx context.Context) ([]model.TableDescriptor, error) {
	return nil, assertErr{}
}

type assertErr struct{}

func (assertErr) Error() string { return "list tables failed" }
