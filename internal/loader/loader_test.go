package loader

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbashand/dbreplicate/internal/config"
	"github.com/dbashand/dbreplicate/internal/model"
)

func TestLoadEmptyRowsShortCircuits(t *testing.T) {
	var pool *pgxpool.Pool // no real connection needed; ClearFirst is false
	l := New(pool)

	result, err := l.Load(context.Background(), "test_table", nil, nil, Options{BatchSize: 100})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.InsertedRows)
	assert.Equal(t, 0, result.TotalRows)
}

func TestBuildInsertStatementErrorPolicyNoSuffix(t *testing.T) {
	stmt := buildInsertStatement("users", []string{"id", "name"}, 2, config.ConflictError, nil)
	assert.Equal(t, `INSERT INTO "users" ("id", "name") VALUES ($1, $2), ($3, $4)`, stmt)
}

func TestBuildInsertStatementSkipPolicy(t *testing.T) {
	stmt := buildInsertStatement("users", []string{"id"}, 1, config.ConflictSkip, nil)
	assert.Contains(t, stmt, "ON CONFLICT DO NOTHING")
}

func TestBuildInsertStatementUpdatePolicyUsesConflictColumnsAsTarget(t *testing.T) {
	stmt := buildInsertStatement("users", []string{"id", "name"}, 1, config.ConflictUpdate, []string{"id"})
	assert.Contains(t, stmt, `ON CONFLICT ("id") DO UPDATE SET`)
	assert.Contains(t, stmt, `"name" = EXCLUDED."name"`)
	assert.NotContains(t, stmt, `"id" = EXCLUDED."id"`)
}

func TestBuildInsertStatementUpdatePolicyMultiColumnConflictTarget(t *testing.T) {
	stmt := buildInsertStatement("memberships", []string{"org_id", "user_id", "role"}, 1, config.ConflictUpdate, []string{"org_id", "user_id"})
	assert.Contains(t, stmt, `ON CONFLICT ("org_id", "user_id") DO UPDATE SET`)
	assert.Contains(t, stmt, `"role" = EXCLUDED."role"`)
}

func TestBuildInsertStatementUpdatePolicyNoConflictColumnsDegradesToDoNothing(t *testing.T) {
	stmt := buildInsertStatement("users", []string{"id", "name"}, 1, config.ConflictUpdate, nil)
	assert.Contains(t, stmt, "ON CONFLICT DO NOTHING")
	assert.NotContains(t, stmt, "DO UPDATE")
}

func TestBuildInsertStatementUpdatePolicyAllColumnsInConflictTargetDegradesToDoNothing(t *testing.T) {
	stmt := buildInsertStatement("users", []string{"id"}, 1, config.ConflictUpdate, []string{"id"})
	assert.Contains(t, stmt, `ON CONFLICT ("id") DO NOTHING`)
}

func TestBuildInsertStatementQuotesIdentifiersAndDoublesEmbeddedQuotes(t *testing.T) {
	stmt := buildInsertStatement(`wei"rd`, []string{"id"}, 1, config.ConflictError, nil)
	assert.Contains(t, stmt, `"wei""rd"`)
}

func TestEffectiveColumnsIsIntersection(t *testing.T) {
	columns := []model.ColumnMeta{{Name: "id"}, {Name: "name"}, {Name: "extra_target_only"}}
	rows := []model.Row{
		{{Name: "id", Value: model.Int64(1)}, {Name: "name", Value: model.Text("a")}},
		{{Name: "id", Value: model.Int64(2)}, {Name: "unrelated_row_only", Value: model.Text("x")}},
	}
	effective := effectiveColumns(rows, columns)
	assert.Equal(t, []string{"id", "name"}, effective)
}

func TestEffectiveColumnsEmptyWhenNoIntersection(t *testing.T) {
	columns := []model.ColumnMeta{{Name: "id"}}
	rows := []model.Row{{{Name: "other", Value: model.Text("x")}}}
	assert.Empty(t, effectiveColumns(rows, columns))
}

func TestLoadFailsSchemaMismatchOnEmptyEffectiveColumns(t *testing.T) {
	var pool *pgxpool.Pool
	l := New(pool)
	columns := []model.ColumnMeta{{Name: "id"}}
	rows := []model.Row{{{Name: "other", Value: model.Text("x")}}}

	// ClearFirst false avoids touching the nil pool before the schema-mismatch
	// check is reached.
	_, err := l.Load(context.Background(), "t", rows, columns, Options{BatchSize: 10})
	require.Error(t, err)
}

func TestBuildParamsMissingKeyBecomesNull(t *testing.T) {
	rows := []model.Row{{{Name: "id", Value: model.Int64(1)}}}
	params := buildParams(rows, []string{"id", "missing"})
	require.Len(t, params, 2)
	assert.Equal(t, int64(1), params[0])
	assert.Nil(t, params[1])
}
