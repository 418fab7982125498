// Package schemainspect implements the Schema Inspector: it queries the
// target for column metadata, enum label sets, and foreign-key edges, with
// in-process memoization for the lifetime of a run.
package schemainspect

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dbashand/dbreplicate/internal/logger"
	"github.com/dbashand/dbreplicate/internal/model"
	"github.com/dbashand/dbreplicate/internal/runerr"
)

// Inspector is the target-backed Schema Inspector, memoizing results for
// exactly one run: columns, foreign keys and unique columns keyed by table
// name, and the enum catalog in a single slot.
type Inspector struct {
	pool *pgxpool.Pool
	log  *logger.Logger

	mu            sync.Mutex
	enums         model.EnumCatalog
	enumsLoaded   bool
	columns       map[string][]model.ColumnMeta
	foreignKeys   map[string][]model.ForeignKeyEdge
	uniqueColumns map[string][]string
}

// New builds an Inspector over pool.
func New(pool *pgxpool.Pool, log *logger.Logger) *Inspector {
	return &Inspector{
		pool:          pool,
		log:           log,
		columns:       make(map[string][]model.ColumnMeta),
		foreignKeys:   make(map[string][]model.ForeignKeyEdge),
		uniqueColumns: make(map[string][]string),
	}
}

const enumCatalogQuery = `
SELECT t.typname, e.enumlabel
FROM pg_type t
JOIN pg_enum e ON e.enumtypid = t.oid
JOIN pg_namespace n ON n.oid = t.typnamespace
WHERE n.nspname = 'public'
ORDER BY t.typname, e.enumsortorder`

// EnumCatalog returns the mapping from enum-type-name to its ordered list
// of valid labels, produced once per run from the target.
func (i *Inspector) EnumCatalog(ctx context.Context) (model.EnumCatalog, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.enumsLoaded {
		return i.enums, nil
	}

	rows, err := i.pool.Query(ctx, enumCatalogQuery)
	if err != nil {
		return nil, runerr.New(runerr.KindSchemaInspection, err)
	}
	defer rows.Close()

	catalog := make(model.EnumCatalog)
	for rows.Next() {
		var typeName, label string
		if err := rows.Scan(&typeName, &label); err != nil {
			i.log.Warnf("enum catalog scan failed: %v", err)
			continue
		}
		catalog[typeName] = append(catalog[typeName], label)
	}
	if err := rows.Err(); err != nil {
		i.log.Warnf("enum catalog query raised mid-scan: %v", err)
	}

	i.enums = catalog
	i.enumsLoaded = true
	return catalog, nil
}

const columnQuery = `
SELECT
	c.column_name,
	c.data_type,
	COALESCE(c.udt_name, '') AS udt_name,
	c.is_nullable = 'YES' AS nullable,
	c.column_default IS NOT NULL AS has_default,
	c.ordinal_position
FROM information_schema.columns c
WHERE c.table_schema = 'public' AND c.table_name = $1
ORDER BY c.ordinal_position`

// TableColumns returns ColumnMeta for tableName, preserving declared
// positional order.
func (i *Inspector) TableColumns(ctx context.Context, tableName string) ([]model.ColumnMeta, error) {
	i.mu.Lock()
	if cols, ok := i.columns[tableName]; ok {
		i.mu.Unlock()
		return cols, nil
	}
	i.mu.Unlock()

	rows, err := i.pool.Query(ctx, columnQuery, tableName)
	if err != nil {
		return nil, runerr.New(runerr.KindSchemaInspection, err)
	}
	defer rows.Close()

	var cols []model.ColumnMeta
	for rows.Next() {
		var name, dataType, udtName string
		var nullable, hasDefault bool
		var ordinal int
		if err := rows.Scan(&name, &dataType, &udtName, &nullable, &hasDefault, &ordinal); err != nil {
			i.log.Warnf("column scan failed for table %s: %v", tableName, err)
			continue
		}
		cols = append(cols, model.ColumnMeta{
			Name:            name,
			Family:          classifyFamily(dataType, udtName),
			EnumName:        enumNameIfUserDefined(dataType, udtName),
			Nullable:        nullable,
			HasDefault:      hasDefault,
			OrdinalPosition: ordinal,
		})
	}

	i.mu.Lock()
	i.columns[tableName] = cols
	i.mu.Unlock()
	return cols, nil
}

func classifyFamily(dataType, udtName string) model.TypeFamily {
	switch dataType {
	case "smallint", "integer", "bigint":
		return model.FamilyInteger
	case "numeric", "decimal", "real", "double precision":
		return model.FamilyNumeric
	case "boolean":
		return model.FamilyBoolean
	case "timestamp without time zone", "timestamp with time zone", "date", "time without time zone", "time with time zone":
		return model.FamilyTemporal
	case "json", "jsonb":
		return model.FamilyJSON
	case "USER-DEFINED":
		return model.FamilyEnum
	default:
		return model.FamilyText
	}
}

func enumNameIfUserDefined(dataType, udtName string) string {
	if dataType == "USER-DEFINED" {
		return udtName
	}
	return ""
}

const foreignKeyQuery = `
SELECT ccu.table_name AS referenced_table
FROM information_schema.table_constraints tc
JOIN information_schema.constraint_column_usage ccu
	ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY'
	AND tc.table_schema = 'public'
	AND tc.table_name = $1`

// ForeignKeys returns the foreign-key constraints for tableName in the
// public namespace.
func (i *Inspector) ForeignKeys(ctx context.Context, tableName string) ([]model.ForeignKeyEdge, error) {
	i.mu.Lock()
	if edges, ok := i.foreignKeys[tableName]; ok {
		i.mu.Unlock()
		return edges, nil
	}
	i.mu.Unlock()

	rows, err := i.pool.Query(ctx, foreignKeyQuery, tableName)
	if err != nil {
		return nil, runerr.New(runerr.KindSchemaInspection, err)
	}
	defer rows.Close()

	var edges []model.ForeignKeyEdge
	seen := make(map[string]bool)
	for rows.Next() {
		var referenced string
		if err := rows.Scan(&referenced); err != nil {
			i.log.Warnf("foreign key scan failed for table %s: %v", tableName, err)
			continue
		}
		if referenced == tableName || seen[referenced] {
			continue
		}
		seen[referenced] = true
		edges = append(edges, model.ForeignKeyEdge{Table: tableName, ReferencedTable: referenced})
	}

	i.mu.Lock()
	i.foreignKeys[tableName] = edges
	i.mu.Unlock()
	return edges, nil
}

const uniqueColumnsQuery = `
SELECT tc.constraint_type, tc.constraint_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
	ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.table_schema = 'public'
	AND tc.table_name = $1
	AND tc.constraint_type IN ('PRIMARY KEY', 'UNIQUE')
ORDER BY tc.constraint_type, tc.constraint_name, kcu.ordinal_position`

// UniqueColumns returns the column list the Loader should use as its
// ON CONFLICT target for tableName: the primary key if one exists, else the
// columns of the first unique constraint encountered, else an empty slice
// if the table declares neither.
func (i *Inspector) UniqueColumns(ctx context.Context, tableName string) ([]string, error) {
	i.mu.Lock()
	if cols, ok := i.uniqueColumns[tableName]; ok {
		i.mu.Unlock()
		return cols, nil
	}
	i.mu.Unlock()

	rows, err := i.pool.Query(ctx, uniqueColumnsQuery, tableName)
	if err != nil {
		return nil, runerr.New(runerr.KindSchemaInspection, err)
	}
	defer rows.Close()

	var primaryKey, firstUnique []string
	var firstUniqueName string
	for rows.Next() {
		var constraintType, constraintName, column string
		if err := rows.Scan(&constraintType, &constraintName, &column); err != nil {
			i.log.Warnf("unique-constraint scan failed for table %s: %v", tableName, err)
			continue
		}
		if constraintType == "PRIMARY KEY" {
			primaryKey = append(primaryKey, column)
			continue
		}
		if firstUniqueName == "" {
			firstUniqueName = constraintName
		}
		if constraintName == firstUniqueName {
			firstUnique = append(firstUnique, column)
		}
	}

	cols := primaryKey
	if len(cols) == 0 {
		cols = firstUnique
	}

	i.mu.Lock()
	i.uniqueColumns[tableName] = cols
	i.mu.Unlock()
	return cols, nil
}
