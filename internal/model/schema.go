package model

// FieldDescriptor is one column of a TableDescriptor as reported by the
// Upstream API's metadata endpoint.
type FieldDescriptor struct {
	Name         string
	BaseType     string
	SemanticType string
}

// TableDescriptor is the immutable, per-run record of one upstream table.
type TableDescriptor struct {
	UpstreamID int64
	Name       string
	Fields     []FieldDescriptor
}

// TypeFamily is the declared SQL type family of a target column.
type TypeFamily string

const (
	FamilyInteger TypeFamily = "integer"
	FamilyNumeric TypeFamily = "numeric"
	FamilyBoolean TypeFamily = "boolean"
	FamilyTemporal TypeFamily = "temporal"
	FamilyText    TypeFamily = "text"
	FamilyJSON    TypeFamily = "json"
	FamilyEnum    TypeFamily = "user-defined-enum"
)

// ColumnMeta describes one target column, as produced by the Schema
// Inspector and cached for the duration of a run.
type ColumnMeta struct {
	Name          string
	Family        TypeFamily
	EnumName      string // set only when Family == FamilyEnum
	Nullable      bool
	HasDefault    bool
	OrdinalPosition int
}

// EnumCatalog maps an enum type name to its ordered list of valid labels.
type EnumCatalog map[string][]string

// ForeignKeyEdge records that Table depends on ReferencedTable.
type ForeignKeyEdge struct {
	Table           string
	ReferencedTable string
}
