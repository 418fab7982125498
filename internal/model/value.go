package model

import "time"

// ValueKind tags the dynamic type carried by a Value. The Transformer is the
// only component that constructs values of the non-Null, non-input variants;
// the Loader only ever consumes them.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindInt64
	KindFloat64
	KindText
	KindTemporal
	KindJSON
)

// Value is the tagged union every cell of a Row carries: one of
// null, boolean, integer, floating, text, temporal, or a canonical JSON text
// payload for nested objects/arrays.
type Value struct {
	Kind     ValueKind
	boolV    bool
	int64V   int64
	float64V float64
	textV    string
	timeV    time.Time
}

func Null() Value                      { return Value{Kind: KindNull} }
func Bool(b bool) Value                 { return Value{Kind: KindBool, boolV: b} }
func Int64(i int64) Value               { return Value{Kind: KindInt64, int64V: i} }
func Float64(f float64) Value           { return Value{Kind: KindFloat64, float64V: f} }
func Text(s string) Value               { return Value{Kind: KindText, textV: s} }
func Temporal(t time.Time) Value        { return Value{Kind: KindTemporal, timeV: t} }
func JSON(canonical string) Value       { return Value{Kind: KindJSON, textV: canonical} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

func (v Value) BoolValue() bool         { return v.boolV }
func (v Value) Int64Value() int64       { return v.int64V }
func (v Value) Float64Value() float64   { return v.float64V }
func (v Value) TextValue() string       { return v.textV }
func (v Value) TemporalValue() time.Time { return v.timeV }
func (v Value) JSONValue() string       { return v.textV }

// Native returns the plain Go value a database driver expects for this cell.
func (v Value) Native() interface{} {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.boolV
	case KindInt64:
		return v.int64V
	case KindFloat64:
		return v.float64V
	case KindText, KindJSON:
		return v.textV
	case KindTemporal:
		return v.timeV
	default:
		return nil
	}
}
