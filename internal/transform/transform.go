// Package transform implements the Transformer: it coerces incoming rows to
// target column types, remaps enum labels through a fixed cascade, and
// normalizes nested structures to canonical JSON text.
package transform

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/dbashand/dbreplicate/internal/model"
)

// synonyms is the embedded domain-agnostic alias table consulted as the
// enum cascade's fourth step (see DESIGN.md: provenance of
// "activity"->"INDIVIDUAL" could not be confirmed, so it is carried as-is
// rather than edited or extended).
var synonyms = map[string]string{
	"activity": "INDIVIDUAL",
	"active":   "ACTIVE",
	"yes":      "TRUE",
	"no":       "FALSE",
}

// Counters accumulates the Transformer's run-wide coercion tallies, folded
// into RunStats by the Executor after each table.
type Counters struct {
	EnumTransformations  int64
	DefaultSubstitutions int64
	NullSubstitutions    int64
	CoercionFailures     int64
}

// Issue is one dry-run diagnostic emitted instead of a mutation when
// validateOnly is set.
type Issue struct {
	Column string
	Detail string
}

// Transformer coerces Rows against a table's ColumnMeta and EnumCatalog.
type Transformer struct {
	catalog model.EnumCatalog
}

// New builds a Transformer bound to the run's EnumCatalog.
func New(catalog model.EnumCatalog) *Transformer {
	return &Transformer{catalog: catalog}
}

// Transform coerces row against columns, returning the coerced row (or, in
// validateOnly mode, the original row unmodified plus any Issues found) and
// mutating counters as the cascade resolves each column.
func (tr *Transformer) Transform(row model.Row, columns []model.ColumnMeta, counters *Counters, validateOnly bool) (model.Row, []Issue) {
	byName := make(map[string]model.ColumnMeta, len(columns))
	for _, c := range columns {
		byName[c.Name] = c
	}

	var issues []Issue
	out := make(model.Row, 0, len(row))
	for _, cell := range row {
		col, known := byName[cell.Name]
		value := cell.Value
		if !known {
			out = append(out, cell)
			continue
		}

		coerced, issue := tr.coerceCell(value, col, counters)
		if issue != "" {
			issues = append(issues, Issue{Column: cell.Name, Detail: issue})
		}
		if validateOnly {
			out = append(out, cell)
		} else {
			out = append(out, model.Cell{Name: cell.Name, Value: coerced})
		}
	}
	return out, issues
}

// coerceCell applies null/empty-string handling, the enum cascade (when
// applicable), and the non-enum type-family coercions.
func (tr *Transformer) coerceCell(v model.Value, col model.ColumnMeta, counters *Counters) (model.Value, string) {
	// Null/undefined pass through unchanged; empty string normalizes to null.
	if v.IsNull() {
		return v, ""
	}
	if v.Kind == model.KindText && v.TextValue() == "" {
		return model.Null(), ""
	}

	if col.Family == model.FamilyEnum {
		if labels, ok := tr.catalog[col.EnumName]; ok {
			return tr.coerceEnum(v, labels, counters)
		}
		// Enum name absent from the catalog: the cascade is only consulted
		// when the catalog has an entry, so pass through as text.
		return v, ""
	}

	return coerceFamily(v, col.Family, counters)
}

// coerceEnum runs the short-circuiting match cascade: exact, case-insensitive,
// substring, synonym, then default-to-first-label.
func (tr *Transformer) coerceEnum(v model.Value, labels []string, counters *Counters) (model.Value, string) {
	if len(labels) == 0 {
		counters.NullSubstitutions++
		return model.Null(), "empty enum catalog, substituted null"
	}

	raw := valueAsString(v)

	// 1. Exact match.
	for _, label := range labels {
		if label == raw {
			counters.EnumTransformations++
			return model.Text(label), ""
		}
	}

	// 2. Case-insensitive match (Unicode case folding).
	for _, label := range labels {
		if strings.EqualFold(label, raw) {
			counters.EnumTransformations++
			return model.Text(label), ""
		}
	}

	// 3. Substring match either direction; ambiguity resolved by catalog
	// declared order (first wins).
	foldedRaw := strings.ToUpper(raw)
	for _, label := range labels {
		foldedLabel := strings.ToUpper(label)
		if strings.Contains(foldedLabel, foldedRaw) || strings.Contains(foldedRaw, foldedLabel) {
			counters.EnumTransformations++
			return model.Text(label), ""
		}
	}

	// 4. Common-synonym mapping.
	if target, ok := synonyms[strings.ToLower(raw)]; ok {
		for _, label := range labels {
			if label == target {
				counters.EnumTransformations++
				return model.Text(label), ""
			}
		}
	}

	// 5. Default: first catalog label.
	counters.DefaultSubstitutions++
	return model.Text(labels[0]), "no cascade match, defaulted to first catalog label"
}

func valueAsString(v model.Value) string {
	switch v.Kind {
	case model.KindText, model.KindJSON:
		return v.TextValue()
	case model.KindBool:
		if v.BoolValue() {
			return "true"
		}
		return "false"
	case model.KindInt64:
		return strconv.FormatInt(v.Int64Value(), 10)
	case model.KindFloat64:
		return strconv.FormatFloat(v.Float64Value(), 'f', -1, 64)
	case model.KindTemporal:
		return v.TemporalValue().Format(time.RFC3339)
	default:
		return ""
	}
}

var trueStrings = map[string]bool{"true": true, "1": true, "yes": true, "on": true, "t": true, "y": true}
var falseStrings = map[string]bool{"false": true, "0": true, "no": true, "off": true, "f": true, "n": true}

// coerceFamily projects v to the declared non-enum type family. Failures
// are counted, never raised.
func coerceFamily(v model.Value, family model.TypeFamily, counters *Counters) (model.Value, string) {
	switch family {
	case model.FamilyInteger:
		switch v.Kind {
		case model.KindInt64:
			return v, ""
		case model.KindFloat64:
			return model.Int64(int64(v.Float64Value())), ""
		case model.KindText:
			n, err := strconv.ParseInt(strings.TrimSpace(v.TextValue()), 10, 64)
			if err != nil {
				counters.CoercionFailures++
				return model.Null(), "non-numeric value for integer column"
			}
			return model.Int64(n), ""
		default:
			counters.CoercionFailures++
			return model.Null(), "non-numeric value for integer column"
		}

	case model.FamilyNumeric:
		switch v.Kind {
		case model.KindFloat64:
			return v, ""
		case model.KindInt64:
			return model.Float64(float64(v.Int64Value())), ""
		case model.KindText:
			f, err := strconv.ParseFloat(strings.TrimSpace(v.TextValue()), 64)
			if err != nil {
				counters.CoercionFailures++
				return model.Null(), "non-numeric value for numeric column"
			}
			return model.Float64(f), ""
		default:
			counters.CoercionFailures++
			return model.Null(), "non-numeric value for numeric column"
		}

	case model.FamilyBoolean:
		switch v.Kind {
		case model.KindBool:
			return v, ""
		case model.KindText:
			s := strings.ToLower(strings.TrimSpace(v.TextValue()))
			if trueStrings[s] {
				return model.Bool(true), ""
			}
			if falseStrings[s] {
				return model.Bool(false), ""
			}
			counters.CoercionFailures++
			return model.Null(), "unrecognized boolean literal"
		default:
			counters.CoercionFailures++
			return model.Null(), "non-boolean value for boolean column"
		}

	case model.FamilyTemporal:
		switch v.Kind {
		case model.KindTemporal:
			return v, ""
		case model.KindText:
			for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02", "2006-01-02 15:04:05"} {
				if t, err := time.Parse(layout, v.TextValue()); err == nil {
					return model.Temporal(t), ""
				}
			}
			counters.CoercionFailures++
			return model.Null(), "unparseable temporal string"
		default:
			counters.CoercionFailures++
			return model.Null(), "non-temporal value for temporal column"
		}

	case model.FamilyJSON:
		return coerceJSON(v, counters)

	default: // FamilyText and anything else: convert to text
		if v.Kind == model.KindText {
			return v, ""
		}
		return model.Text(valueAsString(v)), ""
	}
}

// coerceJSON normalizes a value destined for a JSON/JSONB column:
// arrays/objects are already serialized to JSON text by the Upstream Client;
// a plain string that already parses as a JSON array/object is passed
// through untouched; anything else is stringified.
func coerceJSON(v model.Value, counters *Counters) (model.Value, string) {
	switch v.Kind {
	case model.KindJSON:
		return v, ""
	case model.KindText:
		s := v.TextValue()
		if looksLikeJSON(s) {
			return model.JSON(s), ""
		}
		b, err := json.Marshal(s)
		if err != nil {
			counters.CoercionFailures++
			return model.Null(), "failed to encode text as JSON"
		}
		return model.JSON(string(b)), ""
	default:
		native := v.Native()
		b, err := json.Marshal(native)
		if err != nil {
			counters.CoercionFailures++
			return model.Null(), "failed to encode value as JSON"
		}
		return model.JSON(string(b)), ""
	}
}

// looksLikeJSON reports whether s parses syntactically as a JSON array or
// object.
func looksLikeJSON(s string) bool {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) == 0 {
		return false
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return false
	}
	var v interface{}
	return json.Unmarshal([]byte(trimmed), &v) == nil
}
