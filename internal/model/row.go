package model

// Cell is one (name, value) pair of a Row.
type Cell struct {
	Name  string
	Value Value
}

// Row is an ordered sequence of (column-name, value) pairs, mirroring the
// duck-typed row objects the Upstream API returns. Order matches the column
// order the page arrived in; Get is a linear scan since rows are narrow
// (tens of columns at most) and built once per page.
type Row []Cell

// Get returns the value bound to name and whether it was present at all.
func (r Row) Get(name string) (Value, bool) {
	for _, c := range r {
		if c.Name == name {
			return c.Value, true
		}
	}
	return Value{}, false
}

// Set replaces the value for name if present, or appends a new cell.
func (r Row) Set(name string, v Value) Row {
	for i, c := range r {
		if c.Name == name {
			r[i].Value = v
			return r
		}
	}
	return append(r, Cell{Name: name, Value: v})
}

// Names returns the column names present in this row, in order.
func (r Row) Names() []string {
	names := make([]string, len(r))
	for i, c := range r {
		names[i] = c.Name
	}
	return names
}
