package model

// Field is one named value of a Row
type Field struct {
	Name  string
	Value Value
}

// Row is an immutable ordered mapping of column name to Value.
// Every operation that changes a Row returns a new one.
type Row struct {
	keys  []string
	vals  []Value
	index map[string]int
}

// NewRow creates a Row from fields. A repeated name keeps its first position and the last value.
func NewRow(fields ...Field) Row {
	b := NewRowBuilder(len(fields))
	for _, f := range fields {
		b.Set(f.Name, f.Value)
	}
	return b.Build()
}

// RowBuilder accumulates fields for a Row
type RowBuilder struct {
	keys  []string
	vals  []Value
	index map[string]int
}

// NewRowBuilder creates a builder sized for n fields
func NewRowBuilder(n int) *RowBuilder {
	return &RowBuilder{
		keys:  make([]string, 0, n),
		vals:  make([]Value, 0, n),
		index: make(map[string]int, n),
	}
}

// Set assigns name. Existing names keep their position.
func (b *RowBuilder) Set(name string, v Value) *RowBuilder {
	if i, ok := b.index[name]; ok {
		b.vals[i] = v
		return b
	}
	b.index[name] = len(b.keys)
	b.keys = append(b.keys, name)
	b.vals = append(b.vals, v)
	return b
}

// Has reports whether name was set
func (b *RowBuilder) Has(name string) bool {
	_, ok := b.index[name]
	return ok
}

// Len returns the number of fields set so far
func (b *RowBuilder) Len() int {
	return len(b.keys)
}

// Build returns the Row. The builder must not be used afterwards.
func (b *RowBuilder) Build() Row {
	r := Row{keys: b.keys, vals: b.vals, index: b.index}
	b.keys, b.vals, b.index = nil, nil, nil
	return r
}

// Get returns the value of name
func (r Row) Get(name string) (Value, bool) {
	i, ok := r.index[name]
	if !ok {
		return NullValue(), false
	}
	return r.vals[i], true
}

// Has reports whether the row has a column called name
func (r Row) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Len returns the number of columns
func (r Row) Len() int {
	return len(r.keys)
}

// Keys returns the column names in order
func (r Row) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Fields returns the fields in order
func (r Row) Fields() []Field {
	out := make([]Field, len(r.keys))
	for i, k := range r.keys {
		out[i] = Field{Name: k, Value: r.vals[i]}
	}
	return out
}

// With returns a copy of r with name set to v
func (r Row) With(name string, v Value) Row {
	b := NewRowBuilder(len(r.keys) + 1)
	for i, k := range r.keys {
		b.Set(k, r.vals[i])
	}
	b.Set(name, v)
	return b.Build()
}

// Project returns a Row holding exactly columns, in that order. Missing columns are Null.
func (r Row) Project(columns []string) Row {
	b := NewRowBuilder(len(columns))
	for _, c := range columns {
		v, _ := r.Get(c)
		b.Set(c, v)
	}
	return b.Build()
}

// Equal reports whether both rows have the same columns in the same order with equal values
func (r Row) Equal(o Row) bool {
	if len(r.keys) != len(o.keys) {
		return false
	}
	for i, k := range r.keys {
		if o.keys[i] != k || !r.vals[i].Equal(o.vals[i]) {
			return false
		}
	}
	return true
}

// Map returns the row as a map of plain Go values
func (r Row) Map() map[string]any {
	out := make(map[string]any, len(r.keys))
	for i, k := range r.keys {
		out[k] = r.vals[i].Interface()
	}
	return out
}

// Texts returns the textual rendering of each value in column order
func (r Row) Texts() []string {
	out := make([]string, len(r.vals))
	for i, v := range r.vals {
		out[i] = v.Text()
	}
	return out
}
