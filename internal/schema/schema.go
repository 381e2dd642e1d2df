package schema

import (
	"fmt"

	"cuelang.org/go/cue"
)

// DefaultSetDelimiter joins string-set elements when a field does not
// declare its own delimiter.
const DefaultSetDelimiter = ":"

// Row holds decoded field values for one table row, keyed by field name.
type Row map[string]any

// ID returns the row's id column, or 0 if it is missing or mistyped.
func (r Row) ID() int64 {
	id, _ := r["id"].(int64)
	return id
}

// Object is a live in-memory instance of a persisted row.
//
// Table names the ObjectSchema the instance belongs to. Values must
// return the object's current field values keyed by field name; the
// store snapshots Values on every insert and update, so the returned
// map must reflect the object's present state. The "id" column is
// always taken from ObjectID, not from Values.
type Object interface {
	ObjectID() int64
	Table() string
	Values() Row
}

// Field declares one typed column of an ObjectSchema.
type Field struct {
	Name string
	Kind Kind

	// Null permits nil values; nil is stored as SQL NULL.
	Null bool

	// Delimiter overrides DefaultSetDelimiter for KindStringSet fields.
	Delimiter string

	// Default is substituted when the stored cell cannot be decoded.
	// When nil, the kind's zero value is used instead.
	Default any

	// Repair, when set, is given the raw undecodable cell and may produce
	// a usable value. If it fails, Default applies.
	Repair func(raw any) (any, error)

	// Constraint is optional CUE source unified with values of
	// KindList/KindMap/KindStruct fields before they are written.
	Constraint string

	constraint cue.Value
	cuectx     *cue.Context
}

// SetDelimiter returns the effective string-set delimiter.
func (f *Field) SetDelimiter() string {
	if f.Delimiter != "" {
		return f.Delimiter
	}
	return DefaultSetDelimiter
}

// DefaultValue returns the declared default, or the kind's zero value.
func (f *Field) DefaultValue() any {
	if f.Default != nil {
		return f.Default
	}
	return f.Kind.ZeroValue()
}

// CheckConstraint unifies value with the field's compiled CUE constraint.
// Fields without a constraint always pass. The registry compiles
// constraints up front, so this never compiles CUE on the write path.
func (f *Field) CheckConstraint(table string, value any) error {
	if f.Constraint == "" || f.cuectx == nil {
		return nil
	}
	data := f.cuectx.Encode(value)
	if err := data.Err(); err != nil {
		return &ValidationError{Table: table, Field: f.Name,
			Reason: fmt.Sprintf("value not encodable for constraint check: %v", err)}
	}
	if err := f.constraint.Unify(data).Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Table: table, Field: f.Name,
			Reason: fmt.Sprintf("constraint violated: %v", err)}
	}
	return nil
}

// Class is one concrete type stored in a table.
type Class struct {
	// Name identifies the class; the discriminator returns it.
	Name string

	// Restore builds a fully-initialized live object from a decoded row.
	// Construction is eager: every field is populated here, never lazily.
	Restore func(Row) (Object, error)
}

// Index declares a secondary index on a table.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// ObjectSchema describes one table and the classes stored in it.
type ObjectSchema struct {
	Table  string
	Fields []Field

	// Classes lists every concrete type stored in this table. Tables with
	// more than one class need a Discriminator.
	Classes []Class

	// Discriminator inspects a decoded row and returns the Class name to
	// restore. Only consulted for multi-class tables.
	Discriminator func(Row) string

	Indexes []Index

	byName map[string]*Field
}

// Field returns the named field, or nil.
func (s *ObjectSchema) Field(name string) *Field {
	return s.byName[name]
}

// ClassFor resolves the concrete class for a decoded row.
func (s *ObjectSchema) ClassFor(row Row) (*Class, error) {
	if len(s.Classes) == 1 {
		return &s.Classes[0], nil
	}
	name := s.Discriminator(row)
	for i := range s.Classes {
		if s.Classes[i].Name == name {
			return &s.Classes[i], nil
		}
	}
	return nil, fmt.Errorf("table %s: discriminator chose unknown class %q (id %d)",
		s.Table, name, row.ID())
}

// ColumnNames returns the field names in declaration order.
func (s *ObjectSchema) ColumnNames() []string {
	names := make([]string, len(s.Fields))
	for i := range s.Fields {
		names[i] = s.Fields[i].Name
	}
	return names
}
