package schema

import (
	"fmt"

	"cuelang.org/go/cue/cuecontext"
)

// Registry is the validated set of object schemas for one store.
type Registry struct {
	schemas []*ObjectSchema
	byTable map[string]*ObjectSchema
}

// NewRegistry validates the given schemas and builds a registry.
// Structural problems are registration-time errors, not load-time ones.
func NewRegistry(schemas ...*ObjectSchema) (*Registry, error) {
	if len(schemas) == 0 {
		return nil, fmt.Errorf("registry: no schemas given")
	}
	r := &Registry{byTable: make(map[string]*ObjectSchema, len(schemas))}
	cuectx := cuecontext.New()
	for _, s := range schemas {
		if s.Table == "" {
			return nil, fmt.Errorf("registry: schema with empty table name")
		}
		if _, dup := r.byTable[s.Table]; dup {
			return nil, fmt.Errorf("registry: duplicate table %q", s.Table)
		}
		if len(s.Fields) == 0 || s.Fields[0].Name != "id" || s.Fields[0].Kind != KindInt {
			return nil, fmt.Errorf("registry: table %q: first field must be id (int)", s.Table)
		}
		if len(s.Classes) == 0 {
			return nil, fmt.Errorf("registry: table %q: no classes", s.Table)
		}
		if len(s.Classes) > 1 && s.Discriminator == nil {
			return nil, fmt.Errorf("registry: table %q holds %d classes but has no discriminator",
				s.Table, len(s.Classes))
		}
		classNames := make(map[string]bool, len(s.Classes))
		for _, c := range s.Classes {
			if c.Restore == nil {
				return nil, fmt.Errorf("registry: table %q: class %q has no restore function",
					s.Table, c.Name)
			}
			if classNames[c.Name] {
				return nil, fmt.Errorf("registry: table %q: duplicate class %q", s.Table, c.Name)
			}
			classNames[c.Name] = true
		}
		s.byName = make(map[string]*Field, len(s.Fields))
		for i := range s.Fields {
			f := &s.Fields[i]
			if f.Name == "" {
				return nil, fmt.Errorf("registry: table %q: field with empty name", s.Table)
			}
			if _, dup := s.byName[f.Name]; dup {
				return nil, fmt.Errorf("registry: table %q: duplicate field %q", s.Table, f.Name)
			}
			if f.Delimiter != "" && f.Kind != KindStringSet {
				return nil, fmt.Errorf("registry: table %q: field %q: delimiter on non-stringset field",
					s.Table, f.Name)
			}
			if f.Constraint != "" {
				switch f.Kind {
				case KindList, KindMap, KindStruct:
				default:
					return nil, fmt.Errorf("registry: table %q: field %q: constraint on %s field",
						s.Table, f.Name, f.Kind)
				}
				v := cuectx.CompileString(f.Constraint)
				if err := v.Err(); err != nil {
					return nil, fmt.Errorf("registry: table %q: field %q: compile constraint: %w",
						s.Table, f.Name, err)
				}
				f.constraint = v
				f.cuectx = cuectx
			}
			s.byName[f.Name] = f
		}
		for _, idx := range s.Indexes {
			if idx.Name == "" || len(idx.Columns) == 0 {
				return nil, fmt.Errorf("registry: table %q: index needs a name and columns", s.Table)
			}
			for _, col := range idx.Columns {
				if s.byName[col] == nil {
					return nil, fmt.Errorf("registry: table %q: index %q names unknown column %q",
						s.Table, idx.Name, col)
				}
			}
		}
		r.schemas = append(r.schemas, s)
		r.byTable[s.Table] = s
	}
	return r, nil
}

// ByTable returns the schema for a table name.
func (r *Registry) ByTable(name string) (*ObjectSchema, bool) {
	s, ok := r.byTable[name]
	return s, ok
}

// Schemas returns the schemas in registration order.
func (r *Registry) Schemas() []*ObjectSchema {
	return r.schemas
}
