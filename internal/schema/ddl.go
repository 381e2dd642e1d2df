package schema

import (
	"fmt"
	"strings"
)

// DDL returns the CREATE TABLE and CREATE INDEX statements for every
// schema, in registration order.
func (r *Registry) DDL() []string {
	return r.ddl("")
}

// DDLFor returns the same statements with every created object qualified
// by an attached database name. Used when materializing the store into a
// second database over the same connection.
func (r *Registry) DDLFor(dbName string) []string {
	return r.ddl(dbName + ".")
}

func (r *Registry) ddl(qualifier string) []string {
	var stmts []string
	for _, s := range r.schemas {
		cols := make([]string, len(s.Fields))
		for i := range s.Fields {
			f := &s.Fields[i]
			if f.Name == "id" {
				cols[i] = fmt.Sprintf("%s %s PRIMARY KEY", f.Name, f.Kind.SQLType())
			} else {
				cols[i] = fmt.Sprintf("%s %s", f.Name, f.Kind.SQLType())
			}
		}
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE %s%s (%s)",
			qualifier, s.Table, strings.Join(cols, ", ")))
		for _, idx := range s.Indexes {
			unique := ""
			if idx.Unique {
				unique = "UNIQUE "
			}
			stmts = append(stmts, fmt.Sprintf("CREATE %sINDEX %s%s ON %s (%s)",
				unique, qualifier, idx.Name, s.Table, strings.Join(idx.Columns, ", ")))
		}
	}
	return stmts
}
