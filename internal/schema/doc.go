// Package schema describes the object types persisted by the store.
//
// Each persisted type is declared by an ObjectSchema: a SQLite table name,
// an ordered list of typed fields, and one or more concrete classes that
// rows in the table restore into. Tables holding more than one class
// ("multi-class" tables) declare a discriminator that inspects the decoded
// row and names the class to instantiate.
//
// A Registry is the validated, immutable collection of schemas for one
// store. All structural rules are enforced when the registry is built:
//   - table names are unique and non-empty
//   - the first field is always "id" (INTEGER, the row's primary key)
//   - a discriminator is required exactly when a table has multiple classes
//   - CUE field constraints compile
//
// Field kinds map one-to-one onto SQLite column types; the conversion
// itself lives in the store package.
package schema
