// Package store implements a durable, single-writer object store on
// top of a SQLite file.
//
// A Store maps registered Go objects onto rows: one table per object
// schema, one live instance per row. Mutations normally commit in
// their own transaction; a bulk window (StartBulk/FinishBulk) queues
// them and commits everything at once, cancelling inserts that were
// removed before the flush.
//
// Opening is defensive. Files written by a newer schema version are
// refused untouched, older files are backed up and upgraded step by
// step, corrupt files are quarantined and replaced, and when the path
// cannot be opened at all an ErrorPolicy may elect to run against a
// temporary in-memory database that periodically retries writing
// itself to disk.
package store
