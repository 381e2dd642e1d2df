package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/robelix/miro/internal/schema"
)

const (
	// versionKey is the store_variables row holding the schema version.
	versionKey = "schema_version"

	// lastIDKey is the store_variables row holding the highest id ever
	// issued, persisted so ids stay monotonic across close/reopen.
	lastIDKey = "last_id"

	variablesTable = "store_variables"

	// DefaultRetryInterval is how often a temporary in-memory store
	// retries writing itself to the real path.
	DefaultRetryInterval = 5 * time.Minute
)

// UpgradeStep migrates the schema from version-1 to version. It runs in
// its own transaction; the version number is written in the same
// transaction, so a crash mid-upgrade resumes from the last completed
// step. Steps should still be written to be idempotent.
type UpgradeStep func(*sql.Tx) error

// Inserter is the narrow mutation surface handed to insert callbacks.
type Inserter interface {
	Insert(obj schema.Object) error
}

// InsertNotifier is implemented by objects that want a callback once
// their row is part of a committed (or committing, in bulk mode)
// transaction. The callback may insert further objects; during a bulk
// flush those are captured in the same transaction.
type InsertNotifier interface {
	OnInserted(ins Inserter) error
}

// ErrNotFound is returned by GetOrLoad when no row has the given id.
var ErrNotFound = errors.New("object not found")

// Options configures Open.
type Options struct {
	// Path is the database file location.
	Path string

	// Registry describes every persisted type.
	Registry *schema.Registry

	// Version is the schema version this build writes and understands.
	Version int

	// Steps holds the upgrade functions, keyed by the version each one
	// migrates to.
	Steps map[int]UpgradeStep

	// Preallocate pre-extends the file to roughly this many bytes. The
	// file never shrinks below it afterwards (the store never vacuums).
	Preallocate int64

	// Policy decides what happens on open failures. Defaults to
	// FailPolicy.
	Policy ErrorPolicy

	// RetryInterval is the temporary-store promotion retry period.
	RetryInterval time.Duration

	Logger *slog.Logger

	// StartInTempMode opens the in-memory store immediately without
	// touching Path first. The promotion timer still runs against Path.
	StartInTempMode bool
}

// Store is a durable, single-writer object store backed by a SQLite
// file. All access is serialized by one lock; the only callers besides
// the owning goroutine are the bulk flush (explicit) and the temp-mode
// promotion timer, both of which take the same lock, so no mutation can
// interleave with a flush or promotion in progress.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string

	reg     *schema.Registry
	conv    converter
	version int
	steps   map[int]UpgradeStep

	prealloc      int64
	policy        ErrorPolicy
	log           *slog.Logger
	retryInterval time.Duration
	retryTimer    *time.Timer

	identity *identityMap
	nextID   int64
	bulk     *bulkBatch

	tempMode   bool
	createdNew bool
	closed     bool
}

// Open opens (creating or upgrading as needed) the store at opts.Path.
//
// Corrupt files are quarantined and replaced with a fresh store; the
// policy is notified but Open succeeds. Other open failures are decided
// by the policy: fail outright, or fall back to a temporary in-memory
// store that periodically tries to write itself to the real path.
func Open(opts Options) (*Store, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("open store: no registry")
	}
	if opts.Version < 1 {
		return nil, fmt.Errorf("open store: version must be >= 1")
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("open store: no path")
	}
	s := &Store{
		path:          opts.Path,
		reg:           opts.Registry,
		version:       opts.Version,
		steps:         opts.Steps,
		prealloc:      opts.Preallocate,
		policy:        opts.Policy,
		log:           opts.Logger,
		retryInterval: opts.RetryInterval,
		identity:      newIdentityMap(),
	}
	if s.policy == nil {
		s.policy = FailPolicy{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.retryInterval <= 0 {
		s.retryInterval = DefaultRetryInterval
	}
	if opts.StartInTempMode {
		if err := s.enterTempMode(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err := s.openFile(true); err != nil {
		var oe *OpenError
		if errors.As(err, &oe) && s.policy.HandleOpenError(s.path, oe.Err) == ActionUseTemporary {
			s.log.Warn("cannot open database, falling back to in-memory store",
				"path", s.path, "error", oe.Err)
			if terr := s.enterTempMode(); terr != nil {
				return nil, terr
			}
			return s, nil
		}
		return nil, err
	}
	return s, nil
}

// openFile opens the on-disk database, creating the schema for new
// files and running upgrades for old ones. When allowRecover is set, a
// corrupt file is quarantined and the open restarted once against a
// fresh path.
func (s *Store) openFile(allowRecover bool) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return &OpenError{Path: s.path, Err: fmt.Errorf("create directory: %w", err)}
	}
	db, err := openConn(s.path)
	if err != nil {
		return s.maybeRecover(allowRecover, nil, err)
	}
	tableCount, err := countUserTables(db)
	if err != nil {
		return s.maybeRecover(allowRecover, db, err)
	}
	s.db = db
	if tableCount == 0 {
		s.createdNew = true
		if err := s.initSchema("main"); err != nil {
			db.Close()
			s.db = nil
			return &OpenError{Path: s.path, Err: err}
		}
	} else {
		s.createdNew = false
		if err := s.upgradeIfNeeded(); err != nil {
			if s.db != nil {
				s.db.Close()
				s.db = nil
			}
			if isCorruptClass(err) {
				return s.maybeRecover(allowRecover, nil, err)
			}
			return err
		}
	}
	if err := switchToWAL(s.db); err != nil {
		s.log.Warn("could not enable WAL mode", "path", s.path, "error", err)
	}
	if err := s.seedNextID(); err != nil {
		s.db.Close()
		s.db = nil
		return s.maybeRecover(allowRecover, nil, err)
	}
	s.log.Info("database open", "path", s.path, "version", s.version,
		"created", s.createdNew)
	return nil
}

// maybeRecover routes an open failure to quarantine-and-retry when it
// looks like file corruption, and to OpenError otherwise.
func (s *Store) maybeRecover(allowRecover bool, db *sql.DB, err error) error {
	if db != nil {
		db.Close()
	}
	if !isCorruptClass(err) {
		var oe *OpenError
		if errors.As(err, &oe) {
			return err
		}
		return &OpenError{Path: s.path, Err: err}
	}
	if !allowRecover {
		return &OpenError{Path: s.path, Err: err}
	}
	quarantine, qerr := s.quarantine()
	if qerr != nil {
		return &OpenError{Path: s.path, Err: qerr}
	}
	if ferr := s.openFile(false); ferr != nil {
		return ferr
	}
	s.log.Error("corrupt database replaced",
		"error", &CorruptError{Path: s.path, Quarantine: quarantine, Err: err})
	s.policy.HandleCorruption(s.path, quarantine)
	return nil
}

func openConn(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer; one connection avoids SQLITE_BUSY and keeps
	// in-memory databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// switchToWAL runs after version detection so that a too-new or
// about-to-be-backed-up file is not modified by the journal mode
// change.
func switchToWAL(db *sql.DB) error {
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode = wal").Scan(&mode); err != nil {
		return err
	}
	if mode != "wal" && mode != "memory" {
		return fmt.Errorf("journal_mode is %q", mode)
	}
	return nil
}

func countUserTables(db *sql.DB) (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tables: %w", err)
	}
	return n, nil
}

// initSchema creates every table, the variables table, and the version
// row inside one transaction. dbName is "main" for the live database or
// the attached name during temp-store promotion.
func (s *Store) initSchema(dbName string) error {
	err := s.withTx(func(tx *sql.Tx) error {
		ddl := s.reg.DDL()
		if dbName != "main" {
			ddl = s.reg.DDLFor(dbName)
		}
		for _, stmt := range ddl {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
		}
		stmt := fmt.Sprintf("CREATE TABLE %s.%s (name TEXT PRIMARY KEY NOT NULL, value TEXT NOT NULL)",
			dbName, variablesTable)
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("create variables table: %w", err)
		}
		if err := setVariableIn(tx, dbName, versionKey, strconv.Itoa(s.version)); err != nil {
			return err
		}
		return setVariableIn(tx, dbName, lastIDKey, "0")
	})
	if err != nil {
		return err
	}
	return s.preallocate(dbName)
}

func (s *Store) withTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Path returns the configured database file path.
func (s *Store) Path() string { return s.path }

// CreatedNew reports whether Open initialized a brand-new schema
// (including after quarantining a corrupt file).
func (s *Store) CreatedNew() bool { return s.createdNew }

// InTempMode reports whether the store is running against the
// in-memory fallback database.
func (s *Store) InTempMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tempMode
}

// LiveObjectCount returns the number of objects in the identity map.
func (s *Store) LiveObjectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity.len()
}

// Close flushes any open bulk window, persists the id watermark, stops
// the promotion timer, and closes the connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	if s.bulk != nil {
		if err := s.flushBulkLocked(); err != nil {
			s.log.Error("flushing bulk queue at close", "error", err)
		}
		s.bulk = nil
	}
	if err := s.withTx(s.persistLastID); err != nil {
		s.log.Warn("persisting id watermark at close", "error", err)
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// MakeNewID issues a process-unique id, strictly greater than every id
// ever issued for this file, including across close/reopen cycles.
func (s *Store) MakeNewID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

func (s *Store) seedNextID() error {
	highest := int64(0)
	if raw, ok, err := s.getVariable(lastIDKey); err != nil {
		return err
	} else if ok {
		n, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			return fmt.Errorf("parse %s: %w", lastIDKey, perr)
		}
		highest = n
	}
	for _, sch := range s.reg.Schemas() {
		var rowMax sql.NullInt64
		query := fmt.Sprintf("SELECT MAX(id) FROM %s", sch.Table)
		if err := s.db.QueryRow(query).Scan(&rowMax); err != nil {
			return fmt.Errorf("max id for %s: %w", sch.Table, err)
		}
		if rowMax.Valid && rowMax.Int64 > highest {
			highest = rowMax.Int64
		}
	}
	s.nextID = highest
	return nil
}

func (s *Store) persistLastID(tx *sql.Tx) error {
	return setVariableIn(tx, "main", lastIDKey, strconv.FormatInt(s.nextID, 10))
}

// GetVariable reads a named value from the metadata table.
func (s *Store) GetVariable(name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrClosed
	}
	return s.getVariable(name)
}

// SetVariable writes a named value to the metadata table.
func (s *Store) SetVariable(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.withTx(func(tx *sql.Tx) error {
		return setVariableIn(tx, "main", name, value)
	})
}

// UnsetVariable deletes a named value from the metadata table.
func (s *Store) UnsetVariable(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.withTx(func(tx *sql.Tx) error {
		stmt := fmt.Sprintf("DELETE FROM %s WHERE name = ?", variablesTable)
		if _, err := tx.Exec(stmt, name); err != nil {
			return fmt.Errorf("unset variable %s: %w", name, err)
		}
		return nil
	})
}

func (s *Store) getVariable(name string) (string, bool, error) {
	var value string
	query := fmt.Sprintf("SELECT value FROM %s WHERE name = ?", variablesTable)
	err := s.db.QueryRow(query, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get variable %s: %w", name, err)
	}
	return value, true, nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func setVariableIn(e execer, dbName, name, value string) error {
	stmt := fmt.Sprintf("REPLACE INTO %s.%s (name, value) VALUES (?, ?)", dbName, variablesTable)
	if _, err := e.Exec(stmt, name, value); err != nil {
		return fmt.Errorf("set variable %s: %w", name, err)
	}
	return nil
}

func (s *Store) readVersion() (int, error) {
	raw, ok, err := s.getVariable(versionKey)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			// Tables exist but none of them are ours.
			return 0, fmt.Errorf("%w: %v", errBadMeta, err)
		}
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: database has tables but no %s row", errBadMeta, versionKey)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is %q", errBadMeta, versionKey, raw)
	}
	return v, nil
}

// schemaFor resolves the ObjectSchema an object belongs to.
func (s *Store) schemaFor(obj schema.Object) (*schema.ObjectSchema, error) {
	sch, ok := s.reg.ByTable(obj.Table())
	if !ok {
		return nil, fmt.Errorf("no schema registered for table %q", obj.Table())
	}
	return sch, nil
}

// rowCells validates and converts every field of obj into SQLite cells,
// in schema field order. This is where ValidationErrors surface, before
// anything reaches the database.
func (s *Store) rowCells(sch *schema.ObjectSchema, obj schema.Object) ([]any, error) {
	values := obj.Values()
	cells := make([]any, len(sch.Fields))
	for i := range sch.Fields {
		f := &sch.Fields[i]
		var value any
		if f.Name == "id" {
			value = obj.ObjectID()
		} else {
			value = values[f.Name]
		}
		cell, err := s.conv.toCell(sch.Table, f, value)
		if err != nil {
			return nil, err
		}
		cells[i] = cell
	}
	return cells, nil
}

func insertSQL(sch *schema.ObjectSchema) string {
	cols := sch.ColumnNames()
	marks := strings.Repeat("?, ", len(cols)-1) + "?"
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		sch.Table, strings.Join(cols, ", "), marks)
}

func (s *Store) execInsert(e execer, sch *schema.ObjectSchema, obj schema.Object) error {
	cells, err := s.rowCells(sch, obj)
	if err != nil {
		return err
	}
	if _, err := e.Exec(insertSQL(sch), cells...); err != nil {
		return fmt.Errorf("insert into %s (id %d): %w", sch.Table, obj.ObjectID(), err)
	}
	return nil
}

func (s *Store) execUpdate(e execer, sch *schema.ObjectSchema, obj schema.Object) error {
	cells, err := s.rowCells(sch, obj)
	if err != nil {
		return err
	}
	setters := make([]string, 0, len(sch.Fields)-1)
	args := make([]any, 0, len(sch.Fields))
	for i := range sch.Fields {
		if sch.Fields[i].Name == "id" {
			continue
		}
		setters = append(setters, sch.Fields[i].Name+" = ?")
		args = append(args, cells[i])
	}
	args = append(args, obj.ObjectID())
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?",
		sch.Table, strings.Join(setters, ", "))
	res, err := e.Exec(stmt, args...)
	if err != nil {
		return fmt.Errorf("update %s (id %d): %w", sch.Table, obj.ObjectID(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s (id %d): rows affected: %w", sch.Table, obj.ObjectID(), err)
	}
	if n == 0 {
		return fmt.Errorf("update %s: no row with id %d", sch.Table, obj.ObjectID())
	}
	return nil
}

func (s *Store) execDelete(e execer, table string, id int64) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE id = ?", table)
	if _, err := e.Exec(stmt, id); err != nil {
		return fmt.Errorf("delete from %s (id %d): %w", table, id, err)
	}
	return nil
}

// Insert adds a new object. Outside bulk mode it commits immediately in
// its own transaction; inside bulk mode it is queued. The object joins
// the identity map either way.
func (s *Store) Insert(obj schema.Object) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	sch, err := s.schemaFor(obj)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if obj.ObjectID() <= 0 {
		s.mu.Unlock()
		return fmt.Errorf("insert into %s: object has no id (use MakeNewID)", sch.Table)
	}
	if s.bulk != nil {
		// Validate now so the caller hears about bad values at the
		// mutation, not at flush.
		if _, verr := s.rowCells(sch, obj); verr != nil {
			s.mu.Unlock()
			return verr
		}
		s.bulk.addInsert(sch.Table, obj)
		s.identity.remember(sch.Table, obj)
		s.mu.Unlock()
		return nil
	}
	err = s.withTx(func(tx *sql.Tx) error {
		if err := s.execInsert(tx, sch, obj); err != nil {
			return err
		}
		return s.persistLastID(tx)
	})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.identity.remember(sch.Table, obj)
	s.mu.Unlock()
	if notifier, ok := obj.(InsertNotifier); ok {
		// The row is durable; the callback may insert more objects,
		// each committing in its own transaction.
		if err := notifier.OnInserted(s); err != nil {
			return fmt.Errorf("insert notification for %s (id %d): %w",
				sch.Table, obj.ObjectID(), err)
		}
	}
	return nil
}

// Update writes an object's current field values. Outside bulk mode it
// commits immediately; inside, it folds into the pending queue.
func (s *Store) Update(obj schema.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	sch, err := s.schemaFor(obj)
	if err != nil {
		return err
	}
	if s.bulk != nil {
		if _, verr := s.rowCells(sch, obj); verr != nil {
			return verr
		}
		s.bulk.addUpdate(sch.Table, obj)
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		return s.execUpdate(tx, sch, obj)
	})
}

// Remove deletes an object's row and evicts it from the identity map.
// Inside bulk mode a remove cancels a pending insert for the same id:
// neither ever reaches disk.
func (s *Store) Remove(obj schema.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	sch, err := s.schemaFor(obj)
	if err != nil {
		return err
	}
	if s.bulk != nil {
		s.bulk.addRemove(sch.Table, obj)
		s.identity.forget(sch.Table, obj)
		return nil
	}
	if err := s.withTx(func(tx *sql.Tx) error {
		return s.execDelete(tx, sch.Table, obj.ObjectID())
	}); err != nil {
		return err
	}
	s.identity.forget(sch.Table, obj)
	return nil
}

// GetOrLoad returns the live instance for id, loading the row if no
// instance exists yet. A second call for the same id returns the same
// instance without re-reading the row.
func (s *Store) GetOrLoad(table string, id int64) (schema.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if obj, ok := s.identity.get(table, id); ok {
		return obj, nil
	}
	sch, ok := s.reg.ByTable(table)
	if !ok {
		return nil, fmt.Errorf("no schema registered for table %q", table)
	}
	objs, err := s.loadRows(sch, "WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, fmt.Errorf("%s id %d: %w", table, id, ErrNotFound)
	}
	return objs[0], nil
}

// LoadAll loads every row of a table, returning already-live instances
// where they exist.
func (s *Store) LoadAll(table string) ([]schema.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	sch, ok := s.reg.ByTable(table)
	if !ok {
		return nil, fmt.Errorf("no schema registered for table %q", table)
	}
	return s.loadRows(sch, "ORDER BY id")
}

// EnsureLoaded loads any of the given ids that are not yet live.
func (s *Store) EnsureLoaded(table string, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	sch, ok := s.reg.ByTable(table)
	if !ok {
		return fmt.Errorf("no schema registered for table %q", table)
	}
	var missing []int64
	for _, id := range ids {
		if _, ok := s.identity.get(table, id); !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	marks := strings.Repeat("?, ", len(missing)-1) + "?"
	args := make([]any, len(missing))
	for i, id := range missing {
		args[i] = id
	}
	_, err := s.loadRows(sch, fmt.Sprintf("WHERE id IN (%s)", marks), args...)
	return err
}

// Count returns the number of rows in a table, straight from the
// database. Pending bulk mutations are not visible here.
func (s *Store) Count(table string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if _, ok := s.reg.ByTable(table); !ok {
		return 0, fmt.Errorf("no schema registered for table %q", table)
	}
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
	if err := s.db.QueryRow(query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// loadRows runs a SELECT over all schema columns, decodes each row,
// repairs malformed cells, resolves the concrete class, and registers
// new instances in the identity map. Rows whose id is already live keep
// their existing instance.
func (s *Store) loadRows(sch *schema.ObjectSchema, tail string, args ...any) ([]schema.Object, error) {
	query := fmt.Sprintf("SELECT %s FROM %s %s",
		strings.Join(sch.ColumnNames(), ", "), sch.Table, tail)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", sch.Table, err)
	}
	defer rows.Close()

	type repairRec struct {
		id    int64
		cols  []string
		cells []any
	}
	var out []schema.Object
	var repairs []repairRec
	for rows.Next() {
		cells := make([]any, len(sch.Fields))
		ptrs := make([]any, len(sch.Fields))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", sch.Table, err)
		}
		row := make(schema.Row, len(sch.Fields))
		rec := repairRec{}
		skipRow := false
		for i := range sch.Fields {
			f := &sch.Fields[i]
			value, cerr := s.conv.fromCell(sch.Table, f, cells[i])
			if cerr != nil {
				if f.Name == "id" {
					s.log.Error("row with undecodable id skipped",
						"table", sch.Table, "error", cerr)
					skipRow = true
					break
				}
				// The id field decodes first, so the row id is known by
				// the time any other field fails.
				var me *MalformedValueError
				if errors.As(cerr, &me) {
					me.ID = row.ID()
				}
				value = s.repairValue(sch.Table, f, cells[i], cerr)
				if cell, rerr := s.conv.toCell(sch.Table, f, value); rerr == nil {
					rec.cols = append(rec.cols, f.Name)
					rec.cells = append(rec.cells, cell)
				}
			}
			row[f.Name] = value
		}
		if skipRow {
			continue
		}
		id := row.ID()
		if len(rec.cols) > 0 {
			rec.id = id
			repairs = append(repairs, rec)
		}
		if live, ok := s.identity.get(sch.Table, id); ok {
			out = append(out, live)
			continue
		}
		class, cerr := sch.ClassFor(row)
		if cerr != nil {
			return nil, cerr
		}
		obj, rerr := class.Restore(row)
		if rerr != nil {
			return nil, fmt.Errorf("restore %s (id %d): %w", sch.Table, id, rerr)
		}
		s.identity.remember(sch.Table, obj)
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select from %s: %w", sch.Table, err)
	}
	// Write repaired cells back so the corruption does not recur on the
	// next load.
	for _, rec := range repairs {
		setters := make([]string, len(rec.cols))
		for i, col := range rec.cols {
			setters[i] = col + " = ?"
		}
		stmt := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?",
			sch.Table, strings.Join(setters, ", "))
		updateArgs := append(append([]any(nil), rec.cells...), rec.id)
		if _, err := s.db.Exec(stmt, updateArgs...); err != nil {
			s.log.Warn("could not write repaired values back",
				"table", sch.Table, "id", rec.id, "error", err)
		}
	}
	return out, nil
}

// repairValue picks the replacement for an undecodable cell: the
// field's Repair function if it has one and succeeds, otherwise the
// declared default.
func (s *Store) repairValue(table string, f *schema.Field, raw any, cause error) any {
	s.log.Warn("malformed stored value, substituting default",
		"table", table, "field", f.Name, "error", cause)
	if f.Repair != nil {
		if v, err := f.Repair(raw); err == nil {
			return v
		}
	}
	return f.DefaultValue()
}

// CheckIntegrity runs SQLite's integrity check: a blocking, full-file
// scan intended for startup and maintenance tooling, not steady-state
// traffic.
func (s *Store) CheckIntegrity() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return checkIntegrity(s.db)
}

// preallocate pre-extends the database using the zeroblob trick: insert
// a blob big enough to reach the target size, then delete it. SQLite
// keeps the pages on its freelist, and since the store never vacuums,
// the file stays at least that large.
func (s *Store) preallocate(dbName string) error {
	if s.prealloc <= 0 {
		return nil
	}
	if s.tempMode && dbName == "main" {
		// Nothing to extend for the in-memory database; the staging
		// file gets preallocated during promotion instead.
		return nil
	}
	current := int64(0)
	if dbName == "main" {
		var pageSize, pageCount, freelist int64
		for _, p := range []struct {
			name string
			dst  *int64
		}{
			{"page_size", &pageSize},
			{"page_count", &pageCount},
			{"freelist_count", &freelist},
		} {
			if err := s.db.QueryRow("PRAGMA " + p.name).Scan(p.dst); err != nil {
				return fmt.Errorf("pragma %s: %w", p.name, err)
			}
		}
		current = pageSize * (pageCount + freelist)
	}
	need := s.prealloc - current
	if need <= 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		stmt := fmt.Sprintf("REPLACE INTO %s.%s (name, value) VALUES ('preallocate', zeroblob(%d))",
			dbName, variablesTable, need)
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("preallocate: %w", err)
		}
		stmt = fmt.Sprintf("DELETE FROM %s.%s WHERE name = 'preallocate'", dbName, variablesTable)
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("preallocate cleanup: %w", err)
		}
		return nil
	})
}
