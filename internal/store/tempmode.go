package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// enterTempMode opens an in-memory database with the full schema and
// starts the promotion timer. Everything written while in temp mode is
// lost on exit unless a later promotion succeeds.
func (s *Store) enterTempMode() error {
	db, err := openConn(":memory:")
	if err != nil {
		return fmt.Errorf("open temporary store: %w", err)
	}
	s.db = db
	s.tempMode = true
	s.createdNew = true
	if err := s.initSchema("main"); err != nil {
		db.Close()
		s.db = nil
		return fmt.Errorf("initialize temporary store: %w", err)
	}
	s.retryTimer = time.AfterFunc(s.retryInterval, s.retryPromote)
	return nil
}

func (s *Store) retryPromote() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.tempMode {
		return
	}
	if err := s.tryPromoteLocked(); err != nil {
		s.log.Warn("still cannot write database to disk",
			"path", s.path, "error", err)
		s.retryTimer = time.AfterFunc(s.retryInterval, s.retryPromote)
		return
	}
	s.log.Info("temporary store written to disk", "path", s.path)
}

// TryPromote attempts to write a temporary in-memory store to its
// configured path immediately, without waiting for the retry timer.
func (s *Store) TryPromote() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.tempMode {
		return nil
	}
	if err := s.tryPromoteLocked(); err != nil {
		return err
	}
	s.log.Info("temporary store written to disk", "path", s.path)
	return nil
}

// tryPromoteLocked copies the in-memory contents into a staging file
// next to the real path, then renames it into place. The staging file
// is built by attaching it to the live connection, so the copy is plain
// SQL and the rename is the only non-atomic-looking moment, and rename
// itself is atomic on the same filesystem.
func (s *Store) tryPromoteLocked() error {
	if s.bulk != nil {
		return ErrBulkActive
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	token, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("staging token: %w", err)
	}
	staging := fmt.Sprintf("%s.promote-%s", s.path, token)
	if _, err := s.db.Exec("ATTACH DATABASE ? AS newdb", staging); err != nil {
		os.Remove(staging)
		return fmt.Errorf("attach staging file: %w", err)
	}
	copyErr := s.copyToAttached("newdb")
	if _, err := s.db.Exec("DETACH DATABASE newdb"); err != nil && copyErr == nil {
		copyErr = fmt.Errorf("detach staging file: %w", err)
	}
	if copyErr != nil {
		os.Remove(staging)
		return copyErr
	}
	if err := os.Rename(staging, s.path); err != nil {
		os.Remove(staging)
		return fmt.Errorf("move staging file into place: %w", err)
	}
	db, err := openConn(s.path)
	if err != nil {
		// Keep running in memory; the file is in place for next time.
		return fmt.Errorf("reopen written database: %w", err)
	}
	s.db.Close()
	s.db = db
	if err := switchToWAL(s.db); err != nil {
		s.log.Warn("could not enable WAL mode", "path", s.path, "error", err)
	}
	s.tempMode = false
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	return nil
}

// copyToAttached builds the schema in the attached database and copies
// every row and variable across.
func (s *Store) copyToAttached(dbName string) error {
	if err := s.initSchema(dbName); err != nil {
		return err
	}
	return s.withTx(func(tx *sql.Tx) error {
		for _, sch := range s.reg.Schemas() {
			cols := strings.Join(sch.ColumnNames(), ", ")
			stmt := fmt.Sprintf("INSERT INTO %s.%s (%s) SELECT %s FROM main.%s",
				dbName, sch.Table, cols, cols, sch.Table)
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("copy %s: %w", sch.Table, err)
			}
		}
		stmt := fmt.Sprintf("INSERT OR REPLACE INTO %s.%s SELECT name, value FROM main.%s",
			dbName, variablesTable, variablesTable)
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("copy variables: %w", err)
		}
		return setVariableIn(tx, dbName, lastIDKey, strconv.FormatInt(s.nextID, 10))
	})
}
