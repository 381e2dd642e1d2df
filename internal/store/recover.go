package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// errBadMeta marks a database whose tables exist but whose metadata is
// missing or unreadable. Such files are treated like corrupt ones:
// quarantined and replaced rather than guessed at.
var errBadMeta = errors.New("store metadata unreadable")

// isCorruptClass reports whether err indicates a damaged database file
// rather than an ordinary failure like a bad query or a locked file.
func isCorruptClass(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errBadMeta) {
		return true
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		switch serr.Code {
		case sqlite3.ErrCorrupt, sqlite3.ErrNotADB:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "database disk image is malformed")
}

// quarantine moves the damaged file aside so a fresh database can take
// its place, returning the quarantine path. The quarantine path is
// fixed: a newer corrupt file replaces any earlier one rather than
// accumulating. Sidecar journal files are removed so they cannot poison
// the replacement.
func (s *Store) quarantine() (string, error) {
	dst := s.path + ".corrupt"
	if err := os.Rename(s.path, dst); err != nil {
		return "", fmt.Errorf("quarantine corrupt database: %w", err)
	}
	for _, sidecar := range []string{s.path + "-wal", s.path + "-shm", s.path + "-journal"} {
		os.Remove(sidecar)
	}
	return dst, nil
}

// checkIntegrity runs SQLite's full integrity check.
func checkIntegrity(db *sql.DB) bool {
	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return false
	}
	return result == "ok"
}
