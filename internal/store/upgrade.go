package store

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// backupDirName is the subdirectory (next to the database file) where
// pre-upgrade copies are kept.
const backupDirName = "backups"

// upgradeIfNeeded compares the stored schema version against the
// configured one. Older files are backed up and upgraded one step at a
// time; newer files are refused without being modified, so a downgrade
// of the application leaves the file intact for the newer build.
func (s *Store) upgradeIfNeeded() error {
	current, err := s.readVersion()
	if err != nil {
		return err
	}
	if current == s.version {
		return nil
	}
	if current > s.version {
		return &TooNewError{Path: s.path, Version: current, Supported: s.version}
	}
	// No step may touch the file until a complete backup exists.
	dst, err := s.backupFile(current)
	if err != nil {
		return fmt.Errorf("back up before upgrade: %w", err)
	}
	s.log.Info("database backed up before upgrade",
		"from_version", current, "backup", dst)
	for v := current + 1; v <= s.version; v++ {
		step, ok := s.steps[v]
		if !ok {
			return &UpgradeStepError{Version: v, Err: fmt.Errorf("no upgrade step defined")}
		}
		// Version number and step share a transaction, so a crash here
		// resumes from exactly this version next open.
		err := s.withTx(func(tx *sql.Tx) error {
			if serr := step(tx); serr != nil {
				return serr
			}
			return setVariableIn(tx, "main", versionKey, strconv.Itoa(v))
		})
		if err != nil {
			return &UpgradeStepError{Version: v, Err: err}
		}
		s.log.Info("schema upgraded", "version", v)
	}
	return nil
}

// backupFile byte-copies the database into the backups directory, named
// after the version it holds. The connection is closed for the copy so
// the file on disk is a complete, consistent snapshot, then reopened.
func (s *Store) backupFile(version int) (string, error) {
	dir := filepath.Join(filepath.Dir(s.path), backupDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}
	dst := filepath.Join(dir, backupName(s.path, version))
	if err := s.db.Close(); err != nil {
		return "", fmt.Errorf("close for backup: %w", err)
	}
	s.db = nil
	copyErr := copyFile(s.path, dst)
	db, err := openConn(s.path)
	if err != nil {
		return "", fmt.Errorf("reopen after backup: %w", err)
	}
	s.db = db
	if copyErr != nil {
		return "", fmt.Errorf("copy database: %w", copyErr)
	}
	return dst, nil
}

func backupName(dbPath string, version int) string {
	return fmt.Sprintf("%s_backup_%d", filepath.Base(dbPath), version)
}

// ListBackups returns the backup files kept for the database at dbPath,
// sorted by name. A missing backups directory yields an empty list.
func ListBackups(dbPath string) ([]string, error) {
	dir := filepath.Join(filepath.Dir(dbPath), backupDirName)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}
	prefix := filepath.Base(dbPath) + "_backup_"
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
