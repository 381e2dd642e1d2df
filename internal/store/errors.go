package store

import (
	"errors"
	"fmt"
)

// TooNewError means the file's schema version exceeds what this build
// understands. The file is left byte-for-byte unmodified; mutating a
// database written by a newer version is never safe.
type TooNewError struct {
	Path      string
	Version   int
	Supported int
}

func (e *TooNewError) Error() string {
	return fmt.Sprintf("database %s was created by a newer version (db version %d, supported %d)",
		e.Path, e.Version, e.Supported)
}

// IsTooNew reports whether err is (or wraps) a TooNewError.
func IsTooNew(err error) bool {
	var te *TooNewError
	return errors.As(err, &te)
}

// CorruptError describes a whole-file corruption that was recovered by
// quarantining the file. It is delivered through the error policy, not
// returned from Open; opening continues with a fresh store.
type CorruptError struct {
	Path       string
	Quarantine string
	Err        error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("database %s is corrupt (moved to %s): %v", e.Path, e.Quarantine, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// OpenError wraps a non-corruption failure to open the database file
// (permissions, missing directory, full disk). Returned from Open when
// the error policy declines the temporary-store fallback.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open database %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// UpgradeStepError means a schema upgrade step failed inside its
// transaction. The transaction rolled back, the pre-upgrade backup is
// intact, and the open attempt fails: the application cannot run against
// a half-migrated schema.
type UpgradeStepError struct {
	Version int
	Err     error
}

func (e *UpgradeStepError) Error() string {
	return fmt.Sprintf("upgrade step to version %d failed: %v", e.Version, e.Err)
}

func (e *UpgradeStepError) Unwrap() error { return e.Err }

// IsUpgradeStepFailed reports whether err is (or wraps) an UpgradeStepError.
func IsUpgradeStepFailed(err error) bool {
	var ue *UpgradeStepError
	return errors.As(err, &ue)
}

// MalformedValueError means one stored cell could not be decoded.
// It is always recovered locally: the field gets its declared default
// (or repaired value) and the corrected cell is written back.
type MalformedValueError struct {
	Table string
	Field string
	ID    int64
	Err   error
}

func (e *MalformedValueError) Error() string {
	return fmt.Sprintf("malformed value in %s.%s (id %d): %v", e.Table, e.Field, e.ID, e.Err)
}

func (e *MalformedValueError) Unwrap() error { return e.Err }

// IsMalformedValue reports whether err is (or wraps) a MalformedValueError.
func IsMalformedValue(err error) bool {
	var me *MalformedValueError
	return errors.As(err, &me)
}

// ErrBulkActive is returned by StartBulk when a bulk window is already
// open; bulk windows do not nest.
var ErrBulkActive = errors.New("bulk mode already active")

// ErrNotBulk is returned by FinishBulk outside a bulk window.
var ErrNotBulk = errors.New("not in bulk mode")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")
