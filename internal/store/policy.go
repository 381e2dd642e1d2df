package store

// OpenAction is an ErrorPolicy's decision for a failed open.
type OpenAction int

const (
	// ActionFail propagates the open failure to the caller.
	ActionFail OpenAction = iota

	// ActionUseTemporary switches to an in-memory database and retries
	// writing it to the real path on a timer.
	ActionUseTemporary
)

// ErrorPolicy is supplied by the application embedding the store. It
// decides how a failed open is handled and receives notification of
// recovered corruption so the surrounding application can warn the user.
type ErrorPolicy interface {
	// HandleOpenError is called when the database file cannot be opened
	// for a reason other than recognized corruption.
	HandleOpenError(path string, err error) OpenAction

	// HandleCorruption is called after an unreadable database file has
	// been moved to the quarantine path and a fresh store created. The
	// store has already recovered; this is for user-facing messaging.
	HandleCorruption(path, quarantine string)
}

// FailPolicy propagates open errors and ignores corruption notices.
// It is the default when Options.Policy is nil.
type FailPolicy struct{}

func (FailPolicy) HandleOpenError(string, error) OpenAction { return ActionFail }
func (FailPolicy) HandleCorruption(string, string)          {}

// FallbackPolicy always chooses the temporary in-memory store on open
// errors. Used for stores on removable or unreliable media.
type FallbackPolicy struct{}

func (FallbackPolicy) HandleOpenError(string, error) OpenAction { return ActionUseTemporary }
func (FallbackPolicy) HandleCorruption(string, string)          {}
