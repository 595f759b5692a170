package supervisor

import "errors"

var (
	// ErrPortUnavailable is returned when the bind for an instance's port fails.
	ErrPortUnavailable = errors.New("port unavailable")
	// ErrConstruction wraps failures of a UnitFactory.
	ErrConstruction = errors.New("unit construction failed")
	// ErrServeLoop wraps errors returned by a worker's serve loop.
	ErrServeLoop = errors.New("serve loop failed")
	// ErrStopTimeout is reported when a worker does not exit within the stop timeout.
	ErrStopTimeout = errors.New("worker did not stop in time")
	// ErrEmptyRoster is returned by NewManager when no descriptors are given.
	ErrEmptyRoster = errors.New("roster has no services")
	// ErrDuplicatePort is returned by NewManager when two descriptors share a port.
	ErrDuplicatePort = errors.New("duplicate port in roster")
)

// Outcome is the result of a lifecycle operation. Err carries the typed
// cause when OK is false; Message is always suitable for end users.
type Outcome struct {
	OK      bool
	Message string
	Err     error
}

func succeeded(msg string) Outcome { return Outcome{OK: true, Message: msg} }

func failed(msg string, err error) Outcome { return Outcome{OK: false, Message: msg, Err: err} }
