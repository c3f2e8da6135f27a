package loading

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
)

var (
	// ErrLimitReached stops a scan once the objects limit has been
	// produced. Scan stages treat it as a clean end of the scan.
	ErrLimitReached = errors.New("objects limit reached")

	// ErrSnapshotLost reports that the read snapshot a scan runs in is gone.
	ErrSnapshotLost = errors.New("scan snapshot lost")
)

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks err as an infrastructure failure that must stop the group
// instead of being recorded against the current batch.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err means the system of record can no longer be
// used by this group.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var fe *fatalError
	switch {
	case errors.As(err, &fe),
		errors.Is(err, ErrSnapshotLost),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, sql.ErrTxDone):
		return true
	}
	return false
}
