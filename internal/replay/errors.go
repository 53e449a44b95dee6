package replay

import (
	"errors"
	"fmt"
)

// ErrDrainInProgress is returned when a drain is requested while another one
// is still running in this process.
var ErrDrainInProgress = errors.New("drain already in progress")

// ErrPersist wraps failures to store a mutation after the live attempt failed.
// The mutation is not queued when this is returned.
var ErrPersist = errors.New("persist queued mutation")

// StatusError is returned by a replay that reached the server but did not get
// a 2xx response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("replay rejected: HTTP %d", e.StatusCode)
}
