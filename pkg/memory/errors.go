package memory

import (
	"errors"
	"fmt"
)

// ErrStoreClosed is returned by every operation on a closed store.
var ErrStoreClosed = errors.New("memory store is closed")

// PersistenceError reports a document write that did not complete.
// The in-memory state is left as it was before the call.
type PersistenceError struct {
	Op     string
	UserID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("memory %s for user %q: %v", e.Op, e.UserID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
