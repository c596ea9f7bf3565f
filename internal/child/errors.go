package child

import (
	"errors"
	"fmt"
)

// Lifecycle errors.
var (
	// ErrChildUnavailable means the child is crashed, shut down, or
	// failed to become ready in time. Requests in flight when this
	// happens are answered with a JSON-RPC InternalError.
	ErrChildUnavailable = errors.New("child server unavailable")

	// ErrAlreadyStarted indicates a second Start on a live server.
	ErrAlreadyStarted = errors.New("child server already started")

	// ErrInitializeTimeout means the child did not answer initialize
	// within the handshake deadline.
	ErrInitializeTimeout = errors.New("initialize handshake timed out")
)

// ChildError ties a lifecycle error to its language.
type ChildError struct {
	Lang string
	Err  error
}

func (e *ChildError) Error() string {
	return fmt.Sprintf("child %s: %v", e.Lang, e.Err)
}

func (e *ChildError) Unwrap() error { return e.Err }
