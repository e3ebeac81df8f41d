// ABOUTME: Error taxonomy for the send pipeline
// ABOUTME: Sentinel errors plus typed dispatch and persistence failures

package dispatch

import (
	"errors"
	"fmt"
)

// Sentinel errors mapped to HTTP statuses by the server layer
var (
	// ErrValidation indicates a malformed send request.
	ErrValidation = errors.New("validation failed")

	// ErrNotConnected indicates the platform client is not logged in.
	ErrNotConnected = errors.New("not connected to zalo")

	// ErrConversationNotFound indicates an unknown conversation ID.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrUnresolvableThread indicates a conversation row with neither a
	// group nor a participant to address.
	ErrUnresolvableThread = errors.New("conversation has no resolvable thread")

	// ErrInvalidRecipient indicates the platform rejected the recipient.
	ErrInvalidRecipient = errors.New("invalid recipient")
)

// DispatchError is a platform-side send failure. The message never left
// the gateway, so nothing was persisted.
type DispatchError struct {
	Code     int
	ThreadID string
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to thread %s failed: %v", e.ThreadID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// PersistenceError is a store failure after a successful dispatch. The
// message reached the platform under MessageID but no local row records
// it; callers must not report this as a send failure.
type PersistenceError struct {
	MessageID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("message %s dispatched but not persisted: %v", e.MessageID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
