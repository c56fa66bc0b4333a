package models

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport the event channel connection failed or was lost.
	// Recovered by reconnecting; never surfaced as a hard failure.
	ErrTransport = errors.New("transport error")

	// ErrMalformedEvent an inbound event could not be decoded or is missing
	// required fields. The event is dropped and logged.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrDuplicateSession a session is already active for the tag.
	ErrDuplicateSession = errors.New("duplicate session")

	// ErrUnknownEntity the referenced session or alert does not exist.
	// Public operations treat it as a no-op.
	ErrUnknownEntity = errors.New("unknown entity")
)

// MalformedEventError describes why an inbound event was rejected.
type MalformedEventError struct {
	Type   EventType
	Reason string
	Err    error
}

func (e *MalformedEventError) Error() string {
	msg := fmt.Sprintf("malformed %s event: %s", e.typeName(), e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedEventError) Is(target error) bool {
	return target == ErrMalformedEvent
}

func (e *MalformedEventError) Unwrap() error {
	return e.Err
}

func (e *MalformedEventError) typeName() string {
	if e.Type == "" {
		return "unknown"
	}
	return string(e.Type)
}

func malformed(t EventType, reason string, err error) error {
	return &MalformedEventError{Type: t, Reason: reason, Err: err}
}

// DuplicateSessionError a start was requested for a tag that already has
// an active session.
type DuplicateSessionError struct {
	TagID     string
	SessionID string // the active session
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("tag %s already has active session %s", e.TagID, e.SessionID)
}

func (e *DuplicateSessionError) Is(target error) bool {
	return target == ErrDuplicateSession
}

// TransportError wraps a transport failure with the operation that hit it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
