// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

type UserID string
type SessionID string
type EventID string

// SandboxID is the provider-assigned identifier of a remote execution
// environment. Opaque; no structure is assumed.
type SandboxID string

func NewUserID() UserID {
	return UserID(uuid.New().String())
}

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewEventID() EventID {
	return EventID(uuid.New().String())
}
