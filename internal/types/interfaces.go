// internal/types/interfaces.go
package types

import (
	"context"
)

type UserStore interface {
	// ResolveOrCreate returns the durable user for an external subject id,
	// creating the row on first contact.
	ResolveOrCreate(ctx context.Context, subject string) (*User, error)
	Get(ctx context.Context, id UserID) (*User, error)
}

type SessionStore interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id SessionID) (*Session, error)
	List(ctx context.Context) ([]*Session, error)
	Update(ctx context.Context, session *Session) error
}

type EventStore interface {
	Append(ctx context.Context, event *AgentEvent) error
	List(ctx context.Context, sessionID SessionID) ([]*AgentEvent, error)
	Tail(ctx context.Context, sessionID SessionID, limit int) ([]*AgentEvent, error)
	Count(ctx context.Context, sessionID SessionID) (int64, error)
}
