// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// User is a durable identity keyed by the external identity provider's
// subject id. Created on first authenticated contact, never mutated after.
type User struct {
	ID        UserID    `json:"id"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one agent-build run. It owns zero or more events and binds
// at most one sandbox. OwnerID is immutable once set.
type Session struct {
	ID        SessionID `json:"id"`
	OwnerID   UserID    `json:"owner_id"`
	SandboxID SandboxID `json:"sandbox_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AgentEvent is an immutable, append-only record scoped to a session.
// Events are totally ordered within a session by At, ties broken by Seq.
type AgentEvent struct {
	ID        EventID         `json:"id"`
	SessionID SessionID       `json:"session_id"`
	Seq       int64           `json:"seq"`
	Kind      string          `json:"kind"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Event kinds written by the orchestrator.
const (
	EventSandboxCreated   = "sandbox_created"
	EventSandboxConnected = "sandbox_connected"
	EventSandboxIdle      = "sandbox_idle"
	EventReloadTriggered  = "reload_triggered"
	EventReloadFailed     = "reload_failed"
	EventModelUsage       = "model_usage"
)

// TokenUsage holds the token counters of one model invocation. Absent
// fields are zero.
type TokenUsage struct {
	InputTokens      int64 `json:"input_tokens,omitempty"`
	OutputTokens     int64 `json:"output_tokens,omitempty"`
	CacheWriteTokens int64 `json:"cache_write_tokens,omitempty"`
	CacheReadTokens  int64 `json:"cache_read_tokens,omitempty"`
}

// ModelUsagePayload is the payload of a model_usage event.
type ModelUsagePayload struct {
	Model string     `json:"model"`
	Usage TokenUsage `json:"usage"`
	Cost  float64    `json:"cost"`
}
