// internal/sandbox/manager.go
package sandbox

import (
	"context"
	"errors"
	"log/slog"

	"github.com/user/sandbench/internal/types"
)

// State is the reachability of a sandbox as observed by one connection
// attempt. It is re-derived on every attempt, never cached.
type State string

const (
	// StateReady means a live handle was established.
	StateReady State = "ready"
	// StateIdle means the sandbox is dead or unreachable. This is an
	// expected outcome, not an error: callers branch on it.
	StateIdle State = "idle"
	// StateFailed means the attempt failed for an unexpected reason
	// (bad credentials, malformed response) and an error accompanies it.
	StateFailed State = "failed"
)

// Handle is a live (or absent) connection to a sandbox.
type Handle struct {
	SandboxID types.SandboxID
	State     State
}

// Ready reports whether the handle can be used for control operations.
func (h Handle) Ready() bool { return h.State == StateReady }

// Manager re-establishes handles to previously created sandboxes and
// classifies the outcome. It never mutates session state and never
// retries; two calls with the same identifier are two independent
// reconnection attempts.
type Manager struct {
	provider Provider
}

// NewManager creates a Manager over the given provider.
func NewManager(provider Provider) *Manager {
	return &Manager{provider: provider}
}

// Connect attempts to reconnect to the named sandbox, bounded by the
// provider's own timeout. An empty identifier is a caller error and is
// rejected before any remote call. A dead or unreachable sandbox yields
// StateIdle with a nil error; only unexpected transport failures
// (credential rejection, malformed responses) return an error, paired
// with StateFailed.
func (m *Manager) Connect(ctx context.Context, id types.SandboxID) (Handle, error) {
	if id == "" {
		return Handle{}, types.ErrMissingSandboxID
	}

	liveID, err := m.provider.Connect(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSandboxNotFound) || errors.Is(err, ErrUnavailable) {
			slog.Debug("sandbox not reachable", "sandbox_id", id, "reason", err)
			return Handle{SandboxID: id, State: StateIdle}, nil
		}
		return Handle{SandboxID: id, State: StateFailed}, err
	}

	return Handle{SandboxID: liveID, State: StateReady}, nil
}
