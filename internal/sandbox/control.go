// internal/sandbox/control.go
package sandbox

import (
	"context"
	"fmt"
	"log/slog"

	shellquote "github.com/kballard/go-shellquote"
)

// MultiplexerSession is the well-known name of the terminal-multiplexer
// session hosting the bundler's interactive console inside each sandbox.
const MultiplexerSession = "metro"

// Reason explains why a reload signal was not delivered.
type Reason string

const (
	// ReasonNoSession means no multiplexer session with the well-known
	// name exists in the sandbox.
	ReasonNoSession Reason = "no_session"
	// ReasonDeliveryFailed means the session exists but the keystroke
	// command exited non-zero.
	ReasonDeliveryFailed Reason = "delivery_failed"
)

// ReloadResult is the outcome of one reload trigger.
type ReloadResult struct {
	OK     bool
	Reason Reason
}

// probe outcomes. Absent and error are kept distinct internally; the
// public result collapses both to ReasonNoSession, logging the error
// case so genuine probe failures stay visible server-side.
type probeOutcome int

const (
	probePresent probeOutcome = iota
	probeAbsent
	probeError
)

// Control sends control signals into the multiplexer session of a sandbox.
type Control struct {
	provider Provider
}

// NewControl creates a Control over the given provider.
func NewControl(provider Provider) *Control {
	return &Control{provider: provider}
}

// TriggerReload emulates pressing the reload key in the bundler console:
// it probes for the well-known multiplexer session and, if present, sends
// the `r` keystroke followed by enter. At most one signal is sent per
// invocation and no retry is performed; delivery success is judged solely
// by the remote command's exit status. The caller holds a Ready handle.
func (c *Control) TriggerReload(ctx context.Context, handle Handle) (ReloadResult, error) {
	if !handle.Ready() {
		return ReloadResult{}, fmt.Errorf("handle is not ready (state %s)", handle.State)
	}

	switch c.probe(ctx, handle) {
	case probeAbsent, probeError:
		return ReloadResult{OK: false, Reason: ReasonNoSession}, nil
	}

	cmd := shellquote.Join("tmux", "send-keys", "-t", MultiplexerSession, "r", "Enter")
	result, err := c.provider.Exec(ctx, handle.SandboxID, cmd)
	if err != nil {
		return ReloadResult{}, fmt.Errorf("send reload keys: %w", err)
	}
	if result.ExitCode != 0 {
		slog.Warn("reload delivery failed", "sandbox_id", handle.SandboxID, "exit_code", result.ExitCode, "stderr", result.Stderr)
		return ReloadResult{OK: false, Reason: ReasonDeliveryFailed}, nil
	}

	return ReloadResult{OK: true}, nil
}

// probe checks for the multiplexer session. tmux signals absence through
// a non-zero exit, so exit status is the business outcome here; transport
// errors are logged and reported as probeError.
func (c *Control) probe(ctx context.Context, handle Handle) probeOutcome {
	cmd := shellquote.Join("tmux", "has-session", "-t", MultiplexerSession)
	result, err := c.provider.Exec(ctx, handle.SandboxID, cmd)
	if err != nil {
		slog.Warn("multiplexer probe failed", "sandbox_id", handle.SandboxID, "error", err)
		return probeError
	}
	if result.ExitCode != 0 {
		return probeAbsent
	}
	return probePresent
}
