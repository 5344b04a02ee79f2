// Package orchestrator ties user-owned sessions to sandboxes. It decides
// when to create versus reconnect, is the sole writer of lifecycle events,
// and the sole enforcer of the session ownership rule.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/user/sandbench/internal/pricing"
	"github.com/user/sandbench/internal/sandbox"
	"github.com/user/sandbench/internal/types"
)

// ReasonNoSandbox reports a reload attempt on a session with no live
// sandbox. Distinct from sandbox.ReasonNoSession, which means the sandbox
// is live but hosts no bundler console.
const ReasonNoSandbox sandbox.Reason = "no_sandbox"

// Orchestrator coordinates sessions, sandboxes, the event log, and cost
// accounting. All state lives in the stores; the orchestrator itself is
// request-scoped apart from the singleflight group serializing concurrent
// sandbox transitions per session.
type Orchestrator struct {
	sessions types.SessionStore
	events   types.EventStore
	provider sandbox.Provider
	manager  *sandbox.Manager
	control  *sandbox.Control
	pricing  *pricing.Table

	// Collapses concurrent create/connect attempts for one session into a
	// single provider round-trip.
	flight singleflight.Group
}

// New creates an Orchestrator wired to the given stores and provider.
// The store handles are the service-level storage capability; they are
// passed explicitly here and nowhere held as globals.
func New(sessions types.SessionStore, events types.EventStore, provider sandbox.Provider, table *pricing.Table) *Orchestrator {
	return &Orchestrator{
		sessions: sessions,
		events:   events,
		provider: provider,
		manager:  sandbox.NewManager(provider),
		control:  sandbox.NewControl(provider),
		pricing:  table,
	}
}

// ownedSession resolves the session and enforces ownership. A session
// that does not exist and a session owned by someone else yield the same
// ErrNotFound so existence never leaks across owners.
func (o *Orchestrator) ownedSession(ctx context.Context, userID types.UserID, sessionID types.SessionID) (*types.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess.OwnerID != userID {
		return nil, types.ErrNotFound
	}
	return sess, nil
}

// StartSession creates a new session owned by the given user. An empty
// id is generated; a caller-supplied id must be unique.
func (o *Orchestrator) StartSession(ctx context.Context, userID types.UserID, sessionID types.SessionID) (*types.Session, error) {
	if sessionID == "" {
		sessionID = types.NewSessionID()
	}
	sess := &types.Session{ID: sessionID, OwnerID: userID}
	if err := o.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// ConnectSandbox re-checks the session's sandbox binding. A session with
// no binding, or whose sandbox has died, yields an idle handle; a dead
// binding is retired (sandbox_idle event, binding cleared) so the next
// EnsureSandbox starts fresh.
func (o *Orchestrator) ConnectSandbox(ctx context.Context, userID types.UserID, sessionID types.SessionID) (sandbox.Handle, error) {
	sess, err := o.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return sandbox.Handle{}, err
	}
	return o.singleflightConnect(ctx, sess)
}

// EnsureSandbox returns a ready handle for the session, reconnecting to
// the bound sandbox when it is still alive and provisioning a fresh one
// otherwise.
func (o *Orchestrator) EnsureSandbox(ctx context.Context, userID types.UserID, sessionID types.SessionID) (sandbox.Handle, error) {
	sess, err := o.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return sandbox.Handle{}, err
	}

	result, err, _ := o.flight.Do("ensure:"+string(sess.ID), func() (any, error) {
		handle, err := o.connect(ctx, sess)
		if err != nil {
			return sandbox.Handle{}, err
		}
		if handle.Ready() {
			return handle, nil
		}
		return o.create(ctx, sess)
	})
	if err != nil {
		return sandbox.Handle{}, err
	}
	return result.(sandbox.Handle), nil
}

func (o *Orchestrator) singleflightConnect(ctx context.Context, sess *types.Session) (sandbox.Handle, error) {
	result, err, _ := o.flight.Do("connect:"+string(sess.ID), func() (any, error) {
		return o.connect(ctx, sess)
	})
	if err != nil {
		return sandbox.Handle{}, err
	}
	return result.(sandbox.Handle), nil
}

// connect probes the session's bound sandbox. Caller holds the flight.
func (o *Orchestrator) connect(ctx context.Context, sess *types.Session) (sandbox.Handle, error) {
	if sess.SandboxID == "" {
		return sandbox.Handle{State: sandbox.StateIdle}, nil
	}

	handle, err := o.manager.Connect(ctx, sess.SandboxID)
	if err != nil {
		return handle, fmt.Errorf("connect sandbox %s: %w", sess.SandboxID, err)
	}

	switch handle.State {
	case sandbox.StateReady:
		if err := o.appendEvent(ctx, sess.ID, types.EventSandboxConnected, sandboxPayload(handle.SandboxID)); err != nil {
			return sandbox.Handle{}, err
		}
	case sandbox.StateIdle:
		if err := o.retire(ctx, sess); err != nil {
			return sandbox.Handle{}, err
		}
	}
	return handle, nil
}

// retire records that the bound sandbox is gone and clears the binding.
// Dead identifiers stay dead; the next EnsureSandbox starts fresh.
func (o *Orchestrator) retire(ctx context.Context, sess *types.Session) error {
	if err := o.appendEvent(ctx, sess.ID, types.EventSandboxIdle, sandboxPayload(sess.SandboxID)); err != nil {
		return err
	}
	sess.SandboxID = ""
	if err := o.sessions.Update(ctx, sess); err != nil {
		return fmt.Errorf("clear sandbox binding: %w", err)
	}
	return nil
}

// SweepSandboxes probes every session with a sandbox binding and retires
// the dead ones, bounded to maxConcurrent probes at a time. Live sandboxes
// are left untouched: a confirming probe is not a lifecycle transition.
func (o *Orchestrator) SweepSandboxes(ctx context.Context, maxConcurrent int64) error {
	list, err := o.sessions.List(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	sem := semaphore.NewWeighted(maxConcurrent)
	for _, sess := range list {
		if sess.SandboxID == "" {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		go func(sess *types.Session) {
			defer sem.Release(1)
			o.flight.Do("connect:"+string(sess.ID), func() (any, error) {
				handle, err := o.manager.Connect(ctx, sess.SandboxID)
				if err != nil {
					slog.Warn("sweep probe failed", "session_id", sess.ID, "sandbox_id", sess.SandboxID, "error", err)
					return handle, nil
				}
				if handle.State == sandbox.StateIdle {
					if err := o.retire(ctx, sess); err != nil {
						slog.Error("retire sandbox binding failed", "session_id", sess.ID, "error", err)
					}
				}
				return handle, nil
			})
		}(sess)
	}

	// Wait for in-flight probes.
	return sem.Acquire(ctx, maxConcurrent)
}

// create provisions a fresh sandbox and binds it to the session. Caller
// holds the flight and has already retired any dead binding.
func (o *Orchestrator) create(ctx context.Context, sess *types.Session) (sandbox.Handle, error) {
	id, err := o.provider.Create(ctx)
	if err != nil {
		return sandbox.Handle{}, fmt.Errorf("create sandbox: %w", err)
	}

	sess.SandboxID = id
	if err := o.sessions.Update(ctx, sess); err != nil {
		return sandbox.Handle{}, fmt.Errorf("persist sandbox binding: %w", err)
	}
	if err := o.appendEvent(ctx, sess.ID, types.EventSandboxCreated, sandboxPayload(id)); err != nil {
		return sandbox.Handle{}, err
	}

	slog.Info("sandbox created", "session_id", sess.ID, "sandbox_id", id)
	return sandbox.Handle{SandboxID: id, State: sandbox.StateReady}, nil
}

// TriggerReload sends the bundler reload signal into the session's
// sandbox. A session without a live sandbox yields a no_sandbox result,
// not an error. The outcome is appended to the event log either way.
func (o *Orchestrator) TriggerReload(ctx context.Context, userID types.UserID, sessionID types.SessionID) (sandbox.ReloadResult, error) {
	sess, err := o.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return sandbox.ReloadResult{}, err
	}

	handle, err := o.singleflightConnect(ctx, sess)
	if err != nil {
		return sandbox.ReloadResult{}, err
	}
	if !handle.Ready() {
		return sandbox.ReloadResult{OK: false, Reason: ReasonNoSandbox}, nil
	}

	result, err := o.control.TriggerReload(ctx, handle)
	if err != nil {
		return sandbox.ReloadResult{}, fmt.Errorf("trigger reload: %w", err)
	}

	kind := types.EventReloadTriggered
	payload := map[string]any{"sandbox_id": handle.SandboxID}
	if !result.OK {
		kind = types.EventReloadFailed
		payload["reason"] = string(result.Reason)
	}
	if err := o.appendEvent(ctx, sess.ID, kind, payload); err != nil {
		return sandbox.ReloadResult{}, err
	}
	return result, nil
}

// RecordModelCall prices one model invocation and appends a model_usage
// event carrying the usage counters and the computed cost.
func (o *Orchestrator) RecordModelCall(ctx context.Context, userID types.UserID, sessionID types.SessionID, model string, usage types.TokenUsage) (float64, error) {
	sess, err := o.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return 0, err
	}

	cost := o.pricing.Cost(usage, model)
	payload := types.ModelUsagePayload{Model: model, Usage: usage, Cost: cost}
	if err := o.appendEvent(ctx, sess.ID, types.EventModelUsage, payload); err != nil {
		return 0, err
	}
	return cost, nil
}

// Events returns the session's event log in append order, after the
// ownership check.
func (o *Orchestrator) Events(ctx context.Context, userID types.UserID, sessionID types.SessionID) ([]*types.AgentEvent, error) {
	sess, err := o.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	events, err := o.events.List(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// Spend returns the session's running cost: the sum of all model_usage
// event costs.
func (o *Orchestrator) Spend(ctx context.Context, userID types.UserID, sessionID types.SessionID) (float64, error) {
	events, err := o.Events(ctx, userID, sessionID)
	if err != nil {
		return 0, err
	}

	var total float64
	for _, event := range events {
		if event.Kind != types.EventModelUsage {
			continue
		}
		var payload types.ModelUsagePayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			slog.Warn("malformed model_usage payload", "session_id", sessionID, "event_id", event.ID, "error", err)
			continue
		}
		total += payload.Cost
	}
	return total, nil
}

func (o *Orchestrator) appendEvent(ctx context.Context, sessionID types.SessionID, kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	event := &types.AgentEvent{
		ID:        types.NewEventID(),
		SessionID: sessionID,
		Kind:      kind,
		Payload:   data,
	}
	if err := o.events.Append(ctx, event); err != nil {
		return fmt.Errorf("append %s event: %w", kind, err)
	}
	return nil
}

func sandboxPayload(id types.SandboxID) map[string]any {
	return map[string]any{"sandbox_id": id}
}
