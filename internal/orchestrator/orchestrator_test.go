// internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/user/sandbench/internal/pricing"
	"github.com/user/sandbench/internal/sandbox"
	"github.com/user/sandbench/internal/state"
	"github.com/user/sandbench/internal/types"
)

// fakeProvider implements sandbox.Provider in memory.
type fakeProvider struct {
	sandboxes  map[types.SandboxID]bool // id -> reachable
	created    int
	hasSession bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{sandboxes: make(map[types.SandboxID]bool), hasSession: true}
}

func (f *fakeProvider) Create(ctx context.Context) (types.SandboxID, error) {
	f.created++
	id := types.SandboxID(fmt.Sprintf("sbx-%d", f.created))
	f.sandboxes[id] = true
	return id, nil
}

func (f *fakeProvider) Connect(ctx context.Context, id types.SandboxID) (types.SandboxID, error) {
	if alive, ok := f.sandboxes[id]; !ok || !alive {
		return "", sandbox.ErrSandboxNotFound
	}
	return id, nil
}

func (f *fakeProvider) Exec(ctx context.Context, id types.SandboxID, command string) (*sandbox.ExecResult, error) {
	if strings.Contains(command, "has-session") && !f.hasSession {
		return &sandbox.ExecResult{ExitCode: 1}, nil
	}
	return &sandbox.ExecResult{ExitCode: 0}, nil
}

func (f *fakeProvider) kill(id types.SandboxID) {
	f.sandboxes[id] = false
}

func newOrchestrator(t *testing.T) (*Orchestrator, *fakeProvider, types.EventStore) {
	t.Helper()
	dir := t.TempDir()
	sessions := state.NewSessionStore(dir)
	events := state.NewEventStore(dir)
	provider := newFakeProvider()
	orch := New(sessions, events, provider, pricing.Default())
	return orch, provider, events
}

func eventKinds(t *testing.T, events types.EventStore, sessionID types.SessionID) []string {
	t.Helper()
	list, err := events.List(context.Background(), sessionID)
	if err != nil {
		t.Fatal(err)
	}
	kinds := make([]string, len(list))
	for i, event := range list {
		kinds[i] = event.Kind
	}
	return kinds
}

func TestEnsureSandboxCreatesAndPersists(t *testing.T) {
	orch, provider, events := newOrchestrator(t)
	ctx := context.Background()
	userID := types.NewUserID()

	sess, err := orch.StartSession(ctx, userID, "")
	if err != nil {
		t.Fatal(err)
	}

	handle, err := orch.EnsureSandbox(ctx, userID, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !handle.Ready() {
		t.Fatalf("expected ready handle, got %s", handle.State)
	}
	if provider.created != 1 {
		t.Errorf("expected 1 sandbox created, got %d", provider.created)
	}

	// Binding persisted
	updated, err := orch.sessions.Get(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.SandboxID != handle.SandboxID {
		t.Errorf("expected binding %s, got %s", handle.SandboxID, updated.SandboxID)
	}

	kinds := eventKinds(t, events, sess.ID)
	if len(kinds) != 1 || kinds[0] != types.EventSandboxCreated {
		t.Errorf("expected [sandbox_created], got %v", kinds)
	}
}

func TestSandboxLifecycleAfterExpiry(t *testing.T) {
	orch, provider, events := newOrchestrator(t)
	ctx := context.Background()
	userID := types.NewUserID()

	sess, err := orch.StartSession(ctx, userID, "")
	if err != nil {
		t.Fatal(err)
	}

	handle, err := orch.EnsureSandbox(ctx, userID, sess.ID)
	if err != nil {
		t.Fatal(err)
	}

	// The sandbox naturally expires.
	provider.kill(handle.SandboxID)

	idle, err := orch.ConnectSandbox(ctx, userID, sess.ID)
	if err != nil {
		t.Fatalf("dead sandbox must not be an error, got %v", err)
	}
	if idle.State != sandbox.StateIdle {
		t.Errorf("expected idle, got %s", idle.State)
	}

	// Binding cleared, sandbox_idle appended.
	updated, err := orch.sessions.Get(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.SandboxID != "" {
		t.Errorf("expected cleared binding, got %s", updated.SandboxID)
	}

	kinds := eventKinds(t, events, sess.ID)
	want := []string{types.EventSandboxCreated, types.EventSandboxIdle}
	if len(kinds) != len(want) || kinds[0] != want[0] || kinds[1] != want[1] {
		t.Errorf("expected %v, got %v", want, kinds)
	}

	// EnsureSandbox provisions a fresh sandbox with a new identifier.
	fresh, err := orch.EnsureSandbox(ctx, userID, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !fresh.Ready() {
		t.Fatalf("expected ready handle, got %s", fresh.State)
	}
	if fresh.SandboxID == handle.SandboxID {
		t.Error("expected a new sandbox identifier, dead ids are never reused")
	}
}

func TestEventsOwnershipNonDistinguishability(t *testing.T) {
	orch, _, _ := newOrchestrator(t)
	ctx := context.Background()
	alice := types.NewUserID()
	bob := types.NewUserID()

	sess, err := orch.StartSession(ctx, alice, "")
	if err != nil {
		t.Fatal(err)
	}

	_, foreignErr := orch.Events(ctx, bob, sess.ID)
	_, missingErr := orch.Events(ctx, bob, "no-such-session")

	if !errors.Is(foreignErr, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign session, got %v", foreignErr)
	}
	if !errors.Is(missingErr, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing session, got %v", missingErr)
	}
	if foreignErr.Error() != missingErr.Error() {
		t.Errorf("foreign and missing outcomes must be indistinguishable: %q vs %q", foreignErr, missingErr)
	}
}

func TestRecordModelCallAndSpend(t *testing.T) {
	orch, _, events := newOrchestrator(t)
	ctx := context.Background()
	userID := types.NewUserID()

	sess, err := orch.StartSession(ctx, userID, "")
	if err != nil {
		t.Fatal(err)
	}

	const million = 1_000_000
	costA, err := orch.RecordModelCall(ctx, userID, sess.ID, "claude-sonnet-4-5", types.TokenUsage{InputTokens: million})
	if err != nil {
		t.Fatal(err)
	}
	costB, err := orch.RecordModelCall(ctx, userID, sess.ID, "claude-sonnet-4-5", types.TokenUsage{OutputTokens: million})
	if err != nil {
		t.Fatal(err)
	}

	if math.Abs(costA-3.00) > 1e-9 || math.Abs(costB-15.00) > 1e-9 {
		t.Errorf("expected costs 3.00 and 15.00, got %f and %f", costA, costB)
	}

	total, err := orch.Spend(ctx, userID, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(total-18.00) > 1e-9 {
		t.Errorf("expected running spend 18.00, got %f", total)
	}

	kinds := eventKinds(t, events, sess.ID)
	if len(kinds) != 2 || kinds[0] != types.EventModelUsage || kinds[1] != types.EventModelUsage {
		t.Errorf("expected two model_usage events, got %v", kinds)
	}
}

func TestTriggerReloadNoSandbox(t *testing.T) {
	orch, _, _ := newOrchestrator(t)
	ctx := context.Background()
	userID := types.NewUserID()

	sess, err := orch.StartSession(ctx, userID, "")
	if err != nil {
		t.Fatal(err)
	}

	result, err := orch.TriggerReload(ctx, userID, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if result.OK || result.Reason != ReasonNoSandbox {
		t.Errorf("expected no_sandbox, got %+v", result)
	}
}

func TestTriggerReloadAppendsAuditEvent(t *testing.T) {
	orch, provider, events := newOrchestrator(t)
	ctx := context.Background()
	userID := types.NewUserID()

	sess, err := orch.StartSession(ctx, userID, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := orch.EnsureSandbox(ctx, userID, sess.ID); err != nil {
		t.Fatal(err)
	}

	result, err := orch.TriggerReload(ctx, userID, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !result.OK {
		t.Fatalf("expected ok reload, got %+v", result)
	}

	kinds := eventKinds(t, events, sess.ID)
	last := kinds[len(kinds)-1]
	if last != types.EventReloadTriggered {
		t.Errorf("expected final event reload_triggered, got %v", kinds)
	}

	// Absent console is reported, not raised, and audited.
	provider.hasSession = false
	result, err = orch.TriggerReload(ctx, userID, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if result.OK || result.Reason != sandbox.ReasonNoSession {
		t.Errorf("expected no_session, got %+v", result)
	}
	kinds = eventKinds(t, events, sess.ID)
	if kinds[len(kinds)-1] != types.EventReloadFailed {
		t.Errorf("expected final event reload_failed, got %v", kinds)
	}
}

func TestSweepRetiresDeadSandboxes(t *testing.T) {
	orch, provider, events := newOrchestrator(t)
	ctx := context.Background()
	userID := types.NewUserID()

	alive, err := orch.StartSession(ctx, userID, "alive")
	if err != nil {
		t.Fatal(err)
	}
	dead, err := orch.StartSession(ctx, userID, "dead")
	if err != nil {
		t.Fatal(err)
	}

	aliveHandle, err := orch.EnsureSandbox(ctx, userID, alive.ID)
	if err != nil {
		t.Fatal(err)
	}
	deadHandle, err := orch.EnsureSandbox(ctx, userID, dead.ID)
	if err != nil {
		t.Fatal(err)
	}
	provider.kill(deadHandle.SandboxID)

	if err := orch.SweepSandboxes(ctx, 2); err != nil {
		t.Fatal(err)
	}

	// Dead binding retired, live binding untouched.
	got, err := orch.sessions.Get(ctx, dead.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SandboxID != "" {
		t.Errorf("expected dead binding cleared, got %s", got.SandboxID)
	}
	kinds := eventKinds(t, events, dead.ID)
	if kinds[len(kinds)-1] != types.EventSandboxIdle {
		t.Errorf("expected sandbox_idle appended, got %v", kinds)
	}

	got, err = orch.sessions.Get(ctx, alive.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SandboxID != aliveHandle.SandboxID {
		t.Errorf("expected live binding kept, got %s", got.SandboxID)
	}
}

func TestStartSessionDuplicateID(t *testing.T) {
	orch, _, _ := newOrchestrator(t)
	ctx := context.Background()
	userID := types.NewUserID()

	if _, err := orch.StartSession(ctx, userID, "build-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := orch.StartSession(ctx, userID, "build-1"); err == nil {
		t.Error("expected error for duplicate session id")
	}
}
