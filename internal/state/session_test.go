// internal/state/session_test.go
package state

import (
	"context"
	"errors"
	"testing"

	"github.com/user/sandbench/internal/types"
)

func TestSessionStoreCreateAndGet(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)
	ctx := context.Background()

	session := &types.Session{
		ID:      types.NewSessionID(),
		OwnerID: types.NewUserID(),
	}
	if err := store.Create(ctx, session); err != nil {
		t.Fatal(err)
	}
	if session.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	got, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.OwnerID != session.OwnerID {
		t.Errorf("expected owner %s, got %s", session.OwnerID, got.OwnerID)
	}
}

func TestSessionStoreDuplicateID(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)
	ctx := context.Background()

	session := &types.Session{ID: "s-1", OwnerID: "u-1"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatal(err)
	}
	if err := store.Create(ctx, &types.Session{ID: "s-1", OwnerID: "u-2"}); err == nil {
		t.Error("expected error creating duplicate session id")
	}
}

func TestSessionStoreGetMissing(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)

	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionStoreUpdateSandboxBinding(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)
	ctx := context.Background()

	session := &types.Session{ID: "s-1", OwnerID: "u-1"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatal(err)
	}

	session.SandboxID = "sbx-1"
	if err := store.Update(ctx, session); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "s-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.SandboxID != "sbx-1" {
		t.Errorf("expected sandbox sbx-1, got %s", got.SandboxID)
	}

	// Clearing the binding persists too
	got.SandboxID = ""
	if err := store.Update(ctx, got); err != nil {
		t.Fatal(err)
	}
	cleared, err := store.Get(ctx, "s-1")
	if err != nil {
		t.Fatal(err)
	}
	if cleared.SandboxID != "" {
		t.Errorf("expected cleared sandbox id, got %s", cleared.SandboxID)
	}
}

func TestSessionStoreDelete(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)
	events := NewEventStore(dir)
	ctx := context.Background()

	session := &types.Session{ID: "s-1", OwnerID: "u-1"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatal(err)
	}
	if err := events.Append(ctx, &types.AgentEvent{
		ID:        types.NewEventID(),
		SessionID: "s-1",
		Kind:      types.EventSandboxCreated,
	}); err != nil {
		t.Fatal(err)
	}

	if err := store.Delete(ctx, "s-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "s-1"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// The session's event log goes with it
	count, err := events.Count(ctx, "s-1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("expected 0 events after delete, got %d", count)
	}

	if err := store.Delete(ctx, "nope"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting missing session, got %v", err)
	}
}

func TestSessionStoreOwnerImmutable(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)
	ctx := context.Background()

	session := &types.Session{ID: "s-1", OwnerID: "u-1"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatal(err)
	}

	session.OwnerID = "u-2"
	if err := store.Update(ctx, session); err == nil {
		t.Error("expected error changing session owner")
	}
}
