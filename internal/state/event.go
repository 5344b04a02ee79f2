// internal/state/event.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/sandbench/internal/types"
)

// EventStore is a JSONL-backed append-only event store.
// Events are stored per-session in sessions/<sessionID>/events.jsonl.
// Records are never mutated or deleted after append; a List reads them
// back in append order, which is non-decreasing in the At timestamp.
type EventStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex
}

// NewEventStore creates a new file-backed EventStore rooted at the given directory.
func NewEventStore(root string) *EventStore {
	return &EventStore{
		root:  root,
		locks: make(map[types.SessionID]*sync.Mutex),
	}
}

// getLock returns the per-session mutex, creating one if it doesn't exist.
func (e *EventStore) getLock(sessionID types.SessionID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	if lock, ok := e.locks[sessionID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	e.locks[sessionID] = lock
	return lock
}

func (e *EventStore) eventsPath(sessionID types.SessionID) string {
	return filepath.Join(e.root, "sessions", string(sessionID), "events.jsonl")
}

// count reads the event file and counts lines. Caller must hold the session lock.
func (e *EventStore) count(sessionID types.SessionID) (int64, error) {
	f, err := os.Open(e.eventsPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan events file: %w", err)
	}
	return count, nil
}

// Append adds an event to the session's event log with an auto-incremented
// sequence number. The payload is opaque and never validated here.
func (e *EventStore) Append(_ context.Context, event *types.AgentEvent) error {
	lock := e.getLock(event.SessionID)
	lock.Lock()
	defer lock.Unlock()

	// Ensure the session directory exists
	dir := filepath.Dir(e.eventsPath(event.SessionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	// Count existing events to determine sequence number
	existing, err := e.count(event.SessionID)
	if err != nil {
		return err
	}
	event.Seq = existing + 1
	if event.At.IsZero() {
		event.At = time.Now()
	}

	// Marshal the event to JSON
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Append to the events file
	f, err := os.OpenFile(e.eventsPath(event.SessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	return nil
}

// load reads all events for the session. Caller must hold the session lock.
func (e *EventStore) load(sessionID types.SessionID) ([]*types.AgentEvent, error) {
	f, err := os.Open(e.eventsPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var events []*types.AgentEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event types.AgentEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, &event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events file: %w", err)
	}
	return events, nil
}

// List returns all events for the given session in append order.
func (e *EventStore) List(_ context.Context, sessionID types.SessionID) ([]*types.AgentEvent, error) {
	lock := e.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	return e.load(sessionID)
}

// Tail returns the last N events for the given session.
func (e *EventStore) Tail(_ context.Context, sessionID types.SessionID, limit int) ([]*types.AgentEvent, error) {
	lock := e.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	events, err := e.load(sessionID)
	if err != nil {
		return nil, err
	}

	// Return last N events
	if len(events) > limit {
		events = events[len(events)-limit:]
	}

	return events, nil
}

// Count returns the number of events for the given session.
func (e *EventStore) Count(_ context.Context, sessionID types.SessionID) (int64, error) {
	lock := e.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	return e.count(sessionID)
}
