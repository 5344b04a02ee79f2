// internal/state/session.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/sandbench/internal/types"
)

// SessionStore is a JSON-file-backed session store.
// It stores session index data in sessions/sessions.json and creates
// per-session directories at sessions/<sessionID>/.
type SessionStore struct {
	root string
	mu   sync.RWMutex
}

// NewSessionStore creates a new file-backed SessionStore rooted at the given directory.
func NewSessionStore(root string) *SessionStore {
	return &SessionStore{root: root}
}

func (s *SessionStore) indexPath() string {
	return filepath.Join(s.root, "sessions", "sessions.json")
}

func (s *SessionStore) sessionsDir() string {
	return filepath.Join(s.root, "sessions")
}

func (s *SessionStore) sessionDir(id types.SessionID) string {
	return filepath.Join(s.root, "sessions", string(id))
}

// loadIndex reads sessions.json and returns a map keyed by SessionID.
func (s *SessionStore) loadIndex() (map[types.SessionID]*types.Session, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[types.SessionID]*types.Session), nil
		}
		return nil, fmt.Errorf("read session index: %w", err)
	}

	var sessions []*types.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("unmarshal session index: %w", err)
	}

	index := make(map[types.SessionID]*types.Session, len(sessions))
	for _, sess := range sessions {
		index[sess.ID] = sess
	}
	return index, nil
}

// saveIndex converts the map to a slice, marshals with indentation, and writes atomically.
func (s *SessionStore) saveIndex(index map[types.SessionID]*types.Session) error {
	sessions := make([]*types.Session, 0, len(index))
	for _, sess := range index {
		sessions = append(sessions, sess)
	}

	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session index: %w", err)
	}

	dir := s.sessionsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp index: %w", err)
	}
	return nil
}

// Create persists a new session. The session must have an ID and OwnerID;
// IDs must be unique. Timestamps are set here.
func (s *SessionStore) Create(_ context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if session.OwnerID == "" {
		return fmt.Errorf("session owner is required")
	}

	index, err := s.loadIndex()
	if err != nil {
		return err
	}

	if _, ok := index[session.ID]; ok {
		return fmt.Errorf("session already exists: %s", session.ID)
	}

	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	index[session.ID] = session

	if err := s.saveIndex(index); err != nil {
		return err
	}

	// Create session directory on demand
	if err := os.MkdirAll(s.sessionDir(session.ID), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	return nil
}

// Get returns the session with the given ID.
func (s *SessionStore) Get(_ context.Context, id types.SessionID) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}

	sess, ok := index[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return sess, nil
}

// List returns all sessions.
func (s *SessionStore) List(_ context.Context) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}

	sessions := make([]*types.Session, 0, len(index))
	for _, sess := range index {
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// Delete removes a session from the index and deletes its directory,
// including any event log it holds.
func (s *SessionStore) Delete(_ context.Context, id types.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}

	if _, ok := index[id]; !ok {
		return types.ErrNotFound
	}
	delete(index, id)

	if err := s.saveIndex(index); err != nil {
		return err
	}
	if err := os.RemoveAll(s.sessionDir(id)); err != nil {
		return fmt.Errorf("remove session dir: %w", err)
	}
	return nil
}

// Update persists changes to the given session, setting UpdatedAt to now.
// The owner of an existing session is never changed.
func (s *SessionStore) Update(_ context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}

	existing, ok := index[session.ID]
	if !ok {
		return types.ErrNotFound
	}
	if session.OwnerID != existing.OwnerID {
		return fmt.Errorf("session owner is immutable: %s", session.ID)
	}

	session.UpdatedAt = time.Now()
	index[session.ID] = session

	return s.saveIndex(index)
}
