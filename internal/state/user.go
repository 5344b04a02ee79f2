// internal/state/user.go
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

// UserStore is a JSON-file-backed store for durable user identities,
// keyed by the identity provider's subject id. Rows are created on first
// authenticated contact and never mutated or deleted after.
type UserStore struct {
	path string
	mu   sync.RWMutex
}

// NewUserStore creates a new file-backed UserStore at the given file path.
func NewUserStore(path string) *UserStore {
	return &UserStore{path: path}
}

func (s *UserStore) load() ([]*types.User, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read users file: %w", err)
	}

	var users []*types.User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("unmarshal users: %w", err)
	}
	return users, nil
}

func (s *UserStore) save(users []*types.User) error {
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal users: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create users dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp users file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp users file: %w", err)
	}
	return nil
}

// ResolveOrCreate returns the user for the given subject id, creating the
// row on first contact.
func (s *UserStore) ResolveOrCreate(_ context.Context, subject string) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if subject == "" {
		return nil, fmt.Errorf("subject is required")
	}

	users, err := s.load()
	if err != nil {
		return nil, err
	}

	for _, u := range users {
		if u.Subject == subject {
			return u, nil
		}
	}

	user := &types.User{
		ID:        types.NewUserID(),
		Subject:   subject,
		CreatedAt: time.Now(),
	}
	users = append(users, user)

	if err := s.save(users); err != nil {
		return nil, err
	}
	return user, nil
}

// Get returns the user with the given durable id.
func (s *UserStore) Get(_ context.Context, id types.UserID) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users, err := s.load()
	if err != nil {
		return nil, err
	}

	for _, u := range users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, types.ErrNotFound
}
