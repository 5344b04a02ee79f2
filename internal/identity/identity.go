// Package identity maps verified external identities to durable users.
// Credential verification itself belongs to the identity collaborator;
// this package only consumes the subject it vouches for.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/user/sandbench/internal/types"
)

// ErrUnauthenticated means the request carried no resolvable credential.
var ErrUnauthenticated = errors.New("unauthenticated")

// Resolver verifies a bearer credential and returns the external
// identity provider's subject id for it.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (string, error)
}

// StaticResolver resolves credentials from a fixed token-to-subject map.
// Used for local deployments and tests.
type StaticResolver struct {
	tokens map[string]string
}

// NewStaticResolver creates a StaticResolver over the given token map.
func NewStaticResolver(tokens map[string]string) *StaticResolver {
	return &StaticResolver{tokens: tokens}
}

func (r *StaticResolver) Resolve(_ context.Context, credential string) (string, error) {
	subject, ok := r.tokens[credential]
	if !ok || credential == "" {
		return "", ErrUnauthenticated
	}
	return subject, nil
}

// Service authenticates requests: it resolves a credential to a subject
// and the subject to a durable user, creating the user row on first
// authenticated contact.
type Service struct {
	resolver Resolver
	users    types.UserStore
}

// NewService creates a Service over the given resolver and user store.
func NewService(resolver Resolver, users types.UserStore) *Service {
	return &Service{resolver: resolver, users: users}
}

// Authenticate returns the durable user for the given credential.
func (s *Service) Authenticate(ctx context.Context, credential string) (*types.User, error) {
	subject, err := s.resolver.Resolve(ctx, credential)
	if err != nil {
		return nil, err
	}
	user, err := s.users.ResolveOrCreate(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	return user, nil
}
