// Package state provides filesystem-backed storage implementations.
package state

import "github.com/user/sandbench/internal/types"

// Compile-time interface compliance checks.
var _ types.UserStore = (*UserStore)(nil)
var _ types.SessionStore = (*SessionStore)(nil)
var _ types.EventStore = (*EventStore)(nil)
