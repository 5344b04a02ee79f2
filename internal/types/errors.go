// internal/types/errors.go
package types

import "errors"

// ErrNotFound covers both a session that does not exist and a session
// owned by a different user. The two are deliberately indistinguishable
// so that existence never leaks across owners.
var ErrNotFound = errors.New("not found")

// ErrMissingSandboxID is returned when a connect is attempted with an
// empty sandbox identifier. Signaled before any remote call.
var ErrMissingSandboxID = errors.New("sandbox id is required")
