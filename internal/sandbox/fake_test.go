// internal/sandbox/fake_test.go
package sandbox

import (
	"context"
	"strings"

	"github.com/user/sandbench/internal/types"
)

// fakeProvider implements Provider in memory for tests.
type fakeProvider struct {
	sandboxes    map[types.SandboxID]bool // id -> reachable
	created      int
	connectCalls int
	execCalls    []string
	connectErr   error
	execErr      error
	hasSession   bool
	sendExitCode int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		sandboxes:  make(map[types.SandboxID]bool),
		hasSession: true,
	}
}

func (f *fakeProvider) Create(ctx context.Context) (types.SandboxID, error) {
	f.created++
	id := types.SandboxID("sbx-" + strings.Repeat("x", f.created))
	f.sandboxes[id] = true
	return id, nil
}

func (f *fakeProvider) Connect(ctx context.Context, id types.SandboxID) (types.SandboxID, error) {
	f.connectCalls++
	if f.connectErr != nil {
		return "", f.connectErr
	}
	if alive, ok := f.sandboxes[id]; !ok || !alive {
		return "", ErrSandboxNotFound
	}
	return id, nil
}

func (f *fakeProvider) Exec(ctx context.Context, id types.SandboxID, command string) (*ExecResult, error) {
	f.execCalls = append(f.execCalls, command)
	if f.execErr != nil {
		return nil, f.execErr
	}
	if strings.Contains(command, "has-session") {
		if !f.hasSession {
			return &ExecResult{ExitCode: 1, Stderr: "can't find session: metro"}, nil
		}
		return &ExecResult{ExitCode: 0}, nil
	}
	if strings.Contains(command, "send-keys") {
		return &ExecResult{ExitCode: f.sendExitCode}, nil
	}
	return &ExecResult{ExitCode: 0}, nil
}
