// Package sandbox talks to the remote sandbox provider: reconnecting to
// previously created sandboxes and driving commands inside them.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/user/sandbench/internal/types"
)

// Sentinel errors used by the connection manager to classify outcomes.
var (
	// ErrSandboxNotFound means the provider no longer knows the identifier.
	// Dead identifiers are permanently dead; the provider never reuses them.
	ErrSandboxNotFound = errors.New("sandbox not found")
	// ErrUnavailable means the provider could not be reached before its own
	// timeout elapsed.
	ErrUnavailable = errors.New("sandbox provider unavailable")
	// ErrUnauthorized means the provider rejected our credential.
	ErrUnauthorized = errors.New("sandbox provider rejected credentials")
)

// ExecResult is the outcome of one command executed inside a sandbox.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Provider is the compute provider's create/connect/execute surface.
// Identifiers are provider-assigned and opaque.
type Provider interface {
	Create(ctx context.Context) (types.SandboxID, error)
	Connect(ctx context.Context, id types.SandboxID) (types.SandboxID, error)
	Exec(ctx context.Context, id types.SandboxID, command string) (*ExecResult, error)
}

// Config holds provider client settings.
type Config struct {
	BaseURL string
	APIKey  string
	// Timeout bounds each provider round-trip. Zero means the provider
	// default of 60s; no additional timeout is layered on top.
	Timeout time.Duration
}

// Client implements Provider against the provider's HTTP API.
type Client struct {
	config     *Config
	httpClient *http.Client
}

// NewClient creates a provider client with the given configuration.
func NewClient(config *Config) *Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// sandboxResponse is the provider's create/connect response body.
type sandboxResponse struct {
	SandboxID string `json:"sandbox_id"`
}

// execRequest is the provider's exec request body.
type execRequest struct {
	Command string `json:"command"`
}

// Create provisions a fresh sandbox and returns its identifier.
func (c *Client) Create(ctx context.Context) (types.SandboxID, error) {
	var resp sandboxResponse
	if err := c.post(ctx, "/v1/sandboxes", nil, &resp); err != nil {
		return "", err
	}
	if resp.SandboxID == "" {
		return "", fmt.Errorf("provider returned empty sandbox id")
	}
	return types.SandboxID(resp.SandboxID), nil
}

// Connect re-establishes a handle to the named sandbox and returns the
// live identifier as re-confirmed by the provider.
func (c *Client) Connect(ctx context.Context, id types.SandboxID) (types.SandboxID, error) {
	var resp sandboxResponse
	path := "/v1/sandboxes/" + url.PathEscape(string(id)) + "/connect"
	if err := c.post(ctx, path, nil, &resp); err != nil {
		return "", err
	}
	if resp.SandboxID == "" {
		return "", fmt.Errorf("provider returned empty sandbox id")
	}
	return types.SandboxID(resp.SandboxID), nil
}

// Exec runs a shell command inside the sandbox and returns its outcome.
func (c *Client) Exec(ctx context.Context, id types.SandboxID, command string) (*ExecResult, error) {
	var result ExecResult
	path := "/v1/sandboxes/" + url.PathEscape(string(id)) + "/exec"
	if err := c.post(ctx, path, &execRequest{Command: command}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// post sends a JSON request and decodes the JSON response, mapping
// provider status codes onto the sentinel errors.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrSandboxNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("provider error (status %d): %s", resp.StatusCode, string(data))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}

var _ Provider = (*Client)(nil)
