// internal/sandbox/provider_test.go
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientConnect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("missing or invalid auth header")
		}
		if r.URL.Path != "/v1/sandboxes/sbx-1/connect" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"sandbox_id": "sbx-1"})
	}))
	defer server.Close()

	client := NewClient(&Config{BaseURL: server.URL, APIKey: "test-key"})

	id, err := client.Connect(context.Background(), "sbx-1")
	if err != nil {
		t.Fatal(err)
	}
	if id != "sbx-1" {
		t.Errorf("expected sbx-1, got %s", id)
	}
}

func TestClientConnectNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unknown sandbox"}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(&Config{BaseURL: server.URL})

	_, err := client.Connect(context.Background(), "sbx-dead")
	if !errors.Is(err, ErrSandboxNotFound) {
		t.Errorf("expected ErrSandboxNotFound, got %v", err)
	}
}

func TestClientConnectUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(&Config{BaseURL: server.URL, APIKey: "bad"})

	_, err := client.Connect(context.Background(), "sbx-1")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestClientConnectServerErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(&Config{BaseURL: server.URL})

	_, err := client.Connect(context.Background(), "sbx-1")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestClientConnectUnreachableIsUnavailable(t *testing.T) {
	// Closed server: the dial fails.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(&Config{BaseURL: server.URL})

	_, err := client.Connect(context.Background(), "sbx-1")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestClientExec(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sandboxes/sbx-1/exec" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Command string `json:"command"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Command != "tmux has-session -t metro" {
			t.Errorf("unexpected command %q", req.Command)
		}
		json.NewEncoder(w).Encode(ExecResult{ExitCode: 1, Stderr: "can't find session: metro"})
	}))
	defer server.Close()

	client := NewClient(&Config{BaseURL: server.URL})

	result, err := client.Exec(context.Background(), "sbx-1", "tmux has-session -t metro")
	if err != nil {
		t.Fatal(err)
	}
	if result.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", result.ExitCode)
	}
}

func TestClientCreate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/sandboxes" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"sandbox_id": "sbx-new"})
	}))
	defer server.Close()

	client := NewClient(&Config{BaseURL: server.URL})

	id, err := client.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id != "sbx-new" {
		t.Errorf("expected sbx-new, got %s", id)
	}
}
