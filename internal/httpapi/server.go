// internal/httpapi/server.go
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/user/sandbench/internal/identity"
	"github.com/user/sandbench/internal/orchestrator"
	"github.com/user/sandbench/internal/types"
)

// Server is the thin HTTP surface over the orchestrator. All authorization
// decisions happen in the orchestrator; this layer only authenticates the
// caller and maps outcomes to status codes.
type Server struct {
	auth *identity.Service
	orch *orchestrator.Orchestrator
	mux  *http.ServeMux
}

// NewServer creates a new API Server over the given identity service and
// orchestrator.
func NewServer(auth *identity.Service, orch *orchestrator.Orchestrator) *Server {
	s := &Server{
		auth: auth,
		orch: orch,
		mux:  http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/sessions/{id}/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/sessions/{id}/spend", s.handleSpend)
	s.mux.HandleFunc("POST /api/sessions/{id}/connect", s.handleConnect)
	s.mux.HandleFunc("POST /api/sessions/{id}/sandbox", s.handleEnsure)
	s.mux.HandleFunc("POST /api/sessions/{id}/reload", s.handleReload)
	s.mux.HandleFunc("POST /api/sessions/{id}/usage", s.handleUsage)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// authenticate resolves the bearer credential to a durable user.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*types.User, bool) {
	credential := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	user, err := s.auth.Authenticate(r.Context(), credential)
	if err != nil {
		if errors.Is(err, identity.ErrUnauthenticated) {
			http.Error(w, `{"error":"unauthenticated"}`, http.StatusUnauthorized)
		} else {
			slog.Error("authenticate failed", "error", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		}
		return nil, false
	}
	return user, true
}

// sessionID pulls the path parameter; empty is a caller error.
func sessionID(w http.ResponseWriter, r *http.Request) (types.SessionID, bool) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, `{"error":"session id is required"}`, http.StatusBadRequest)
		return "", false
	}
	return types.SessionID(id), true
}

// fail maps orchestrator errors onto status codes. Missing sessions and
// foreign sessions share one 404 message.
func fail(w http.ResponseWriter, err error) {
	if errors.Is(err, types.ErrNotFound) {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}
	slog.Error("request failed", "error", err)
	http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

type createSessionRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
			return
		}
	}

	sess, err := s.orch.StartSession(r.Context(), user.ID, types.SessionID(req.SessionID))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, map[string]string{"session_id": string(sess.ID)})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	events, err := s.orch.Events(r.Context(), user.ID, id)
	if err != nil {
		fail(w, err)
		return
	}
	if events == nil {
		events = []*types.AgentEvent{}
	}
	writeJSON(w, map[string]any{"events": events})
}

func (s *Server) handleSpend(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	total, err := s.orch.Spend(r.Context(), user.ID, id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, map[string]float64{"total": total})
}

// connectResponse is the connect outcome: expected unavailability renders
// as status "idle", never as an error.
type connectResponse struct {
	Connected bool   `json:"connected"`
	Status    string `json:"status"`
	SandboxID string `json:"sandboxId,omitempty"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	handle, err := s.orch.ConnectSandbox(r.Context(), user.ID, id)
	if err != nil {
		fail(w, err)
		return
	}

	resp := connectResponse{Status: string(handle.State)}
	if handle.Ready() {
		resp.Connected = true
		resp.SandboxID = string(handle.SandboxID)
	}
	writeJSON(w, resp)
}

// handleEnsure connects the session's sandbox, provisioning a fresh one
// when no live sandbox exists.
func (s *Server) handleEnsure(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	handle, err := s.orch.EnsureSandbox(r.Context(), user.ID, id)
	if err != nil {
		fail(w, err)
		return
	}

	resp := connectResponse{Status: string(handle.State)}
	if handle.Ready() {
		resp.Connected = true
		resp.SandboxID = string(handle.SandboxID)
	}
	writeJSON(w, resp)
}

type reloadResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	result, err := s.orch.TriggerReload(r.Context(), user.ID, id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, reloadResponse{OK: result.OK, Reason: string(result.Reason)})
}

type usageRequest struct {
	Model string           `json:"model"`
	Usage types.TokenUsage `json:"usage"`
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var req usageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		http.Error(w, `{"error":"model is required"}`, http.StatusBadRequest)
		return
	}

	cost, err := s.orch.RecordModelCall(r.Context(), user.ID, id, req.Model, req.Usage)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, map[string]float64{"cost": cost})
}
