// Package api exposes the REST surface the chat platform drives: one endpoint
// for inbound messages and one for interaction answers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"NamePilot/internal/agent"
	xerrors "NamePilot/internal/errors"
	"NamePilot/internal/history"
	"NamePilot/internal/observability/metrics"
	"NamePilot/pkg/logger"
)

// Server routes chat-platform webhooks into the agent.
type Server struct {
	addr    string
	agent   *agent.Agent
	archive history.Repository
}

// NewServer builds a Server.
func NewServer(addr string, ag *agent.Agent, archive history.Repository) *Server {
	return &Server{addr: addr, agent: ag, archive: archive}
}

// Start serves until the context is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/messages", s.handleMessage)
	mux.HandleFunc("/v1/actions", s.handleAction)
	mux.HandleFunc("/v1/operations", s.handleOperations)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.L().Info("api server listening", "addr", s.addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type messageRequest struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	ChannelID      string `json:"channelId"`
	Message        string `json:"message"`
}

type actionRequest struct {
	UserID         string            `json:"userId"`
	ConversationID string            `json:"conversationId"`
	ChannelID      string            `json:"channelId"`
	Action         string            `json:"action"`
	Approved       bool              `json:"approved"`
	TxHash         string            `json:"txHash,omitempty"`
	FormValues     map[string]string `json:"formValues,omitempty"`
}

type outcomeResponse struct {
	Outcome        string  `json:"outcome"`
	Reply          string  `json:"reply,omitempty"`
	ExpectedAction string  `json:"expectedAction,omitempty"`
	Turns          int     `json:"turns"`
	CostUSD        float64 `json:"costUsd"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "only POST is supported")
		return
	}
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if req.UserID == "" || req.ConversationID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "userId, conversationId and message are required")
		return
	}

	outcome, err := s.agent.Run(r.Context(), agent.Identity{
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		ChannelID:      req.ChannelID,
	}, req.Message)
	s.writeOutcome(w, r, "/v1/messages", outcome, err)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "only POST is supported")
		return
	}
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if req.UserID == "" || req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "userId and conversationId are required")
		return
	}

	outcome, err := s.agent.Resume(r.Context(), agent.Identity{
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		ChannelID:      req.ChannelID,
	}, agent.ActionOutcome{
		Action:     req.Action,
		Approved:   req.Approved,
		TxHash:     req.TxHash,
		FormValues: req.FormValues,
	})
	s.writeOutcome(w, r, "/v1/actions", outcome, err)
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "only GET is supported")
		return
	}
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if s.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "operation archive is not configured")
		return
	}
	records, err := s.archive.ListRecent(r.Context(), userID, 20)
	if err != nil {
		metrics.ObserveHTTPRequest("/v1/operations", r.Method, http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.ObserveHTTPRequest("/v1/operations", r.Method, http.StatusOK)
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeOutcome(w http.ResponseWriter, r *http.Request, handler string, outcome *agent.Outcome, err error) {
	if err != nil {
		status := statusFor(err)
		metrics.ObserveHTTPRequest(handler, r.Method, status)
		writeError(w, status, err.Error())
		return
	}
	metrics.ObserveHTTPRequest(handler, r.Method, http.StatusOK)
	writeJSON(w, http.StatusOK, outcomeResponse{
		Outcome:        string(outcome.Kind),
		Reply:          outcome.Reply,
		ExpectedAction: outcome.ExpectedAction,
		Turns:          outcome.Turns,
		CostUSD:        outcome.CostUSD,
	})
}

func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, xerrors.CodeFlowNotFound, xerrors.CodeSessionNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict:
		return http.StatusConflict
	case xerrors.CodeMaxTurnsExceeded:
		// Not a server fault: the caller can restart with a narrower ask.
		return http.StatusTooManyRequests
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeLLMFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// withContext rejects requests once the root context is cancelled, so
// shutdown does not race new work.
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
