package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"aide/internal/appversion"
	"aide/pkg/activity"
	"aide/pkg/protocol"
	"aide/pkg/supervisor"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// server exposes the supervisor over HTTP.
type server struct {
	sup       *supervisor.Supervisor
	publisher *activity.Publisher
	reader    *activity.Reader
	logger    *zap.Logger
}

func newServer(rt *runtime, logger *zap.Logger) *server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &server{sup: rt.sup, publisher: rt.publisher, reader: rt.reader, logger: logger.Named("http")}
}

// routes returns the API mux.
func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/turns", s.handleSubmitTurn)
	mux.HandleFunc("GET /v1/approvals", s.handleListApprovals)
	mux.HandleFunc("POST /v1/approvals/{id}", s.handleDecide)
	mux.HandleFunc("GET /v1/activity/{user}/stream", s.handleStream)
	mux.HandleFunc("GET /v1/activity/{user}", s.handleActivity)
	mux.HandleFunc("GET /v1/trust/{user}", s.handleTrust)
	mux.HandleFunc("PUT /v1/trust/{user}/{agent}", s.handleSetTrust)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": appversion.String()})
	})
	return mux
}

type turnRequest struct {
	User           string `json:"user"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

func (s *server) handleSubmitTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.User) == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, errors.New("user and message are required"))
		return
	}

	res, err := s.sup.SubmitTurn(r.Context(), req.User, req.Message, req.ConversationID)
	if err != nil && res.Token == "" {
		s.fail(w, err)
		return
	}
	// A failed turn still has a result worth returning; the status code
	// carries the failure class.
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	writeJSON(w, status, res)
}

func (s *server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := s.sup.PendingApprovals(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

type decideRequest struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

func (s *server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if !s.decode(w, r, &req) {
		return
	}
	d, err := s.sup.DecideApproval(r.Context(), r.PathValue("id"), req.Approved, req.Reason)
	if err != nil && d.Approval.ID == "" {
		s.fail(w, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	writeJSON(w, status, d)
}

// handleStream serves the user's live activity as server-sent events.
func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	sub := s.sup.StreamActivity(r.Context(), r.PathValue("user"))
	if sub == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("live activity is disabled"))
		return
	}
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range sub.Events() {
		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error("encode activity event", zap.Error(err))
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (s *server) handleActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := activity.QueryOpts{
		UserID:    r.PathValue("user"),
		TurnToken: q.Get("turn"),
		Status:    protocol.ActivityStatus(q.Get("status")),
		Limit:     50,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		opts.Limit = n
	}
	recs, err := s.reader.Query(r.Context(), opts)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *server) handleTrust(w http.ResponseWriter, r *http.Request) {
	scores, err := s.sup.TrustOverview(r.Context(), r.PathValue("user"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scores)
}

type setTrustRequest struct {
	Level int `json:"level"`
}

func (s *server) handleSetTrust(w http.ResponseWriter, r *http.Request) {
	var req setTrustRequest
	if !s.decode(w, r, &req) {
		return
	}
	agentType := protocol.AgentType(r.PathValue("agent"))
	if !agentType.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown agent %q", agentType))
		return
	}
	scores, err := s.sup.SetTrustLevel(r.Context(), r.PathValue("user"), agentType, protocol.TrustLevel(req.Level))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scores)
}

type statsResponse struct {
	Publisher *activity.Stats                 `json:"publisher,omitempty"`
	Activity  map[protocol.ActivityStatus]int `json:"activity"`
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.reader.Counts(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		s.fail(w, err)
		return
	}
	resp := statsResponse{Activity: counts}
	if s.publisher != nil {
		st := s.publisher.Stats()
		resp.Publisher = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return false
	}
	return true
}

func (s *server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeError(w, status, err)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		classErr    *protocol.ClassificationError
		authErr     *protocol.AuthError
		notFound    *protocol.ApprovalNotFoundError
		levelErr    *protocol.InvalidLevelError
		turnMissing *protocol.TurnNotFoundError
	)
	switch {
	case errors.As(err, &classErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &authErr):
		return http.StatusBadGateway
	case errors.As(err, &notFound), errors.As(err, &turnMissing):
		return http.StatusNotFound
	case errors.As(err, &levelErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
