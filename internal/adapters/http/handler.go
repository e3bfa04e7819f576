package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/PabloGalante/farum-coach/internal/app/analysis"
	"github.com/PabloGalante/farum-coach/internal/app/conversation"
	"github.com/PabloGalante/farum-coach/internal/domain"
	"github.com/PabloGalante/farum-coach/internal/observability"
)

const defaultListLimit = 20

type Server struct {
	conv     *conversation.Service
	analysis *analysis.Service
}

// NewServer builds the HTTP surface. metrics may be nil, in which case
// /metrics is not served.
func NewServer(conv *conversation.Service, an *analysis.Service, metrics http.Handler) http.Handler {
	s := &Server{conv: conv, analysis: an}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /conversations", s.handleStart)
	mux.HandleFunc("GET /conversations/{id}", s.handleGet)
	mux.HandleFunc("POST /conversations/{id}/turns", s.handleTurn)
	mux.HandleFunc("POST /conversations/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /conversations/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /conversations/{id}/abandon", s.handleAbandon)
	mux.HandleFunc("GET /tenants/{tenant}/users/{user}/conversations", s.handleList)

	mux.HandleFunc("POST /analysis/{kind}", s.handleAnalysis)

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	return chainMiddlewares(mux, withCORS, withLogging, withRequestID)
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type startRequest struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	Topic    string `json:"topic"`
	Message  string `json:"message"`
}

type turnRequest struct {
	Message string `json:"message"`
	Confirm bool   `json:"confirm,omitempty"`
}

type abandonRequest struct {
	Reason string `json:"reason,omitempty"`
}

type analysisRequest struct {
	TenantID   string   `json:"tenant_id"`
	UserID     string   `json:"user_id"`
	Purpose    string   `json:"purpose"`
	Mission    string   `json:"mission"`
	Vision     string   `json:"vision"`
	CoreValues []string `json:"core_values"`
	Goal       struct {
		Description string `json:"description"`
		TargetDate  string `json:"target_date"`
	} `json:"goal"`
}

type messageResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Phase     string    `json:"phase"`
	CreatedAt time.Time `json:"created_at"`
}

type conversationResponse struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	UserID      string            `json:"user_id"`
	Topic       string            `json:"topic"`
	Phase       string            `json:"phase"`
	Status      string            `json:"status"`
	Progress    float64           `json:"progress"`
	Signals     domain.Signals    `json:"signals"`
	Values      []string          `json:"values,omitempty"`
	TotalTokens int               `json:"total_tokens"`
	SessionCost float64           `json:"session_cost"`
	Version     int               `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Messages    []messageResponse `json:"messages,omitempty"`
}

type turnResponse struct {
	Conversation conversationResponse `json:"conversation"`
	Reply        messageResponse      `json:"reply"`
	Transitioned bool                 `json:"transitioned"`
	Completed    bool                 `json:"completed"`
	Usage        domain.Usage         `json:"usage"`
}

type listResponse struct {
	Conversations []conversationResponse `json:"conversations"`
}

type errorResponse struct {
	Error     string           `json:"error"`
	Retryable bool             `json:"retryable,omitempty"`
	Generated *messageResponse `json:"generated,omitempty"`
}

// ─────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decode(w, r, &req) {
		return
	}
	topic, err := domain.ParseTopic(req.Topic)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out, err := s.conv.Start(r.Context(), conversation.StartInput{
		TenantID: domain.TenantID(req.TenantID),
		UserID:   domain.UserID(req.UserID),
		Topic:    topic,
		Message:  req.Message,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTurnResponse(out))
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if !decode(w, r, &req) {
		return
	}

	out, err := s.conv.HandleTurn(r.Context(), conversation.TurnInput{
		ConversationID: domain.ConversationID(r.PathValue("id")),
		Message:        req.Message,
		Confirm:        req.Confirm,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTurnResponse(out))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	conv, err := s.conv.Get(r.Context(), domain.ConversationID(r.PathValue("id")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponse(conv, true))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	convs, err := s.conv.List(r.Context(), domain.TenantID(r.PathValue("tenant")), domain.UserID(r.PathValue("user")), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := listResponse{Conversations: make([]conversationResponse, 0, len(convs))}
	for _, c := range convs {
		resp.Conversations = append(resp.Conversations, toConversationResponse(c, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	conv, err := s.conv.Pause(r.Context(), domain.ConversationID(r.PathValue("id")))
	s.writeStatusChange(w, r, conv, err)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	conv, err := s.conv.Resume(r.Context(), domain.ConversationID(r.PathValue("id")))
	s.writeStatusChange(w, r, conv, err)
}

func (s *Server) handleAbandon(w http.ResponseWriter, r *http.Request) {
	var req abandonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid JSON body")
		return
	}
	conv, err := s.conv.Abandon(r.Context(), domain.ConversationID(r.PathValue("id")), req.Reason)
	s.writeStatusChange(w, r, conv, err)
}

func (s *Server) writeStatusChange(w http.ResponseWriter, r *http.Request, conv *domain.Conversation, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponse(conv, false))
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	kind, err := analysis.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req analysisRequest
	if !decode(w, r, &req) {
		return
	}

	ec := analysis.EnrichedContext{
		TenantID:   domain.TenantID(req.TenantID),
		UserID:     domain.UserID(req.UserID),
		Purpose:    req.Purpose,
		Mission:    req.Mission,
		Vision:     req.Vision,
		CoreValues: req.CoreValues,
		Goal:       analysis.Goal{Description: req.Goal.Description},
	}
	if req.Goal.TargetDate != "" {
		ec.Goal.TargetDate, err = parseDate(req.Goal.TargetDate)
		if err != nil {
			badRequest(w, "goal.target_date must be a date (YYYY-MM-DD)")
			return
		}
	}

	res, err := s.analysis.Analyze(r.Context(), kind, ec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ─────────────────────────────────────────────
// Conversion helpers
// ─────────────────────────────────────────────

func toMessageResponse(m *domain.Message) messageResponse {
	return messageResponse{
		ID:        string(m.ID),
		Role:      string(m.Role),
		Content:   m.Content,
		Phase:     string(m.Phase),
		CreatedAt: m.CreatedAt,
	}
}

func toConversationResponse(c *domain.Conversation, withMessages bool) conversationResponse {
	resp := conversationResponse{
		ID:          string(c.ID),
		TenantID:    string(c.TenantID),
		UserID:      string(c.UserID),
		Topic:       string(c.Topic),
		Phase:       string(c.Phase),
		Status:      string(c.Status),
		Progress:    c.Progress(),
		Signals:     c.Signals,
		Values:      c.Values,
		TotalTokens: c.TotalTokens,
		SessionCost: c.SessionCost,
		Version:     c.Version,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		CompletedAt: c.CompletedAt,
	}
	if withMessages {
		resp.Messages = make([]messageResponse, 0, len(c.Messages))
		for _, m := range c.Messages {
			resp.Messages = append(resp.Messages, toMessageResponse(m))
		}
	}
	return resp
}

func toTurnResponse(out *conversation.TurnResult) turnResponse {
	return turnResponse{
		Conversation: toConversationResponse(out.Conversation, false),
		Reply:        toMessageResponse(out.Reply),
		Transitioned: out.Transitioned,
		Completed:    out.Completed,
		Usage:        out.Usage,
	}
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// ─────────────────────────────────────────────
// HTTP helpers
// ─────────────────────────────────────────────

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		badRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// statusFor maps core errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		verr *domain.ValidationError
		pv   *domain.PolicyViolation
		cerr *domain.ConfigurationError
		perr *domain.ProviderError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &pv):
		return http.StatusConflict
	case errors.As(err, &cerr):
		return http.StatusInternalServerError
	case errors.As(err, &perr):
		if perr.Retryable() {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	var perr *domain.ProviderError
	if errors.As(err, &perr) {
		resp.Retryable = perr.Retryable()
	}
	var rerr *domain.RepositoryError
	if errors.As(err, &rerr) && rerr.Generated != nil {
		m := toMessageResponse(rerr.Generated)
		resp.Generated = &m
	}
	if status == http.StatusInternalServerError && resp.Generated == nil {
		var cerr *domain.ConfigurationError
		if !errors.As(err, &cerr) {
			resp.Error = "internal server error"
		}
	}

	log := observability.LoggerFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "error", err)
	} else {
		log.Warn("request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}
