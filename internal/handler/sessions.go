// Package handler provides HTTP handlers for the relay API.
package handler

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-relay/internal/middleware"
	"github.com/capitalize-ai/realtime-relay/internal/model"
	"github.com/capitalize-ai/realtime-relay/internal/service"
	"github.com/capitalize-ai/realtime-relay/pkg/logger"
)

// Sessions is the session service as seen by the HTTP layer.
type Sessions interface {
	Open(ctx context.Context, tenantID, userID string, req *model.CreateSessionRequest) (*model.Session, error)
	Get(ctx context.Context, tenantID, id string) (*model.Session, error)
	List(ctx context.Context, tenantID string, limit, offset int) (*model.ListSessionsResponse, error)
	Send(ctx context.Context, tenantID, id string, raw []byte) error
	Close(ctx context.Context, tenantID, id string, code int, reason string) error
	Subscribe(tenantID, id string) (<-chan model.Envelope, func(), error)
	Replay(ctx context.Context, tenantID, id string, afterSequence uint64, limit int) (*model.ListEventsResponse, error)
}

// SessionHandler handles session endpoints.
type SessionHandler struct {
	service Sessions
	logger  *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(svc Sessions, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		service: svc,
		logger:  log,
	}
}

// Create handles POST /api/v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	userID := middleware.GetUserID(ctx)

	var req model.CreateSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := middleware.ValidateModel(req.Model); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMetadata(req.Metadata); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.service.Open(ctx, tenantID, userID, &req)
	if err != nil {
		h.logger.Error("failed to open session", zap.String("tenant_id", tenantID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to open realtime session")
		return
	}

	w.Header().Set("X-Stream-URL", "/api/v1/sessions/"+sess.ID+"/stream")
	writeJSON(w, http.StatusCreated, sess)
}

// List handles GET /api/v1/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)

	limit := queryInt(r, "limit", 20, 1, 100)
	offset := queryInt(r, "offset", 0, 0, math.MaxInt)

	resp, err := h.service.List(ctx, tenantID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/sessions/:id
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	sess, err := h.service.Get(ctx, middleware.GetTenantID(ctx), sessionID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// Close handles DELETE /api/v1/sessions/:id
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	var req model.CloseSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if err := middleware.ValidateCloseCode(req.Code); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateCloseReason(req.Reason); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.Close(ctx, middleware.GetTenantID(ctx), sessionID, req.Code, req.Reason); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// SendEvent handles POST /api/v1/sessions/:id/events
func (h *SessionHandler) SendEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, middleware.MaxEventBytes()))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "event exceeds maximum size")
		return
	}
	if err := middleware.ValidateEventPayload(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.Send(ctx, middleware.GetTenantID(ctx), sessionID, body); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// Events handles GET /api/v1/sessions/:id/events
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	resp, err := h.service.Replay(ctx, middleware.GetTenantID(ctx), sessionID,
		queryUint(r, "after_sequence"), queryInt(r, "limit", 50, 1, 500))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *SessionHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, service.ErrSessionClosed):
		writeError(w, http.StatusConflict, "session is closed")
	case errors.Is(err, model.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("session request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func sessionIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}
