package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-relay/internal/middleware"
	"github.com/capitalize-ai/realtime-relay/internal/model"
	"github.com/capitalize-ai/realtime-relay/pkg/logger"
	"github.com/capitalize-ai/realtime-relay/pkg/metrics"
)

const (
	replayBatchSize           = 100
	defaultHeartbeatInterval  = 30 * time.Second
	lastEventIDHeader         = "Last-Event-ID"
	sseEventConnected         = "connected"
	sseEventReplayComplete    = "replay_complete"
	sseEventHeartbeat         = "heartbeat"
	sseEventClosed            = "closed"
	sseEventReplayUnavailable = "replay_error"
)

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	service   Sessions
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(svc Sessions, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		service:   svc,
		logger:    log,
		heartbeat: defaultHeartbeatInterval,
	}
}

// Stream handles GET /api/v1/sessions/:id/stream
// Supports ?after_sequence=N (or Last-Event-ID) for resuming from a specific point.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	afterSequence := queryUint(r, "after_sequence")
	if afterSequence == 0 {
		if id, err := strconv.ParseUint(r.Header.Get(lastEventIDHeader), 10, 64); err == nil {
			afterSequence = id
		}
	}

	// Subscribe before replaying so nothing published in between is lost;
	// duplicates are skipped by sequence below.
	live, cancel, err := h.service.Subscribe(tenantID, sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	log := h.logger.WithSession(tenantID, sessionID)

	sendSSEEvent(w, flusher, sseEventConnected, "", map[string]string{
		"session_id": sessionID,
	})

	lastSequence := afterSequence
	replayed := 0
	for {
		resp, err := h.service.Replay(ctx, tenantID, sessionID, lastSequence, replayBatchSize)
		if err != nil {
			log.Error("failed to replay events", zap.Error(err))
			sendSSEEvent(w, flusher, sseEventReplayUnavailable, "", map[string]string{
				"error": "failed to replay events",
			})
			break
		}

		for _, env := range resp.Events {
			if ctx.Err() != nil {
				return
			}
			sendEnvelope(w, flusher, env)
			lastSequence = env.Sequence
			replayed++
		}

		if !resp.HasMore || len(resp.Events) == 0 {
			break
		}
	}

	sendSSEEvent(w, flusher, sseEventReplayComplete, "", &model.ReplayCompleteEvent{
		LastSequence: lastSequence,
		EventCount:   replayed,
	})
	log.Info("event replay complete",
		zap.Int("events_replayed", replayed),
		zap.Uint64("last_sequence", lastSequence),
	)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("SSE client disconnected")
			return

		case env, ok := <-live:
			if !ok {
				sendSSEEvent(w, flusher, sseEventClosed, "", map[string]string{
					"session_id": sessionID,
				})
				return
			}
			if env.Sequence != 0 && env.Sequence <= lastSequence {
				continue
			}
			sendEnvelope(w, flusher, env)
			if env.Sequence != 0 {
				lastSequence = env.Sequence
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, sseEventHeartbeat, "", &model.HeartbeatEvent{
				Timestamp: time.Now().UTC(),
			})
		}
	}
}

func sendEnvelope(w http.ResponseWriter, flusher http.Flusher, env model.Envelope) {
	var id string
	if env.Sequence != 0 {
		id = strconv.FormatUint(env.Sequence, 10)
	}
	sendSSEEvent(w, flusher, string(env.Kind), id, env)
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event, id string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if id != "" {
		fmt.Fprintf(w, "id: %s\n", id)
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
