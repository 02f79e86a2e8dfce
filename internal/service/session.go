// Package service provides business logic for the realtime relay.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-relay/internal/model"
	"github.com/capitalize-ai/realtime-relay/internal/realtime"
	"github.com/capitalize-ai/realtime-relay/pkg/logger"
	"github.com/capitalize-ai/realtime-relay/pkg/metrics"
)

var (
	// ErrSessionNotFound is returned for unknown ids and for sessions of
	// another tenant.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned when sending to or closing a closed session.
	ErrSessionClosed = errors.New("session is closed")
)

const (
	publishTimeout = 5 * time.Second
	closeGoingAway = 1001

	// DefaultClosedRetention is how long a closed session stays visible.
	DefaultClosedRetention = 15 * time.Minute

	defaultListLimit = 20
)

// Connector opens a relay to target, a model or an Azure deployment.
type Connector func(ctx context.Context, target string, opts ...realtime.Option) (*realtime.Relay, error)

// OpenAIConnector connects through the standard realtime endpoint.
func OpenAIConnector(client *realtime.Client) Connector {
	return func(ctx context.Context, target string, opts ...realtime.Option) (*realtime.Relay, error) {
		return realtime.New(ctx, client, realtime.Params{Model: target}, opts...)
	}
}

// AzureConnector connects to Azure OpenAI, treating target as the deployment.
func AzureConnector(client realtime.AzureCredentials) Connector {
	return func(ctx context.Context, target string, opts ...realtime.Option) (*realtime.Relay, error) {
		return realtime.NewAzure(ctx, client, realtime.AzureParams{DeploymentName: target}, opts...)
	}
}

// EventStore persists envelopes and replays them by sequence.
type EventStore interface {
	PublishEnvelope(ctx context.Context, env *model.Envelope) (uint64, error)
	Events(ctx context.Context, tenantID, sessionID string, afterSequence uint64, limit int) ([]model.Envelope, uint64, bool, error)
}

// OutboundBus delivers client events published by other services.
type OutboundBus interface {
	SubscribeOutbound(tenantID, sessionID string, handler func(data []byte)) (func() error, error)
}

type session struct {
	id       string
	tenantID string
	relay    *realtime.Relay
	hub      *hub
	logger   *logger.Logger

	mu          sync.Mutex
	info        model.Session
	unsubscribe func() error
}

func (s *session) snapshot() model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.info
	return out
}

func (s *session) isOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.Status == model.SessionStatusOpen
}

// SessionService owns one relay per session.
type SessionService struct {
	connect      Connector
	store        EventStore
	bus          OutboundBus
	defaultModel string
	logger       *logger.Logger
	retention    time.Duration

	sessions map[string]*session
	mu       sync.RWMutex
}

// Option configures a SessionService.
type Option func(*SessionService)

// WithClosedRetention sets how long closed sessions remain listed before
// they are dropped. Zero or less drops them as soon as they close.
func WithClosedRetention(d time.Duration) Option {
	return func(s *SessionService) {
		s.retention = d
	}
}

// NewSessionService creates a new session service. store and bus may be nil.
func NewSessionService(
	connect Connector,
	store EventStore,
	bus OutboundBus,
	defaultModel string,
	log *logger.Logger,
	opts ...Option,
) *SessionService {
	s := &SessionService{
		connect:      connect,
		store:        store,
		bus:          bus,
		defaultModel: defaultModel,
		logger:       log,
		retention:    DefaultClosedRetention,
		sessions:     make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects a new relay and registers it as a session.
func (s *SessionService) Open(ctx context.Context, tenantID, userID string, req *model.CreateSessionRequest) (*model.Session, error) {
	target := req.Model
	if target == "" {
		target = s.defaultModel
	}

	id := uuid.Must(uuid.NewV7()).String()
	log := s.logger.WithSession(tenantID, id)

	sess := &session{
		id:       id,
		tenantID: tenantID,
		hub:      newHub(defaultSubscriberBuffer),
		logger:   log,
		info: model.Session{
			ID:        id,
			TenantID:  tenantID,
			UserID:    userID,
			Model:     target,
			Status:    model.SessionStatusOpen,
			CreatedAt: time.Now().UTC(),
			Metadata:  req.Metadata,
		},
	}

	relay, err := s.connect(ctx, target,
		realtime.WithLogger(log),
		realtime.WithListener(realtime.ChannelEvent, func(ev *model.ServerEvent) {
			s.onEvent(sess, ev)
		}),
		realtime.WithErrorListener(func(e *realtime.Error) {
			s.onRelayError(sess, e)
		}),
	)
	if err != nil {
		log.Error("failed to open realtime session", zap.String("model", target), zap.Error(err))
		return nil, fmt.Errorf("failed to open realtime session: %w", err)
	}

	sess.relay = relay
	sess.mu.Lock()
	sess.info.URL = relay.URL().String()
	sess.mu.Unlock()

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	if s.bus != nil {
		unsubscribe, err := s.bus.SubscribeOutbound(tenantID, id, func(data []byte) {
			if err := s.Send(context.Background(), tenantID, id, data); err != nil {
				log.Warn("dropped outbound event", zap.Error(err))
			}
		})
		if err != nil {
			log.Warn("outbound bridge unavailable", zap.Error(err))
		} else {
			sess.mu.Lock()
			sess.unsubscribe = unsubscribe
			sess.mu.Unlock()
		}
	}

	go s.watch(sess)

	metrics.SessionsTotal.WithLabelValues(tenantID).Inc()
	log.Info("realtime session opened",
		zap.String("user_id", userID),
		zap.String("model", target),
		zap.String("relay_id", relay.ID()),
	)

	info := sess.snapshot()
	return &info, nil
}

// watch marks the session closed once its relay stops and schedules its
// removal after the retention period.
func (s *SessionService) watch(sess *session) {
	<-sess.relay.Done()

	now := time.Now().UTC()
	sess.mu.Lock()
	sess.info.Status = model.SessionStatusClosed
	sess.info.ClosedAt = &now
	unsubscribe := sess.unsubscribe
	sess.unsubscribe = nil
	sess.mu.Unlock()

	if unsubscribe != nil {
		if err := unsubscribe(); err != nil {
			sess.logger.Warn("failed to stop outbound bridge", zap.Error(err))
		}
	}
	sess.hub.close()

	sess.logger.Info("realtime session closed")

	if s.retention <= 0 {
		s.evict(sess)
		return
	}
	time.AfterFunc(s.retention, func() { s.evict(sess) })
}

func (s *SessionService) evict(sess *session) {
	s.mu.Lock()
	if s.sessions[sess.id] == sess {
		delete(s.sessions, sess.id)
	}
	s.mu.Unlock()
	sess.logger.Debug("closed session evicted")
}

func (s *SessionService) onEvent(sess *session, ev *model.ServerEvent) {
	sess.mu.Lock()
	sess.info.EventsIn++
	sess.mu.Unlock()

	s.publish(sess, &model.Envelope{
		Kind:      model.EnvelopeKindEvent,
		TenantID:  sess.tenantID,
		SessionID: sess.id,
		Type:      ev.Type,
		Payload:   ev.Raw,
		CreatedAt: time.Now().UTC(),
	})
}

func (s *SessionService) onRelayError(sess *session, e *realtime.Error) {
	relayErr := model.RelayError{
		Message: e.Message,
		EventID: e.EventID,
		Detail:  e.Detail,
	}
	if e.Cause != nil {
		relayErr.Cause = e.Cause.Error()
	}

	payload, err := json.Marshal(relayErr)
	if err != nil {
		sess.logger.Error("failed to marshal relay error", zap.Error(err))
		return
	}

	sess.mu.Lock()
	sess.info.LastError = e.Message
	sess.mu.Unlock()

	sess.logger.Warn("realtime relay error",
		zap.String("message", e.Message),
		zap.String("event_id", e.EventID),
		zap.NamedError("cause", e.Cause),
	)

	s.publish(sess, &model.Envelope{
		Kind:      model.EnvelopeKindError,
		TenantID:  sess.tenantID,
		SessionID: sess.id,
		Type:      model.EventTypeError,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
}

// publish runs on the relay's dispatch goroutine, so envelopes are stored
// and broadcast in arrival order.
func (s *SessionService) publish(sess *session, env *model.Envelope) {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		seq, err := s.store.PublishEnvelope(ctx, env)
		cancel()
		if err != nil {
			sess.logger.Warn("failed to persist envelope", zap.String("type", env.Type), zap.Error(err))
		} else {
			env.Sequence = seq
		}
	}

	if dropped := sess.hub.broadcast(*env); dropped > 0 {
		metrics.RecordError("subscriber_overflow")
		sess.logger.Warn("slow stream subscribers missed an event",
			zap.Int("dropped", dropped),
			zap.Uint64("sequence", env.Sequence),
		)
	}
}

func (s *SessionService) lookup(tenantID, id string) (*session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok || sess.tenantID != tenantID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Get retrieves a session by ID.
func (s *SessionService) Get(ctx context.Context, tenantID, id string) (*model.Session, error) {
	sess, err := s.lookup(tenantID, id)
	if err != nil {
		return nil, err
	}
	info := sess.snapshot()
	return &info, nil
}

// List retrieves sessions for a tenant, newest first. A non-positive limit
// uses the default page size and a negative offset starts at zero.
func (s *SessionService) List(ctx context.Context, tenantID string, limit, offset int) (*model.ListSessionsResponse, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	var sessions []model.Session
	for _, sess := range s.sessions {
		if sess.tenantID == tenantID {
			sessions = append(sessions, sess.snapshot())
		}
	}
	s.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})

	total := len(sessions)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total || end < start {
		end = total
	}

	return &model.ListSessionsResponse{
		Sessions: sessions[start:end],
		Total:    total,
		HasMore:  end < total,
	}, nil
}

// Send validates raw as a client event and relays it.
func (s *SessionService) Send(ctx context.Context, tenantID, id string, raw []byte) error {
	sess, err := s.lookup(tenantID, id)
	if err != nil {
		return err
	}
	if !sess.isOpen() {
		return ErrSessionClosed
	}

	event, err := model.NewRawEvent(raw)
	if err != nil {
		return err
	}

	sess.relay.Send(event)

	sess.mu.Lock()
	sess.info.EventsOut++
	sess.mu.Unlock()
	return nil
}

// Close asks the session's relay to close. The session is marked closed
// once the connection has shut down.
func (s *SessionService) Close(ctx context.Context, tenantID, id string, code int, reason string) error {
	sess, err := s.lookup(tenantID, id)
	if err != nil {
		return err
	}
	if !sess.isOpen() {
		return ErrSessionClosed
	}

	sess.relay.Close(&realtime.CloseParams{Code: code, Reason: reason})
	sess.logger.Info("realtime session close requested", zap.Int("code", code), zap.String("reason", reason))
	return nil
}

// Subscribe returns live envelopes of a session. The channel is closed when
// the session ends or cancel is called.
func (s *SessionService) Subscribe(tenantID, id string) (<-chan model.Envelope, func(), error) {
	sess, err := s.lookup(tenantID, id)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := sess.hub.subscribe()
	return ch, cancel, nil
}

// Replay returns stored envelopes after afterSequence.
func (s *SessionService) Replay(ctx context.Context, tenantID, id string, afterSequence uint64, limit int) (*model.ListEventsResponse, error) {
	if _, err := s.lookup(tenantID, id); err != nil {
		return nil, err
	}
	if s.store == nil {
		return &model.ListEventsResponse{Events: []model.Envelope{}, LastSequence: afterSequence}, nil
	}

	events, last, hasMore, err := s.store.Events(ctx, tenantID, id, afterSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to replay events: %w", err)
	}
	if events == nil {
		events = []model.Envelope{}
	}
	if last == 0 {
		last = afterSequence
	}

	return &model.ListEventsResponse{
		Events:       events,
		HasMore:      hasMore,
		LastSequence: last,
	}, nil
}

// Shutdown closes every open session and waits for their relays to stop.
func (s *SessionService) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	var open []*session
	for _, sess := range s.sessions {
		if sess.isOpen() {
			open = append(open, sess)
		}
	}
	s.mu.RUnlock()

	for _, sess := range open {
		sess.relay.Close(&realtime.CloseParams{Code: closeGoingAway, Reason: "server shutting down"})
	}
	for _, sess := range open {
		select {
		case <-sess.relay.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
