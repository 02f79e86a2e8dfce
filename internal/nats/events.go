package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/realtime-relay/internal/model"
	"github.com/capitalize-ai/realtime-relay/pkg/metrics"
)

const (
	// StreamName is the name of the realtime events stream.
	StreamName = "REALTIME"

	// SubjectPrefix is the prefix for all realtime subjects.
	SubjectPrefix = "rt"

	unknownType = "unknown"
)

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// token makes s safe to use as a single subject token.
func token(s string) string {
	if s == "" {
		return unknownType
	}
	return tokenReplacer.Replace(s)
}

// InboundSubject returns the subject for a relayed server event. Event types
// are dotted, so they span several subject tokens.
func InboundSubject(tenantID, sessionID, eventType string) string {
	if eventType == "" || strings.ContainsAny(eventType, "*> ") {
		eventType = unknownType
	}
	return fmt.Sprintf("%s.%s.%s.in.%s", SubjectPrefix, token(tenantID), token(sessionID), eventType)
}

// ErrorSubject returns the subject for relay errors of a session.
func ErrorSubject(tenantID, sessionID string) string {
	return fmt.Sprintf("%s.%s.%s.err", SubjectPrefix, token(tenantID), token(sessionID))
}

// OutboundSubject returns the subject other services publish client events
// on to drive a session.
func OutboundSubject(tenantID, sessionID string) string {
	return fmt.Sprintf("%s.%s.%s.out", SubjectPrefix, token(tenantID), token(sessionID))
}

// EnvelopeSubject returns where env is stored.
func EnvelopeSubject(env *model.Envelope) string {
	if env.Kind == model.EnvelopeKindError {
		return ErrorSubject(env.TenantID, env.SessionID)
	}
	return InboundSubject(env.TenantID, env.SessionID, env.Type)
}

// EventStream stores relay envelopes in JetStream and carries outbound
// client events over core NATS.
type EventStream struct {
	client *Client
}

// NewEventStream creates a new event stream.
func NewEventStream(client *Client) *EventStream {
	return &EventStream{client: client}
}

// EnsureStream ensures the realtime stream exists with proper configuration.
func (s *EventStream) EnsureStream(ctx context.Context) error {
	js := s.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Realtime session events and relay errors",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// PublishEnvelope stores env and returns its stream sequence.
func (s *EventStream) PublishEnvelope(ctx context.Context, env *model.Envelope) (uint64, error) {
	data, err := json.Marshal(env)
	if err != nil {
		metrics.NATSEventsPublished.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	ack, err := s.client.JetStream().Publish(ctx, EnvelopeSubject(env), data)
	if err != nil {
		metrics.NATSEventsPublished.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to publish envelope: %w", err)
	}

	metrics.NATSEventsPublished.WithLabelValues("ok").Inc()
	return ack.Sequence, nil
}

// Events returns stored envelopes of a session after afterSequence.
func (s *EventStream) Events(ctx context.Context, tenantID, sessionID string, afterSequence uint64, limit int) ([]model.Envelope, uint64, bool, error) {
	js := s.client.JetStream()

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubjects: []string{
			fmt.Sprintf("%s.%s.%s.in.>", SubjectPrefix, token(tenantID), token(sessionID)),
			ErrorSubject(tenantID, sessionID),
		},
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: time.Minute,
	}

	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := js.CreateConsumer(ctx, StreamName, consumerConfig)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}
	defer func() {
		_ = js.DeleteConsumer(context.WithoutCancel(ctx), StreamName, consumer.CachedInfo().Name)
	}()

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch events: %w", err)
	}

	var (
		envelopes    []model.Envelope
		lastSequence uint64
	)
	for msg := range batch.Messages() {
		var env model.Envelope
		if err := json.Unmarshal(msg.Data(), &env); err != nil {
			continue
		}

		if meta, err := msg.Metadata(); err == nil {
			env.Sequence = meta.Sequence.Stream
			lastSequence = meta.Sequence.Stream
		}

		envelopes = append(envelopes, env)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, nats.ErrTimeout) {
		return nil, 0, false, fmt.Errorf("batch error: %w", err)
	}

	hasMore := len(envelopes) == limit

	return envelopes, lastSequence, hasMore, nil
}

// SubscribeOutbound delivers payloads published on the session's outbound
// subject to handler. The returned function unsubscribes.
func (s *EventStream) SubscribeOutbound(tenantID, sessionID string, handler func(data []byte)) (func() error, error) {
	sub, err := s.client.Conn().Subscribe(OutboundSubject(tenantID, sessionID), func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to outbound subject: %w", err)
	}
	return sub.Unsubscribe, nil
}
