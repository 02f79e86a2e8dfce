package service

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/realtime-relay/internal/model"
	"github.com/capitalize-ai/realtime-relay/internal/realtime"
	"github.com/capitalize-ai/realtime-relay/internal/transport"
	"github.com/capitalize-ai/realtime-relay/pkg/logger"
)

type fakeConn struct {
	in chan []byte

	mu      sync.Mutex
	written [][]byte
	closes  []int
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 64)}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	data, ok := <-c.in
	if !ok {
		return nil, transport.ErrClosed
	}
	return data, nil
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

// Close ends the inbound stream the way a server acknowledging the close
// frame would.
func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	c.closes = append(c.closes, code)
	c.mu.Unlock()
	c.once.Do(func() { close(c.in) })
	return nil
}

func (c *fakeConn) writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

type memoryStore struct {
	mu        sync.Mutex
	envelopes []model.Envelope
	err       error
}

func (s *memoryStore) PublishEnvelope(_ context.Context, env *model.Envelope) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	stored := *env
	stored.Sequence = uint64(len(s.envelopes) + 1)
	s.envelopes = append(s.envelopes, stored)
	return stored.Sequence, nil
}

func (s *memoryStore) Events(_ context.Context, tenantID, sessionID string, after uint64, limit int) ([]model.Envelope, uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Envelope
	var last uint64
	for _, env := range s.envelopes {
		if env.TenantID != tenantID || env.SessionID != sessionID || env.Sequence <= after {
			continue
		}
		if len(out) == limit {
			return out, last, true, nil
		}
		out = append(out, env)
		last = env.Sequence
	}
	return out, last, false, nil
}

type fakeBus struct {
	mu       sync.Mutex
	handlers map[string]func([]byte)
	stopped  map[string]bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: map[string]func([]byte){}, stopped: map[string]bool{}}
}

func (b *fakeBus) SubscribeOutbound(tenantID, sessionID string, handler func([]byte)) (func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[sessionID] = handler
	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.stopped[sessionID] = true
		return nil
	}, nil
}

func (b *fakeBus) deliver(sessionID string, data []byte) {
	b.mu.Lock()
	h := b.handlers[sessionID]
	b.mu.Unlock()
	h(data)
}

func (b *fakeBus) isStopped(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped[sessionID]
}

type harness struct {
	svc   *SessionService
	store *memoryStore
	bus   *fakeBus

	mu      sync.Mutex
	conns   []*fakeConn
	targets []string
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{store: &memoryStore{}, bus: newFakeBus()}

	connect := func(ctx context.Context, target string, opts ...realtime.Option) (*realtime.Relay, error) {
		conn := newFakeConn()
		h.mu.Lock()
		h.conns = append(h.conns, conn)
		h.targets = append(h.targets, target)
		h.mu.Unlock()

		dialer := transport.DialerFunc(func(context.Context, string, http.Header) (transport.Conn, error) {
			return conn, nil
		})
		opts = append(opts, realtime.WithDialer(dialer))
		return realtime.New(ctx, realtime.NewClient("sk-test"), realtime.Params{Model: target}, opts...)
	}

	h.svc = NewSessionService(connect, h.store, h.bus, "gpt-4o-realtime-preview", logger.Nop(), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.svc.Shutdown(ctx)
	})
	return h
}

func (h *harness) conn(i int) *fakeConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[i]
}

func waitClosed(t *testing.T, svc *SessionService, tenantID, id string) *model.Session {
	t.Helper()
	var sess *model.Session
	require.Eventually(t, func() bool {
		var err error
		sess, err = svc.Get(context.Background(), tenantID, id)
		return err == nil && sess.Status == model.SessionStatusClosed
	}, 2*time.Second, 10*time.Millisecond)
	return sess
}

func TestSessionService_OpenDefaultsModel(t *testing.T) {
	h := newHarness(t)

	sess, err := h.svc.Open(context.Background(), "tenant-1", "user-1", &model.CreateSessionRequest{})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-realtime-preview", sess.Model)
	assert.Equal(t, model.SessionStatusOpen, sess.Status)
	assert.Equal(t, "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview", sess.URL)
	assert.NotEmpty(t, sess.ID)

	sess2, err := h.svc.Open(context.Background(), "tenant-1", "user-1", &model.CreateSessionRequest{Model: "gpt-4o-mini-realtime-preview"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini-realtime-preview", sess2.Model)
}

func TestSessionService_OpenConnectFailure(t *testing.T) {
	dialErr := errors.New("handshake rejected")
	connect := func(context.Context, string, ...realtime.Option) (*realtime.Relay, error) {
		return nil, dialErr
	}
	svc := NewSessionService(connect, nil, nil, "m", logger.Nop())

	_, err := svc.Open(context.Background(), "t", "u", &model.CreateSessionRequest{})
	assert.ErrorIs(t, err, dialErr)

	list, err := svc.List(context.Background(), "t", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, list.Total)
}

func TestSessionService_EventsPersistedAndStreamed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess, err := h.svc.Open(ctx, "t", "u", &model.CreateSessionRequest{})
	require.NoError(t, err)

	live, cancel, err := h.svc.Subscribe("t", sess.ID)
	require.NoError(t, err)
	defer cancel()

	conn := h.conn(0)
	conn.in <- []byte(`{"type":"session.created","event_id":"e1"}`)
	conn.in <- []byte(`{"type":"error","event_id":"e2","error":{"message":"Bad","code":"c"}}`)
	conn.in <- []byte(`{"type":"response.done","event_id":"e3"}`)

	var got []model.Envelope
	for i := 0; i < 4; i++ {
		select {
		case env := <-live:
			got = append(got, env)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d envelopes", len(got))
		}
	}

	// The error frame reaches the catch-all before its synthesized error.
	assert.Equal(t, "session.created", got[0].Type)
	assert.Equal(t, model.EnvelopeKindEvent, got[1].Kind)
	assert.Equal(t, "error", got[1].Type)
	assert.Equal(t, model.EnvelopeKindError, got[2].Kind)
	assert.Equal(t, "response.done", got[3].Type)
	for i, env := range got {
		assert.Equal(t, uint64(i+1), env.Sequence)
		assert.Equal(t, sess.ID, env.SessionID)
	}

	var relayErr model.RelayError
	require.NoError(t, json.Unmarshal(got[2].Payload, &relayErr))
	assert.Equal(t, "Bad code=c param= type= event_id=", relayErr.Message)
	assert.Equal(t, "e2", relayErr.EventID)

	info, err := h.svc.Get(ctx, "t", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, info.EventsIn)
	assert.Equal(t, relayErr.Message, info.LastError)

	replay, err := h.svc.Replay(ctx, "t", sess.ID, 2, 10)
	require.NoError(t, err)
	require.Len(t, replay.Events, 2)
	assert.Equal(t, uint64(4), replay.LastSequence)
	assert.False(t, replay.HasMore)
}

func TestSessionService_StoreFailureStillStreams(t *testing.T) {
	h := newHarness(t)
	h.store.err = errors.New("jetstream unavailable")

	sess, err := h.svc.Open(context.Background(), "t", "u", &model.CreateSessionRequest{})
	require.NoError(t, err)
	live, cancel, err := h.svc.Subscribe("t", sess.ID)
	require.NoError(t, err)
	defer cancel()

	h.conn(0).in <- []byte(`{"type":"session.created"}`)

	select {
	case env := <-live:
		assert.Zero(t, env.Sequence)
		assert.Equal(t, "session.created", env.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope")
	}
}

func TestSessionService_Send(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess, err := h.svc.Open(ctx, "t", "u", &model.CreateSessionRequest{})
	require.NoError(t, err)

	require.NoError(t, h.svc.Send(ctx, "t", sess.ID, []byte(`{"type":"response.create"}`)))
	assert.ErrorIs(t, h.svc.Send(ctx, "t", sess.ID, []byte(`{"no":"type"}`)), model.ErrInvalidEvent)
	assert.ErrorIs(t, h.svc.Send(ctx, "other", sess.ID, []byte(`{"type":"x"}`)), ErrSessionNotFound)

	writes := h.conn(0).writes()
	require.Len(t, writes, 1)
	assert.JSONEq(t, `{"type":"response.create"}`, string(writes[0]))

	info, err := h.svc.Get(ctx, "t", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, info.EventsOut)
}

func TestSessionService_OutboundBridge(t *testing.T) {
	h := newHarness(t)

	sess, err := h.svc.Open(context.Background(), "t", "u", &model.CreateSessionRequest{})
	require.NoError(t, err)

	h.bus.deliver(sess.ID, []byte(`{"type":"input_audio_buffer.commit"}`))

	writes := h.conn(0).writes()
	require.Len(t, writes, 1)
	assert.JSONEq(t, `{"type":"input_audio_buffer.commit"}`, string(writes[0]))
}

func TestSessionService_Close(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess, err := h.svc.Open(ctx, "t", "u", &model.CreateSessionRequest{})
	require.NoError(t, err)
	live, _, err := h.svc.Subscribe("t", sess.ID)
	require.NoError(t, err)

	require.NoError(t, h.svc.Close(ctx, "t", sess.ID, 4000, "done"))

	closed := waitClosed(t, h.svc, "t", sess.ID)
	require.NotNil(t, closed.ClosedAt)
	assert.Equal(t, []int{4000}, h.conn(0).closes)
	assert.True(t, h.bus.isStopped(sess.ID))

	_, ok := <-live
	assert.False(t, ok, "subscribers are released when the session ends")

	assert.ErrorIs(t, h.svc.Close(ctx, "t", sess.ID, 0, ""), ErrSessionClosed)
	assert.ErrorIs(t, h.svc.Send(ctx, "t", sess.ID, []byte(`{"type":"x"}`)), ErrSessionClosed)

	late, cancel, err := h.svc.Subscribe("t", sess.ID)
	require.NoError(t, err)
	defer cancel()
	_, ok = <-late
	assert.False(t, ok)
}

func TestSessionService_TenantIsolation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess, err := h.svc.Open(ctx, "t1", "u", &model.CreateSessionRequest{})
	require.NoError(t, err)

	_, err = h.svc.Get(ctx, "t2", sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, _, err = h.svc.Subscribe("t2", sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = h.svc.Replay(ctx, "t2", sess.ID, 0, 10)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, h.svc.Close(ctx, "t2", sess.ID, 0, ""), ErrSessionNotFound)
}

func TestSessionService_List(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.svc.Open(ctx, "t", "u", &model.CreateSessionRequest{})
		require.NoError(t, err)
	}
	_, err := h.svc.Open(ctx, "other", "u", &model.CreateSessionRequest{})
	require.NoError(t, err)

	page, err := h.svc.List(ctx, "t", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Sessions, 2)
	assert.True(t, page.HasMore)

	page, err = h.svc.List(ctx, "t", 2, 2)
	require.NoError(t, err)
	assert.Len(t, page.Sessions, 1)
	assert.False(t, page.HasMore)

	page, err = h.svc.List(ctx, "t", -1, -5)
	require.NoError(t, err)
	assert.Len(t, page.Sessions, 3, "out of range paging is clamped")

	page, err = h.svc.List(ctx, "t", math.MaxInt, 1)
	require.NoError(t, err)
	assert.Len(t, page.Sessions, 2)
}

func TestSessionService_ClosedSessionsEvicted(t *testing.T) {
	h := newHarness(t, WithClosedRetention(200*time.Millisecond))
	ctx := context.Background()

	sess, err := h.svc.Open(ctx, "t", "u", &model.CreateSessionRequest{})
	require.NoError(t, err)
	open, err := h.svc.Open(ctx, "t", "u", &model.CreateSessionRequest{})
	require.NoError(t, err)

	require.NoError(t, h.svc.Close(ctx, "t", sess.ID, 0, ""))
	waitClosed(t, h.svc, "t", sess.ID)

	require.Eventually(t, func() bool {
		_, err := h.svc.Get(ctx, "t", sess.ID)
		return errors.Is(err, ErrSessionNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	page, err := h.svc.List(ctx, "t", 10, 0)
	require.NoError(t, err)
	require.Len(t, page.Sessions, 1)
	assert.Equal(t, open.ID, page.Sessions[0].ID, "open sessions are kept")
}

func TestSessionService_ZeroRetentionEvictsOnClose(t *testing.T) {
	h := newHarness(t, WithClosedRetention(0))
	ctx := context.Background()

	sess, err := h.svc.Open(ctx, "t", "u", &model.CreateSessionRequest{})
	require.NoError(t, err)
	require.NoError(t, h.svc.Close(ctx, "t", sess.ID, 0, ""))

	require.Eventually(t, func() bool {
		_, err := h.svc.Get(ctx, "t", sess.ID)
		return errors.Is(err, ErrSessionNotFound)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionService_Shutdown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess, err := h.svc.Open(ctx, "t", "u", &model.CreateSessionRequest{})
	require.NoError(t, err)

	require.NoError(t, h.svc.Shutdown(ctx))
	assert.Equal(t, []int{closeGoingAway}, h.conn(0).closes)
	waitClosed(t, h.svc, "t", sess.ID)
}
