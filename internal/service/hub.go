package service

import (
	"sync"

	"github.com/capitalize-ai/realtime-relay/internal/model"
)

const defaultSubscriberBuffer = 256

// hub fans envelopes of one session out to live stream subscribers. A
// subscriber whose buffer is full misses the envelope; it can recover it
// through replay by sequence.
type hub struct {
	mu         sync.Mutex
	nextID     int
	subs       map[int]chan model.Envelope
	closed     bool
	bufferSize int
}

func newHub(bufferSize int) *hub {
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBuffer
	}
	return &hub{
		subs:       make(map[int]chan model.Envelope),
		bufferSize: bufferSize,
	}
}

// subscribe registers a subscriber. On a closed hub the returned channel is
// already closed.
func (h *hub) subscribe() (<-chan model.Envelope, func()) {
	ch := make(chan model.Envelope, h.bufferSize)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return ch, func() {}
	}

	h.nextID++
	id := h.nextID
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
}

// broadcast returns how many subscribers missed env.
func (h *hub) broadcast(env model.Envelope) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	dropped := 0
	for _, ch := range h.subs {
		select {
		case ch <- env:
		default:
			dropped++
		}
	}
	return dropped
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
