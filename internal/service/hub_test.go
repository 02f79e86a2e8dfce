package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/realtime-relay/internal/model"
)

func TestHub_BroadcastInOrder(t *testing.T) {
	h := newHub(8)
	ch, cancel := h.subscribe()
	defer cancel()

	for i := 1; i <= 3; i++ {
		assert.Zero(t, h.broadcast(model.Envelope{Sequence: uint64(i)}))
	}
	for i := 1; i <= 3; i++ {
		assert.Equal(t, uint64(i), (<-ch).Sequence)
	}
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	h := newHub(1)
	slow, cancelSlow := h.subscribe()
	defer cancelSlow()

	assert.Zero(t, h.broadcast(model.Envelope{Sequence: 1}))
	assert.Equal(t, 1, h.broadcast(model.Envelope{Sequence: 2}))
	assert.Equal(t, uint64(1), (<-slow).Sequence)
}

func TestHub_CancelAndClose(t *testing.T) {
	h := newHub(4)
	a, cancelA := h.subscribe()
	b, _ := h.subscribe()
	assert.Equal(t, 2, h.count())

	cancelA()
	cancelA()
	_, ok := <-a
	assert.False(t, ok)
	assert.Equal(t, 1, h.count())

	h.close()
	h.close()
	_, ok = <-b
	assert.False(t, ok)
	assert.Zero(t, h.count())

	late, cancelLate := h.subscribe()
	cancelLate()
	_, ok = <-late
	assert.False(t, ok)
}
