package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_FiltersByName(t *testing.T) {
	bus := NewBus(nil)
	pool := bus.Subscribe(PoolEnqueued, PoolDequeued)
	all := bus.Subscribe()

	bus.Post(PoolEnqueued, "a")
	bus.Post(PreRenderReady, "b")

	require.Len(t, pool.C(), 1)
	ev := <-pool.C()
	assert.Equal(t, PoolEnqueued, ev.Name)
	assert.Equal(t, "a", ev.Payload)
	assert.False(t, ev.Time.IsZero())

	assert.Len(t, all.C(), 2)
}

func TestBus_DropsWhenFull(t *testing.T) {
	bus := NewBus(nil).WithBufferSize(2)
	sub := bus.Subscribe()

	for range 5 {
		bus.Post(PoolCleared, nil)
	}

	assert.Len(t, sub.C(), 2)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe()
	require.Equal(t, 1, bus.SubscriberCount())

	sub.Unsubscribe()
	sub.Unsubscribe()

	assert.Equal(t, 0, bus.SubscriberCount())
	_, open := <-sub.C()
	assert.False(t, open)

	bus.Post(PoolCleared, nil)
}

func TestBus_Close(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe()

	bus.Close()
	bus.Post(PoolCleared, nil)

	_, open := <-sub.C()
	assert.False(t, open)

	late := bus.Subscribe()
	_, open = <-late.C()
	assert.False(t, open)
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() { Nop.Post(PoolCleared, nil) })
}
