package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
)

type testEvent struct {
	Value int
}

func TestBus_RejectsNonPointer(t *testing.T) {
	bus := NewBus()

	_, err := bus.Subscribe(testEvent{})
	assert.ErrorIs(t, err, ErrNonPointerType)

	_, err = bus.Emitter(nil)
	assert.ErrorIs(t, err, ErrInvalidEventType)
}

func TestBus_EmitAndReceive(t *testing.T) {
	bus := NewBus()

	sub, err := bus.Subscribe(new(testEvent))
	require.NoError(t, err)
	defer sub.Close()

	em, err := bus.Emitter(new(testEvent))
	require.NoError(t, err)
	defer em.Close()

	require.NoError(t, em.Emit(testEvent{Value: 7}))

	select {
	case evt := <-sub.Out():
		assert.Equal(t, testEvent{Value: 7}, evt)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_DropsWhenBufferFull(t *testing.T) {
	bus := NewBus()

	sub, err := bus.Subscribe(new(testEvent), pkgif.BufSize(1))
	require.NoError(t, err)
	defer sub.Close()

	em, err := bus.Emitter(new(testEvent))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, em.Emit(testEvent{Value: i}))
	}

	assert.Equal(t, int64(4), bus.Dropped(new(testEvent)))
	assert.Equal(t, testEvent{Value: 0}, <-sub.Out())
}

func TestBus_LosslessBlocksUntilDelivered(t *testing.T) {
	bus := NewBus()

	sub, err := bus.Subscribe(new(testEvent), pkgif.BufSize(1), pkgif.Lossless())
	require.NoError(t, err)
	defer sub.Close()

	em, err := bus.Emitter(new(testEvent))
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			_ = em.Emit(testEvent{Value: i})
		}
	}()

	for i := 0; i < 10; i++ {
		select {
		case evt := <-sub.Out():
			assert.Equal(t, testEvent{Value: i}, evt)
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
	wg.Wait()
	assert.Zero(t, bus.Dropped(new(testEvent)))
}

func TestBus_LosslessCloseReleasesEmitter(t *testing.T) {
	bus := NewBus()

	sub, err := bus.Subscribe(new(testEvent), pkgif.BufSize(0), pkgif.Lossless())
	require.NoError(t, err)

	em, err := bus.Emitter(new(testEvent))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = em.Emit(testEvent{Value: 1})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, sub.Close())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emitter still blocked after subscription closed")
	}
}

func TestBus_StatefulEmitter(t *testing.T) {
	bus := NewBus()

	em, err := bus.Emitter(new(testEvent), pkgif.Stateful())
	require.NoError(t, err)
	require.NoError(t, em.Emit(testEvent{Value: 42}))

	sub, err := bus.Subscribe(new(testEvent))
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, testEvent{Value: 42}, <-sub.Out())
}

func TestEmitter_ClosedRejectsEmit(t *testing.T) {
	bus := NewBus()
	em, err := bus.Emitter(new(testEvent))
	require.NoError(t, err)

	require.NoError(t, em.Close())
	require.NoError(t, em.Close())
	assert.ErrorIs(t, em.Emit(testEvent{}), ErrEmitterClosed)
}

func TestSubscription_CloseClosesChannel(t *testing.T) {
	bus := NewBus()
	sub, err := bus.Subscribe(new(testEvent))
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	_, ok := <-sub.Out()
	assert.False(t, ok)

	bus.mu.RLock()
	assert.Empty(t, bus.nodes)
	bus.mu.RUnlock()
}

func TestBus_ConcurrentSubscribeEmit(t *testing.T) {
	bus := NewBus()
	em, err := bus.Emitter(new(testEvent))
	require.NoError(t, err)
	defer em.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub, err := bus.Subscribe(new(testEvent), pkgif.BufSize(4))
			if err != nil {
				return
			}
			time.Sleep(time.Millisecond)
			sub.Close()
		}()
		go func(v int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = em.Emit(testEvent{Value: v*100 + j})
			}
		}(i)
	}
	wg.Wait()
}
