package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_PublishToChannel(t *testing.T) {
	s := NewStream[int](false)
	ch := make(chan int, 4)
	cancel := s.Subscribe(ch)
	defer cancel()

	s.Publish(1)
	s.Publish(2)
	s.Publish(3)

	require.Len(t, ch, 3)
	assert.Equal(t, 1, <-ch)
	assert.Equal(t, 2, <-ch)
	assert.Equal(t, 3, <-ch)
}

func TestStream_PublishToCallback(t *testing.T) {
	s := NewStream[string](false)

	var mu sync.Mutex
	var received []string
	cancel := s.SubscribeFunc(func(v string) {
		mu.Lock()
		received = append(received, v)
		mu.Unlock()
	})
	defer cancel()

	s.Publish("a")
	s.Publish("b")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, received)
}

func TestStream_CancelStopsDelivery(t *testing.T) {
	s := NewStream[int](false)
	ch := make(chan int, 4)
	cancel := s.Subscribe(ch)

	s.Publish(1)
	cancel()
	s.Publish(2)

	require.Len(t, ch, 1)
	assert.Equal(t, 1, <-ch)
	assert.Equal(t, 0, s.SubscriberCount())
}

func TestStream_CancelTwiceIsNoOp(t *testing.T) {
	s := NewStream[int](false)
	ch1 := make(chan int, 1)
	ch2 := make(chan int, 1)
	cancel1 := s.Subscribe(ch1)
	s.Subscribe(ch2)

	cancel1()
	cancel1()

	assert.Equal(t, 1, s.SubscriberCount())
	s.Publish(7)
	require.Len(t, ch2, 1)
	assert.Equal(t, 7, <-ch2)
	assert.Empty(t, ch1)
}

func TestStream_ReplayLast_NewSubscriberSeesCurrentValue(t *testing.T) {
	s := NewStream[int](true)
	s.Publish(41)
	s.Publish(42)

	ch := make(chan int, 1)
	cancel := s.Subscribe(ch)
	defer cancel()

	require.Len(t, ch, 1)
	assert.Equal(t, 42, <-ch)
}

func TestStream_ReplayLast_NothingPublishedYet(t *testing.T) {
	s := NewStream[int](true)

	ch := make(chan int, 1)
	cancel := s.Subscribe(ch)
	defer cancel()

	assert.Empty(t, ch)
}

func TestStream_NoReplay_NewSubscriberSeesNothing(t *testing.T) {
	s := NewStream[int](false)
	s.Publish(42)

	ch := make(chan int, 1)
	cancel := s.Subscribe(ch)
	defer cancel()

	assert.Empty(t, ch)
}

func TestStream_FullChannelDropsNotBlocks(t *testing.T) {
	s := NewStream[int](false)
	ch := make(chan int, 1)
	cancel := s.Subscribe(ch)
	defer cancel()

	s.Publish(1)
	s.Publish(2) // would block a blocking send

	require.Len(t, ch, 1)
	assert.Equal(t, 1, <-ch)
	assert.Equal(t, uint64(1), s.Dropped())
}

func TestStream_NilSubscriberPanics(t *testing.T) {
	s := NewStream[int](false)
	assert.Panics(t, func() { s.Subscribe(nil) })
	assert.Panics(t, func() { s.SubscribeFunc(nil) })
}

func TestStream_ConcurrentPublishAndSubscribe(t *testing.T) {
	s := NewStream[int](true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Publish(base*100 + j)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ch := make(chan int, 1)
				cancel := s.Subscribe(ch)
				cancel()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, s.SubscriberCount())
}

func TestStream_SubscribeFromCallbackDoesNotDeadlock(t *testing.T) {
	s := NewStream[int](false)
	done := make(chan struct{})
	var once sync.Once
	s.SubscribeFunc(func(int) {
		once.Do(func() {
			ch := make(chan int, 1)
			s.Subscribe(ch)
			close(done)
		})
	})

	s.Publish(1)
	<-done
	assert.Equal(t, 2, s.SubscriberCount())
}
