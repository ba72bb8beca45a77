package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSubscriber hands out channels the test can feed directly.
type fakeSubscriber struct {
	mu       sync.Mutex
	channels map[string]chan []byte
	canceled map[string]bool
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{
		channels: make(map[string]chan []byte),
		canceled: make(map[string]bool),
	}
}

func (f *fakeSubscriber) Subscribe(_ context.Context, channel string) (<-chan []byte, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan []byte, 8)
	f.channels[channel] = ch
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.canceled[channel] {
			f.canceled[channel] = true
			close(ch)
		}
	}
}

func (f *fakeSubscriber) publish(channel string, payload []byte) {
	f.mu.Lock()
	ch := f.channels[channel]
	f.mu.Unlock()
	ch <- payload
}

func (f *fakeSubscriber) isCanceled(channel string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canceled[channel]
}

func recv(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for payload")
		return nil
	}
}

func TestHubRoomsAreIsolated(t *testing.T) {
	sub := newFakeSubscriber()
	hub := NewHub(sub)

	a := &Client{SchoolID: 1, Send: make(chan []byte, 4)}
	b := &Client{SchoolID: 1, Send: make(chan []byte, 4)}
	other := &Client{SchoolID: 2, Send: make(chan []byte, 4)}
	hub.Join(a)
	hub.Join(b)
	hub.Join(other)

	sub.publish(RoomChannel(1), []byte(`{"kind":"added"}`))

	assert.Equal(t, `{"kind":"added"}`, string(recv(t, a.Send)))
	assert.Equal(t, `{"kind":"added"}`, string(recv(t, b.Send)))
	select {
	case <-other.Send:
		t.Fatal("school 2 viewer received a school 1 event")
	case <-time.After(50 * time.Millisecond):
	}

	hub.Leave(a)
	hub.Leave(b)
	hub.Leave(other)
}

func TestHubSubscribesPerRoomOnce(t *testing.T) {
	sub := newFakeSubscriber()
	hub := NewHub(sub)

	a := &Client{SchoolID: 1, Send: make(chan []byte, 4)}
	b := &Client{SchoolID: 1, Send: make(chan []byte, 4)}
	hub.Join(a)
	hub.Join(b)

	sub.mu.Lock()
	n := len(sub.channels)
	sub.mu.Unlock()
	assert.Equal(t, 1, n, "one subscription per room, not per viewer")

	// The subscription is released only when the last viewer leaves.
	hub.Leave(a)
	assert.False(t, sub.isCanceled(RoomChannel(1)))
	hub.Leave(b)
	assert.True(t, sub.isCanceled(RoomChannel(1)))
}

func TestHubDropsSlowViewers(t *testing.T) {
	sub := newFakeSubscriber()
	hub := NewHub(sub)

	slow := &Client{SchoolID: 1, Send: make(chan []byte)} // unbuffered, never read
	hub.Join(slow)

	sub.publish(RoomChannel(1), []byte("x"))

	// The dispatch drops the stuck viewer and, as the room is now
	// empty, releases the subscription.
	require.Eventually(t, func() bool {
		return sub.isCanceled(RoomChannel(1))
	}, time.Second, 10*time.Millisecond)

	_, open := <-slow.Send
	assert.False(t, open, "dropped viewer's Send channel is closed")

	// Leave after drop must not double-close.
	hub.Leave(slow)
}

func TestHubLeaveUnknownClient(t *testing.T) {
	sub := newFakeSubscriber()
	hub := NewHub(sub)
	// Leaving a client that never joined is a no-op.
	hub.Leave(&Client{SchoolID: 9, Send: make(chan []byte, 1)})
}
