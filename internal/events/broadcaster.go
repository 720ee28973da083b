// Package events provides an SSE event broadcaster for tree changes.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fruitsalade/linkdrop/internal/metrics"
	"github.com/fruitsalade/linkdrop/pkg/protocol"
)

const (
	EventCopy   = "copy"
	EventUpload = "upload"
)

// Event is a tree change addressed to one user.
type Event struct {
	UserID string
	protocol.TreeEvent
}

type subscriber struct {
	userID string
}

// Broadcaster manages SSE subscribers and publishes events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]subscriber
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]subscriber),
	}
}

// Subscribe adds a subscriber for userID's events and returns its channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe(userID string) chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = subscriber{userID: userID}
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(b.Count()))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(b.Count()))
}

// Publish sends an event to the subscribers of its user. Non-blocking: drops
// events for slow consumers.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, sub := range b.subscribers {
		if sub.userID != event.UserID {
			continue
		}
		select {
		case ch <- event:
		default:
			// Drop event for slow consumer
		}
	}
	metrics.RecordSSEEvent(event.Type)
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalEvent serializes the wire part of an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e.TreeEvent)
}
