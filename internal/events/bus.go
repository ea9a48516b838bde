// Package events provides the in-process event bus and the localhost
// WebSocket hub that push sync state to the UI.
package events

import (
	"sync"
	"time"
)

// Event types published on the bus.
const (
	EventSavedOffline = "queue.saved_offline"
	EventQueueChanged = "queue.changed"

	EventSyncStarted   = "sync.started"
	EventSyncCompleted = "sync.completed"
	EventSyncPartial   = "sync.partial"

	EventConnectivityChanged = "connectivity.changed"

	EventToast = "ui.toast"
)

// Event is one bus message. Data carries event-specific fields.
type Event struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// Bus is a fan-out event bus. Subscribers receive every published event on
// a buffered channel; a subscriber that falls behind loses events rather
// than blocking publishers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

// NewBus creates a new Bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]chan Event),
	}
}

// Subscribe registers a new subscriber. The returned cancel function must
// be called to release the subscription.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan Event, 64)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}

	return ch, cancel
}

// Publish delivers an event to all current subscribers.
func (b *Bus) Publish(eventType string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Subscriber buffer is full, drop the event for that subscriber.
		}
	}
}
