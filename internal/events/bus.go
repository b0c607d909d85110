// Package events is an in-process publish/subscribe bus used to push
// progress to connected clients (chat tokens, download progress,
// system stats, finished tasks).
package events

import (
	"sync"
	"time"
)

// Event names published across the application.
const (
	ChatCreated      = "chat-created"
	ChatToken        = "chat-token"
	ChatError        = "chat-error"
	DownloadProgress = "download-progress"
	SystemStats      = "system-stats"
	TaskFinished     = "task-finished"
)

// Event is one published notification.
type Event struct {
	Name    string    `json:"name"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// subscriberBuffer bounds per-subscriber backlog; a slow subscriber
// loses events rather than blocking publishers.
const subscriberBuffer = 64

// Bus fans events out to subscribers.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener. The returned cancel func must be
// called to release it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
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

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(name string, payload any) {
	ev := Event{Name: name, Payload: payload, At: time.Now()}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers reports the current listener count.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
