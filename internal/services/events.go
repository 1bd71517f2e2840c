package services

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Event types published on the EventBus.
const (
	EventUserOnline  = "userOnline"
	EventUserOffline = "userOffline"
	// EventSessionReplaced reports that a newer connect took over a live
	// session. The user stays online throughout.
	EventSessionReplaced = "sessionReplaced"
	EventError           = "error"
)

// Event reasons. Replaced marks a session swap; the others are offline causes.
const (
	ReasonDisconnect = "disconnect"
	ReasonTimeout    = "timeout"
	ReasonReplaced   = "replaced"
)

// Event is a presence transition or a recorded error.
//
// For userOnline, SessionHandle is the new session. For userOffline and
// sessionReplaced it is the session that went away. The userOnline that
// follows a sessionReplaced carries Reason "replaced".
type Event struct {
	Type          string
	UserID        string
	Username      string
	SessionHandle string
	LastSeen      time.Time
	Reason        string
	Err           error
	Context       map[string]string
}

// Listener receives published events.
type Listener func(Event)

// EventBus is a synchronous observer registry. Listeners run in registration
// order on the publishing goroutine; a panicking listener is recovered and
// logged so it cannot break the publisher or the remaining listeners.
type EventBus struct {
	mu        sync.RWMutex
	nextID    int
	listeners []subscription
}

type subscription struct {
	id int
	fn Listener
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus { return &EventBus{} }

// Subscribe registers fn and returns a function that removes it.
func (b *EventBus) Subscribe(fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.listeners {
				if s.id == id {
					b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers ev to every listener registered at call time.
func (b *EventBus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := make([]subscription, len(b.listeners))
	copy(subs, b.listeners)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s.fn, ev)
	}
}

func (b *EventBus) deliver(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("event", ev.Type).
				Str("user_id", ev.UserID).
				Msg("event listener panicked")
		}
	}()
	fn(ev)
}
