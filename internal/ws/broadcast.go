package ws

import (
	"time"

	"github.com/tbourn/go-chat-presence/internal/services"
)

// StatusChange is the body of user_status_change.
type StatusChange struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username,omitempty"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
	Reason   string    `json:"reason,omitempty"`
}

// PresenceBroadcaster returns an EventBus listener that tells every other
// session about presence transitions. Sessions evicted by timeout or
// replaced by a newer connect are closed.
//
// A replaced user stays online, so the replacement is not announced as an
// offline transition.
func PresenceBroadcaster(h *Hub) services.Listener {
	return func(ev services.Event) {
		switch ev.Type {
		case services.EventUserOnline:
			h.Broadcast(services.EvtUserStatusChange, StatusChange{
				UserID: ev.UserID, Username: ev.Username, IsOnline: true, LastSeen: ev.LastSeen,
			}, ev.SessionHandle)

		case services.EventSessionReplaced:
			h.Close(ev.SessionHandle, "replaced by a newer session")

		case services.EventUserOffline:
			if ev.Reason == services.ReasonTimeout {
				h.Close(ev.SessionHandle, "heartbeat timeout")
			}
			h.Broadcast(services.EvtUserStatusChange, StatusChange{
				UserID: ev.UserID, Username: ev.Username, IsOnline: false, LastSeen: ev.LastSeen, Reason: ev.Reason,
			}, ev.SessionHandle)
		}
	}
}
