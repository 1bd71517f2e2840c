// Package ws is the WebSocket transport of the presence service.
//
// A Gateway upgrades GET /ws requests, registers each connection in the Hub
// under a fresh session handle and reports connect and disconnect to the
// PresenceManager. Inbound frames are decoded by the Dispatcher and mapped
// one-to-one onto PresenceManager and RoomRouter operations. The Hub
// implements services.Transport so the core can push events to a session
// without knowing about sockets.
//
// Frames are JSON envelopes. Inbound: {"event": "...", "data": {...}}.
// Outbound: {"event": "...", "data": ..., "ts": "<RFC3339>"}.
package ws

import (
	"encoding/json"
	"errors"
	"time"
)

// Events generated by the transport itself.
const (
	EventConnected    = "connected"
	EventError        = "error"
	EventHeartbeatAck = "heartbeat_ack"
	EventCallStarted  = "call_initiated"
)

// Protocol errors. They are reported to the client but not counted as
// service errors.
var (
	ErrUnknownEvent   = errors.New("unknown event")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrRateLimited    = errors.New("rate limited")
	ErrSessionClosed  = errors.New("session closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Inbound is a frame received from a client.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is a frame sent to a client.
type Outbound struct {
	Event string    `json:"event"`
	Data  any       `json:"data,omitempty"`
	TS    time.Time `json:"ts"`
}

// ErrorPayload is the body of an error frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

func encode(event string, payload any, now time.Time) ([]byte, error) {
	return json.Marshal(Outbound{Event: event, Data: payload, TS: now})
}
