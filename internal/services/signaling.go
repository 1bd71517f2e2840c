package services

import (
	"context"
	"encoding/json"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Signaling kinds relayed between peers.
const (
	SignalOffer        = "webrtc_offer"
	SignalAnswer       = "webrtc_answer"
	SignalICECandidate = "webrtc_ice_candidate"
	SignalServerChange = "server_change"
)

// IsSignalKind reports whether kind is relayed by RelaySignal.
func IsSignalKind(kind string) bool {
	switch kind {
	case SignalOffer, SignalAnswer, SignalICECandidate, SignalServerChange:
		return true
	}
	return false
}

// SignalPayload is what the target receives. Data is forwarded unmodified.
type SignalPayload struct {
	From string          `json:"from"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RelaySignal forwards a signaling payload from one user to another. The
// target must have a live session; no signaling state is kept.
func (r *RoomRouter) RelaySignal(ctx context.Context, fromUserID, toUserID, kind string, payload json.RawMessage) error {
	_, span := routerTracer().Start(ctx, "RelaySignal",
		trace.WithAttributes(attribute.String("signal.kind", kind), attribute.String("user.id", fromUserID)))
	defer span.End()

	toUserID = strings.TrimSpace(toUserID)
	if !IsSignalKind(kind) || toUserID == "" || toUserID == fromUserID {
		return ErrInvalidSignal
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return ErrInvalidSignal
	}

	handle, ok := r.sessions.SessionHandle(toUserID)
	if !ok {
		r.recordDelivery(true)
		return ErrTargetOffline
	}
	if err := r.transport.Emit(handle, kind, SignalPayload{From: fromUserID, Data: payload}); err != nil {
		r.recordDelivery(true)
		return ErrTargetOffline
	}
	return nil
}
