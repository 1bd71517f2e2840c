// Package services implements the presence and fan-out core: the presence
// cache and manager, the metrics collector, the event bus and the room router
// (live delivery, call sessions and signaling relay).
//
// This file centralizes service-level error values so they can be returned
// consistently by service methods and checked by callers with errors.Is.
// Translation into HTTP status codes or socket error codes happens in the
// transport layers.
package services

import (
	"context"
	"errors"
)

// Presence errors.
var (
	// ErrStoreUnavailable wraps failures of the durable presence store.
	ErrStoreUnavailable = errors.New("presence store unavailable")

	// ErrEmptySessionHandle is returned when a connect carries no handle.
	ErrEmptySessionHandle = errors.New("session handle is empty")

	// ErrTooManyIDs is returned when a status batch exceeds the configured cap.
	ErrTooManyIDs = errors.New("too many user ids")
)

// Routing and call errors.
var (
	// ErrNotFound is the root of every "does not exist" error.
	ErrNotFound = errors.New("not found")

	// ErrChatNotFound indicates that the chat does not exist.
	ErrChatNotFound = &notFoundError{msg: "chat not found"}

	// ErrCallNotFound indicates that the call session does not exist.
	ErrCallNotFound = &notFoundError{msg: "call not found"}

	// ErrTargetOffline indicates that the addressed user has no live session.
	ErrTargetOffline = &notFoundError{msg: "target user offline"}

	// ErrUnauthorized is returned when the actor is not a chat participant or
	// not a party allowed to perform the call transition.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidCallTarget is returned when a chat has no other participant
	// to call.
	ErrInvalidCallTarget = errors.New("invalid call target")

	// ErrCallAlreadyActive is returned when either party already has a
	// pending or accepted call.
	ErrCallAlreadyActive = errors.New("call already active")

	// ErrInvalidCallState is returned for transitions not allowed from the
	// call's current status.
	ErrInvalidCallState = errors.New("invalid call state")

	// ErrInvalidCallType is returned for a media type other than audio/video.
	ErrInvalidCallType = errors.New("invalid call type")

	// ErrInvalidSignal is returned for an unknown signaling kind or payload.
	ErrInvalidSignal = errors.New("invalid signal")

	// ErrInvalidMessage is returned for an empty, oversized or mistyped
	// chat message.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrMessageNotFound indicates that the referenced message does not exist
	// in the given chat.
	ErrMessageNotFound = &notFoundError{msg: "message not found"}
)

// notFoundError is a specific "not found" that also matches ErrNotFound.
type notFoundError struct{ msg string }

func (e *notFoundError) Error() string        { return e.msg }
func (e *notFoundError) Is(target error) bool { return target == ErrNotFound }

// ErrorKind returns a stable snake_case label for err, used as the per-type
// error counter key and as the socket error code.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrEmptySessionHandle):
		return "empty_session_handle"
	case errors.Is(err, ErrTooManyIDs):
		return "too_many_ids"
	case errors.Is(err, ErrTargetOffline):
		return "target_offline"
	case errors.Is(err, ErrChatNotFound):
		return "chat_not_found"
	case errors.Is(err, ErrCallNotFound):
		return "call_not_found"
	case errors.Is(err, ErrMessageNotFound):
		return "message_not_found"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidCallTarget):
		return "invalid_call_target"
	case errors.Is(err, ErrCallAlreadyActive):
		return "call_already_active"
	case errors.Is(err, ErrInvalidCallState):
		return "invalid_call_state"
	case errors.Is(err, ErrInvalidCallType):
		return "invalid_call_type"
	case errors.Is(err, ErrInvalidSignal):
		return "invalid_signal"
	case errors.Is(err, ErrInvalidMessage):
		return "invalid_message"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}
