package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-chat-presence/internal/domain"
	"github.com/tbourn/go-chat-presence/internal/services"
)

// Inbound event names.
const (
	InHeartbeat    = "heartbeat"
	InActivityPing = "activity_ping"
	InJoinRoom     = "join_room"
	InLeaveRoom    = "leave_room"
	InSendMessage  = "send_message"
	InTyping       = "typing"
	InReactMessage = "react_message"
	InInitiateCall = "initiate_call"
	InAcceptCall   = "accept_call"
	InDeclineCall  = "decline_call"
	InEndCall      = "end_call"
)

// Activity refreshes a user's heartbeat. PresenceManager implements it.
type Activity interface {
	UpdateUserActivity(ctx context.Context, userID string) error
}

// Router is the part of services.RoomRouter driven by socket events.
type Router interface {
	JoinChat(ctx context.Context, userID, chatID string) error
	LeaveChat(ctx context.Context, userID, chatID string) error
	Typing(ctx context.Context, userID, chatID string, isTyping bool) error
	SendMessage(ctx context.Context, senderID, chatID, msgType, content string) (*domain.Message, services.Delivery, error)
	ReactToMessage(ctx context.Context, userID, chatID, messageID, reaction string) error
	InitiateCall(ctx context.Context, callerID, chatID, callType string) (*domain.CallSession, error)
	AcceptCall(ctx context.Context, userID, callID string) (*domain.CallSession, error)
	DeclineCall(ctx context.Context, userID, callID string) (*domain.CallSession, error)
	EndCall(ctx context.Context, userID, callID string) (*domain.CallSession, error)
	RelaySignal(ctx context.Context, fromUserID, toUserID, kind string, payload json.RawMessage) error
}

// ErrorRecorder counts failed operations. MetricsCollector implements it.
type ErrorRecorder interface {
	RecordError(err error, ctx map[string]string)
}

// Limiter decides whether key may proceed. The HTTP rate limiter implements it.
type Limiter interface {
	Allow(key string) bool
}

// Emitter sends a frame to one session. Hub implements it.
type Emitter interface {
	Emit(handle, event string, payload any) error
}

// Session identifies the connection a frame arrived on.
type Session struct {
	UserID string
	Handle string
}

type chatRef struct {
	ChatID string `json:"chatId"`
}

type sendMessageIn struct {
	ChatID  string `json:"chatId"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

type typingIn struct {
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

type reactIn struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Reaction  string `json:"reaction"`
}

type initiateCallIn struct {
	ChatID   string `json:"chatId"`
	CallType string `json:"callType"`
}

type callRef struct {
	CallID string `json:"callId"`
}

type signalIn struct {
	To   string          `json:"to"`
	Data json.RawMessage `json:"data"`
}

// Dispatcher maps inbound frames to core operations. Frames of one session
// are dispatched in arrival order by that session's read loop.
type Dispatcher struct {
	activity Activity
	router   Router
	out      Emitter
	errs     ErrorRecorder
	limiter  Limiter
	log      zerolog.Logger
}

// DispatcherDeps are the collaborators of a Dispatcher. Errors and Limiter
// are optional.
type DispatcherDeps struct {
	Activity Activity
	Router   Router
	Out      Emitter
	Errors   ErrorRecorder
	Limiter  Limiter
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(d DispatcherDeps) *Dispatcher {
	return &Dispatcher{
		activity: d.Activity,
		router:   d.Router,
		out:      d.Out,
		errs:     d.Errors,
		limiter:  d.Limiter,
		log:      log.Logger,
	}
}

// Dispatch decodes raw and runs the matching operation. Failures are sent
// back to the session as error frames.
func (d *Dispatcher) Dispatch(ctx context.Context, s Session, raw []byte) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil || strings.TrimSpace(in.Event) == "" {
		d.fail(s, "", ErrInvalidPayload)
		return
	}
	if d.limiter != nil && in.Event != InHeartbeat && in.Event != InActivityPing && !d.limiter.Allow("user:"+s.UserID) {
		d.fail(s, in.Event, ErrRateLimited)
		return
	}
	if err := d.handle(ctx, s, in); err != nil {
		d.fail(s, in.Event, err)
	}
}

func (d *Dispatcher) handle(ctx context.Context, s Session, in Inbound) error {
	switch in.Event {
	case InHeartbeat, InActivityPing:
		if err := d.activity.UpdateUserActivity(ctx, s.UserID); err != nil {
			return err
		}
		return d.out.Emit(s.Handle, EventHeartbeatAck, nil)

	case InJoinRoom, InLeaveRoom:
		var p chatRef
		if err := decode(in.Data, &p); err != nil || p.ChatID == "" {
			return ErrInvalidPayload
		}
		if in.Event == InJoinRoom {
			return d.router.JoinChat(ctx, s.UserID, p.ChatID)
		}
		return d.router.LeaveChat(ctx, s.UserID, p.ChatID)

	case InSendMessage:
		var p sendMessageIn
		if err := decode(in.Data, &p); err != nil || p.ChatID == "" {
			return ErrInvalidPayload
		}
		_, _, err := d.router.SendMessage(ctx, s.UserID, p.ChatID, p.Type, p.Content)
		return err

	case InTyping:
		var p typingIn
		if err := decode(in.Data, &p); err != nil || p.ChatID == "" {
			return ErrInvalidPayload
		}
		return d.router.Typing(ctx, s.UserID, p.ChatID, p.IsTyping)

	case InReactMessage:
		var p reactIn
		if err := decode(in.Data, &p); err != nil || p.ChatID == "" || p.MessageID == "" {
			return ErrInvalidPayload
		}
		return d.router.ReactToMessage(ctx, s.UserID, p.ChatID, p.MessageID, p.Reaction)

	case InInitiateCall:
		var p initiateCallIn
		if err := decode(in.Data, &p); err != nil || p.ChatID == "" {
			return ErrInvalidPayload
		}
		call, err := d.router.InitiateCall(ctx, s.UserID, p.ChatID, p.CallType)
		if err != nil {
			return err
		}
		return d.out.Emit(s.Handle, EventCallStarted, services.CallPayload{Call: call, From: s.UserID})

	case InAcceptCall, InDeclineCall, InEndCall:
		var p callRef
		if err := decode(in.Data, &p); err != nil || p.CallID == "" {
			return ErrInvalidPayload
		}
		return d.callTransition(ctx, s, in.Event, p.CallID)
	}

	if services.IsSignalKind(in.Event) {
		var p signalIn
		if err := decode(in.Data, &p); err != nil {
			return ErrInvalidPayload
		}
		return d.router.RelaySignal(ctx, s.UserID, p.To, in.Event, p.Data)
	}
	return ErrUnknownEvent
}

// callTransition runs an accept/decline/end and echoes the outcome to the
// actor; the peer is notified by the router.
func (d *Dispatcher) callTransition(ctx context.Context, s Session, event, callID string) error {
	var (
		call  *domain.CallSession
		err   error
		reply string
	)
	switch event {
	case InAcceptCall:
		call, err = d.router.AcceptCall(ctx, s.UserID, callID)
		reply = services.EvtCallAccepted
	case InDeclineCall:
		call, err = d.router.DeclineCall(ctx, s.UserID, callID)
		reply = services.EvtCallDeclined
	default:
		call, err = d.router.EndCall(ctx, s.UserID, callID)
		reply = services.EvtCallEnded
	}
	if err != nil {
		return err
	}
	return d.out.Emit(s.Handle, reply, services.CallPayload{Call: call, From: s.UserID})
}

func (d *Dispatcher) fail(s Session, event string, err error) {
	code := errorCode(err)
	if d.errs != nil && !isProtocolError(err) {
		d.errs.RecordError(err, map[string]string{"event": event, "user_id": s.UserID})
	}
	if errors.Is(err, ErrSessionClosed) {
		return
	}
	if emitErr := d.out.Emit(s.Handle, EventError, ErrorPayload{Code: code, Message: err.Error(), Event: event}); emitErr != nil {
		d.log.Debug().Err(emitErr).Str("user_id", s.UserID).Msg("could not deliver error frame")
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return ErrInvalidPayload
	}
	return json.Unmarshal(data, v)
}

func isProtocolError(err error) bool {
	return errors.Is(err, ErrUnknownEvent) || errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrRateLimited) || errors.Is(err, ErrSessionClosed) ||
		errors.Is(err, ErrSendBufferFull)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrSendBufferFull):
		return "send_buffer_full"
	}
	return services.ErrorKind(err)
}
