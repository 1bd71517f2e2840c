// Package services – RoomRouter
//
// RoomRouter resolves logical rooms to live sessions and fans events out to
// them. Rooms are computed at delivery time: "chat_<id>" resolves to the
// chat's participants, "user_<id>" to a single user. A member without a live
// session is skipped and counted as a dropped delivery; nothing is queued or
// retried. Each member receives an event at most once, on its current
// session. Delivery to distinct members runs concurrently with a bounded
// number of in-flight emits.
//
// Call sessions (calls.go) and the signaling relay (signaling.go) share the
// router's dependencies.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-chat-presence/internal/domain"
	"github.com/tbourn/go-chat-presence/internal/repo"
)

// Room prefixes.
const (
	roomChatPrefix = "chat_"
	roomUserPrefix = "user_"
)

// Outbound event names.
const (
	EvtNewMessage       = "new_message"
	EvtMessageSent      = "message_sent"
	EvtUserJoined       = "user_joined"
	EvtUserLeft         = "user_left"
	EvtUserTyping       = "user_typing"
	EvtMessageReaction  = "message_reaction"
	EvtIncomingCall     = "incoming_call"
	EvtCallAccepted     = "call_accepted"
	EvtCallDeclined     = "call_declined"
	EvtCallEnded        = "call_ended"
	EvtCallMissed       = "call_missed"
	EvtUserStatusChange = "user_status_change"
)

// DefaultMaxMessageRunes caps chat message content.
const DefaultMaxMessageRunes = 4000

// Transport pushes an event to one session.
type Transport interface {
	Emit(handle, event string, payload any) error
}

// ChatDirectory resolves chat membership. Participants returns
// repo.ErrNotFound for an unknown chat.
type ChatDirectory interface {
	Participants(ctx context.Context, chatID string) ([]string, error)
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
}

// MessageStore persists chat messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, chatID, senderID, msgType, content string) (*domain.Message, error)
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
}

// SessionLocator finds live sessions. PresenceManager implements it.
type SessionLocator interface {
	SessionHandle(userID string) (string, bool)
}

// ActivityRecorder receives routing outcomes. MetricsCollector implements it.
type ActivityRecorder interface {
	RecordMessage(roomID, userID, messageType string)
	RecordDelivery(dropped bool)
}

// Delivery summarizes one fan-out.
type Delivery struct {
	Targets   int `json:"targets"`
	Delivered int `json:"delivered"`
	Dropped   int `json:"dropped"`
}

// DeliverOption tunes DeliverToRoom.
type DeliverOption func(*deliverConfig)

type deliverConfig struct {
	exclude map[string]struct{}
}

// ExcludeUser skips userID during the fan-out.
func ExcludeUser(userID string) DeliverOption {
	return func(c *deliverConfig) {
		if c.exclude == nil {
			c.exclude = make(map[string]struct{})
		}
		c.exclude[userID] = struct{}{}
	}
}

// RoomRouter computes delivery targets and performs fan-out.
type RoomRouter struct {
	chats     ChatDirectory
	messages  MessageStore
	calls     CallStore
	sessions  SessionLocator
	transport Transport
	recorder  ActivityRecorder

	fanout   int
	maxRunes int
	now      func() time.Time
	log      zerolog.Logger
}

// RouterDeps are the collaborators of a RoomRouter.
type RouterDeps struct {
	Chats     ChatDirectory
	Messages  MessageStore
	Calls     CallStore
	Sessions  SessionLocator
	Transport Transport
	Recorder  ActivityRecorder // optional
}

// RouterOption configures a RoomRouter.
type RouterOption func(*RoomRouter)

// WithFanout bounds concurrent emits per delivery.
func WithFanout(n int) RouterOption {
	return func(r *RoomRouter) {
		if n > 0 {
			r.fanout = n
		}
	}
}

// WithMaxMessageRunes caps message content length.
func WithMaxMessageRunes(n int) RouterOption {
	return func(r *RoomRouter) {
		if n > 0 {
			r.maxRunes = n
		}
	}
}

// WithRouterClock overrides the time source.
func WithRouterClock(now func() time.Time) RouterOption {
	return func(r *RoomRouter) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRouterLogger sets the router's logger.
func WithRouterLogger(l zerolog.Logger) RouterOption {
	return func(r *RoomRouter) { r.log = l }
}

// NewRoomRouter wires a router.
func NewRoomRouter(d RouterDeps, opts ...RouterOption) *RoomRouter {
	r := &RoomRouter{
		chats:     d.Chats,
		messages:  d.Messages,
		calls:     d.Calls,
		sessions:  d.Sessions,
		transport: d.Transport,
		recorder:  d.Recorder,
		fanout:    16,
		maxRunes:  DefaultMaxMessageRunes,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log.Logger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func routerTracer() trace.Tracer { return otel.Tracer("services/RoomRouter") }

// RoomForChat returns the room id of a chat.
func RoomForChat(chatID string) string { return roomChatPrefix + chatID }

// RoomForUser returns the personal room id of a user.
func RoomForUser(userID string) string { return roomUserPrefix + userID }

// Room kinds returned by ParseRoom.
const (
	RoomKindChat = "chat"
	RoomKindUser = "user"
)

// ParseRoom splits a room id into its kind and target id.
func ParseRoom(roomID string) (kind, id string, err error) {
	switch {
	case strings.HasPrefix(roomID, roomChatPrefix) && len(roomID) > len(roomChatPrefix):
		return RoomKindChat, roomID[len(roomChatPrefix):], nil
	case strings.HasPrefix(roomID, roomUserPrefix) && len(roomID) > len(roomUserPrefix):
		return RoomKindUser, roomID[len(roomUserPrefix):], nil
	default:
		return "", "", fmt.Errorf("%w: room %q", ErrNotFound, roomID)
	}
}

func (r *RoomRouter) participants(ctx context.Context, chatID string) ([]string, error) {
	ids, err := r.chats.Participants(ctx, chatID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) || errors.Is(err, ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return ids, nil
}

func (r *RoomRouter) requireMember(ctx context.Context, chatID, userID string) error {
	if _, err := r.participants(ctx, chatID); err != nil {
		return err
	}
	ok, err := r.chats.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

func (r *RoomRouter) recordDelivery(dropped bool) {
	if r.recorder != nil {
		r.recorder.RecordDelivery(dropped)
	}
}

// DeliverToRoom emits event to every live member of roomID.
func (r *RoomRouter) DeliverToRoom(ctx context.Context, roomID, event string, payload any, opts ...DeliverOption) (Delivery, error) {
	ctx, span := routerTracer().Start(ctx, "DeliverToRoom",
		trace.WithAttributes(attribute.String("room.id", roomID), attribute.String("event", event)))
	defer span.End()

	var cfg deliverConfig
	for _, o := range opts {
		o(&cfg)
	}

	kind, id, err := ParseRoom(roomID)
	if err != nil {
		return Delivery{}, err
	}
	var members []string
	if kind == RoomKindChat {
		if members, err = r.participants(ctx, id); err != nil {
			span.RecordError(err)
			return Delivery{}, err
		}
	} else {
		members = []string{id}
	}

	// One emit per live session; duplicates and exclusions are removed first.
	type target struct{ userID, handle string }
	var (
		targets []target
		seen    = make(map[string]struct{}, len(members))
		d       Delivery
	)
	for _, uid := range members {
		if _, skip := cfg.exclude[uid]; skip {
			continue
		}
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		d.Targets++
		h, ok := r.sessions.SessionHandle(uid)
		if !ok {
			d.Dropped++
			r.recordDelivery(true)
			continue
		}
		targets = append(targets, target{userID: uid, handle: h})
	}

	results := make([]bool, len(targets))
	var g errgroup.Group
	g.SetLimit(r.fanout)
	for i, t := range targets {
		g.Go(func() error {
			if err := r.transport.Emit(t.handle, event, payload); err != nil {
				r.log.Debug().Err(err).Str("user_id", t.userID).Str("event", event).Msg("emit failed")
				return nil
			}
			results[i] = true
			return nil
		})
	}
	_ = g.Wait()

	for _, ok := range results {
		if ok {
			d.Delivered++
		} else {
			d.Dropped++
			r.recordDelivery(true)
		}
	}
	span.SetAttributes(
		attribute.Int("delivery.targets", d.Targets),
		attribute.Int("delivery.delivered", d.Delivered),
		attribute.Int("delivery.dropped", d.Dropped),
	)
	return d, nil
}

// DeliverToUser emits event on userID's personal room. It reports whether
// the event reached a live session.
func (r *RoomRouter) DeliverToUser(ctx context.Context, userID, event string, payload any) bool {
	d, err := r.DeliverToRoom(ctx, RoomForUser(userID), event, payload)
	return err == nil && d.Delivered == 1
}

// RoomPayload is the body of join/leave/typing notifications.
type RoomPayload struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	IsTyping *bool  `json:"isTyping,omitempty"`
}

// JoinChat validates that userID belongs to chatID and tells the other live
// members. Room membership itself is derived from chat participants.
func (r *RoomRouter) JoinChat(ctx context.Context, userID, chatID string) error {
	if err := r.requireMember(ctx, chatID, userID); err != nil {
		return err
	}
	_, err := r.DeliverToRoom(ctx, RoomForChat(chatID), EvtUserJoined,
		RoomPayload{ChatID: chatID, UserID: userID}, ExcludeUser(userID))
	return err
}

// LeaveChat tells the other live members that userID left the chat view.
func (r *RoomRouter) LeaveChat(ctx context.Context, userID, chatID string) error {
	if err := r.requireMember(ctx, chatID, userID); err != nil {
		return err
	}
	_, err := r.DeliverToRoom(ctx, RoomForChat(chatID), EvtUserLeft,
		RoomPayload{ChatID: chatID, UserID: userID}, ExcludeUser(userID))
	return err
}

// Typing relays a typing indicator to the other members of chatID.
func (r *RoomRouter) Typing(ctx context.Context, userID, chatID string, isTyping bool) error {
	if err := r.requireMember(ctx, chatID, userID); err != nil {
		return err
	}
	_, err := r.DeliverToRoom(ctx, RoomForChat(chatID), EvtUserTyping,
		RoomPayload{ChatID: chatID, UserID: userID, IsTyping: &isTyping}, ExcludeUser(userID))
	return err
}

// MessageAck is sent back to the author of a message.
type MessageAck struct {
	Message  *domain.Message `json:"message"`
	Delivery Delivery        `json:"delivery"`
}

// SendMessage persists a message from senderID, emits new_message to the
// other live members of the chat and acknowledges the sender with
// message_sent.
func (r *RoomRouter) SendMessage(ctx context.Context, senderID, chatID, msgType, content string) (*domain.Message, Delivery, error) {
	ctx, span := routerTracer().Start(ctx, "SendMessage",
		trace.WithAttributes(attribute.String("chat.id", chatID), attribute.String("user.id", senderID)))
	defer span.End()

	content = strings.TrimSpace(content)
	if msgType == "" {
		msgType = domain.MessageTypeText
	}
	if content == "" || utf8.RuneCountInString(content) > r.maxRunes || !validMessageType(msgType) {
		return nil, Delivery{}, ErrInvalidMessage
	}
	if err := r.requireMember(ctx, chatID, senderID); err != nil {
		return nil, Delivery{}, err
	}

	msg, err := r.messages.CreateMessage(ctx, chatID, senderID, msgType, content)
	if err != nil {
		span.RecordError(err)
		return nil, Delivery{}, err
	}
	roomID := RoomForChat(chatID)
	if r.recorder != nil {
		r.recorder.RecordMessage(roomID, senderID, msgType)
	}

	d, err := r.DeliverToRoom(ctx, roomID, EvtNewMessage, msg, ExcludeUser(senderID))
	if err != nil {
		return msg, d, err
	}
	r.DeliverToUser(ctx, senderID, EvtMessageSent, MessageAck{Message: msg, Delivery: d})
	return msg, d, nil
}

// ReactionPayload is the body of message_reaction.
type ReactionPayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Reaction  string `json:"reaction"`
}

// ReactToMessage relays a reaction on messageID to every live member of the
// chat, the author of the reaction included.
func (r *RoomRouter) ReactToMessage(ctx context.Context, userID, chatID, messageID, reaction string) error {
	reaction = strings.TrimSpace(reaction)
	if reaction == "" || utf8.RuneCountInString(reaction) > 32 {
		return ErrInvalidMessage
	}
	if err := r.requireMember(ctx, chatID, userID); err != nil {
		return err
	}
	msg, err := r.messages.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrMessageNotFound
		}
		return err
	}
	if msg.ChatID != chatID {
		return ErrMessageNotFound
	}
	_, err = r.DeliverToRoom(ctx, RoomForChat(chatID), EvtMessageReaction, ReactionPayload{
		ChatID: chatID, MessageID: messageID, UserID: userID, Reaction: reaction,
	})
	return err
}

func validMessageType(t string) bool {
	switch t {
	case domain.MessageTypeText, domain.MessageTypeImage, domain.MessageTypeFile, domain.MessageTypeSystem:
		return true
	}
	return false
}
