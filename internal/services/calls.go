package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-chat-presence/internal/domain"
	"github.com/tbourn/go-chat-presence/internal/repo"
	"github.com/tbourn/go-chat-presence/internal/utils"
)

// DefaultRingTimeout is how long a call may stay pending before it is missed.
const DefaultRingTimeout = 45 * time.Second

// CallStore persists call sessions. CreateCall must be atomic with respect
// to the one-active-call-per-user rule and report a conflict as
// repo.ErrDuplicate; UpdateCallStatus reports a lost compare-and-set as
// repo.ErrStaleStatus.
type CallStore interface {
	CreateCall(ctx context.Context, call *domain.CallSession) error
	GetCall(ctx context.Context, id string) (*domain.CallSession, error)
	UpdateCallStatus(ctx context.Context, id string, from []string, u repo.CallUpdate) (*domain.CallSession, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]domain.CallSession, error)
	CountCalls(ctx context.Context, userID string) (int64, error)
	ListCallsPage(ctx context.Context, userID string, offset, limit int) ([]domain.CallSession, error)
}

// CallPayload is the body of every call notification.
type CallPayload struct {
	Call *domain.CallSession `json:"call"`
	From string              `json:"from"`
}

// InitiateCall starts a call from callerID to the other participant of
// chatID. Both parties are locked atomically; if either already has a
// pending or accepted call it fails with ErrCallAlreadyActive and nothing is
// created.
func (r *RoomRouter) InitiateCall(ctx context.Context, callerID, chatID, callType string) (*domain.CallSession, error) {
	ctx, span := routerTracer().Start(ctx, "InitiateCall",
		trace.WithAttributes(attribute.String("chat.id", chatID), attribute.String("user.id", callerID)))
	defer span.End()

	if callType == "" {
		callType = domain.CallTypeAudio
	}
	if callType != domain.CallTypeAudio && callType != domain.CallTypeVideo {
		return nil, ErrInvalidCallType
	}

	members, err := r.participants(ctx, chatID)
	if err != nil {
		return nil, err
	}
	var (
		isMember bool
		others   []string
	)
	for _, m := range members {
		if m == callerID {
			isMember = true
			continue
		}
		others = append(others, m)
	}
	if !isMember {
		return nil, ErrUnauthorized
	}
	if len(others) != 1 {
		return nil, ErrInvalidCallTarget
	}

	call := &domain.CallSession{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		RoomID:    RoomForChat(chatID),
		CallerID:  callerID,
		CalleeID:  others[0],
		CallType:  callType,
		Status:    domain.CallStatusPending,
		CreatedAt: r.now(),
	}
	if err := r.calls.CreateCall(ctx, call); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrCallAlreadyActive
		}
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("call.id", call.ID))

	r.DeliverToUser(ctx, call.CalleeID, EvtIncomingCall, CallPayload{Call: call, From: callerID})
	return call, nil
}

func (r *RoomRouter) loadCall(ctx context.Context, callID string) (*domain.CallSession, error) {
	c, err := r.calls.GetCall(ctx, callID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrCallNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *RoomRouter) transition(ctx context.Context, callID string, from []string, u repo.CallUpdate) (*domain.CallSession, error) {
	c, err := r.calls.UpdateCallStatus(ctx, callID, from, u)
	switch {
	case err == nil:
		return c, nil
	case errors.Is(err, repo.ErrStaleStatus):
		return nil, ErrInvalidCallState
	case errors.Is(err, repo.ErrNotFound):
		return nil, ErrCallNotFound
	default:
		return nil, err
	}
}

// AcceptCall moves a pending call to accepted. Only the callee may accept.
func (r *RoomRouter) AcceptCall(ctx context.Context, userID, callID string) (*domain.CallSession, error) {
	c, err := r.loadCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if c.CalleeID != userID {
		return nil, ErrUnauthorized
	}
	if c.Status != domain.CallStatusPending {
		return nil, ErrInvalidCallState
	}
	now := r.now()
	c, err = r.transition(ctx, callID, []string{domain.CallStatusPending},
		repo.CallUpdate{Status: domain.CallStatusAccepted, StartedAt: &now})
	if err != nil {
		return nil, err
	}
	r.DeliverToUser(ctx, c.CallerID, EvtCallAccepted, CallPayload{Call: c, From: userID})
	return c, nil
}

// DeclineCall moves a pending call to declined. Only the callee may decline.
func (r *RoomRouter) DeclineCall(ctx context.Context, userID, callID string) (*domain.CallSession, error) {
	c, err := r.loadCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if c.CalleeID != userID {
		return nil, ErrUnauthorized
	}
	if c.Status != domain.CallStatusPending {
		return nil, ErrInvalidCallState
	}
	now := r.now()
	var zero int64
	c, err = r.transition(ctx, callID, []string{domain.CallStatusPending},
		repo.CallUpdate{Status: domain.CallStatusDeclined, EndedAt: &now, DurationSec: &zero})
	if err != nil {
		return nil, err
	}
	r.DeliverToUser(ctx, c.CallerID, EvtCallDeclined, CallPayload{Call: c, From: userID})
	return c, nil
}

// EndCall ends a pending or accepted call. Either participant may end it.
// The duration is measured from acceptance, or 0 when never accepted.
func (r *RoomRouter) EndCall(ctx context.Context, userID, callID string) (*domain.CallSession, error) {
	c, err := r.loadCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, ErrUnauthorized
	}
	if !c.IsActive() {
		return nil, ErrInvalidCallState
	}
	now := r.now()
	var dur int64
	if c.StartedAt != nil {
		dur = int64(now.Sub(*c.StartedAt).Seconds())
		if dur < 0 {
			dur = 0
		}
	}
	c, err = r.transition(ctx, callID,
		[]string{domain.CallStatusPending, domain.CallStatusAccepted},
		repo.CallUpdate{Status: domain.CallStatusEnded, EndedAt: &now, DurationSec: &dur})
	if err != nil {
		return nil, err
	}
	r.DeliverToUser(ctx, c.Peer(userID), EvtCallEnded, CallPayload{Call: c, From: userID})
	return c, nil
}

// ExpirePendingCalls marks calls still pending after ringTimeout as missed
// and notifies both parties. A call answered meanwhile is left alone.
func (r *RoomRouter) ExpirePendingCalls(ctx context.Context, ringTimeout time.Duration) (int, error) {
	if ringTimeout <= 0 {
		ringTimeout = DefaultRingTimeout
	}
	now := r.now()
	pending, err := r.calls.ListPendingBefore(ctx, now.Add(-ringTimeout))
	if err != nil {
		return 0, err
	}
	var (
		missed int
		errs   []error
	)
	var zero int64
	for _, p := range pending {
		c, err := r.transition(ctx, p.ID, []string{domain.CallStatusPending},
			repo.CallUpdate{Status: domain.CallStatusMissed, EndedAt: &now, DurationSec: &zero})
		if errors.Is(err, ErrInvalidCallState) || errors.Is(err, ErrCallNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("call %s: %w", p.ID, err))
			continue
		}
		missed++
		payload := CallPayload{Call: c, From: c.CallerID}
		r.DeliverToUser(ctx, c.CallerID, EvtCallMissed, payload)
		r.DeliverToUser(ctx, c.CalleeID, EvtCallMissed, payload)
	}
	return missed, errors.Join(errs...)
}

// RunCallExpiry runs ExpirePendingCalls every interval until ctx is done.
func (r *RoomRouter) RunCallExpiry(ctx context.Context, interval, ringTimeout time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := r.ExpirePendingCalls(ctx, ringTimeout)
			if err != nil {
				r.log.Error().Err(err).Msg("call expiry finished with errors")
			}
			if n > 0 {
				r.log.Debug().Int("missed", n).Msg("expired pending calls")
			}
		}
	}
}

// CallHistory returns a page of userID's calls, most recent first, and the
// total count.
func (r *RoomRouter) CallHistory(ctx context.Context, userID string, page, pageSize int) ([]domain.CallSession, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := utils.PageOffset(page, pageSize)

	total, err := r.calls.CountCalls(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.CallSession{}, 0, nil
	}
	items, err := r.calls.ListCallsPage(ctx, userID, offset, pageSize)
	return items, total, err
}
