// Package services – PresenceManager
//
// PresenceManager owns the per-user connect / disconnect / heartbeat state
// machine (Offline → Online → Offline) and is the only writer of the
// PresenceCache. Every transition writes through to the PresenceStore before
// the cache is touched; a failed store write leaves the cache as it was, so a
// cache entry always implies an online store row.
//
// All operations for one user are serialized by a per-user mutex and events
// are published while it is held, so per-user event order matches state
// order. Operations for different users run in parallel.
//
// Observability: public mutators are OpenTelemetry-instrumented.
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/go-chat-presence/internal/domain"
)

// Defaults for PresenceManager.
const (
	DefaultOfflineTimeout = 60 * time.Second
	DefaultStatusBatchMax = 50
)

// PresenceStore is the durable presence record. Implementations must write
// only presence columns.
type PresenceStore interface {
	MarkOnline(ctx context.Context, userID, username, handle string, at time.Time) error
	MarkOffline(ctx context.Context, userID string, at time.Time) error
	TouchPresence(ctx context.Context, userID string, at time.Time) error
	FindPresence(ctx context.Context, ids []string) ([]domain.User, error)
	ResetOnline(ctx context.Context, keep []string) (int64, error)
}

// UserStatus is the public presence view of one user.
type UserStatus struct {
	Username *string    `json:"username"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen"`
}

// ConnectResult describes the state after a successful connect.
type ConnectResult struct {
	Entry CacheEntry
	// Replaced is the previous session handle when this connect overwrote a
	// live session, or "" otherwise.
	Replaced string
}

// PresenceManager coordinates presence transitions.
type PresenceManager struct {
	store    PresenceStore
	bus      *EventBus
	cache    *PresenceCache
	locks    *keyedMutex
	timeout  time.Duration
	batchMax int
	now      func() time.Time
	log      zerolog.Logger
}

// ManagerOption configures a PresenceManager.
type ManagerOption func(*PresenceManager)

// WithOfflineTimeout sets how long a session may stay silent before it is
// evicted.
func WithOfflineTimeout(d time.Duration) ManagerOption {
	return func(m *PresenceManager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithStatusBatchMax caps the number of ids accepted by GetUsersStatus.
func WithStatusBatchMax(n int) ManagerOption {
	return func(m *PresenceManager) {
		if n > 0 {
			m.batchMax = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *PresenceManager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithManagerLogger sets the logger used for sweep and reconciliation output.
func WithManagerLogger(l zerolog.Logger) ManagerOption {
	return func(m *PresenceManager) { m.log = l }
}

// NewPresenceManager builds a manager with its own empty cache.
func NewPresenceManager(store PresenceStore, bus *EventBus, opts ...ManagerOption) *PresenceManager {
	m := &PresenceManager{
		store:    store,
		bus:      bus,
		cache:    NewPresenceCache(),
		locks:    newKeyedMutex(),
		timeout:  DefaultOfflineTimeout,
		batchMax: DefaultStatusBatchMax,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.Logger,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// OfflineTimeout returns the configured eviction timeout.
func (m *PresenceManager) OfflineTimeout() time.Duration { return m.timeout }

// StatusBatchMax returns the largest id batch GetUsersStatus accepts.
func (m *PresenceManager) StatusBatchMax() int { return m.batchMax }

func tracer() trace.Tracer { return otel.Tracer("services/PresenceManager") }

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

// UserConnected marks userID online through handle.
//
// A connect for a user who already has a live session overwrites it (single
// session per user): a sessionReplaced event is emitted for the old handle
// before the userOnline event, and the old handle is returned in
// ConnectResult.Replaced. An anonymous connect keeps the stored username.
func (m *PresenceManager) UserConnected(ctx context.Context, userID, handle, username string) (ConnectResult, error) {
	ctx, span := tracer().Start(ctx, "UserConnected",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	if strings.TrimSpace(handle) == "" {
		return ConnectResult{}, ErrEmptySessionHandle
	}
	username = normalizeUsername(username)

	unlock := m.locks.Lock(userID)
	defer unlock()

	prev, had := m.cache.Get(userID)
	if username == "" {
		if had {
			username = prev.Username
		} else {
			username = m.storedUsername(ctx, userID)
		}
	}

	now := m.now()
	if err := m.store.MarkOnline(ctx, userID, username, handle, now); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store")
		return ConnectResult{}, storeErr("mark online", err)
	}

	entry := CacheEntry{
		UserID:        userID,
		Username:      username,
		SessionHandle: handle,
		LastSeen:      now,
		ConnectedAt:   now,
	}
	m.cache.Put(entry)

	res := ConnectResult{Entry: entry}
	if had && prev.SessionHandle != handle {
		res.Replaced = prev.SessionHandle
		m.bus.Publish(Event{
			Type:          EventSessionReplaced,
			UserID:        userID,
			Username:      prev.Username,
			SessionHandle: prev.SessionHandle,
			LastSeen:      now,
			Reason:        ReasonReplaced,
		})
	}
	online := Event{
		Type:          EventUserOnline,
		UserID:        userID,
		Username:      username,
		SessionHandle: handle,
		LastSeen:      now,
	}
	if res.Replaced != "" {
		online.Reason = ReasonReplaced
	}
	m.bus.Publish(online)
	return res, nil
}

// storedUsername reads the persisted label of userID. A lookup failure is
// logged and yields "": MarkOnline skips an empty username, so the row keeps
// its label either way.
func (m *PresenceManager) storedUsername(ctx context.Context, userID string) string {
	users, err := m.store.FindPresence(ctx, []string{userID})
	if err != nil {
		m.log.Warn().Err(err).Str("user_id", userID).Msg("stored username lookup failed")
		return ""
	}
	for _, u := range users {
		if u.ID == userID {
			return u.Username
		}
	}
	return ""
}

// UserDisconnected marks userID offline. It returns (false, nil) when the user
// has no live session.
func (m *PresenceManager) UserDisconnected(ctx context.Context, userID string) (bool, error) {
	ctx, span := tracer().Start(ctx, "UserDisconnected",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	unlock := m.locks.Lock(userID)
	defer unlock()

	ok, err := m.disconnectLocked(ctx, userID, ReasonDisconnect, func(CacheEntry) bool { return true })
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store")
	}
	return ok, err
}

// SessionDisconnected is the transport close path: it disconnects userID only
// if handle is still the current session, so a replaced session closing
// cannot take its replacement offline.
func (m *PresenceManager) SessionDisconnected(ctx context.Context, userID, handle string) (bool, error) {
	ctx, span := tracer().Start(ctx, "SessionDisconnected",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	unlock := m.locks.Lock(userID)
	defer unlock()

	ok, err := m.disconnectLocked(ctx, userID, ReasonDisconnect, func(e CacheEntry) bool {
		return e.SessionHandle == handle
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store")
	}
	return ok, err
}

// disconnectLocked requires the user lock. It removes the entry when cond
// accepts it.
func (m *PresenceManager) disconnectLocked(ctx context.Context, userID, reason string, cond func(CacheEntry) bool) (bool, error) {
	entry, ok := m.cache.Get(userID)
	if !ok || !cond(entry) {
		return false, nil
	}
	now := m.now()
	if err := m.store.MarkOffline(ctx, userID, now); err != nil {
		return false, storeErr("mark offline", err)
	}
	m.cache.Delete(userID)
	m.bus.Publish(Event{
		Type:          EventUserOffline,
		UserID:        userID,
		Username:      entry.Username,
		SessionHandle: entry.SessionHandle,
		LastSeen:      now,
		Reason:        reason,
	})
	return true, nil
}

// UpdateUserActivity records a heartbeat. It is a no-op for users without a
// live session.
func (m *PresenceManager) UpdateUserActivity(ctx context.Context, userID string) error {
	unlock := m.locks.Lock(userID)
	defer unlock()

	if _, ok := m.cache.Get(userID); !ok {
		return nil
	}
	now := m.now()
	if err := m.store.TouchPresence(ctx, userID, now); err != nil {
		return storeErr("touch", err)
	}
	m.cache.Touch(userID, now)
	return nil
}

// GetUsersStatus resolves ids from the cache first and fetches the misses
// from the store in one batch. Ids unknown to both are absent.
//
// When the store read fails the cached part is returned together with an
// ErrStoreUnavailable error.
func (m *PresenceManager) GetUsersStatus(ctx context.Context, ids []string) (map[string]UserStatus, error) {
	ids = uniqueIDs(ids)
	if len(ids) > m.batchMax {
		return nil, ErrTooManyIDs
	}
	ctx, span := tracer().Start(ctx, "GetUsersStatus",
		trace.WithAttributes(attribute.Int("ids.count", len(ids))))
	defer span.End()

	out := make(map[string]UserStatus, len(ids))
	var misses []string
	for _, id := range ids {
		if e, ok := m.cache.Get(id); ok {
			out[id] = cachedStatus(e)
			continue
		}
		misses = append(misses, id)
	}
	span.SetAttributes(attribute.Int("cache.misses", len(misses)))
	if len(misses) == 0 {
		return out, nil
	}

	rows, err := m.store.FindPresence(ctx, misses)
	if err != nil {
		span.RecordError(err)
		return out, storeErr("find presence", err)
	}
	for _, u := range rows {
		name := u.Username
		st := UserStatus{Username: &name, IsOnline: u.IsOnline}
		if u.LastSeen != nil {
			ls := *u.LastSeen
			st.LastSeen = &ls
		}
		out[u.ID] = st
	}
	return out, nil
}

// GetUserStatus is a pure cache read; absent users get the zero status.
func (m *PresenceManager) GetUserStatus(userID string) UserStatus {
	if e, ok := m.cache.Get(userID); ok {
		return cachedStatus(e)
	}
	return UserStatus{}
}

// IsUserOnline reports whether userID has a live session.
func (m *PresenceManager) IsUserOnline(userID string) bool {
	_, ok := m.cache.Get(userID)
	return ok
}

// SessionHandle returns the current session handle of userID.
func (m *PresenceManager) SessionHandle(userID string) (string, bool) {
	e, ok := m.cache.Get(userID)
	if !ok {
		return "", false
	}
	return e.SessionHandle, true
}

// OnlineUsers returns the connected users ordered by connect time.
func (m *PresenceManager) OnlineUsers() []CacheEntry {
	out := m.cache.Snapshot()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// OnlineCount returns the number of connected users.
func (m *PresenceManager) OnlineCount() int { return m.cache.Len() }

// CleanupStaleConnections evicts every session idle for longer than the
// offline timeout and returns how many were evicted. A failure for one user
// is logged and joined into the returned error; the sweep goes on.
func (m *PresenceManager) CleanupStaleConnections(ctx context.Context) (int, error) {
	ctx, span := tracer().Start(ctx, "CleanupStaleConnections")
	defer span.End()

	candidates := m.cache.Stale(m.now().Add(-m.timeout))
	var (
		evicted int
		errs    []error
	)
	for _, id := range candidates {
		ok, err := m.evictIfStale(ctx, id)
		if err != nil {
			m.log.Warn().Err(err).Str("user_id", id).Msg("stale session eviction failed")
			errs = append(errs, fmt.Errorf("user %s: %w", id, err))
			continue
		}
		if ok {
			evicted++
		}
	}
	span.SetAttributes(
		attribute.Int("candidates", len(candidates)),
		attribute.Int("evicted", evicted),
	)
	if len(errs) > 0 {
		span.SetStatus(codes.Error, "partial sweep")
	}
	return evicted, errors.Join(errs...)
}

func (m *PresenceManager) evictIfStale(ctx context.Context, userID string) (bool, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()
	// Staleness is re-checked under the lock: a heartbeat may have landed
	// after the candidate scan.
	cutoff := m.now().Add(-m.timeout)
	return m.disconnectLocked(ctx, userID, ReasonTimeout, func(e CacheEntry) bool {
		return e.LastSeen.Before(cutoff)
	})
}

// Reconcile flips store rows that are flagged online but have no live
// session in this process. It is meant to run once at startup.
func (m *PresenceManager) Reconcile(ctx context.Context) error {
	ctx, span := tracer().Start(ctx, "Reconcile")
	defer span.End()

	keep := make([]string, 0, m.cache.Len())
	for _, e := range m.cache.Snapshot() {
		keep = append(keep, e.UserID)
	}
	n, err := m.store.ResetOnline(ctx, keep)
	if err != nil {
		span.RecordError(err)
		return storeErr("reset online", err)
	}
	if n > 0 {
		m.log.Info().Int64("rows", n).Msg("reset phantom online users")
	}
	return nil
}

// Run sweeps stale sessions every interval until ctx is done.
func (m *PresenceManager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.timeout
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := m.CleanupStaleConnections(ctx)
			if err != nil {
				m.log.Error().Err(err).Msg("presence sweep finished with errors")
			}
			if n > 0 {
				m.log.Debug().Int("evicted", n).Msg("presence sweep")
			}
		}
	}
}

func cachedStatus(e CacheEntry) UserStatus {
	name := e.Username
	ls := e.LastSeen
	return UserStatus{Username: &name, IsOnline: true, LastSeen: &ls}
}

// normalizeUsername trims and NFC-normalizes a display label.
func normalizeUsername(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
