// Package mirror copies presence transitions into Redis so that processes
// without access to the in-memory cache can see who is online.
//
// Each online user has a "<prefix><id>" key holding a small JSON document with
// a TTL, and is a member of the "<prefix>online_users" set. The mirror is fed
// asynchronously from the services.EventBus: the listener only enqueues, and a
// single worker applies the writes in order. When the queue is full the event
// is dropped and counted; the database stays the source of truth.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-chat-presence/internal/services"
)

const (
	DefaultPrefix    = "presence:"
	DefaultTTL       = 120 * time.Second
	DefaultQueueSize = 1024

	onlineSetSuffix = "online_users"
	statusOnline    = "online"
)

// Presence is the JSON document stored under a user's key.
type Presence struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username,omitempty"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

// OnlineSource lists the users currently held in the presence cache.
// PresenceManager implements it.
type OnlineSource interface {
	OnlineUsers() []services.CacheEntry
}

// Mirror writes presence transitions to Redis.
type Mirror struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
	queue  chan services.Event

	dropped atomic.Int64
	applied atomic.Int64
	log     zerolog.Logger
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithPrefix sets the key prefix.
func WithPrefix(p string) Option {
	return func(m *Mirror) {
		if p != "" {
			m.prefix = p
		}
	}
}

// WithTTL sets the expiry of presence keys.
func WithTTL(d time.Duration) Option {
	return func(m *Mirror) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithQueueSize sets the number of events buffered ahead of the worker.
func WithQueueSize(n int) Option {
	return func(m *Mirror) {
		if n > 0 {
			m.queue = make(chan services.Event, n)
		}
	}
}

// WithLogger sets the mirror's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Mirror) { m.log = l }
}

// New builds a mirror on top of rdb.
func New(rdb redis.Cmdable, opts ...Option) *Mirror {
	m := &Mirror{
		rdb:    rdb,
		prefix: DefaultPrefix,
		ttl:    DefaultTTL,
		queue:  make(chan services.Event, DefaultQueueSize),
		log:    log.Logger,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return c, nil
}

// Key returns the presence key of userID.
func (m *Mirror) Key(userID string) string { return m.prefix + userID }

// OnlineSetKey returns the key of the online users set.
func (m *Mirror) OnlineSetKey() string { return m.prefix + onlineSetSuffix }

// Dropped returns how many events were discarded because the queue was full.
func (m *Mirror) Dropped() int64 { return m.dropped.Load() }

// Applied returns how many events were written successfully.
func (m *Mirror) Applied() int64 { return m.applied.Load() }

// Listener returns the EventBus listener feeding the mirror. It never blocks.
func (m *Mirror) Listener() services.Listener {
	return func(ev services.Event) {
		if ev.Type != services.EventUserOnline && ev.Type != services.EventUserOffline {
			return
		}
		select {
		case m.queue <- ev:
		default:
			m.dropped.Add(1)
		}
	}
}

// Apply writes a single presence transition.
func (m *Mirror) Apply(ctx context.Context, ev services.Event) error {
	switch ev.Type {
	case services.EventUserOnline:
		return m.setOnline(ctx, Presence{
			UserID:   ev.UserID,
			Username: ev.Username,
			Status:   statusOnline,
			LastSeen: ev.LastSeen,
		})
	case services.EventUserOffline:
		_, err := m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, m.Key(ev.UserID))
			p.SRem(ctx, m.OnlineSetKey(), ev.UserID)
			return nil
		})
		if err != nil {
			return fmt.Errorf("remove presence %s: %w", ev.UserID, err)
		}
		return nil
	}
	return nil
}

func (m *Mirror) setOnline(ctx context.Context, p Presence) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}
	_, err = m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, m.Key(p.UserID), data, m.ttl)
		pipe.SAdd(ctx, m.OnlineSetKey(), p.UserID)
		pipe.Expire(ctx, m.OnlineSetKey(), m.ttl*2)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set presence %s: %w", p.UserID, err)
	}
	return nil
}

// Refresh rewrites the keys of every user in src so their TTL does not lapse
// while they stay connected.
func (m *Mirror) Refresh(ctx context.Context, src OnlineSource) error {
	for _, e := range src.OnlineUsers() {
		if err := m.setOnline(ctx, Presence{
			UserID: e.UserID, Username: e.Username, Status: statusOnline, LastSeen: e.LastSeen,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Run applies queued events until ctx is done. When src is non-nil the keys
// of connected users are refreshed every refresh interval.
func (m *Mirror) Run(ctx context.Context, src OnlineSource, refresh time.Duration) {
	var tick <-chan time.Time
	if src != nil && refresh > 0 {
		t := time.NewTicker(refresh)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.queue:
			if err := m.Apply(ctx, ev); err != nil {
				m.log.Warn().Err(err).Str("user_id", ev.UserID).Str("event", ev.Type).Msg("presence mirror write failed")
				continue
			}
			m.applied.Add(1)
		case <-tick:
			if err := m.Refresh(ctx, src); err != nil {
				m.log.Warn().Err(err).Msg("presence mirror refresh failed")
			}
		}
	}
}
