// Package app assembles the presence service: store adapters, the event bus,
// the presence manager, metrics collector and room router, the socket hub and
// gateway, the optional Redis mirror and the HTTP engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-presence/internal/config"
	httpapi "github.com/tbourn/go-chat-presence/internal/http"
	"github.com/tbourn/go-chat-presence/internal/http/handlers"
	"github.com/tbourn/go-chat-presence/internal/http/middleware"
	"github.com/tbourn/go-chat-presence/internal/mirror"
	"github.com/tbourn/go-chat-presence/internal/services"
	"github.com/tbourn/go-chat-presence/internal/ws"
)

// Background loop periods that are not configurable.
const (
	pruneInterval  = time.Minute
	minCallSweep   = time.Second
	mirrorRefresh  = mirror.DefaultTTL / 2
	shutdownReason = "server shutting down"
)

// App is the assembled service.
type App struct {
	Engine   *gin.Engine
	Presence *services.PresenceManager
	Metrics  *services.MetricsCollector
	Router   *services.RoomRouter
	Hub      *ws.Hub
	Mirror   *mirror.Mirror // nil unless REDIS_URL is set

	cfg   config.Config
	bus   *services.EventBus
	redis *redis.Client
	log   zerolog.Logger
}

// New wires every component on top of an open, migrated db. It connects to
// Redis when cfg.Redis.URL is set.
func New(ctx context.Context, cfg config.Config, db *gorm.DB) (*App, error) {
	lg := log.With().Str("component", "app").Logger()
	bus := services.NewEventBus()

	pm := services.NewPresenceManager(presenceStore{db}, bus,
		services.WithOfflineTimeout(cfg.Presence.OfflineTimeout),
		services.WithStatusBatchMax(cfg.Presence.StatusBatchMax),
		services.WithManagerLogger(log.With().Str("component", "presence").Logger()),
	)
	mc := services.NewMetricsCollector(bus,
		services.WithHistorySize(cfg.Presence.MetricsHistorySize),
		services.WithRetention(cfg.Presence.MetricsRetention),
		services.WithMemoryThreshold(cfg.Presence.HealthMemoryThreshold),
		services.WithCollectorLogger(log.With().Str("component", "metrics").Logger()),
	)

	hub := ws.NewHub()
	bus.Subscribe(ws.PresenceBroadcaster(hub))

	router := services.NewRoomRouter(services.RouterDeps{
		Chats:     chatDirectory{db},
		Messages:  messageStore{db},
		Calls:     callStore{db},
		Sessions:  pm,
		Transport: hub,
		Recorder:  mc,
	}, services.WithRouterLogger(log.With().Str("component", "router").Logger()))

	wsCfg := ws.Config{
		PingInterval:    cfg.WS.PingInterval,
		PongWait:        cfg.WS.PongWait,
		WriteTimeout:    cfg.WS.WriteTimeout,
		MaxMessageBytes: cfg.WS.MaxMessageBytes,
		SendBuffer:      cfg.WS.SendBuffer,
	}
	disp := ws.NewDispatcher(ws.DispatcherDeps{
		Activity: pm,
		Router:   router,
		Out:      hub,
		Errors:   mc,
		Limiter:  middleware.NewRateLimiter(cfg.WS.MsgRPS, cfg.WS.MsgBurst, nil),
	})
	gw := ws.NewGateway(hub, pm, disp, wsCfg, cfg.CORS.AllowedOrigins)

	a := &App{
		Presence: pm,
		Metrics:  mc,
		Router:   router,
		Hub:      hub,
		cfg:      cfg,
		bus:      bus,
		log:      lg,
	}

	if cfg.Redis.URL != "" {
		rdb, err := mirror.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("presence mirror: %w", err)
		}
		a.redis = rdb
		a.Mirror = mirror.New(rdb,
			mirror.WithPrefix(cfg.Redis.PresencePrefix),
			mirror.WithLogger(log.With().Str("component", "mirror").Logger()),
		)
		bus.Subscribe(a.Mirror.Listener())
	}

	gin.SetMode(cfg.GinMode)
	a.Engine = gin.New()
	httpapi.RegisterRoutes(a.Engine, httpapi.Deps{
		Handlers: handlers.New(pm, router, mc, storeStats{db}),
		Socket:   gw.Handle,
	}, cfg)

	if err := pm.Reconcile(ctx); err != nil {
		// Stale rows only skew store-side reads; the cache stays correct.
		lg.Warn().Err(err).Msg("startup reconcile failed")
	}
	return a, nil
}

// Run drives the background loops until ctx is done: the stale-session
// sweep, history pruning, missed-call expiry and the mirror worker.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Presence.Run(ctx, a.cfg.Presence.CleanupInterval)
		return nil
	})
	g.Go(func() error {
		a.Metrics.Run(ctx, pruneInterval)
		return nil
	})
	g.Go(func() error {
		sweep := a.cfg.Presence.CallRingTimeout / 3
		if sweep < minCallSweep {
			sweep = minCallSweep
		}
		a.Router.RunCallExpiry(ctx, sweep, a.cfg.Presence.CallRingTimeout)
		return nil
	})
	if a.Mirror != nil {
		g.Go(func() error {
			a.Mirror.Run(ctx, a.Presence, mirrorRefresh)
			return nil
		})
	}
	return g.Wait()
}

// Close tells every session the server is going away and releases the
// collector and Redis client.
func (a *App) Close() error {
	a.Hub.CloseAll(shutdownReason)
	a.Metrics.Close()
	var err error
	if a.redis != nil {
		if cerr := a.redis.Close(); cerr != nil && !errors.Is(cerr, redis.ErrClosed) {
			err = cerr
		}
	}
	return err
}
