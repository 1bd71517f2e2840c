package ws

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-chat-presence/internal/services"
)

// Presence is the connection lifecycle surface of the PresenceManager.
type Presence interface {
	UserConnected(ctx context.Context, userID, handle, username string) (services.ConnectResult, error)
	SessionDisconnected(ctx context.Context, userID, handle string) (bool, error)
	UpdateUserActivity(ctx context.Context, userID string) error
}

// ConnectedPayload is the first frame of every session.
type ConnectedPayload struct {
	UserID        string `json:"userId"`
	SessionHandle string `json:"sessionHandle"`
}

// Gateway upgrades HTTP requests to sessions.
type Gateway struct {
	hub        *Hub
	presence   Presence
	dispatcher *Dispatcher
	cfg        Config
	upgrader   websocket.Upgrader
	log        zerolog.Logger
}

// NewGateway builds a gateway. An empty allowedOrigins accepts any origin.
func NewGateway(hub *Hub, presence Presence, dispatcher *Dispatcher, cfg Config, allowedOrigins []string) *Gateway {
	g := &Gateway{
		hub:        hub,
		presence:   presence,
		dispatcher: dispatcher,
		cfg:        cfg.withDefaults(),
		log:        log.Logger,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return g
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[u.Scheme+"://"+u.Host]
		return ok
	}
}

// identity reads the caller as established by the upstream auth layer. The
// identity is trusted, not validated.
func identity(c *gin.Context) (userID, username string) {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok {
			userID = s
		}
	}
	if userID == "" {
		userID = c.GetHeader("X-User-ID")
	}
	if userID == "" {
		userID = c.Query("user_id")
	}
	if v, ok := c.Get("username"); ok {
		username, _ = v.(string)
	}
	if username == "" {
		username = c.Query("username")
	}
	return strings.TrimSpace(userID), strings.TrimSpace(username)
}

// Handle serves GET /ws. It blocks for the lifetime of the session.
func (g *Gateway) Handle(c *gin.Context) {
	userID, username := identity(c)
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "unauthorized",
			"message":    "missing user identity",
		})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Debug().Err(err).Str("user_id", userID).Msg("ws upgrade failed")
		return
	}

	handle := uuid.NewString()
	span := trace.SpanFromContext(c.Request.Context())
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("ws.session", handle))
	// The session outlives request cancellation semantics of the handler.
	ctx := context.WithoutCancel(c.Request.Context())
	lg := g.log.With().Str("user_id", userID).Str("session", handle).Logger()

	client := newClient(handle, userID, conn, g.cfg, lg)
	g.hub.Register(client)
	go client.writePump()

	if _, err := g.presence.UserConnected(ctx, userID, handle, username); err != nil {
		lg.Warn().Err(err).Msg("connect rejected")
		_ = g.hub.Emit(handle, EventError, ErrorPayload{Code: errorCode(err), Message: err.Error()})
		client.Close(websocket.CloseTryAgainLater, "presence unavailable")
		g.hub.Unregister(client)
		return
	}
	_ = g.hub.Emit(handle, EventConnected, ConnectedPayload{UserID: userID, SessionHandle: handle})
	lg.Info().Msg("ws session opened")

	sess := Session{UserID: userID, Handle: handle}
	client.readPump(
		func(frame []byte) { g.dispatcher.Dispatch(ctx, sess, frame) },
		func() {
			if err := g.presence.UpdateUserActivity(ctx, userID); err != nil {
				lg.Debug().Err(err).Msg("pong activity update failed")
			}
		},
	)

	client.Close(websocket.CloseNormalClosure, "")
	g.hub.Unregister(client)
	if _, err := g.presence.SessionDisconnected(ctx, userID, handle); err != nil {
		lg.Warn().Err(err).Msg("disconnect not persisted")
	}
	lg.Info().Msg("ws session closed")
}
