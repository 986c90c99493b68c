package websocket

import (
	"context"
	"net/http"
	"time"

	"relay-chat/internal/auth"
	"relay-chat/internal/events"
	"relay-chat/internal/transport/httpdto"
	"relay-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ProfileResolver resolves a bearer token to its owner.
type ProfileResolver interface {
	FetchProfile(ctx context.Context, token string) (auth.Profile, error)
}

type Handler struct {
	auth     ProfileResolver
	hub      *Hub
	log      *logger.Logger
	upgrader websocket.Upgrader
}

func NewHandler(resolver ProfileResolver, hub *Hub, log *logger.Logger) *Handler {
	return &Handler{
		auth: resolver,
		hub:  hub,
		log:  log.Named("ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Connect upgrades GET /ws?token= and streams the user's notifications and
// broadcasts until the peer goes away.
func (h *Handler) Connect(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	profile, err := h.auth.FetchProfile(c.Request.Context(), token)
	if err != nil {
		h.log.WarnCtx(c.Request.Context(), "websocket auth failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := NewClient(conn, profile.ID)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.hub.Register(client, events.ChannelsFor(profile.ID)...)
	go client.WriteLoop(ctx)
	h.log.DebugCtx(c.Request.Context(), "websocket connected", zap.Int64("user_id", profile.ID), zap.String("client_id", client.ID))

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	}

	h.hub.Unregister(client)
	h.log.DebugCtx(c.Request.Context(), "websocket disconnected", zap.Int64("user_id", profile.ID), zap.String("client_id", client.ID))
}
