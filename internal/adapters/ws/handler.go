package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/stablezoo/internal/domain/session"
	"github.com/okian/stablezoo/pkg/logger"
)

// Sessions opens one session controller per connection.
type Sessions interface {
	Open(connID string, out session.Sink) *session.Controller
}

// Handler upgrades HTTP requests and serves the resulting connections.
type Handler struct {
	registry *Registry
	sessions Sessions
	upgrader websocket.Upgrader
	logger   logger.Logger
}

// NewHandler creates an upgrade handler. An empty allowedOrigins accepts
// any origin.
func NewHandler(registry *Registry, sessions Sessions, allowedOrigins []string) *Handler {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}
	return &Handler{
		registry: registry,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				_, ok := origins[r.Header.Get("Origin")]
				return ok
			},
		},
		logger: registry.logger,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Debug(ctx, "upgrade failed", logger.String("remote", r.RemoteAddr), logger.Error(err))
		return
	}

	conn, err := h.registry.Register()
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server shutting down")
		_ = ws.WriteMessage(websocket.CloseMessage, msg)
		_ = ws.Close()
		return
	}
	h.logger.Info(ctx, "client connected",
		logger.String("conn", conn.ID()),
		logger.String("remote", r.RemoteAddr),
		logger.Int("clients", h.registry.Count()))

	ctrl := h.sessions.Open(conn.ID(), conn)
	conn.Serve(ctx, ws, ctrl)
	ctrl.Close(context.WithoutCancel(ctx))

	h.logger.Info(ctx, "client disconnected",
		logger.String("conn", conn.ID()),
		logger.Duration("connected_for", time.Since(conn.CreatedAt())),
		logger.Int("clients", h.registry.Count()))
}
