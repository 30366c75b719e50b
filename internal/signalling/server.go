package signalling

import (
	"log/slog"
	"runtime/debug"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/nguyenquan715/kurento-one2many/internal/config"
	"github.com/nguyenquan715/kurento-one2many/internal/domain"
	"github.com/nguyenquan715/kurento-one2many/internal/sockets"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// BroadcastController is the broadcast service as seen by the server: the
// signalling operations plus the admin view.
type BroadcastController interface {
	Broadcaster
	Status() domain.BroadcastStatus
	StopBroadcast() (string, bool)
}

// Server is the HTTP/WebSocket front of the broadcast.
//
// Routes:
//   - GET {server.path}: signalling WebSocket (customer and supporter clients)
//   - GET /metrics: Prometheus exposition
//   - GET /api/admin/broadcast, POST /api/admin/broadcast/stop: operator API,
//     guarded by the admin IP allow-list and basic auth
//   - GET /: static files from server.staticDir
//
// Every signalling connection is a session with its own id. The reader runs
// in the fiber handler goroutine and replies go through the session's
// ConnectionLoop. When the socket closes the session is stopped in the
// broadcast, whatever role it had.
type Server struct {
	app    *fiber.App
	config config.AppConfig

	broadcast BroadcastController
	sockets   *sockets.SocketPool
	sessions  *SessionHandler
	protocol  *ProtocolHandler
	auth      *AuthHandler
}

func NewServer(cfg config.AppConfig, app *fiber.App, broadcast BroadcastController) *Server {
	pool := sockets.NewSocketPool()

	return &Server{
		app:       app,
		config:    cfg,
		broadcast: broadcast,
		sockets:   pool,
		sessions:  NewSessionHandler(pool, broadcast, cfg.Server.PingPeriod()),
		protocol:  NewProtocolHandler(broadcast),
		auth:      NewAuthHandler(cfg.Security),
	}
}

// Setup mounts every route on the fiber app. Call it once before Listen.
func (s *Server) Setup() {
	s.setupSignallingSocket()
	s.setupMetrics()
	s.setupAdminApi()

	if s.config.Server.StaticDir != "" {
		s.app.Static("/", s.config.Server.StaticDir)
	}
}

// Close drops every open signalling connection. Their handlers then run
// the usual session cleanup.
func (s *Server) Close() {
	s.sockets.Close()
}

func (s *Server) setupSignallingSocket() {
	path := s.config.Server.Path

	s.app.Use(path, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	s.app.Get(path, websocket.New(func(c *websocket.Conn) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic in signalling socket", "path", path, "error", err, "stack", string(debug.Stack()))
			}
		}()

		s.listenSocket(c)
	}))
}

func (s *Server) listenSocket(c *websocket.Conn) {
	session := s.sessions.RegisterSession(c)
	defer session.Cleanup()

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			slog.Debug("signalling socket closed", "sessionId", session.ID, "error", err)
			return
		}
		s.protocol.HandleMessage(session, raw)
	}
}

func (s *Server) setupMetrics() {
	handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	s.app.Get("/metrics", func(c *fiber.Ctx) error {
		handler(c.Context())
		return nil
	})
}
