package signalling

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/nguyenquan715/kurento-one2many/internal/metrics"
	"github.com/nguyenquan715/kurento-one2many/internal/sockets"
)

// Session is one open signalling connection.
type Session struct {
	ID      sockets.SocketID
	Socket  sockets.Socket
	Loop    *ConnectionLoop
	Cleanup func()
}

type SessionHandler struct {
	sockets      *sockets.SocketPool
	broadcast    Broadcaster
	pingInterval time.Duration
}

func NewSessionHandler(pool *sockets.SocketPool, broadcast Broadcaster, pingInterval time.Duration) *SessionHandler {
	return &SessionHandler{
		sockets:      pool,
		broadcast:    broadcast,
		pingInterval: pingInterval,
	}
}

// RegisterSession allocates an id for conn and starts its connection loop.
// Cleanup must be called once the connection is gone; it ends whatever
// role the session held in the broadcast.
func (h *SessionHandler) RegisterSession(conn *websocket.Conn) *Session {
	id := sockets.NextID()
	return h.register(sockets.NewSocket(id, conn))
}

func (h *SessionHandler) register(socket sockets.Socket) *Session {
	id := socket.ID()
	h.sockets.AddSocket(socket)

	loop := NewConnectionLoop(socket, h.pingInterval)
	loop.Start()

	metrics.ActiveWebSocketConnections.Inc()
	metrics.WebSocketConnectionsTotal.Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			slog.Info("connection closed", "sessionId", id)
			h.broadcast.Stop(string(id))
			loop.Stop()
			h.sockets.CloseSocket(id)

			metrics.ActiveWebSocketConnections.Dec()
			metrics.WebSocketDisconnectionsTotal.Inc()
		})
	}

	slog.Info("connection received", "sessionId", id)

	return &Session{
		ID:      id,
		Socket:  socket,
		Loop:    loop,
		Cleanup: cleanup,
	}
}
