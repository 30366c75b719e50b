package sockets

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
)

type SocketID string

var lastSocketID atomic.Uint64

// NextID returns a process-unique, monotonically increasing socket id.
func NextID() SocketID {
	return SocketID(strconv.FormatUint(lastSocketID.Add(1), 10))
}

// Socket is a WebSocket connection that is safe for concurrent writers.
type Socket interface {
	ID() SocketID
	WriteJSON(v any) error
	WritePing() error
	Close() error
}

type socketImpl struct {
	id SocketID
	ws *websocket.Conn
	mu sync.Mutex
}

const writeWait = 10 * time.Second

func NewSocket(id SocketID, conn *websocket.Conn) Socket {
	return &socketImpl{id: id, ws: conn}
}

func (s *socketImpl) ID() SocketID {
	return s.id
}

func (s *socketImpl) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return s.ws.WriteJSON(v)
}

func (s *socketImpl) WritePing() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *socketImpl) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.Close()
}
