package signalling

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nguyenquan715/kurento-one2many/internal/api"
	"github.com/nguyenquan715/kurento-one2many/internal/domain"
	"github.com/nguyenquan715/kurento-one2many/internal/metrics"
	"github.com/nguyenquan715/kurento-one2many/internal/sockets"
	"github.com/pion/webrtc/v4"
)

var (
	// ErrConnectionClosed is returned when sending on a stopped connection loop.
	ErrConnectionClosed = errors.New("signalling: connection closed")
	// ErrOutboundQueueFull is returned by SendIceCandidate instead of blocking.
	ErrOutboundQueueFull = errors.New("signalling: outbound queue full")
)

const outboundQueueSize = 32

// ConnectionLoop owns the write side of one signalling socket. Every
// outbound message goes through a single writer goroutine, and a WebSocket
// ping is sent every pingInterval to keep the connection alive.
type ConnectionLoop struct {
	socket       sockets.Socket
	messages     chan api.Message
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	pingInterval time.Duration
}

func NewConnectionLoop(socket sockets.Socket, pingInterval time.Duration) *ConnectionLoop {
	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionLoop{
		socket:       socket,
		messages:     make(chan api.Message, outboundQueueSize),
		ctx:          ctx,
		cancel:       cancel,
		pingInterval: pingInterval,
	}
}

func (l *ConnectionLoop) Start() {
	l.wg.Add(1)
	go l.messageWriterLoop()

	if l.pingInterval > 0 {
		l.wg.Add(1)
		go l.pingLoop()
	}
}

// Stop ends the writer and ping goroutines. Messages still queued are
// dropped. It is safe to call more than once.
func (l *ConnectionLoop) Stop() {
	l.cancel()
	l.wg.Wait()
}

// Send queues msg for the writer goroutine. It blocks while the queue is
// full and fails once the loop is stopped.
func (l *ConnectionLoop) Send(msg api.Message) error {
	select {
	case <-l.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case l.messages <- msg:
		return nil
	case <-l.ctx.Done():
		return ErrConnectionClosed
	}
}

func (l *ConnectionLoop) SendStartResponse(role domain.Role, result domain.NegotiationResult) error {
	return l.Send(api.ResponseFor(role, result))
}

// SendIceCandidate queues a candidate without waiting. It is called from
// media event goroutines shared by every session, so a slow client loses
// candidates instead of stalling the others.
func (l *ConnectionLoop) SendIceCandidate(candidate webrtc.ICECandidateInit) error {
	select {
	case <-l.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case l.messages <- api.IceCandidateMessage(candidate):
		return nil
	default:
		slog.Warn("outbound queue full, dropping ice candidate", "socketID", l.socket.ID())
		return ErrOutboundQueueFull
	}
}

func (l *ConnectionLoop) SendStopCommunication() error {
	return l.Send(api.StopCommunicationMessage())
}

func (l *ConnectionLoop) messageWriterLoop() {
	defer l.wg.Done()

	for {
		select {
		case msg := <-l.messages:
			if err := l.socket.WriteJSON(msg); err != nil {
				slog.Error("failed to send message", "socketID", l.socket.ID(), "id", msg.ID, "error", err)
				l.cancel()
				return
			}
			metrics.SignallingMessagesTotal.WithLabelValues(string(msg.ID), "out").Inc()
		case <-l.ctx.Done():
			return
		}
	}
}

func (l *ConnectionLoop) pingLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := l.socket.WritePing(); err != nil {
				slog.Debug("failed to send ping", "socketID", l.socket.ID(), "error", err)
				return
			}
		case <-l.ctx.Done():
			return
		}
	}
}
