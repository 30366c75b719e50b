package kurento

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/nguyenquan715/kurento-one2many/internal/domain"
	"github.com/nguyenquan715/kurento-one2many/internal/metrics"
	"github.com/nguyenquan715/kurento-one2many/internal/utils"
)

const (
	DefaultRequestTimeout    = 10 * time.Second
	DefaultKeepaliveInterval = 240 * time.Second

	iceCandidateFound = "IceCandidateFound"
	// Event name used by Kurento releases before 6.7.
	legacyOnIceCandidate = "OnIceCandidate"
)

type Option func(*Client)

func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithKeepaliveInterval sets the ping period. Zero disables keepalive.
func WithKeepaliveInterval(interval time.Duration) Option {
	return func(c *Client) {
		c.keepaliveInterval = interval
	}
}

type subscription struct {
	object  string
	handler domain.ICEHandler
}

// Client is a Kurento JSON-RPC session over one WebSocket connection. It
// implements domain.MediaClient.
type Client struct {
	conn              *websocket.Conn
	timeout           time.Duration
	keepaliveInterval time.Duration
	keepalive         utils.IntervalTimer

	writeMu sync.Mutex

	mu        sync.Mutex
	nextID    uint64
	pending   map[uint64]chan message
	sessionID string
	err       error

	subscriptions *utils.Registry[string, subscription]

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the media server at uri.
func Dial(ctx context.Context, uri string, opts ...Option) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("kurento: dial %s: %w", uri, err)
	}

	c := &Client{
		conn:              conn,
		timeout:           DefaultRequestTimeout,
		keepaliveInterval: DefaultKeepaliveInterval,
		pending:           make(map[uint64]chan message),
		subscriptions:     utils.NewRegistry[string, subscription](),
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.readLoop()
	if c.keepaliveInterval > 0 {
		c.keepalive = utils.SetIntervalTimer(c.keepaliveInterval, c.ping)
	}

	slog.Info("connected to media server", "uri", uri)
	return c, nil
}

func (c *Client) CreatePipeline(ctx context.Context) (domain.Pipeline, error) {
	res, err := c.call(ctx, "create", map[string]any{
		"type":              "MediaPipeline",
		"constructorParams": map[string]any{},
		"properties":        map[string]any{},
	})
	if err != nil {
		return nil, err
	}
	id, err := res.stringValue()
	if err != nil {
		return nil, err
	}
	return &Pipeline{client: c, id: id}, nil
}

// Done is closed once the connection to the media server is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the client stopped, or nil while it is running.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) Close() error {
	return c.shutdown(ErrClosed)
}

func (c *Client) shutdown(reason error) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = reason
		c.mu.Unlock()

		if c.keepalive != nil {
			c.keepalive.Stop()
		}
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) call(ctx context.Context, method string, params map[string]any) (result, error) {
	select {
	case <-c.done:
		return result{}, c.Err()
	default:
	}

	ch := make(chan message, 1)
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	if c.sessionID != "" {
		if params == nil {
			params = map[string]any{}
		}
		params["sessionId"] = c.sessionID
	}
	c.mu.Unlock()

	start := time.Now()
	defer func() {
		metrics.MediaRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	if err := c.write(request{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		c.forget(id)
		metrics.MediaRequestsTotal.WithLabelValues(method, "error").Inc()
		return result{}, fmt.Errorf("kurento: send %s: %w", method, err)
	}

	select {
	case msg := <-ch:
		if msg.Error != nil {
			metrics.MediaRequestsTotal.WithLabelValues(method, "error").Inc()
			return result{}, msg.Error
		}
		metrics.MediaRequestsTotal.WithLabelValues(method, "ok").Inc()
		if msg.Result == nil {
			return result{}, nil
		}
		if msg.Result.SessionID != "" {
			c.mu.Lock()
			c.sessionID = msg.Result.SessionID
			c.mu.Unlock()
		}
		return *msg.Result, nil
	case <-ctx.Done():
		c.forget(id)
		metrics.MediaRequestsTotal.WithLabelValues(method, "timeout").Inc()
		return result{}, fmt.Errorf("kurento: %s: %w", method, ctx.Err())
	case <-c.done:
		metrics.MediaRequestsTotal.WithLabelValues(method, "error").Inc()
		return result{}, fmt.Errorf("kurento: %s: %w", method, c.Err())
	}
}

func (c *Client) invoke(ctx context.Context, object, operation string, operationParams map[string]any) (result, error) {
	params := map[string]any{"object": object, "operation": operation}
	if operationParams != nil {
		params["operationParams"] = operationParams
	}
	return c.call(ctx, "invoke", params)
}

func (c *Client) release(ctx context.Context, object string) error {
	_, err := c.call(ctx, "release", map[string]any{"object": object})
	return err
}

func (c *Client) subscribe(ctx context.Context, object string, handler domain.ICEHandler) (func(), error) {
	res, err := c.call(ctx, "subscribe", map[string]any{"type": iceCandidateFound, "object": object})
	if err != nil {
		return nil, err
	}
	subID, err := res.stringValue()
	if err != nil {
		return nil, err
	}
	c.subscriptions.Store(subID, subscription{object: object, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subscriptions.Delete(subID)
			ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()
			if _, err := c.call(ctx, "unsubscribe", map[string]any{"subscription": subID, "object": object}); err != nil {
				slog.Debug("failed to unsubscribe", "subscription", subID, "error", err)
			}
		})
	}, nil
}

func (c *Client) ping() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if _, err := c.call(ctx, "ping", map[string]any{"interval": c.keepaliveInterval.Milliseconds()}); err != nil {
		slog.Warn("media server keepalive failed", "error", err)
	}
}

func (c *Client) write(req request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.conn.WriteJSON(req)
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				slog.Warn("media server connection closed", "error", err)
			}
			_ = c.shutdown(fmt.Errorf("kurento: connection lost: %w", err))
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("malformed message from media server", "error", err)
			continue
		}

		if msg.Method == "onEvent" {
			c.dispatchEvent(msg.Params)
			continue
		}
		if msg.ID == nil {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[*msg.ID]
		delete(c.pending, *msg.ID)
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

func (c *Client) dispatchEvent(raw json.RawMessage) {
	var params eventParams
	if err := json.Unmarshal(raw, &params); err != nil {
		slog.Warn("malformed event from media server", "error", err)
		return
	}

	ev := params.Value
	if ev.Type != iceCandidateFound && ev.Type != legacyOnIceCandidate {
		slog.Debug("ignoring media server event", "type", ev.Type, "object", ev.Object)
		return
	}
	if ev.Data.Candidate == nil {
		return
	}

	source := ev.Object
	if source == "" {
		source = ev.Data.Source
	}
	candidate := ev.Data.Candidate.toInit()
	c.subscriptions.Each(func(sub subscription) {
		if sub.object == source {
			sub.handler(candidate)
		}
	})
}
