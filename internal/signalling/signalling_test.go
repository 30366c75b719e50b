package signalling

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nguyenquan715/kurento-one2many/internal/api"
	"github.com/nguyenquan715/kurento-one2many/internal/config"
	"github.com/nguyenquan715/kurento-one2many/internal/domain"
	"github.com/nguyenquan715/kurento-one2many/internal/sockets"
	"github.com/pion/webrtc/v4"
)

type fakeSocket struct {
	id sockets.SocketID

	mu       sync.Mutex
	messages []api.Message
	closed   bool
}

func (s *fakeSocket) ID() sockets.SocketID { return s.id }

func (s *fakeSocket) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("closed")
	}
	s.messages = append(s.messages, v.(api.Message))
	return nil
}

func (s *fakeSocket) WritePing() error { return nil }

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSocket) sent() []api.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Message(nil), s.messages...)
}

type fakeBroadcaster struct {
	mu         sync.Mutex
	starts     []string
	candidates []webrtc.ICECandidateInit
	stops      []string
	result     domain.NegotiationResult
	status     domain.BroadcastStatus
	stopped    bool
}

func (b *fakeBroadcaster) start(role domain.Role, id string, peer domain.Peer, offer string) <-chan domain.NegotiationResult {
	b.mu.Lock()
	b.starts = append(b.starts, role.String()+":"+id+":"+offer)
	result := b.result
	b.mu.Unlock()

	_ = peer.SendStartResponse(role, result)
	ch := make(chan domain.NegotiationResult, 1)
	ch <- result
	return ch
}

func (b *fakeBroadcaster) StartCustomer(id string, peer domain.Peer, sdpOffer string) <-chan domain.NegotiationResult {
	return b.start(domain.RoleCustomer, id, peer, sdpOffer)
}

func (b *fakeBroadcaster) StartSupporter(id string, peer domain.Peer, sdpOffer string) <-chan domain.NegotiationResult {
	return b.start(domain.RoleSupporter, id, peer, sdpOffer)
}

func (b *fakeBroadcaster) AddIceCandidate(id string, candidate webrtc.ICECandidateInit) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.candidates = append(b.candidates, candidate)
	return nil
}

func (b *fakeBroadcaster) Stop(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stops = append(b.stops, id)
}

func (b *fakeBroadcaster) Status() domain.BroadcastStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *fakeBroadcaster) StopBroadcast() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.status.Active {
		return "", false
	}
	b.stopped = true
	return b.status.CustomerID, true
}

func (b *fakeBroadcaster) snapshot() (starts, stops []string, candidates int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.starts...), append([]string(nil), b.stops...), len(b.candidates)
}

func newTestSession(t *testing.T, b Broadcaster) (*Session, *fakeSocket) {
	t.Helper()
	socket := &fakeSocket{id: sockets.NextID()}
	h := NewSessionHandler(sockets.NewSocketPool(), b, 0)
	session := h.register(socket)
	t.Cleanup(session.Cleanup)
	return session, socket
}

func waitForMessages(t *testing.T, socket *fakeSocket, n int) []api.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := socket.sent(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d messages, got %v", n, socket.sent())
	return nil
}

func TestProtocolHandler_CustomerAccepted(t *testing.T) {
	b := &fakeBroadcaster{result: domain.NegotiationResult{SDPAnswer: "v=0 answer"}}
	session, socket := newTestSession(t, b)
	h := NewProtocolHandler(b)

	h.HandleMessage(session, []byte(`{"id":"customer","sdpOffer":"v=0 offer"}`))

	msgs := waitForMessages(t, socket, 1)
	if msgs[0].ID != api.MessageIDCustomerResponse || msgs[0].Response != api.ResponseAccepted || msgs[0].SDPAnswer != "v=0 answer" {
		t.Fatalf("unexpected response %+v", msgs[0])
	}

	starts, _, _ := b.snapshot()
	if len(starts) != 1 || starts[0] != "customer:"+string(session.ID)+":v=0 offer" {
		t.Fatalf("unexpected starts %v", starts)
	}
}

func TestProtocolHandler_SupporterRejected(t *testing.T) {
	b := &fakeBroadcaster{result: domain.NegotiationResult{Err: domain.ErrNoBroadcaster}}
	session, socket := newTestSession(t, b)
	h := NewProtocolHandler(b)

	h.HandleMessage(session, []byte(`{"id":"supporter","sdpOffer":"offer"}`))

	msgs := waitForMessages(t, socket, 1)
	if msgs[0].ID != api.MessageIDSupporterResponse || msgs[0].Response != api.ResponseRejected {
		t.Fatalf("unexpected response %+v", msgs[0])
	}
	if msgs[0].Message != api.NoBroadcasterMessage {
		t.Fatalf("unexpected rejection text %q", msgs[0].Message)
	}
}

func TestProtocolHandler_InvalidMessages(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"id":`},
		{"customer without offer", `{"id":"customer"}`},
		{"supporter without offer", `{"id":"supporter"}`},
		{"candidate missing", `{"id":"onIceCandidate"}`},
		{"unknown id", `{"id":"dance"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBroadcaster{}
			session, socket := newTestSession(t, b)
			h := NewProtocolHandler(b)

			h.HandleMessage(session, []byte(tt.raw))

			msgs := waitForMessages(t, socket, 1)
			if msgs[0].ID != api.MessageIDError || !strings.HasPrefix(msgs[0].Message, "Invalid message") {
				t.Fatalf("unexpected reply %+v", msgs[0])
			}

			starts, _, candidates := b.snapshot()
			if len(starts) != 0 || candidates != 0 {
				t.Fatalf("invalid message reached the broadcast: starts=%v candidates=%d", starts, candidates)
			}
		})
	}
}

func TestProtocolHandler_CandidateAndStop(t *testing.T) {
	b := &fakeBroadcaster{}
	session, _ := newTestSession(t, b)
	h := NewProtocolHandler(b)

	h.HandleMessage(session, []byte(`{"id":"onIceCandidate","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 9 typ host","sdpMid":"0","sdpMLineIndex":0}}`))
	h.HandleMessage(session, []byte(`{"id":"stop"}`))

	_, stops, candidates := b.snapshot()
	if candidates != 1 {
		t.Fatalf("expected 1 candidate, got %d", candidates)
	}
	if len(stops) != 1 || stops[0] != string(session.ID) {
		t.Fatalf("unexpected stops %v", stops)
	}
}

func TestSession_CleanupStopsOnce(t *testing.T) {
	b := &fakeBroadcaster{}
	pool := sockets.NewSocketPool()
	h := NewSessionHandler(pool, b, 0)

	socket := &fakeSocket{id: sockets.NextID()}
	session := h.register(socket)
	if pool.Len() != 1 {
		t.Fatalf("socket not registered")
	}

	session.Cleanup()
	session.Cleanup()

	_, stops, _ := b.snapshot()
	if len(stops) != 1 || stops[0] != string(session.ID) {
		t.Fatalf("unexpected stops %v", stops)
	}
	if pool.Len() != 0 {
		t.Fatalf("socket still in pool after cleanup")
	}
	if err := session.Loop.SendStopCommunication(); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnectionLoop_PreservesOrder(t *testing.T) {
	socket := &fakeSocket{id: "1"}
	loop := NewConnectionLoop(socket, 0)
	loop.Start()
	defer loop.Stop()

	for i := 0; i < 10; i++ {
		mid := "0"
		if err := loop.SendIceCandidate(webrtc.ICECandidateInit{Candidate: string(rune('a' + i)), SDPMid: &mid}); err != nil {
			t.Fatalf("SendIceCandidate: %v", err)
		}
	}

	msgs := waitForMessages(t, socket, 10)
	for i, msg := range msgs {
		if msg.Candidate == nil || msg.Candidate.Candidate != string(rune('a'+i)) {
			t.Fatalf("message %d out of order: %+v", i, msg)
		}
	}
}

type blockingSocket struct {
	fakeSocket
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingSocket) WriteJSON(v any) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.fakeSocket.WriteJSON(v)
}

func TestConnectionLoop_CandidateDroppedWhenQueueFull(t *testing.T) {
	socket := &blockingSocket{
		fakeSocket: fakeSocket{id: "1"},
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	loop := NewConnectionLoop(socket, 0)
	loop.Start()
	defer loop.Stop()
	defer close(socket.release)

	if err := loop.SendStopCommunication(); err != nil {
		t.Fatalf("SendStopCommunication: %v", err)
	}
	<-socket.entered

	for i := 0; i < outboundQueueSize; i++ {
		if err := loop.SendIceCandidate(webrtc.ICECandidateInit{Candidate: "queued"}); err != nil {
			t.Fatalf("candidate %d: %v", i, err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- loop.SendIceCandidate(webrtc.ICECandidateInit{Candidate: "overflow"}) }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrOutboundQueueFull) {
			t.Fatalf("expected ErrOutboundQueueFull, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SendIceCandidate blocked on a full queue")
	}
}

func TestConnectionLoop_SendStartResponse(t *testing.T) {
	socket := &fakeSocket{id: "1"}
	loop := NewConnectionLoop(socket, 0)
	loop.Start()
	defer loop.Stop()

	if err := loop.SendStartResponse(domain.RoleSupporter, domain.NegotiationResult{SDPAnswer: "answer"}); err != nil {
		t.Fatalf("SendStartResponse: %v", err)
	}
	if err := loop.SendIceCandidate(webrtc.ICECandidateInit{Candidate: "c"}); err != nil {
		t.Fatalf("SendIceCandidate: %v", err)
	}

	msgs := waitForMessages(t, socket, 2)
	if msgs[0].ID != api.MessageIDSupporterResponse || msgs[0].SDPAnswer != "answer" {
		t.Fatalf("unexpected first message %+v", msgs[0])
	}
	if msgs[1].ID != api.MessageIDIceCandidate {
		t.Fatalf("unexpected second message %+v", msgs[1])
	}
}

func newTestServer(t *testing.T, b BroadcastController, opts ...config.Option) *fiber.App {
	t.Helper()
	opts = append([]config.Option{config.WithStaticDir("")}, opts...)
	cfg := config.NewAppConfig(opts...)

	app := fiber.New()
	server := NewServer(cfg, app, b)
	server.Setup()
	t.Cleanup(server.Close)
	return app
}

func TestAdminApi_Status(t *testing.T) {
	b := &fakeBroadcaster{status: domain.BroadcastStatus{Active: true, CustomerID: "1", Supporters: []string{"2", "3"}}}
	app := newTestServer(t, b)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/admin/broadcast", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	var status domain.BroadcastStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status.Active || status.CustomerID != "1" || len(status.Supporters) != 2 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestAdminApi_Stop(t *testing.T) {
	b := &fakeBroadcaster{status: domain.BroadcastStatus{Active: true, CustomerID: "7"}}
	app := newTestServer(t, b)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/api/admin/broadcast/stop", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	var result api.BroadcastStopResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.Stopped || result.CustomerID != "7" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestAdminApi_RequiresCredential(t *testing.T) {
	secret := "s3cret"
	app := newTestServer(t, &fakeBroadcaster{}, config.WithAdminCredential(&secret))

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/admin/broadcast", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", resp.StatusCode)
	}

	req := httptest.NewRequest(fiber.MethodGet, "/api/admin/broadcast", nil)
	req.SetBasicAuth("admin", secret)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 with credentials, got %d", resp.StatusCode)
	}
}

func TestAuthHandler_BasicAuthOnlyWithCredential(t *testing.T) {
	secret := "s3cret"
	tests := []struct {
		name       string
		credential *string
		want       int
	}{
		{"no credential", nil, 1},
		{"credential", &secret, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAuthHandler(config.SecurityConfig{AdminCredential: tt.credential})
			if got := len(h.Middleware()); got != tt.want {
				t.Fatalf("Middleware() has %d handlers, want %d", got, tt.want)
			}
		})
	}
}

func TestAdminApi_IPAllowList(t *testing.T) {
	app := newTestServer(t, &fakeBroadcaster{},
		config.WithAdminsNetworks([]netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}))

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/admin/broadcast", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("expected 403 outside the allow-list, got %d", resp.StatusCode)
	}
}

func TestServer_MetricsAndUpgradeRequired(t *testing.T) {
	app := newTestServer(t, &fakeBroadcaster{})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(string(body), "one2many_") {
		t.Fatalf("unexpected metrics response %d", resp.StatusCode)
	}

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/one2many", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Fatalf("expected 426 for plain GET, got %d", resp.StatusCode)
	}
}
