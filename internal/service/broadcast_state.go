package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/nguyenquan715/kurento-one2many/internal/domain"
	"github.com/pion/webrtc/v4"
)

// outboundState gates the candidates sent to a session's peer.
type outboundState int

const (
	outboundHeld outboundState = iota
	outboundOpen
	outboundClosed
)

// Session is a participant of the broadcast as tracked by BroadcastService.
// Endpoint stays nil until the queued candidates of the session have been
// applied to it.
type Session struct {
	ID       string
	Role     domain.Role
	Peer     domain.Peer
	Endpoint domain.Endpoint

	token       uint64
	unsubscribe func()

	outMu    sync.Mutex
	outbound outboundState
	held     []webrtc.ICECandidateInit
}

// BroadcastState is the single active broadcast. It is created by the
// customer claim and discarded when the customer is torn down.
type BroadcastState struct {
	generation uint64
	customer   *Session
	pipeline   domain.Pipeline
	supporters map[string]*Session
}

func newBroadcastState(generation uint64, customer *Session) *BroadcastState {
	return &BroadcastState{
		generation: generation,
		customer:   customer,
		supporters: make(map[string]*Session),
	}
}

func (st *BroadcastState) isCustomer(id string) bool {
	return st.customer != nil && st.customer.ID == id
}

func (st *BroadcastState) status() domain.BroadcastStatus {
	status := domain.BroadcastStatus{
		Active:     st.pipeline != nil,
		Supporters: make([]string, 0, len(st.supporters)),
	}
	if st.customer != nil {
		status.CustomerID = st.customer.ID
	}
	for id := range st.supporters {
		status.Supporters = append(status.Supporters, id)
	}
	sort.Strings(status.Supporters)
	return status
}

// teardown collects the side effects of a stop so they can run after the
// service mutex has been released.
type teardown struct {
	notify      []*Session
	unsubscribe []func()
	endpoints   []domain.Endpoint
	pipeline    domain.Pipeline
	client      domain.MediaClient
}

func (t *teardown) detachSession(sess *Session) {
	if sess.unsubscribe != nil {
		t.unsubscribe = append(t.unsubscribe, sess.unsubscribe)
		sess.unsubscribe = nil
	}
}

func (t *teardown) empty() bool {
	return len(t.notify) == 0 && len(t.unsubscribe) == 0 && len(t.endpoints) == 0 &&
		t.pipeline == nil && t.client == nil
}

func (t *teardown) run(ctx context.Context) {
	for _, unsubscribe := range t.unsubscribe {
		unsubscribe()
	}

	for _, sess := range t.notify {
		if err := sess.Peer.SendStopCommunication(); err != nil {
			slog.Debug("failed to notify supporter", "sessionId", sess.ID, "error", err)
		}
	}

	for _, endpoint := range t.endpoints {
		if err := endpoint.Release(ctx); err != nil {
			slog.Warn("failed to release endpoint", "endpointId", endpoint.ID(), "error", err)
		}
	}

	if t.pipeline != nil {
		if err := t.pipeline.Release(ctx); err != nil {
			slog.Warn("failed to release pipeline", "pipelineId", t.pipeline.ID(), "error", err)
		}
	}

	if t.client != nil {
		if err := t.client.Close(); err != nil {
			slog.Warn("failed to close media client", "error", err)
		}
	}
}
