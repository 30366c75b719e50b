package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nguyenquan715/kurento-one2many/internal/domain"
	"github.com/nguyenquan715/kurento-one2many/internal/metrics"
	"github.com/pion/webrtc/v4"
)

const DefaultRequestTimeout = 10 * time.Second

// BroadcastService owns the single broadcast and the shared media client.
//
// Every check-and-set on the broadcast state happens under mu and no media
// call is made while mu is held. A start call is an attempt identified by a
// token; Stop revokes the token and each broadcast carries a generation, so
// a negotiation that resumes after its session was stopped can no longer
// commit anything and only releases what it created itself.
type BroadcastService struct {
	dialer         domain.MediaDialer
	queue          domain.CandidateQueue
	requestTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      *BroadcastState
	client     domain.MediaClient
	generation uint64
	nextToken  uint64
	attempts   map[string]uint64
	inflight   int
	closed     bool
}

type Option func(*BroadcastService)

// WithRequestTimeout bounds every individual media service call.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(s *BroadcastService) {
		if timeout > 0 {
			s.requestTimeout = timeout
		}
	}
}

func NewBroadcastService(dialer domain.MediaDialer, queue domain.CandidateQueue, opts ...Option) *BroadcastService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &BroadcastService{
		dialer:         dialer,
		queue:          queue,
		requestTimeout: DefaultRequestTimeout,
		ctx:            ctx,
		cancel:         cancel,
		attempts:       make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type attempt struct {
	session    *Session
	generation uint64
	started    time.Time

	// answered is set once the accepted response went out to the peer.
	answered bool
}

// StartCustomer claims the broadcaster slot for id and negotiates its
// endpoint. The claim happens before StartCustomer returns.
//
// The start response is sent to peer as soon as the offer is answered;
// gathering and connecting follow, and a failure there ends the session
// with stopCommunication. The returned channel carries the final outcome
// once all of it is done.
func (s *BroadcastService) StartCustomer(id string, peer domain.Peer, sdpOffer string) <-chan domain.NegotiationResult {
	result := make(chan domain.NegotiationResult, 1)
	s.queue.Clear(id)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		result <- s.reject(id, peer, domain.RoleCustomer, domain.ErrServiceUnavailable)
		return result
	}
	if s.state != nil {
		s.mu.Unlock()
		s.Stop(id)
		result <- s.reject(id, peer, domain.RoleCustomer, domain.ErrRoleConflict)
		return result
	}
	a := s.claimLocked(id, domain.RoleCustomer, peer)
	s.generation++
	a.generation = s.generation
	s.state = newBroadcastState(s.generation, a.session)
	s.mu.Unlock()

	metrics.ActiveCustomers.Set(1)
	slog.Info("customer claimed broadcast", "sessionId", id, "generation", a.generation)

	go func() {
		answer, err := s.negotiateCustomer(a, sdpOffer)
		result <- s.finish(a, answer, err)
	}()
	return result
}

// StartSupporter attaches id as a viewer of the active broadcast. Replies
// reach peer in the same order as for StartCustomer.
func (s *BroadcastService) StartSupporter(id string, peer domain.Peer, sdpOffer string) <-chan domain.NegotiationResult {
	result := make(chan domain.NegotiationResult, 1)
	s.queue.Clear(id)

	s.mu.Lock()
	st := s.state
	switch {
	case s.closed:
		s.mu.Unlock()
		result <- s.reject(id, peer, domain.RoleSupporter, domain.ErrServiceUnavailable)
		return result
	case st != nil && st.isCustomer(id):
		s.mu.Unlock()
		result <- s.reject(id, peer, domain.RoleSupporter, domain.ErrRoleConflict)
		return result
	case st == nil || st.pipeline == nil:
		s.mu.Unlock()
		s.Stop(id)
		result <- s.reject(id, peer, domain.RoleSupporter, domain.ErrNoBroadcaster)
		return result
	}

	// A repeated start replaces the previous supporter session of id.
	previous := s.stopLocked(id)
	a := s.claimLocked(id, domain.RoleSupporter, peer)
	a.generation = st.generation
	st.supporters[id] = a.session
	pipeline := st.pipeline
	metrics.ActiveSupporters.Set(float64(len(st.supporters)))
	s.mu.Unlock()

	go func() {
		if !previous.empty() {
			s.runTeardown(previous)
		}
		answer, err := s.negotiateSupporter(a, pipeline, sdpOffer)
		result <- s.finish(a, answer, err)
	}()
	return result
}

// AddIceCandidate forwards a remote candidate to the endpoint of id, or
// queues it until that endpoint exists.
func (s *BroadcastService) AddIceCandidate(id string, candidate webrtc.ICECandidateInit) error {
	metrics.ICECandidatesTotal.WithLabelValues("in").Inc()

	s.mu.Lock()
	endpoint := s.endpointLocked(id)
	if endpoint == nil {
		err := s.queue.Enqueue(id, candidate)
		s.mu.Unlock()
		if err != nil {
			metrics.ICECandidatesTotal.WithLabelValues("dropped").Inc()
			return err
		}
		metrics.ICECandidatesTotal.WithLabelValues("queued").Inc()
		return nil
	}
	s.mu.Unlock()

	ctx, cancel := s.opContext()
	defer cancel()
	if err := endpoint.AddIceCandidate(ctx, candidate); err != nil {
		return serviceError("add ice candidate", err)
	}
	return nil
}

// Stop tears down session id. It is safe to call for unknown ids and more
// than once.
func (s *BroadcastService) Stop(id string) {
	s.mu.Lock()
	t := s.stopLocked(id)
	s.mu.Unlock()

	s.runTeardown(t)
}

// StopBroadcast ends the active broadcast on behalf of an operator. The
// customer is told to stop as well as every supporter.
func (s *BroadcastService) StopBroadcast() (string, bool) {
	s.mu.Lock()
	if s.state == nil || s.state.customer == nil {
		s.mu.Unlock()
		return "", false
	}
	customer := s.state.customer
	t := s.stopLocked(customer.ID)
	t.notify = append(t.notify, customer)
	s.mu.Unlock()

	s.runTeardown(t)
	return customer.ID, true
}

func (s *BroadcastService) Status() domain.BroadcastStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return domain.BroadcastStatus{Supporters: []string{}}
	}
	return s.state.status()
}

// Close ends the broadcast, closes the media client and rejects any further
// start call.
func (s *BroadcastService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true

	var t teardown
	if s.state != nil && s.state.customer != nil {
		t = s.stopLocked(s.state.customer.ID)
	}
	if s.client != nil {
		t.client = s.client
		s.client = nil
		metrics.MediaClientActive.Set(0)
	}
	s.mu.Unlock()

	s.cancel()
	s.runTeardown(t)
}

func (s *BroadcastService) negotiateCustomer(a *attempt, sdpOffer string) (string, error) {
	client, err := s.mediaClient()
	if err != nil {
		return "", err
	}
	if !s.current(a) {
		return "", domain.ErrNoBroadcaster
	}

	ctx, cancel := s.opContext()
	pipeline, err := client.CreatePipeline(ctx)
	cancel()
	if err != nil {
		return "", serviceError("create pipeline", err)
	}
	if !s.commitPipeline(a, pipeline) {
		s.releaseOrphan(pipeline)
		return "", domain.ErrNoBroadcaster
	}

	ctx, cancel = s.opContext()
	endpoint, err := pipeline.CreateEndpoint(ctx, domain.EndpointOptions{DataChannels: true})
	cancel()
	if err != nil {
		return "", serviceError("create endpoint", err)
	}

	return s.negotiate(a, endpoint, sdpOffer, func(ctx context.Context) error {
		if err := endpoint.Connect(ctx, endpoint); err != nil {
			return serviceError("connect loopback", err)
		}
		return nil
	})
}

func (s *BroadcastService) negotiateSupporter(a *attempt, pipeline domain.Pipeline, sdpOffer string) (string, error) {
	ctx, cancel := s.opContext()
	endpoint, err := pipeline.CreateEndpoint(ctx, domain.EndpointOptions{DataChannels: true})
	cancel()
	if err != nil {
		return "", serviceError("create endpoint", err)
	}

	return s.negotiate(a, endpoint, sdpOffer, func(ctx context.Context) error {
		source := s.customerEndpoint(a)
		if source == nil {
			return domain.ErrNoBroadcaster
		}
		if err := source.Connect(ctx, endpoint); err != nil {
			return serviceError("connect customer", err)
		}
		return nil
	})
}

// negotiate runs the steps shared by both roles once the endpoint exists:
// queued candidates, candidate forwarding, offer, start response, gathering
// and connect.
func (s *BroadcastService) negotiate(a *attempt, endpoint domain.Endpoint, sdpOffer string, connect func(context.Context) error) (string, error) {
	if !s.attachEndpoint(a, endpoint) {
		s.releaseOrphan(endpoint)
		return "", domain.ErrNoBroadcaster
	}

	ctx, cancel := s.opContext()
	unsubscribe, err := endpoint.OnIceCandidate(ctx, s.forwardCandidate(a.session))
	cancel()
	if err != nil {
		return "", serviceError("subscribe ice candidates", err)
	}
	if !s.setUnsubscribe(a, unsubscribe) {
		unsubscribe()
		return "", domain.ErrNoBroadcaster
	}

	ctx, cancel = s.opContext()
	answer, err := endpoint.ProcessOffer(ctx, sdpOffer)
	cancel()
	if err != nil {
		return "", serviceError("process offer", err)
	}
	if !s.current(a) {
		return "", domain.ErrNoBroadcaster
	}

	a.answered = true
	s.respond(a.session, domain.NegotiationResult{SDPAnswer: answer})

	ctx, cancel = s.opContext()
	err = endpoint.GatherCandidates(ctx)
	cancel()
	if err != nil {
		return "", serviceError("gather candidates", err)
	}
	if !s.current(a) {
		return "", domain.ErrNoBroadcaster
	}

	ctx, cancel = s.opContext()
	err = connect(ctx)
	cancel()
	if err != nil {
		return "", err
	}
	if !s.current(a) {
		return "", domain.ErrNoBroadcaster
	}

	return answer, nil
}

// attachEndpoint applies the queued candidates of the session and publishes
// the endpoint for direct forwarding once the queue is observed empty. Batches
// are applied without holding the lock.
func (s *BroadcastService) attachEndpoint(a *attempt, endpoint domain.Endpoint) bool {
	for {
		s.mu.Lock()
		if !s.currentLocked(a) {
			s.mu.Unlock()
			return false
		}
		pending := s.queue.Drain(a.session.ID)
		if len(pending) == 0 {
			a.session.Endpoint = endpoint
			s.mu.Unlock()
			return true
		}
		s.mu.Unlock()

		for _, candidate := range pending {
			ctx, cancel := s.opContext()
			err := endpoint.AddIceCandidate(ctx, candidate)
			cancel()
			if err != nil {
				slog.Warn("failed to apply queued ice candidate", "sessionId", a.session.ID, "error", err)
			}
		}
	}
}

// forwardCandidate holds the candidates of sess until its start response
// has been sent. It runs on the media client's event goroutine and never
// blocks on the peer.
func (s *BroadcastService) forwardCandidate(sess *Session) domain.ICEHandler {
	return func(candidate webrtc.ICECandidateInit) {
		sess.outMu.Lock()
		defer sess.outMu.Unlock()

		switch sess.outbound {
		case outboundHeld:
			sess.held = append(sess.held, candidate)
		case outboundOpen:
			s.sendCandidate(sess, candidate)
		}
	}
}

// respond sends the start response of sess and then releases the
// candidates held for it, keeping the answer ahead of them on the wire.
func (s *BroadcastService) respond(sess *Session, result domain.NegotiationResult) {
	if err := sess.Peer.SendStartResponse(sess.Role, result); err != nil {
		slog.Debug("failed to send start response", "sessionId", sess.ID, "error", err)
	}

	sess.outMu.Lock()
	defer sess.outMu.Unlock()

	held := sess.held
	sess.held = nil
	if result.Err != nil {
		sess.outbound = outboundClosed
		return
	}
	sess.outbound = outboundOpen
	for _, candidate := range held {
		s.sendCandidate(sess, candidate)
	}
}

func (s *BroadcastService) sendCandidate(sess *Session, candidate webrtc.ICECandidateInit) {
	if err := sess.Peer.SendIceCandidate(candidate); err != nil {
		metrics.ICECandidatesTotal.WithLabelValues("dropped").Inc()
		slog.Debug("failed to send ice candidate", "sessionId", sess.ID, "error", err)
		return
	}
	metrics.ICECandidatesTotal.WithLabelValues("out").Inc()
}

func (s *BroadcastService) finish(a *attempt, answer string, err error) domain.NegotiationResult {
	role := a.session.Role.String()
	metrics.NegotiationDuration.WithLabelValues(role).Observe(time.Since(a.started).Seconds())

	s.mu.Lock()
	var t teardown
	if err != nil && s.attempts[a.session.ID] == a.session.token {
		t = s.stopLocked(a.session.ID)
		if a.answered {
			// The browser already holds an answer for this session.
			t.notify = append(t.notify, a.session)
		}
	}
	s.inflight--
	s.reapLocked(&t)
	s.mu.Unlock()

	if err != nil && !a.answered {
		s.respond(a.session, domain.NegotiationResult{Err: err})
	}
	s.runTeardown(t)

	if err != nil {
		slog.Warn("negotiation failed", "sessionId", a.session.ID, "role", role, "error", err)
		metrics.NegotiationsTotal.WithLabelValues(role, "rejected").Inc()
		return domain.NegotiationResult{Err: err}
	}

	slog.Info("negotiation completed", "sessionId", a.session.ID, "role", role,
		"duration", time.Since(a.started))
	metrics.NegotiationsTotal.WithLabelValues(role, "accepted").Inc()
	return domain.NegotiationResult{SDPAnswer: answer}
}

func (s *BroadcastService) reject(id string, peer domain.Peer, role domain.Role, err error) domain.NegotiationResult {
	slog.Info("start rejected", "sessionId", id, "role", role.String(), "error", err)
	metrics.NegotiationsTotal.WithLabelValues(role.String(), "rejected").Inc()
	result := domain.NegotiationResult{Err: err}
	if err := peer.SendStartResponse(role, result); err != nil {
		slog.Debug("failed to send start response", "sessionId", id, "error", err)
	}
	return result
}

// mediaClient returns the shared client, dialing it on first use.
func (s *BroadcastService) mediaClient() (domain.MediaClient, error) {
	s.mu.Lock()
	if client := s.client; client != nil {
		s.mu.Unlock()
		return client, nil
	}
	s.mu.Unlock()

	ctx, cancel := s.opContext()
	client, err := s.dialer.Dial(ctx)
	cancel()
	if err != nil {
		metrics.MediaClientConnectsTotal.WithLabelValues("error").Inc()
		return nil, serviceError("connect", err)
	}
	metrics.MediaClientConnectsTotal.WithLabelValues("ok").Inc()

	s.mu.Lock()
	if s.closed || s.client != nil {
		existing := s.client
		s.mu.Unlock()
		_ = client.Close()
		if existing == nil {
			return nil, domain.ErrServiceUnavailable
		}
		return existing, nil
	}
	s.client = client
	metrics.MediaClientActive.Set(1)
	s.mu.Unlock()

	go s.watchClient(client)
	return client, nil
}

// watchClient drops a client that went away and ends the broadcast that
// depended on it, so the next customer dials a fresh one.
func (s *BroadcastService) watchClient(client domain.MediaClient) {
	select {
	case <-client.Done():
	case <-s.ctx.Done():
		return
	}

	s.mu.Lock()
	if s.client != client {
		s.mu.Unlock()
		return
	}
	s.client = nil
	metrics.MediaClientActive.Set(0)

	var t teardown
	if s.state != nil && s.state.customer != nil {
		t = s.stopLocked(s.state.customer.ID)
	}
	s.mu.Unlock()

	slog.Warn("media service connection lost")
	s.runTeardown(t)
}

func (s *BroadcastService) claimLocked(id string, role domain.Role, peer domain.Peer) *attempt {
	s.nextToken++
	s.attempts[id] = s.nextToken
	s.inflight++
	return &attempt{
		session: &Session{ID: id, Role: role, Peer: peer, token: s.nextToken},
		started: time.Now(),
	}
}

// currentLocked reports whether a may still commit state: its token has not
// been revoked and its broadcast is still the active one.
func (s *BroadcastService) currentLocked(a *attempt) bool {
	st := s.state
	if st == nil || st.generation != a.generation || s.attempts[a.session.ID] != a.session.token {
		return false
	}
	if a.session.Role == domain.RoleCustomer {
		return st.customer == a.session
	}
	return st.supporters[a.session.ID] == a.session
}

func (s *BroadcastService) current(a *attempt) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(a)
}

func (s *BroadcastService) commitPipeline(a *attempt, pipeline domain.Pipeline) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.currentLocked(a) {
		return false
	}
	s.state.pipeline = pipeline
	return true
}

func (s *BroadcastService) setUnsubscribe(a *attempt, unsubscribe func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.currentLocked(a) {
		return false
	}
	a.session.unsubscribe = unsubscribe
	return true
}

func (s *BroadcastService) customerEndpoint(a *attempt) domain.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.currentLocked(a) {
		return nil
	}
	return s.state.customer.Endpoint
}

func (s *BroadcastService) endpointLocked(id string) domain.Endpoint {
	st := s.state
	if st == nil {
		return nil
	}
	if st.isCustomer(id) {
		return st.customer.Endpoint
	}
	if sup, ok := st.supporters[id]; ok {
		return sup.Endpoint
	}
	return nil
}

// stopLocked detaches id from the broadcast and returns the media side
// effects for the caller to run once mu is released.
func (s *BroadcastService) stopLocked(id string) teardown {
	var t teardown
	s.queue.Clear(id)
	delete(s.attempts, id)

	st := s.state
	switch {
	case st == nil:
	case st.isCustomer(id):
		t.detachSession(st.customer)
		for supID, sup := range st.supporters {
			t.detachSession(sup)
			t.notify = append(t.notify, sup)
			s.queue.Clear(supID)
			delete(s.attempts, supID)
		}
		// Releasing the pipeline releases every endpoint built on it.
		t.pipeline = st.pipeline
		s.state = nil
		metrics.ActiveCustomers.Set(0)
		metrics.ActiveSupporters.Set(0)
		slog.Info("customer stopped", "sessionId", id, "supporters", len(t.notify))
	default:
		sup, ok := st.supporters[id]
		if !ok {
			break
		}
		t.detachSession(sup)
		if sup.Endpoint != nil {
			t.endpoints = append(t.endpoints, sup.Endpoint)
		}
		delete(st.supporters, id)
		metrics.ActiveSupporters.Set(float64(len(st.supporters)))
		slog.Info("supporter stopped", "sessionId", id)
	}

	s.reapLocked(&t)
	return t
}

// reapLocked hands the media client to t once nothing depends on it.
func (s *BroadcastService) reapLocked(t *teardown) {
	if s.state != nil || s.inflight > 0 || s.client == nil {
		return
	}
	t.client = s.client
	s.client = nil
	metrics.MediaClientActive.Set(0)
	slog.Debug("media client idle, closing")
}

type releaser interface {
	ID() string
	Release(ctx context.Context) error
}

func (s *BroadcastService) releaseOrphan(r releaser) {
	ctx, cancel := s.teardownContext()
	defer cancel()
	if err := r.Release(ctx); err != nil {
		slog.Debug("failed to release abandoned media object", "id", r.ID(), "error", err)
	}
}

func (s *BroadcastService) runTeardown(t teardown) {
	if t.empty() {
		return
	}
	ctx, cancel := s.teardownContext()
	defer cancel()
	t.run(ctx)
}

func (s *BroadcastService) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.requestTimeout)
}

// teardownContext is detached from the service context so releases still
// reach the media service during Close.
func (s *BroadcastService) teardownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.requestTimeout)
}

func serviceError(op string, err error) error {
	if errors.Is(err, domain.ErrServiceUnavailable) || errors.Is(err, domain.ErrNoBroadcaster) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrServiceUnavailable, op, err)
}
