package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nguyenquan715/kurento-one2many/internal/domain"
	"github.com/pion/webrtc/v4"
)

type fakeMedia struct {
	mu        sync.Mutex
	dialErr   error
	clients   []*fakeClient
	endpoints []*fakeEndpoint
	connects  [][2]string
	nextID    int

	// beforeCreateEndpoint, when set, runs inside CreateEndpoint before the
	// endpoint exists.
	beforeCreateEndpoint func()
	// candidateOnOffer makes ProcessOffer report a candidate before it
	// returns, the way pion gathers on SetLocalDescription.
	candidateOnOffer bool
	connectErr       error
}

func (m *fakeMedia) Dial(ctx context.Context) (domain.MediaClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dialErr != nil {
		return nil, m.dialErr
	}
	c := &fakeClient{media: m, done: make(chan struct{})}
	m.clients = append(m.clients, c)
	return c, nil
}

func (m *fakeMedia) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *fakeMedia) dials() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

func (m *fakeMedia) client(i int) *fakeClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[i]
}

func (m *fakeMedia) endpointCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.endpoints)
}

func (m *fakeMedia) endpoint(i int) *fakeEndpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoints[i]
}

func (m *fakeMedia) connected(source, sink string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.connects {
		if c[0] == source && c[1] == sink {
			return true
		}
	}
	return false
}

type fakeClient struct {
	media     *fakeMedia
	closes    int
	pipelines []*fakePipeline
	done      chan struct{}
	once      sync.Once
}

func (c *fakeClient) CreatePipeline(ctx context.Context) (domain.Pipeline, error) {
	c.media.mu.Lock()
	defer c.media.mu.Unlock()
	p := &fakePipeline{media: c.media, id: c.media.id("pipeline")}
	c.pipelines = append(c.pipelines, p)
	return p, nil
}

func (c *fakeClient) Close() error {
	c.media.mu.Lock()
	c.closes++
	c.media.mu.Unlock()
	c.kill()
	return nil
}

func (c *fakeClient) Done() <-chan struct{} { return c.done }

func (c *fakeClient) kill() { c.once.Do(func() { close(c.done) }) }

func (c *fakeClient) closeCount() int {
	c.media.mu.Lock()
	defer c.media.mu.Unlock()
	return c.closes
}

func (c *fakeClient) pipeline(i int) *fakePipeline {
	c.media.mu.Lock()
	defer c.media.mu.Unlock()
	return c.pipelines[i]
}

type fakePipeline struct {
	media     *fakeMedia
	id        string
	releases  int
	endpoints []*fakeEndpoint
}

func (p *fakePipeline) ID() string { return p.id }

func (p *fakePipeline) CreateEndpoint(ctx context.Context, opts domain.EndpointOptions) (domain.Endpoint, error) {
	p.media.mu.Lock()
	hook := p.media.beforeCreateEndpoint
	p.media.mu.Unlock()
	if hook != nil {
		hook()
	}
	if !opts.DataChannels {
		return nil, errors.New("data channels not requested")
	}

	p.media.mu.Lock()
	defer p.media.mu.Unlock()
	e := &fakeEndpoint{media: p.media, id: p.media.id("endpoint")}
	p.endpoints = append(p.endpoints, e)
	p.media.endpoints = append(p.media.endpoints, e)
	return e, nil
}

func (p *fakePipeline) Release(ctx context.Context) error {
	p.media.mu.Lock()
	defer p.media.mu.Unlock()
	p.releases++
	for _, e := range p.endpoints {
		e.releasedWithPipeline = true
	}
	return nil
}

func (p *fakePipeline) releaseCount() int {
	p.media.mu.Lock()
	defer p.media.mu.Unlock()
	return p.releases
}

type fakeEndpoint struct {
	media                *fakeMedia
	id                   string
	candidates           []string
	handler              domain.ICEHandler
	releases             int
	releasedWithPipeline bool
}

func (e *fakeEndpoint) ID() string { return e.id }

func (e *fakeEndpoint) ProcessOffer(ctx context.Context, sdpOffer string) (string, error) {
	e.media.mu.Lock()
	handler, early := e.handler, e.media.candidateOnOffer
	e.media.mu.Unlock()
	if early && handler != nil {
		handler(webrtc.ICECandidateInit{Candidate: "early:" + e.id})
	}
	return "answer:" + sdpOffer, nil
}

func (e *fakeEndpoint) GatherCandidates(ctx context.Context) error {
	e.media.mu.Lock()
	handler := e.handler
	e.media.mu.Unlock()
	if handler != nil {
		handler(webrtc.ICECandidateInit{Candidate: "candidate:" + e.id})
	}
	return nil
}

func (e *fakeEndpoint) AddIceCandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error {
	e.media.mu.Lock()
	defer e.media.mu.Unlock()
	e.candidates = append(e.candidates, candidate.Candidate)
	return nil
}

func (e *fakeEndpoint) Connect(ctx context.Context, sink domain.Endpoint) error {
	e.media.mu.Lock()
	defer e.media.mu.Unlock()
	if e.media.connectErr != nil {
		return e.media.connectErr
	}
	e.media.connects = append(e.media.connects, [2]string{e.id, sink.ID()})
	return nil
}

func (e *fakeEndpoint) OnIceCandidate(ctx context.Context, handler domain.ICEHandler) (func(), error) {
	e.media.mu.Lock()
	defer e.media.mu.Unlock()
	e.handler = handler
	return func() {
		e.media.mu.Lock()
		e.handler = nil
		e.media.mu.Unlock()
	}, nil
}

func (e *fakeEndpoint) Release(ctx context.Context) error {
	e.media.mu.Lock()
	defer e.media.mu.Unlock()
	e.releases++
	return nil
}

func (e *fakeEndpoint) receivedCandidates() []string {
	e.media.mu.Lock()
	defer e.media.mu.Unlock()
	return append([]string(nil), e.candidates...)
}

func (e *fakeEndpoint) released() (int, bool) {
	e.media.mu.Lock()
	defer e.media.mu.Unlock()
	return e.releases, e.releasedWithPipeline
}

type fakePeer struct {
	mu         sync.Mutex
	candidates []webrtc.ICECandidateInit
	stops      int
	// events records every outbound message in send order.
	events []string
}

func (p *fakePeer) SendStartResponse(role domain.Role, result domain.NegotiationResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if result.Err != nil {
		p.events = append(p.events, role.String()+"Response:rejected")
	} else {
		p.events = append(p.events, role.String()+"Response:accepted")
	}
	return nil
}

func (p *fakePeer) SendIceCandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, candidate)
	p.events = append(p.events, "iceCandidate:"+candidate.Candidate)
	return nil
}

func (p *fakePeer) SendStopCommunication() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	p.events = append(p.events, "stopCommunication")
	return nil
}

func (p *fakePeer) sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func (p *fakePeer) stopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

func (p *fakePeer) candidateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.candidates)
}

func await(t *testing.T, ch <-chan domain.NegotiationResult) domain.NegotiationResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for negotiation result")
		return domain.NegotiationResult{}
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}
