package sfu

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/nguyenquan715/kurento-one2many/internal/domain"
	"github.com/nguyenquan715/kurento-one2many/internal/metrics"
	"github.com/pion/webrtc/v4"
)

// Endpoint is one PeerConnection inside a Pipeline.
type Endpoint struct {
	id       string
	pipeline *Pipeline
	pc       *webrtc.PeerConnection

	mu           sync.Mutex
	iceHandler   domain.ICEHandler
	pending      []webrtc.ICECandidateInit
	broadcasters []*TrackBroadcaster
	sinks        map[string]*Endpoint
	// forwarding maps a sender of this endpoint to the broadcaster it carries
	forwarding map[*webrtc.RTPSender]*TrackBroadcaster
	closed     bool
}

func newEndpoint(p *Pipeline, pc *webrtc.PeerConnection, opts domain.EndpointOptions) *Endpoint {
	e := &Endpoint{
		id:         uuid.NewString(),
		pipeline:   p,
		pc:         pc,
		sinks:      make(map[string]*Endpoint),
		forwarding: make(map[*webrtc.RTPSender]*TrackBroadcaster),
	}

	metrics.ActivePeerConnections.Inc()

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		e.mu.Lock()
		handler := e.iceHandler
		e.mu.Unlock()
		if handler != nil {
			handler(candidate.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		slog.Debug("peer connection state changed", "endpointId", e.id, "state", state.String())
		metrics.PeerConnectionStateChanges.WithLabelValues(state.String()).Inc()
	})

	pc.OnTrack(e.onTrack)

	if opts.DataChannels {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			slog.Debug("data channel opened", "endpointId", e.id, "label", dc.Label())
		})
	}

	return e
}

func (e *Endpoint) ID() string {
	return e.id
}

// ProcessOffer applies the remote offer and returns the local answer.
// Candidates added before the offer are applied once it is set.
func (e *Endpoint) ProcessOffer(ctx context.Context, sdpOffer string) (string, error) {
	if e.isClosed() {
		return "", ErrClosed
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdpOffer}
	if err := e.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}

	if err := e.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	for _, candidate := range pending {
		if err := e.pc.AddICECandidate(candidate); err != nil {
			slog.Warn("failed to add buffered ice candidate", "endpointId", e.id, "error", err)
		}
	}

	return answer.SDP, nil
}

// GatherCandidates only checks the endpoint state: pion starts gathering as
// soon as the local description is set and reports candidates through the
// OnIceCandidate handler.
func (e *Endpoint) GatherCandidates(ctx context.Context) error {
	if e.isClosed() {
		return ErrClosed
	}
	return nil
}

func (e *Endpoint) AddIceCandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.pc.RemoteDescription() == nil {
		e.pending = append(e.pending, candidate)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	return e.pc.AddICECandidate(candidate)
}

// Connect forwards the media received by e to sink. Connecting an endpoint
// to itself is allowed.
func (e *Endpoint) Connect(ctx context.Context, sink domain.Endpoint) error {
	target, ok := sink.(*Endpoint)
	if !ok {
		return fmt.Errorf("sfu: cannot connect to %T", sink)
	}
	if target.pipeline != e.pipeline {
		return fmt.Errorf("sfu: endpoint %s belongs to another pipeline", target.id)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.sinks[target.id] = target
	broadcasters := append([]*TrackBroadcaster(nil), e.broadcasters...)
	e.mu.Unlock()

	for _, b := range broadcasters {
		target.forward(b, e)
	}
	return nil
}

func (e *Endpoint) OnIceCandidate(ctx context.Context, handler domain.ICEHandler) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	e.iceHandler = handler

	return func() {
		e.mu.Lock()
		e.iceHandler = nil
		e.mu.Unlock()
	}, nil
}

func (e *Endpoint) Release(ctx context.Context) error {
	e.pipeline.endpoints.Delete(e.id)
	e.close()
	return nil
}

func (e *Endpoint) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.iceHandler = nil
	broadcasters := e.broadcasters
	e.broadcasters = nil
	e.sinks = make(map[string]*Endpoint)
	forwarded := len(e.forwarding)
	for _, b := range e.forwarding {
		metrics.ActiveTracks.WithLabelValues(b.Kind().String()).Dec()
	}
	e.forwarding = make(map[*webrtc.RTPSender]*TrackBroadcaster)
	e.mu.Unlock()

	for _, b := range broadcasters {
		b.Stop()
	}
	e.pipeline.detachSink(e)

	if err := e.pc.Close(); err != nil {
		slog.Debug("failed to close peer connection", "endpointId", e.id, "error", err)
	}
	metrics.ActivePeerConnections.Dec()
	slog.Debug("endpoint released", "endpointId", e.id, "forwardedTracks", forwarded)
}

func (e *Endpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Endpoint) removeSink(id string) {
	e.mu.Lock()
	delete(e.sinks, id)
	e.mu.Unlock()
}

func (e *Endpoint) onTrack(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	slog.Info("track received", "endpointId", e.id, "trackID", remote.ID(), "kind", remote.Kind(),
		"codec", remote.Codec().MimeType, "payloadType", remote.Codec().PayloadType)

	b, err := NewTrackBroadcaster(remote, e.id)
	if err != nil {
		slog.Error("failed to create broadcaster", "endpointId", e.id, "error", err)
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		b.Stop()
		return
	}
	e.broadcasters = append(e.broadcasters, b)
	sinks := make([]*Endpoint, 0, len(e.sinks))
	for _, sink := range e.sinks {
		sinks = append(sinks, sink)
	}
	e.mu.Unlock()

	for _, sink := range sinks {
		sink.forward(b, e)
	}
}

// forward puts the local track of b on the first free sending transceiver of
// matching kind and relays picture loss reports for it to source.
func (e *Endpoint) forward(b *TrackBroadcaster, source *Endpoint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	for _, tr := range e.pc.GetTransceivers() {
		sender := tr.Sender()
		if sender == nil || tr.Kind() != b.Kind() {
			continue
		}
		if dir := tr.Direction(); dir != webrtc.RTPTransceiverDirectionSendonly && dir != webrtc.RTPTransceiverDirectionSendrecv {
			continue
		}
		if _, busy := e.forwarding[sender]; busy {
			continue
		}

		if err := sender.ReplaceTrack(b.LocalTrack()); err != nil {
			slog.Warn("failed to attach forwarded track", "endpointId", e.id, "kind", b.Kind().String(), "error", err)
			return
		}
		e.forwarding[sender] = b
		metrics.ActiveTracks.WithLabelValues(b.Kind().String()).Inc()

		go processRTCPFeedback(sender, source.pc, b.RemoteSSRC(), e.id)
		slog.Debug("forwarding track", "sourceId", source.id, "sinkId", e.id, "kind", b.Kind().String())
		return
	}

	slog.Debug("no sending transceiver for track", "sinkId", e.id, "kind", b.Kind().String())
}
