package domain

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// ICEHandler receives candidates discovered by a media endpoint.
type ICEHandler func(candidate webrtc.ICECandidateInit)

// EndpointOptions configures a new media endpoint.
type EndpointOptions struct {
	// DataChannels enables negotiation of an auxiliary data channel.
	DataChannels bool
}

// MediaDialer acquires a handle to the media pipeline service.
type MediaDialer interface {
	Dial(ctx context.Context) (MediaClient, error)
}

// MediaClient is a live connection to the media pipeline service.
//
// Done is closed when the connection is lost or closed; a client whose Done
// channel is closed must not be reused.
type MediaClient interface {
	CreatePipeline(ctx context.Context) (Pipeline, error)
	Close() error
	Done() <-chan struct{}
}

// Pipeline hosts the endpoints of one broadcast. Releasing a pipeline
// releases every endpoint created on it.
type Pipeline interface {
	ID() string
	CreateEndpoint(ctx context.Context, opts EndpointOptions) (Endpoint, error)
	Release(ctx context.Context) error
}

// Endpoint is a per-session media termination point.
type Endpoint interface {
	ID() string
	ProcessOffer(ctx context.Context, sdpOffer string) (string, error)
	GatherCandidates(ctx context.Context) error
	AddIceCandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error
	// Connect forwards the media received by this endpoint to sink.
	Connect(ctx context.Context, sink Endpoint) error
	// OnIceCandidate subscribes handler to discovered candidates. The returned
	// function cancels the subscription and is safe to call more than once.
	OnIceCandidate(ctx context.Context, handler ICEHandler) (func(), error)
	Release(ctx context.Context) error
}
