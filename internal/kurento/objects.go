package kurento

import (
	"context"
	"fmt"

	"github.com/nguyenquan715/kurento-one2many/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Pipeline is a remote MediaPipeline.
type Pipeline struct {
	client *Client
	id     string
}

func (p *Pipeline) ID() string {
	return p.id
}

func (p *Pipeline) CreateEndpoint(ctx context.Context, opts domain.EndpointOptions) (domain.Endpoint, error) {
	res, err := p.client.call(ctx, "create", map[string]any{
		"type": "WebRtcEndpoint",
		"constructorParams": map[string]any{
			"mediaPipeline":   p.id,
			"useDataChannels": opts.DataChannels,
		},
		"properties": map[string]any{},
	})
	if err != nil {
		return nil, err
	}
	id, err := res.stringValue()
	if err != nil {
		return nil, err
	}
	return &Endpoint{client: p.client, id: id}, nil
}

// Release releases the pipeline and every element created on it.
func (p *Pipeline) Release(ctx context.Context) error {
	return p.client.release(ctx, p.id)
}

// Endpoint is a remote WebRtcEndpoint.
type Endpoint struct {
	client *Client
	id     string
}

func (e *Endpoint) ID() string {
	return e.id
}

func (e *Endpoint) ProcessOffer(ctx context.Context, sdpOffer string) (string, error) {
	res, err := e.client.invoke(ctx, e.id, "processOffer", map[string]any{"offer": sdpOffer})
	if err != nil {
		return "", err
	}
	return res.stringValue()
}

func (e *Endpoint) GatherCandidates(ctx context.Context) error {
	_, err := e.client.invoke(ctx, e.id, "gatherCandidates", nil)
	return err
}

func (e *Endpoint) AddIceCandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error {
	_, err := e.client.invoke(ctx, e.id, "addIceCandidate", map[string]any{
		"candidate": toKurentoCandidate(candidate),
	})
	return err
}

func (e *Endpoint) Connect(ctx context.Context, sink domain.Endpoint) error {
	if _, ok := sink.(*Endpoint); !ok {
		return fmt.Errorf("kurento: cannot connect to %T", sink)
	}
	_, err := e.client.invoke(ctx, e.id, "connect", map[string]any{"sink": sink.ID()})
	return err
}

func (e *Endpoint) OnIceCandidate(ctx context.Context, handler domain.ICEHandler) (func(), error) {
	return e.client.subscribe(ctx, e.id, handler)
}

func (e *Endpoint) Release(ctx context.Context) error {
	return e.client.release(ctx, e.id)
}
