// Package sfu runs the broadcast pipeline in process on top of pion/webrtc.
//
// It implements the same media contract as the Kurento adapter so the
// signalling server can run without a media server:
//
//   - LocalSFU is the media client. It owns the webrtc.API built from the
//     configured codecs, interceptors and port range.
//   - Pipeline groups the endpoints of one broadcast.
//   - Endpoint wraps one PeerConnection. Connecting a source endpoint to a
//     sink forwards every track the source receives to the sink through a
//     TrackBroadcaster, and picture loss reports from the sink are relayed
//     back to the source.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Pipelines and endpoints
// are kept in utils.Registry maps; per-endpoint state is guarded by a mutex.
package sfu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/nguyenquan715/kurento-one2many/internal/config"
	"github.com/nguyenquan715/kurento-one2many/internal/domain"
	"github.com/nguyenquan715/kurento-one2many/internal/utils"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
)

// ErrClosed is returned by operations on a released pipeline or endpoint.
var ErrClosed = errors.New("sfu: closed")

// LocalSFU is an in-process media client.
type LocalSFU struct {
	api      *webrtc.API
	pcConfig webrtc.Configuration

	pipelines *utils.Registry[string, *Pipeline]

	done      chan struct{}
	closeOnce sync.Once
}

// NewLocalSFU builds the WebRTC API used by every endpoint.
//
// The media engine only carries the configured codecs. The default pion
// interceptors are registered together with a periodic PLI generator so
// that supporters joining mid-stream receive a key frame quickly.
//
// When no ICE servers are configured and a public IP is set, host
// candidates are rewritten to that address (1:1 NAT).
func NewLocalSFU(cfg config.WebRTCConfig) (*LocalSFU, error) {
	mediaEngine := &webrtc.MediaEngine{}
	for _, codec := range cfg.Codecs {
		if err := mediaEngine.RegisterCodec(codec.Params, codec.Type); err != nil {
			return nil, fmt.Errorf("failed to register codec: %w", err)
		}
	}

	interceptorRegistry := &interceptor.Registry{}

	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	internalPliFactory, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("failed to create PLI factory: %w", err)
	}

	interceptorRegistry.Add(internalPliFactory)

	se := webrtc.SettingEngine{}
	if len(cfg.PeerConnectionConfig.ICEServers) == 0 && len(cfg.PublicIP) > 0 {
		se.SetNAT1To1IPs([]string{
			cfg.PublicIP,
		}, webrtc.ICECandidateTypeHost)
	}

	if cfg.PortMin > 0 && cfg.PortMax > 0 {
		err = se.SetEphemeralUDPPortRange(cfg.PortMin, cfg.PortMax)
		if err != nil {
			return nil, fmt.Errorf("failed to set WebRTC port range: %w", err)
		}
	}

	webrtcApi := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	return &LocalSFU{
		api:       webrtcApi,
		pcConfig:  cfg.PeerConnectionConfig.WebrtcConfiguration(),
		pipelines: utils.NewRegistry[string, *Pipeline](),
		done:      make(chan struct{}),
	}, nil
}

func (s *LocalSFU) CreatePipeline(ctx context.Context) (domain.Pipeline, error) {
	select {
	case <-s.done:
		return nil, ErrClosed
	default:
	}

	p := &Pipeline{
		sfu:       s,
		id:        uuid.NewString(),
		endpoints: utils.NewRegistry[string, *Endpoint](),
	}
	s.pipelines.Store(p.id, p)
	slog.Debug("pipeline created", "pipelineId", p.id)
	return p, nil
}

func (s *LocalSFU) Done() <-chan struct{} {
	return s.done
}

// Close releases every pipeline. It is safe to call more than once.
func (s *LocalSFU) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		for _, p := range s.pipelines.Drain() {
			p.close()
		}
	})
	return nil
}

// Dialer hands out a fresh LocalSFU for every Dial.
type Dialer struct {
	Config config.WebRTCConfig
}

func (d Dialer) Dial(ctx context.Context) (domain.MediaClient, error) {
	s, err := NewLocalSFU(d.Config)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Pipeline is the set of endpoints taking part in one broadcast.
type Pipeline struct {
	sfu       *LocalSFU
	id        string
	endpoints *utils.Registry[string, *Endpoint]
	closed    sync.Once
}

func (p *Pipeline) ID() string {
	return p.id
}

func (p *Pipeline) CreateEndpoint(ctx context.Context, opts domain.EndpointOptions) (domain.Endpoint, error) {
	if _, ok := p.sfu.pipelines.Load(p.id); !ok {
		return nil, ErrClosed
	}

	pc, err := p.sfu.api.NewPeerConnection(p.sfu.pcConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	e := newEndpoint(p, pc, opts)
	p.endpoints.Store(e.id, e)
	return e, nil
}

func (p *Pipeline) Release(ctx context.Context) error {
	p.sfu.pipelines.Delete(p.id)
	p.close()
	return nil
}

func (p *Pipeline) close() {
	p.closed.Do(func() {
		for _, e := range p.endpoints.Drain() {
			e.close()
		}
		slog.Debug("pipeline released", "pipelineId", p.id)
	})
}

// detachSink removes a released endpoint from every source that fed it.
func (p *Pipeline) detachSink(sink *Endpoint) {
	p.endpoints.Each(func(e *Endpoint) {
		e.removeSink(sink.id)
	})
}
