package sfu

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/nguyenquan715/kurento-one2many/internal/metrics"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

const (
	rtpBufferSize   = 1500
	packetQueueSize = 100
)

var bufferPool = sync.Pool{
	New: func() any {
		return make([]byte, rtpBufferSize)
	},
}

// TrackBroadcaster copies RTP packets from one remote track into a local
// track that any number of senders can carry.
type TrackBroadcaster struct {
	localTrack *webrtc.TrackLocalStaticRTP
	remoteSSRC uint32
	kind       webrtc.RTPCodecType

	ctx    context.Context
	cancel context.CancelFunc

	packetChan chan []byte
}

func NewTrackBroadcaster(remoteTrack *webrtc.TrackRemote, sourceID string) (*TrackBroadcaster, error) {
	localTrack, err := webrtc.NewTrackLocalStaticRTP(
		remoteTrack.Codec().RTPCodecCapability,
		remoteTrack.ID(),
		remoteTrack.StreamID(),
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	broadcaster := &TrackBroadcaster{
		localTrack: localTrack,
		remoteSSRC: uint32(remoteTrack.SSRC()),
		kind:       remoteTrack.Kind(),
		ctx:        ctx,
		cancel:     cancel,
		packetChan: make(chan []byte, packetQueueSize),
	}

	go broadcaster.readLoop(remoteTrack, sourceID)
	go broadcaster.writeLoop()

	return broadcaster, nil
}

func (tb *TrackBroadcaster) readLoop(remoteTrack *webrtc.TrackRemote, sourceID string) {
	defer tb.Stop()

	for {
		select {
		case <-tb.ctx.Done():
			return
		default:
		}

		buf := bufferPool.Get().([]byte)
		buf = buf[:cap(buf)]

		n, _, err := remoteTrack.Read(buf)
		if err != nil {
			bufferPool.Put(buf)
			if errors.Is(err, io.EOF) {
				slog.Debug("source closed track", "sourceId", sourceID)
			} else {
				slog.Error("error reading from source", "sourceId", sourceID, "error", err)
			}
			return
		}

		metrics.SFUPacketsReceived.Inc()
		metrics.SFUBytesReceived.Add(float64(n))

		select {
		case tb.packetChan <- buf[:n]:
		default:
			bufferPool.Put(buf)
		}
	}
}

func (tb *TrackBroadcaster) writeLoop() {
	for {
		select {
		case <-tb.ctx.Done():
			return
		case pkt := <-tb.packetChan:
			_, err := tb.localTrack.Write(pkt)
			bufferPool.Put(pkt[:cap(pkt)])
			if err != nil {
				if errors.Is(err, io.ErrClosedPipe) {
					return
				}
				slog.Error("error writing to local track", "error", err)
				continue
			}
			metrics.SFUPacketsSent.Inc()
			metrics.SFUBytesSent.Add(float64(len(pkt)))
		}
	}
}

func (tb *TrackBroadcaster) LocalTrack() *webrtc.TrackLocalStaticRTP {
	return tb.localTrack
}

func (tb *TrackBroadcaster) Kind() webrtc.RTPCodecType {
	return tb.kind
}

func (tb *TrackBroadcaster) RemoteSSRC() uint32 {
	return tb.remoteSSRC
}

func (tb *TrackBroadcaster) Stop() {
	tb.cancel()
}

// processRTCPFeedback drains RTCP from a sink's sender and relays picture
// loss reports to the source connection.
func processRTCPFeedback(sender *webrtc.RTPSender, source *webrtc.PeerConnection, remoteSSRC uint32, sinkID string) {
	rtcpBuf := make([]byte, rtpBufferSize)

	for {
		n, _, err := sender.Read(rtcpBuf)
		if err != nil {
			return
		}

		packets, err := rtcp.Unmarshal(rtcpBuf[:n])
		if err != nil {
			continue
		}

		for _, pkt := range packets {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				metrics.PLIRequestsTotal.Inc()
				slog.Debug("relaying PLI to source", "sinkId", sinkID, "ssrc", remoteSSRC)
				if err := source.WriteRTCP([]rtcp.Packet{
					&rtcp.PictureLossIndication{MediaSSRC: remoteSSRC},
				}); err != nil {
					return
				}
			case *rtcp.TransportLayerNack:
				metrics.NACKRequestsTotal.Inc()
			}
		}
	}
}
