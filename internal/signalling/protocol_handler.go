package signalling

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nguyenquan715/kurento-one2many/internal/api"
	"github.com/nguyenquan715/kurento-one2many/internal/domain"
	"github.com/nguyenquan715/kurento-one2many/internal/metrics"
	"github.com/pion/webrtc/v4"
)

// Broadcaster is the part of the broadcast service driven by signalling
// messages.
type Broadcaster interface {
	StartCustomer(id string, peer domain.Peer, sdpOffer string) <-chan domain.NegotiationResult
	StartSupporter(id string, peer domain.Peer, sdpOffer string) <-chan domain.NegotiationResult
	AddIceCandidate(id string, candidate webrtc.ICECandidateInit) error
	Stop(id string)
}

// ProtocolHandler decodes inbound signalling messages and dispatches them
// to the broadcast service. Start replies are sent by the service through
// the session's connection loop, so later messages from the same
// connection are handled while a negotiation runs.
type ProtocolHandler struct {
	broadcast Broadcaster
}

func NewProtocolHandler(broadcast Broadcaster) *ProtocolHandler {
	return &ProtocolHandler{broadcast: broadcast}
}

func (h *ProtocolHandler) HandleMessage(session *Session, raw []byte) {
	var message api.Message
	if err := json.Unmarshal(raw, &message); err != nil {
		metrics.SignallingMessagesTotal.WithLabelValues("invalid", "in").Inc()
		slog.Warn("failed to decode message", "sessionId", session.ID, "error", err)
		h.reply(session, api.ErrorMessage(fmt.Sprintf("Invalid message %s", raw)))
		return
	}

	metrics.SignallingMessagesTotal.WithLabelValues(string(message.ID), "in").Inc()
	slog.Debug("message received", "sessionId", session.ID, "id", message.ID)

	id := string(session.ID)

	switch message.ID {
	case api.MessageIDCustomer:
		if message.SDPOffer == "" {
			h.protocolError(session, message, "missing sdpOffer")
			return
		}
		h.broadcast.StartCustomer(id, session.Loop, message.SDPOffer)

	case api.MessageIDSupporter:
		if message.SDPOffer == "" {
			h.protocolError(session, message, "missing sdpOffer")
			return
		}
		h.broadcast.StartSupporter(id, session.Loop, message.SDPOffer)

	case api.MessageIDStop:
		h.broadcast.Stop(id)

	case api.MessageIDOnIceCandidate:
		if message.Candidate == nil {
			h.protocolError(session, message, "missing candidate")
			return
		}
		if err := h.broadcast.AddIceCandidate(id, *message.Candidate); err != nil {
			if errors.Is(err, domain.ErrCandidateQueueFull) {
				slog.Warn("dropping ice candidate", "sessionId", session.ID, "error", err)
				return
			}
			slog.Error("failed to add ice candidate", "sessionId", session.ID, "error", err)
		}

	default:
		h.protocolError(session, message, "unknown id")
	}
}

func (h *ProtocolHandler) protocolError(session *Session, message api.Message, detail string) {
	err := fmt.Errorf("%w: %s", domain.ErrProtocol, detail)
	slog.Warn("invalid message", "sessionId", session.ID, "id", message.ID, "error", err)
	h.reply(session, api.ErrorMessage(fmt.Sprintf("Invalid message %q: %s", message.ID, detail)))
}

func (h *ProtocolHandler) reply(session *Session, message api.Message) {
	if err := session.Loop.Send(message); err != nil {
		slog.Debug("reply dropped", "sessionId", session.ID, "id", message.ID, "error", err)
	}
}
