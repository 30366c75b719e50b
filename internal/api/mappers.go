package api

import (
	"errors"

	"github.com/nguyenquan715/kurento-one2many/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Human-readable rejection texts shown to browser clients.
const (
	RoleConflictMessage       = "Another user is currently acting as customer. Try again later ..."
	NoBroadcasterMessage      = "No active customer. Try again later..."
	ServiceUnavailableMessage = "Media service unavailable. Try again later..."
)

// RejectionMessage maps a start failure to the text carried in a rejected
// response. Unknown errors surface their own text.
func RejectionMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoleConflict):
		return RoleConflictMessage
	case errors.Is(err, domain.ErrNoBroadcaster):
		return NoBroadcasterMessage
	case errors.Is(err, domain.ErrServiceUnavailable):
		return ServiceUnavailableMessage + " (" + err.Error() + ")"
	default:
		return err.Error()
	}
}

// ResponseFor builds the reply to a customer or supporter start.
func ResponseFor(role domain.Role, result domain.NegotiationResult) Message {
	id := MessageIDCustomerResponse
	if role == domain.RoleSupporter {
		id = MessageIDSupporterResponse
	}

	if result.Err != nil {
		return Message{ID: id, Response: ResponseRejected, Message: RejectionMessage(result.Err)}
	}
	return Message{ID: id, Response: ResponseAccepted, SDPAnswer: result.SDPAnswer}
}

func IceCandidateMessage(candidate webrtc.ICECandidateInit) Message {
	return Message{ID: MessageIDIceCandidate, Candidate: &candidate}
}

func StopCommunicationMessage() Message {
	return Message{ID: MessageIDStopCommunication}
}

func ErrorMessage(text string) Message {
	return Message{ID: MessageIDError, Message: text}
}
