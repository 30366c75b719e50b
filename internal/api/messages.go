package api

import "github.com/pion/webrtc/v4"

type MessageID string

const (
	MessageIDCustomer       = MessageID("customer")
	MessageIDSupporter      = MessageID("supporter")
	MessageIDStop           = MessageID("stop")
	MessageIDOnIceCandidate = MessageID("onIceCandidate")

	MessageIDCustomerResponse  = MessageID("customerResponse")
	MessageIDSupporterResponse = MessageID("supporterResponse")
	MessageIDIceCandidate      = MessageID("iceCandidate")
	MessageIDStopCommunication = MessageID("stopCommunication")
	MessageIDError             = MessageID("error")
)

type ResponseStatus string

const (
	ResponseAccepted = ResponseStatus("accepted")
	ResponseRejected = ResponseStatus("rejected")
)

// Message is the single JSON envelope used in both directions on the
// signalling socket. Only the fields relevant to ID are set.
type Message struct {
	ID        MessageID                `json:"id"`
	SDPOffer  string                   `json:"sdpOffer,omitempty"`
	SDPAnswer string                   `json:"sdpAnswer,omitempty"`
	Response  ResponseStatus           `json:"response,omitempty"`
	Message   string                   `json:"message,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// BroadcastStopResult is returned by the admin stop endpoint.
type BroadcastStopResult struct {
	Stopped    bool   `json:"stopped"`
	CustomerID string `json:"customerId,omitempty"`
}
