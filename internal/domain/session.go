package domain

import "github.com/pion/webrtc/v4"

type Role int

const (
	RoleUnassigned Role = iota
	RoleCustomer
	RoleSupporter
)

func (r Role) String() string {
	switch r {
	case RoleCustomer:
		return "customer"
	case RoleSupporter:
		return "supporter"
	default:
		return "unassigned"
	}
}

// Peer is the outbound side of a signaling connection as seen by the
// broadcast core. SendIceCandidate must not block.
type Peer interface {
	SendStartResponse(role Role, result NegotiationResult) error
	SendIceCandidate(candidate webrtc.ICECandidateInit) error
	SendStopCommunication() error
}

// NegotiationResult is the outcome of a customer or supporter start.
type NegotiationResult struct {
	SDPAnswer string
	Err       error
}

// CandidateQueue buffers candidates for sessions whose endpoint does not
// exist yet.
type CandidateQueue interface {
	Enqueue(sessionID string, candidate webrtc.ICECandidateInit) error
	Drain(sessionID string) []webrtc.ICECandidateInit
	Clear(sessionID string)
	Len(sessionID string) int
}

// BroadcastStatus is a snapshot of the broadcast for monitoring.
type BroadcastStatus struct {
	Active     bool     `json:"active"`
	CustomerID string   `json:"customerId,omitempty"`
	Supporters []string `json:"supporters"`
}
