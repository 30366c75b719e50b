package kurento

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var ErrClosed = errors.New("kurento: client closed")

// RPCError is an error object returned by the media server.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("kurento: %s (code %d)", e.Message, e.Code)
}

type request struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      uint64         `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

// message is any frame received from the server: a response when ID is set,
// a notification when Method is set.
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  *result         `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type result struct {
	Value     json.RawMessage `json:"value,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

func (r result) stringValue() (string, error) {
	var s string
	if err := json.Unmarshal(r.Value, &s); err != nil {
		return "", fmt.Errorf("kurento: unexpected result value %s: %w", string(r.Value), err)
	}
	return s, nil
}

type eventParams struct {
	Value struct {
		Type   string `json:"type"`
		Object string `json:"object"`
		Data   struct {
			Source    string        `json:"source"`
			Candidate *iceCandidate `json:"candidate"`
		} `json:"data"`
	} `json:"value"`
}

// iceCandidate is the complex type Kurento uses for candidates in both
// directions.
type iceCandidate struct {
	Module        string `json:"__module__"`
	Type          string `json:"__type__"`
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

func toKurentoCandidate(c webrtc.ICECandidateInit) iceCandidate {
	kc := iceCandidate{Module: "kurento", Type: "IceCandidate", Candidate: c.Candidate}
	if c.SDPMid != nil {
		kc.SDPMid = *c.SDPMid
	}
	if c.SDPMLineIndex != nil {
		kc.SDPMLineIndex = *c.SDPMLineIndex
	}
	return kc
}

func (c iceCandidate) toInit() webrtc.ICECandidateInit {
	mid := c.SDPMid
	index := c.SDPMLineIndex
	return webrtc.ICECandidateInit{Candidate: c.Candidate, SDPMid: &mid, SDPMLineIndex: &index}
}
