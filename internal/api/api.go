package api

import "github.com/pion/webrtc/v4"

type ICEServer struct {
	URLs       []string `json:"urls" yaml:"urls"`
	Username   string   `json:"username,omitempty" yaml:"username,omitempty"`
	Credential string   `json:"credential,omitempty" yaml:"credential,omitempty"`
}

// PeerConnectionConfig is the serialisable subset of webrtc.Configuration
// used by the in-process media pipeline.
type PeerConnectionConfig struct {
	ICEServers         []ICEServer `json:"iceServers" yaml:"iceServers"`
	ICETransportPolicy string      `json:"iceTransportPolicy,omitempty" yaml:"iceTransportPolicy,omitempty"`
}

func DefaultPeerConnectionConfig() PeerConnectionConfig {
	return PeerConnectionConfig{
		ICEServers: []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	}
}

func (c PeerConnectionConfig) WebrtcConfiguration() webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if c.ICETransportPolicy == "relay" {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: policy,
		BundlePolicy:       webrtc.BundlePolicyMaxBundle,
		RTCPMuxPolicy:      webrtc.RTCPMuxPolicyRequire,
	}
}
