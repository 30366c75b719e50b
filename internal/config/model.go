package config

import (
	"net/netip"
	"time"

	"github.com/nguyenquan715/kurento-one2many/internal/api"
	"github.com/pion/webrtc/v4"
)

type AppConfig struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Security SecurityConfig `json:"security" yaml:"security"`
	Media    MediaConfig    `json:"media" yaml:"media"`
	WebRTC   WebRTCConfig   `json:"webrtc" yaml:"webrtc"`
}

type ServerConfig struct {
	Port         int    `json:"port" yaml:"port"`
	Path         string `json:"path" yaml:"path"`
	StaticDir    string `json:"staticDir" yaml:"staticDir"`
	PingInterval int    `json:"pingInterval" yaml:"pingInterval"`
	LogLevel     string `json:"logLevel" yaml:"logLevel"`
}

type SecurityConfig struct {
	AdminCredential   *string        `json:"adminCredential" yaml:"adminCredential"`
	TLSCrtFile        *string        `json:"tlsCrtFile" yaml:"tlsCrtFile"`
	TLSKeyFile        *string        `json:"tlsKeyFile" yaml:"tlsKeyFile"`
	AdminsRawNetworks []netip.Prefix `json:"adminsNetworks" yaml:"adminsNetworks"`
}

type MediaDriver string

const (
	MediaDriverKurento = MediaDriver("kurento")
	MediaDriverLocal   = MediaDriver("local")
)

type MediaConfig struct {
	Driver              MediaDriver `json:"driver" yaml:"driver"`
	URI                 string      `json:"uri" yaml:"uri"`
	RequestTimeout      int         `json:"requestTimeout" yaml:"requestTimeout"`
	KeepaliveInterval   int         `json:"keepaliveInterval" yaml:"keepaliveInterval"`
	MaxQueuedCandidates int         `json:"maxQueuedCandidates" yaml:"maxQueuedCandidates"`
}

type WebRTCConfig struct {
	PortMin              uint16                   `json:"portMin" yaml:"portMin"`
	PortMax              uint16                   `json:"portMax" yaml:"portMax"`
	PublicIP             string                   `json:"publicIp" yaml:"publicIp"`
	PeerConnectionConfig api.PeerConnectionConfig `json:"peerConnectionConfig" yaml:"peerConnectionConfig"`
	Codecs               []Codec                  `json:"codecs" yaml:"codecs"`
}

type Codec struct {
	Params webrtc.RTPCodecParameters `json:"params"`
	Type   webrtc.RTPCodecType       `json:"type"`
}

func (c ServerConfig) PingPeriod() time.Duration {
	return time.Duration(c.PingInterval) * time.Millisecond
}

func (c MediaConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

func (c MediaConfig) KeepalivePeriod() time.Duration {
	return time.Duration(c.KeepaliveInterval) * time.Millisecond
}

func (c SecurityConfig) TLSEnabled() bool {
	return c.TLSCrtFile != nil && c.TLSKeyFile != nil && *c.TLSCrtFile != "" && *c.TLSKeyFile != ""
}

// IsAdminAddr reports whether ip belongs to one of the admin networks.
func (c SecurityConfig) IsAdminAddr(ip netip.Addr) bool {
	for _, n := range c.AdminsRawNetworks {
		if n.Contains(ip.Unmap()) {
			return true
		}
	}
	return false
}

func DefaultAppConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Port:         8444,
			Path:         "/one2many",
			StaticDir:    "./static",
			PingInterval: 30000,
			LogLevel:     "info",
		},
		Security: SecurityConfig{
			AdminCredential: nil,
			AdminsRawNetworks: []netip.Prefix{
				netip.MustParsePrefix("0.0.0.0/0"),
				netip.MustParsePrefix("::/0"),
			},
			TLSCrtFile: nil,
			TLSKeyFile: nil,
		},
		Media: MediaConfig{
			Driver:              MediaDriverKurento,
			URI:                 "ws://localhost:8888/kurento",
			RequestTimeout:      10000,
			KeepaliveInterval:   240000,
			MaxQueuedCandidates: 256,
		},
		WebRTC: WebRTCConfig{
			PortMin:              10000,
			PortMax:              20000,
			PublicIP:             "",
			PeerConnectionConfig: api.DefaultPeerConnectionConfig(),
			Codecs:               DefaultCodecs(),
		},
	}
}

func DefaultCodecs() []Codec {
	return []Codec{
		{
			Params: webrtc.RTPCodecParameters{
				RTPCodecCapability: webrtc.RTPCodecCapability{
					MimeType:     webrtc.MimeTypeVP8,
					ClockRate:    90000,
					Channels:     0,
					RTCPFeedback: videoFeedback(),
				},
				PayloadType: 96,
			},
			Type: webrtc.RTPCodecTypeVideo,
		},
		{
			Params: webrtc.RTPCodecParameters{
				RTPCodecCapability: webrtc.RTPCodecCapability{
					MimeType:  webrtc.MimeTypeOpus,
					ClockRate: 48000,
					Channels:  2,
				},
				PayloadType: 111,
			},
			Type: webrtc.RTPCodecTypeAudio,
		},
	}
}

func videoFeedback() []webrtc.RTCPFeedback {
	return []webrtc.RTCPFeedback{
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "goog-remb"},
	}
}
