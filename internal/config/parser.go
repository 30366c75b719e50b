package config

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/nguyenquan715/kurento-one2many/internal/api"
	"github.com/pion/webrtc/v4"
)

type RawServerConfig struct {
	Port         *int    `yaml:"port" json:"port"`
	Path         *string `yaml:"path" json:"path"`
	StaticDir    *string `yaml:"staticDir" json:"staticDir"`
	PingInterval *int    `yaml:"pingInterval" json:"pingInterval"`
	LogLevel     *string `yaml:"logLevel" json:"logLevel"`
}

func (r RawServerConfig) ToDomain() ServerConfig {
	var cfg ServerConfig
	if r.Port != nil {
		cfg.Port = *r.Port
	}
	if r.Path != nil {
		cfg.Path = "/" + strings.TrimLeft(*r.Path, "/")
	}
	if r.StaticDir != nil {
		cfg.StaticDir = *r.StaticDir
	}
	if r.PingInterval != nil {
		cfg.PingInterval = *r.PingInterval
	}
	if r.LogLevel != nil {
		cfg.LogLevel = *r.LogLevel
	}
	return cfg
}

type RawSecurityConfig struct {
	AdminCredential   *string   `yaml:"adminCredential" json:"adminCredential"`
	TLSCrtFile        *string   `yaml:"tlsCrtFile" json:"tlsCrtFile"`
	TLSKeyFile        *string   `yaml:"tlsKeyFile" json:"tlsKeyFile"`
	AdminsRawNetworks *[]string `yaml:"adminsNetworks" json:"adminsNetworks"`
}

func (r RawSecurityConfig) ToDomain() (SecurityConfig, error) {
	var cfg SecurityConfig
	cfg.AdminCredential = r.AdminCredential
	cfg.TLSCrtFile = r.TLSCrtFile
	cfg.TLSKeyFile = r.TLSKeyFile

	if r.AdminsRawNetworks != nil {
		nets := make([]netip.Prefix, 0, len(*r.AdminsRawNetworks))
		for _, s := range *r.AdminsRawNetworks {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return SecurityConfig{}, fmt.Errorf("adminsNetworks: %w", err)
			}
			nets = append(nets, p)
		}
		cfg.AdminsRawNetworks = nets
	}

	return cfg, nil
}

type RawMediaConfig struct {
	Driver              *string `yaml:"driver" json:"driver"`
	URI                 *string `yaml:"uri" json:"uri"`
	RequestTimeout      *int    `yaml:"requestTimeout" json:"requestTimeout"`
	KeepaliveInterval   *int    `yaml:"keepaliveInterval" json:"keepaliveInterval"`
	MaxQueuedCandidates *int    `yaml:"maxQueuedCandidates" json:"maxQueuedCandidates"`
}

func (r RawMediaConfig) ToDomain() (MediaConfig, error) {
	var cfg MediaConfig
	if r.Driver != nil {
		driver := MediaDriver(strings.ToLower(*r.Driver))
		if driver != MediaDriverKurento && driver != MediaDriverLocal {
			return MediaConfig{}, fmt.Errorf("unknown media driver %q", *r.Driver)
		}
		cfg.Driver = driver
	}
	if r.URI != nil {
		cfg.URI = *r.URI
	}
	if r.RequestTimeout != nil {
		cfg.RequestTimeout = *r.RequestTimeout
	}
	if r.KeepaliveInterval != nil {
		cfg.KeepaliveInterval = *r.KeepaliveInterval
	}
	if r.MaxQueuedCandidates != nil {
		cfg.MaxQueuedCandidates = *r.MaxQueuedCandidates
	}
	return cfg, nil
}

type RawWebRTCConfig struct {
	PortMin              *uint16                   `yaml:"portMin" json:"portMin"`
	PortMax              *uint16                   `yaml:"portMax" json:"portMax"`
	PublicIP             *string                   `yaml:"publicIp" json:"publicIp"`
	PeerConnectionConfig *api.PeerConnectionConfig `yaml:"peerConnectionConfig" json:"peerConnectionConfig"`
	Codecs               *[]RawCodec               `yaml:"codecs" json:"codecs"`
}

type RawCodec struct {
	Params struct {
		MimeType    string `json:"mimeType" yaml:"mimeType"`
		ClockRate   uint32 `json:"clockRate" yaml:"clockRate"`
		PayloadType uint8  `json:"payloadType" yaml:"payloadType"`
		Channels    uint16 `json:"channels" yaml:"channels"`
	} `json:"params" yaml:"params"`
	Type string `json:"type" yaml:"type"`
}

func (r RawWebRTCConfig) ToDomain() (WebRTCConfig, error) {
	var cfg WebRTCConfig
	if r.PortMin != nil {
		cfg.PortMin = *r.PortMin
	}
	if r.PortMax != nil {
		cfg.PortMax = *r.PortMax
	}
	if cfg.PortMin != 0 && cfg.PortMax != 0 && cfg.PortMin > cfg.PortMax {
		return WebRTCConfig{}, fmt.Errorf("portMin %d is greater than portMax %d", cfg.PortMin, cfg.PortMax)
	}
	if r.PublicIP != nil {
		cfg.PublicIP = *r.PublicIP
	}
	if r.PeerConnectionConfig != nil {
		cfg.PeerConnectionConfig = *r.PeerConnectionConfig
	}
	if r.Codecs != nil {
		cfg.Codecs = parseCodecs(*r.Codecs)
	}
	return cfg, nil
}

func parseCodecs(rawCodecs []RawCodec) []Codec {
	result := make([]Codec, 0, len(rawCodecs))

	for _, rawCodec := range rawCodecs {
		capability := webrtc.RTPCodecCapability{
			MimeType:  rawCodec.Params.MimeType,
			ClockRate: rawCodec.Params.ClockRate,
			Channels:  rawCodec.Params.Channels,
		}

		if strings.HasPrefix(strings.ToLower(rawCodec.Params.MimeType), "video/") {
			capability.RTCPFeedback = videoFeedback()
		}

		params := webrtc.RTPCodecParameters{
			RTPCodecCapability: capability,
			PayloadType:        webrtc.PayloadType(rawCodec.Params.PayloadType),
		}

		result = append(result, Codec{Params: params, Type: webrtc.NewRTPCodecType(rawCodec.Type)})
	}

	return result
}
