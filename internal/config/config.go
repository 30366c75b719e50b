package config

import (
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"github.com/nguyenquan715/kurento-one2many/internal/api"
)

// Option adjusts an AppConfig. Options are used to build configs in code and
// to apply command-line overrides on top of the config files.
type Option func(*AppConfig)

func WithPort(port int) Option {
	return func(c *AppConfig) {
		c.Server.Port = port
	}
}

func WithPath(path string) Option {
	return func(c *AppConfig) {
		c.Server.Path = "/" + strings.TrimLeft(path, "/")
	}
}

func WithStaticDir(dir string) Option {
	return func(c *AppConfig) {
		c.Server.StaticDir = dir
	}
}

// WithPingInterval sets the WebSocket ping period in milliseconds.
func WithPingInterval(interval int) Option {
	return func(c *AppConfig) {
		c.Server.PingInterval = interval
	}
}

func WithLogLevel(level string) Option {
	return func(c *AppConfig) {
		c.Server.LogLevel = level
	}
}

func WithAdminCredential(credential *string) Option {
	return func(c *AppConfig) {
		c.Security.AdminCredential = credential
	}
}

func WithTLS(crtFile, keyFile string) Option {
	return func(c *AppConfig) {
		c.Security.TLSCrtFile = &crtFile
		c.Security.TLSKeyFile = &keyFile
	}
}

func WithAdminsNetworks(networks []netip.Prefix) Option {
	return func(c *AppConfig) {
		c.Security.AdminsRawNetworks = networks
	}
}

func WithMediaDriver(driver MediaDriver) Option {
	return func(c *AppConfig) {
		c.Media.Driver = driver
	}
}

func WithMediaURI(uri string) Option {
	return func(c *AppConfig) {
		c.Media.URI = uri
	}
}

// WithRequestTimeout sets the media request timeout in milliseconds.
func WithRequestTimeout(timeout int) Option {
	return func(c *AppConfig) {
		c.Media.RequestTimeout = timeout
	}
}

func WithKeepaliveInterval(interval int) Option {
	return func(c *AppConfig) {
		c.Media.KeepaliveInterval = interval
	}
}

func WithMaxQueuedCandidates(n int) Option {
	return func(c *AppConfig) {
		c.Media.MaxQueuedCandidates = n
	}
}

func WithWebRTCPortRange(min, max uint16) Option {
	return func(c *AppConfig) {
		c.WebRTC.PortMin = min
		c.WebRTC.PortMax = max
	}
}

func WithPublicIP(ip string) Option {
	return func(c *AppConfig) {
		c.WebRTC.PublicIP = ip
	}
}

func WithPeerConnectionConfig(config api.PeerConnectionConfig) Option {
	return func(c *AppConfig) {
		c.WebRTC.PeerConnectionConfig = config
	}
}

func WithCodecs(codecs []Codec) Option {
	return func(c *AppConfig) {
		c.WebRTC.Codecs = codecs
	}
}

// NewAppConfig returns DefaultAppConfig with opts applied in order.
func NewAppConfig(opts ...Option) AppConfig {
	cfg := DefaultAppConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// ListenURIOptions turns the public application URI (for example
// https://localhost:8444/) into a port override.
func ListenURIOptions(rawURI string) ([]Option, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return nil, fmt.Errorf("invalid application uri %q: %w", rawURI, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid application uri %q: unsupported scheme %q", rawURI, u.Scheme)
	}

	var opts []Option
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid application uri %q: %w", rawURI, err)
		}
		opts = append(opts, WithPort(port))
	}
	return opts, nil
}

// ParseLogLevel maps a config level name onto a slog level. Unknown names
// fall back to info.
func ParseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
