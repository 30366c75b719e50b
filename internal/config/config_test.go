package config

import (
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadAppConfig_DefaultsWithoutFiles(t *testing.T) {
	cfg, err := LoadAppConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadAppConfig: %v", err)
	}

	def := DefaultAppConfig()
	if cfg.Server.Port != def.Server.Port || cfg.Server.Path != "/one2many" {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Media.Driver != MediaDriverKurento || cfg.Media.URI != "ws://localhost:8888/kurento" {
		t.Fatalf("unexpected media config: %+v", cfg.Media)
	}
	if len(cfg.WebRTC.Codecs) != 2 {
		t.Fatalf("expected default codecs, got %d", len(cfg.WebRTC.Codecs))
	}
}

func TestLoadAppConfig_MergesFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "server.yaml", "port: 9443\npath: live\nlogLevel: debug\n")
	writeFile(t, dir, "security.yaml", "adminCredential: secret\nadminsNetworks:\n  - 10.0.0.0/8\n")
	writeFile(t, dir, "media.json", `{"driver":"local","requestTimeout":2500}`)
	writeFile(t, dir, "webrtc.yaml", "portMin: 40000\nportMax: 40100\n")

	cfg, err := LoadAppConfig(dir)
	if err != nil {
		t.Fatalf("LoadAppConfig: %v", err)
	}

	if cfg.Server.Port != 9443 || cfg.Server.Path != "/live" || cfg.Server.LogLevel != "debug" {
		t.Fatalf("server config not merged: %+v", cfg.Server)
	}
	if cfg.Server.PingInterval != 30000 {
		t.Fatalf("unset field lost its default: pingInterval=%d", cfg.Server.PingInterval)
	}
	if cfg.Security.AdminCredential == nil || *cfg.Security.AdminCredential != "secret" {
		t.Fatalf("admin credential not merged")
	}
	if !cfg.Security.IsAdminAddr(netip.MustParseAddr("10.1.2.3")) || cfg.Security.IsAdminAddr(netip.MustParseAddr("192.168.0.1")) {
		t.Fatalf("admin networks not merged: %v", cfg.Security.AdminsRawNetworks)
	}
	if cfg.Media.Driver != MediaDriverLocal || cfg.Media.RequestTimeoutDuration() != 2500*time.Millisecond {
		t.Fatalf("media config not merged: %+v", cfg.Media)
	}
	if cfg.Media.MaxQueuedCandidates != 256 {
		t.Fatalf("maxQueuedCandidates=%d, want default 256", cfg.Media.MaxQueuedCandidates)
	}
	if cfg.WebRTC.PortMin != 40000 || cfg.WebRTC.PortMax != 40100 {
		t.Fatalf("webrtc config not merged: %+v", cfg.WebRTC)
	}
}

func TestLoadAppConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		name, file, content string
	}{
		{"unknown driver", "media.yaml", "driver: janus\n"},
		{"bad network", "security.yaml", "adminsNetworks:\n  - not-a-cidr\n"},
		{"inverted port range", "webrtc.yaml", "portMin: 500\nportMax: 100\n"},
		{"malformed yaml", "server.yaml", "port: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, tt.file, tt.content)
			if _, err := LoadAppConfig(dir); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadAppConfig_EmptyFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "server.yaml", "")

	cfg, err := LoadAppConfig(dir)
	if err != nil {
		t.Fatalf("LoadAppConfig: %v", err)
	}
	if cfg.Server.Port != 8444 {
		t.Fatalf("port=%d, want 8444", cfg.Server.Port)
	}
}

func TestNewAppConfig_Options(t *testing.T) {
	credential := "pw"
	cfg := NewAppConfig(
		WithPort(1234),
		WithPath("ws"),
		WithAdminCredential(&credential),
		WithMediaDriver(MediaDriverLocal),
		WithMediaURI("ws://kms:8888/kurento"),
		WithPingInterval(500),
		WithTLS("crt.pem", "key.pem"),
	)

	if cfg.Server.Port != 1234 || cfg.Server.Path != "/ws" {
		t.Fatalf("server options not applied: %+v", cfg.Server)
	}
	if cfg.Server.PingPeriod() != 500*time.Millisecond {
		t.Fatalf("PingPeriod=%v", cfg.Server.PingPeriod())
	}
	if cfg.Media.Driver != MediaDriverLocal || cfg.Media.URI != "ws://kms:8888/kurento" {
		t.Fatalf("media options not applied: %+v", cfg.Media)
	}
	if !cfg.Security.TLSEnabled() {
		t.Fatalf("TLS not enabled")
	}
}

func TestListenURIOptions(t *testing.T) {
	opts, err := ListenURIOptions("https://localhost:8443/")
	if err != nil {
		t.Fatalf("ListenURIOptions: %v", err)
	}
	if cfg := NewAppConfig(opts...); cfg.Server.Port != 8443 {
		t.Fatalf("port=%d, want 8443", cfg.Server.Port)
	}

	if _, err := ListenURIOptions("ftp://localhost:21/"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Fatalf("ParseLogLevel(%q)=%v, want %v", in, got, want)
		}
	}
}

func TestManager_ReloadAppliesOverridesAndCallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "server.yaml", "port: 9000\nlogLevel: info\n")

	mgr, err := NewManager(dir, WithMediaURI("ws://override:8888/kurento"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer mgr.Close()

	if got := mgr.Get().Media.URI; got != "ws://override:8888/kurento" {
		t.Fatalf("override not applied: %s", got)
	}

	updates := make(chan string, 16)
	mgr.SetUpdateCallback(func(c *AppConfig) {
		select {
		case updates <- c.Server.LogLevel:
		default:
		}
	})

	writeFile(t, dir, "server.yaml", "port: 9000\nlogLevel: debug\n")
	if err := mgr.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	// The directory watcher may report intermediate writes as well.
	timeout := time.After(time.Second)
	for seen := false; !seen; {
		select {
		case level := <-updates:
			seen = level == "debug"
		case <-timeout:
			t.Fatalf("update callback never saw the new log level")
		}
	}
	if got := mgr.Get().Media.URI; got != "ws://override:8888/kurento" {
		t.Fatalf("override lost on reload: %s", got)
	}
}
