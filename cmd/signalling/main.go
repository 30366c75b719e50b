package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/lmittmann/tint"
	"github.com/nguyenquan715/kurento-one2many/internal/config"
	"github.com/nguyenquan715/kurento-one2many/internal/domain"
	"github.com/nguyenquan715/kurento-one2many/internal/kurento"
	"github.com/nguyenquan715/kurento-one2many/internal/metrics"
	"github.com/nguyenquan715/kurento-one2many/internal/repository/memory"
	"github.com/nguyenquan715/kurento-one2many/internal/service"
	"github.com/nguyenquan715/kurento-one2many/internal/sfu"
	"github.com/nguyenquan715/kurento-one2many/internal/signalling"
)

func main() {
	configDir := flag.String("config", "conf", "directory with server, security, media and webrtc config files")
	asURI := flag.String("as_uri", "https://localhost:8444/", "public URI of this application server")
	wsURI := flag.String("ws_uri", "ws://localhost:8888/kurento", "Kurento Media Server WebSocket URI")
	flag.Parse()

	logLevel := new(slog.LevelVar)
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel,
		TimeFormat: time.TimeOnly,
	})))

	overrides, err := flagOverrides(*asURI, *wsURI)
	if err != nil {
		slog.Error("invalid command line", "error", err)
		os.Exit(2)
	}

	manager, err := config.NewManager(*configDir, overrides...)
	if err != nil {
		slog.Error("failed to load config", "dir", *configDir, "error", err)
		os.Exit(1)
	}
	defer manager.Close()

	cfg := manager.Get()
	logLevel.Set(config.ParseLogLevel(cfg.Server.LogLevel))
	manager.SetUpdateCallback(func(updated *config.AppConfig) {
		logLevel.Set(config.ParseLogLevel(updated.Server.LogLevel))
		slog.Info("config reloaded", "logLevel", updated.Server.LogLevel)
	})

	broadcast := service.NewBroadcastService(
		mediaDialer(cfg),
		memory.NewCandidateQueue(cfg.Media.MaxQueuedCandidates),
		service.WithRequestTimeout(cfg.Media.RequestTimeoutDuration()),
	)
	defer broadcast.Close()

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	server := signalling.NewServer(cfg, app, broadcast)
	server.Setup()
	defer server.Close()

	metrics.StartTime.SetToCurrentTime()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		slog.Info("shutting down")
		if err := app.Shutdown(); err != nil {
			slog.Error("failed to shut down http server", "error", err)
		}
	}()

	addr := ":" + strconv.Itoa(cfg.Server.Port)
	slog.Info("signalling server started",
		"addr", addr,
		"path", cfg.Server.Path,
		"media", cfg.Media.Driver,
		"mediaUri", cfg.Media.URI,
		"tls", cfg.Security.TLSEnabled(),
	)

	if cfg.Security.TLSEnabled() {
		err = app.ListenTLS(addr, *cfg.Security.TLSCrtFile, *cfg.Security.TLSKeyFile)
	} else {
		err = app.Listen(addr)
	}
	if err != nil {
		slog.Error("http server stopped", "error", err)
	}
}

// flagOverrides turns the explicitly set URI flags into config overrides so
// that they win over the files without hiding file values by default.
func flagOverrides(asURI, wsURI string) ([]config.Option, error) {
	var opts []config.Option
	var err error

	flag.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "as_uri":
			var uriOpts []config.Option
			uriOpts, err = config.ListenURIOptions(asURI)
			opts = append(opts, uriOpts...)
		case "ws_uri":
			opts = append(opts, config.WithMediaURI(wsURI))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("as_uri: %w", err)
	}
	return opts, nil
}

func mediaDialer(cfg config.AppConfig) domain.MediaDialer {
	if cfg.Media.Driver == config.MediaDriverLocal {
		return sfu.Dialer{Config: cfg.WebRTC}
	}
	return kurento.Dialer{
		URI:               cfg.Media.URI,
		RequestTimeout:    cfg.Media.RequestTimeoutDuration(),
		KeepaliveInterval: cfg.Media.KeepalivePeriod(),
	}
}
