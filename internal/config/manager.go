package config

import (
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/nguyenquan715/kurento-one2many/internal/metrics"
)

// Manager holds the current configuration and reloads it when one of the
// watched files in the config directory changes.
type Manager struct {
	mu           sync.RWMutex
	current      *AppConfig
	configDir    string
	watchFiles   []string
	onUpdateFunc func(*AppConfig)
	overrides    []Option
	done         chan struct{}
	closeOnce    sync.Once
}

// NewManager loads the configuration from configDir and starts watching it.
// The overrides are applied on top of every load, so command-line values
// survive a reload.
func NewManager(configDir string, overrides ...Option) (*Manager, error) {
	mgr := &Manager{
		configDir: configDir,
		watchFiles: []string{
			"server.yaml", "server.json",
			"security.yaml", "security.json",
			"media.yaml", "media.json",
			"webrtc.yaml", "webrtc.json",
		},
		overrides: overrides,
		done:      make(chan struct{}),
	}

	if err := mgr.Reload(); err != nil {
		return nil, err
	}

	go mgr.startWatcher()

	return mgr, nil
}

func (m *Manager) Get() AppConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.current
}

func (m *Manager) Reload() error {
	newConfig, err := LoadAppConfig(m.configDir)
	if err != nil {
		return err
	}
	for _, opt := range m.overrides {
		opt(newConfig)
	}

	m.mu.Lock()
	m.current = newConfig
	onUpdate := m.onUpdateFunc
	m.mu.Unlock()

	if onUpdate != nil {
		onUpdate(newConfig)
	}

	metrics.ConfigReloads.Inc()
	slog.Info("configuration reloaded successfully")
	return nil
}

func (m *Manager) SetUpdateCallback(f func(*AppConfig)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdateFunc = f
}

// Close stops the file watcher.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *Manager) watched(name string) bool {
	return slices.Contains(m.watchFiles, filepath.Base(name))
}

func (m *Manager) startWatcher() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("failed to create config watcher", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(m.configDir); err != nil {
		slog.Error("failed to watch config dir", "error", err)
		return
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !m.watched(event.Name) {
				continue
			}
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				slog.Info("config file modified", "file", event.Name)
				if err := m.Reload(); err != nil {
					slog.Error("error reloading config", "error", err)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "error", err)
		case <-m.done:
			return
		}
	}
}
