package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manager holds the active configuration and reloads it from disk.
type Manager struct {
	path     string
	cfg      atomic.Value
	mu       sync.Mutex
	modTime  time.Time
	env      func(*Config)
	onChange []func(*Config)
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	m.touch()
	return m, nil
}

// NewStaticManager wraps an in-memory config with no backing file.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

// WithEnv applies fn to the current config and to every reloaded one.
func (m *Manager) WithEnv(fn func(*Config)) error {
	m.mu.Lock()
	m.env = fn
	m.mu.Unlock()
	next := *m.Get()
	if fn != nil {
		fn(&next)
	}
	if err := Validate(&next); err != nil {
		return err
	}
	m.cfg.Store(&next)
	return nil
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return nil, errors.New("config has no backing file")
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	env := m.env
	callbacks := append([]func(*Config){}, m.onChange...)
	m.mu.Unlock()
	if env != nil {
		env(cfg)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
	}
	m.cfg.Store(cfg)
	m.touch()
	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

// Update validates cfg, persists it when the manager has a file, and makes it active.
func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		m.touch()
	}
	m.cfg.Store(cfg)
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) touch() {
	if m.path == "" {
		return
	}
	if info, err := os.Stat(m.path); err == nil {
		m.mu.Lock()
		m.modTime = info.ModTime()
		m.mu.Unlock()
	}
}

// Watch reloads the config when its file changes. The directory is watched so
// editors that replace the file by rename are still seen. Watch blocks until
// stop is closed.
func (m *Manager) Watch(onError func(error), stop <-chan struct{}) error {
	if m.path == "" {
		return errors.New("config has no backing file")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer w.Close()
	dir := filepath.Dir(m.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config watcher add %s: %w", dir, err)
	}
	target := filepath.Clean(m.path)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Chmod) {
				continue
			}
			needs, err := m.NeedsReload()
			if err != nil || !needs {
				continue
			}
			if _, err := m.Reload(); err != nil && onError != nil {
				onError(err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if onError != nil {
				onError(err)
			}
		case <-stop:
			return nil
		}
	}
}
