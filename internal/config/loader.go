package config

import (
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/valorwatch/valorwatch/internal/errors"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading and hot reloading. Only the cache
// TTL table and the log level take effect on reload; encryption keys and
// upstream settings are fixed for the process lifetime.
type Loader struct {
	path     string
	mu       sync.RWMutex
	config   *Config
	onChange func(*Config)
	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	done     chan struct{}
}

// NewLoader creates a loader for the given config file path.
func NewLoader(path string) *Loader {
	return &Loader{
		path: path,
		done: make(chan struct{}),
	}
}

// Load reads, parses, and validates the configuration file.
func (l *Loader) Load() (*Config, error) {
	content, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.ErrConfigNotFound{Path: l.path}
		}
		return nil, err
	}

	cfg, err := Parse([]byte(os.ExpandEnv(string(content))))
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()

	return cfg, nil
}

// Get returns the most recently loaded configuration.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// SetOnChange registers a callback invoked after each successful reload.
func (l *Loader) SetOnChange(fn func(*Config)) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

// Watch starts a filesystem watcher on the config file. A failed reload
// keeps the previous configuration in place.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(l.path); err != nil {
		watcher.Close()
		return err
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-l.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					l.reload()
				}
			case <-watcher.Errors:
				// Watcher errors are non-fatal; the stale config stays active.
			}
		}
	}()

	return nil
}

// Stop stops the watcher.
func (l *Loader) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
	})
}

func (l *Loader) reload() {
	cfg, err := l.Load()
	if err != nil {
		return
	}

	l.mu.RLock()
	onChange := l.onChange
	l.mu.RUnlock()

	if onChange != nil {
		onChange(cfg)
	}
}

// Parse parses and validates configuration from a byte slice.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &errors.ErrConfigParse{Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &errors.ErrConfigValidation{Err: err}
	}
	return &cfg, nil
}
