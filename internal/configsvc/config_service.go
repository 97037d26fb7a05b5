// Package configsvc loads the hub's YAML configuration, validates it and
// watches the file so device entries added while a hub is running can be
// brought up without a restart.
package configsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/ghodss/yaml"
	"go.uber.org/zap"
)

type subscriber func(event fsnotify.Event)

// Service watches registered configuration files and delivers re-read
// configs to their subscribers from the watch goroutine.
type Service struct {
	log *zap.Logger

	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	subscribers []subscriber
	ready       chan struct{}
}

func New(log *zap.Logger) *Service {
	return &Service{
		log:   log,
		ready: make(chan struct{}),
	}
}

// Start runs the watch loop until the context is cancelled. Register must
// only be called after Ready is closed.
func (s *Service) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	s.watcher = watcher
	defer s.watcher.Close()
	close(s.ready)
	s.log.Info("Config service started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			s.mu.Lock()
			for _, sub := range s.subscribers {
				sub(event)
			}
			s.mu.Unlock()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Error("Watcher error", zap.Error(err))
		}
	}
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Register reads the config at path and subscribes fn to subsequent
// writes of the same file. The service parameter is explicit because Go
// methods cannot introduce type parameters.
func Register[T any](s *Service, path string, def T, fn func(config T, err error)) (T, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return def, fmt.Errorf("failed to get absolute path for %s: %w", path, err)
	}
	config, err := readConfig(absPath, def)
	if err != nil {
		return def, fmt.Errorf("failed to read config: %w", err)
	}

	// Watch the directory, not the file: editors replace the file on save
	// and a file watch dies with the old inode.
	dir := filepath.Dir(absPath)
	err = s.watcher.Add(dir)
	if err != nil {
		return def, fmt.Errorf("failed to add path to watcher %s: %w", path, err)
	}

	s.mu.Lock()
	s.subscribers = append(s.subscribers, func(event fsnotify.Event) {
		// TODO: debounce editor write bursts
		if event.Name == absPath && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
			newConfig, err := readConfig(absPath, def)
			fn(newConfig, err)
		}
	})
	s.mu.Unlock()

	return config, nil
}

// WriteDefault serializes a config to YAML at path, for first-run
// initialization. Existing files are not overwritten.
func WriteDefault[T any](path string, config T) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	jsonB, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	yamlB, err := yaml.JSONToYAML(jsonB)
	if err != nil {
		return fmt.Errorf("failed to convert json to yaml: %w", err)
	}
	if err := os.WriteFile(path, yamlB, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func readConfig[T any](path string, def T) (T, error) {
	yamlB, err := os.ReadFile(path)
	if err != nil {
		return def, fmt.Errorf("failed to read config file: %w", err)
	}

	jsonB, err := yaml.YAMLToJSON(yamlB)
	if err != nil {
		return def, fmt.Errorf("failed to convert yaml to json: %w", err)
	}
	err = json.Unmarshal(jsonB, &def)
	if err != nil {
		return def, fmt.Errorf("failed to unmarshal json: %w", err)
	}
	return def, nil
}
