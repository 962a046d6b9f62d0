// Package featureflags implements the persisted, environment-overridable
// flag store of spec.md §4 (Feature Flags row) and §6.
package featureflags

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"hyperion-taskctl/internal/models"
)

// Store is a concurrent-safe, JSON-file-backed feature flag store.
type Store struct {
	path string

	mu    sync.RWMutex
	flags map[string]models.FeatureFlag
}

// Load reads path into a Store, creating an empty store if the file does
// not yet exist.
func Load(path string) (*Store, error) {
	s := &Store{path: path, flags: make(map[string]models.FeatureFlag)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("featureflags: read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &s.flags); err != nil {
		return nil, fmt.Errorf("featureflags: parse %s: %w", path, err)
	}
	return s, nil
}

// Reload re-reads the backing file in place; Watch calls it when the file
// changes.
func (s *Store) Reload() error {
	fresh, err := Load(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.flags = fresh.flags
	s.mu.Unlock()
	return nil
}

func (s *Store) save() error {
	data, err := json.MarshalIndent(s.flags, "", "  ")
	if err != nil {
		return fmt.Errorf("featureflags: marshal: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("featureflags: write %s: %w", s.path, err)
	}
	return nil
}

// IsEnabled reports whether name is enabled, applying a FEATURE_<NAME>
// environment override if present (spec.md §6).
func (s *Store) IsEnabled(name string) bool {
	envKey := "FEATURE_" + strings.ToUpper(name)
	if raw, ok := os.LookupEnv(envKey); ok {
		if b, err := parseFlagBool(raw); err == nil {
			return b
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	flag, ok := s.flags[name]
	if !ok {
		return false
	}
	return flag.Enabled
}

// Set creates or updates a flag's stored (not env-overridden) value.
func (s *Store) Set(name string, enabled bool, description string) (models.FeatureFlag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	flag, existed := s.flags[name]
	if !existed {
		flag = models.FeatureFlag{Name: name, CreatedAt: now}
	}
	flag.Enabled = enabled
	if description != "" {
		flag.Description = description
	}
	flag.UpdatedAt = now
	s.flags[name] = flag

	if err := s.save(); err != nil {
		return models.FeatureFlag{}, err
	}
	return flag, nil
}

// List returns every stored flag, unaffected by environment overrides.
func (s *Store) List() []models.FeatureFlag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.FeatureFlag, 0, len(s.flags))
	for _, f := range s.flags {
		out = append(out, f)
	}
	return out
}

// Watch starts an fsnotify watch on the store's backing file and reloads it
// in place whenever the file is written or recreated (editors commonly
// replace a file via rename-into-place rather than an in-place write).
// The watch runs until stop is closed; watch errors are logged but never
// fail flag reads, which continue serving the last-loaded values.
func (s *Store) Watch(stop <-chan struct{}, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("featureflags: creating watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("featureflags: watching %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.Reload(); err != nil {
					logger.Warn("featureflags: reload failed", zap.Error(err))
					continue
				}
				logger.Info("featureflags: reloaded", zap.String("path", s.path))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("featureflags: watch error", zap.Error(err))
			}
		}
	}()

	return nil
}

func parseFlagBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return strconv.ParseBool(raw)
}
