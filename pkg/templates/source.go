// Package templates provides the CI workflow templates rendered by the engine.
//
// Defaults for maven, gradle, npm and generic stacks are embedded in the
// binary. A directory of <key>.yml files can override any of them, and Watch
// reloads the overrides when the directory changes.
package templates

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/stackforge/stackforge/pkg/engine"
)

//go:embed defaults/*.yml
var defaultFS embed.FS

// ErrTemplateNotFound is returned when no template exists for a key.
var ErrTemplateNotFound = errors.New("template not found")

// Source is an engine.TemplateSource backed by embedded defaults and an
// optional override directory.
type Source struct {
	logger    zerolog.Logger
	mu        sync.RWMutex
	defaults  map[string]string
	overrides map[string]string
	dir       string
	watcher   *fsnotify.Watcher
}

// New creates a Source holding the embedded defaults.
func New(logger zerolog.Logger) (*Source, error) {
	s := &Source{
		logger:    logger.With().Str("component", "templates").Logger(),
		defaults:  make(map[string]string),
		overrides: make(map[string]string),
	}

	entries, err := defaultFS.ReadDir("defaults")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded templates: %w", err)
	}
	for _, e := range entries {
		data, err := defaultFS.ReadFile("defaults/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded template %s: %w", e.Name(), err)
		}
		s.defaults[templateKey(e.Name())] = string(data)
	}
	return s, nil
}

// NewWithDir creates a Source and loads overrides from dir.
func NewWithDir(logger zerolog.Logger, dir string) (*Source, error) {
	s, err := New(logger)
	if err != nil {
		return nil, err
	}
	if err := s.LoadDir(dir); err != nil {
		return nil, err
	}
	return s, nil
}

// GetTemplate returns the override for stackKey if present, else the default.
func (s *Source) GetTemplate(ctx context.Context, stackKey string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(stackKey))

	s.mu.RLock()
	defer s.mu.RUnlock()

	if tpl, ok := s.overrides[key]; ok {
		return tpl, nil
	}
	if tpl, ok := s.defaults[key]; ok {
		return tpl, nil
	}
	return "", fmt.Errorf("%s: %w", key, ErrTemplateNotFound)
}

// Keys returns every key a template is available for, sorted.
func (s *Source) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for k := range s.defaults {
		seen[k] = true
	}
	for k := range s.overrides {
		seen[k] = true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Overridden reports whether key is served from the override directory.
func (s *Source) Overridden(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.overrides[key]
	return ok
}

// LoadDir replaces the overrides with the *.yml and *.yaml files in dir.
func (s *Source) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read template directory: %w", err)
	}

	overrides := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || !isTemplateFile(e.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			s.logger.Warn().Err(err).Str("file", e.Name()).Msg("Failed to read template")
			continue
		}
		overrides[templateKey(e.Name())] = string(data)
	}

	s.mu.Lock()
	s.dir = dir
	s.overrides = overrides
	s.mu.Unlock()

	s.logger.Info().
		Str("dir", dir).
		Int("overrides", len(overrides)).
		Msg("Templates loaded")
	return nil
}

// Watch reloads the override directory on change until ctx is done.
func (s *Source) Watch(ctx context.Context) error {
	s.mu.RLock()
	dir := s.dir
	s.mu.RUnlock()
	if dir == "" {
		return fmt.Errorf("no template directory loaded")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	s.watcher = watcher

	go s.processEvents(ctx, dir)

	s.logger.Info().Str("dir", dir).Msg("Watching template directory")
	return nil
}

func (s *Source) processEvents(ctx context.Context, dir string) {
	var reloadTimer *time.Timer
	reloadDelay := 200 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			_ = s.watcher.Close()
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !isTemplateFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Template changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := s.LoadDir(dir); err != nil {
					s.logger.Error().Err(err).Msg("Failed to reload templates")
				}
			})

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// StopWatching stops watching the override directory.
func (s *Source) StopWatching() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func isTemplateFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yml" || ext == ".yaml"
}

func templateKey(name string) string {
	return strings.ToLower(strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)))
}

var _ engine.TemplateSource = (*Source)(nil)
