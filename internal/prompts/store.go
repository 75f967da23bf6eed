// Package prompts manages the per-agent system prompt templates.
// Defaults are baked into the binary with go:embed; an optional overlay
// directory of user-editable Markdown files shadows them. Templates are
// configuration data, not code: they can be reloaded at runtime.
package prompts

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"hypercog/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Agent names with a default template.
const (
	AgentEvaluator    = "evaluator"
	AgentDeepThinking = "deep_thinking"
	AgentConsolidator = "consolidator"
	AgentScrum        = "scrum"
	AgentOptimizer    = "optimizer"
)

//go:embed templates
var embeddedTemplates embed.FS

// Store holds the loaded prompt templates keyed by agent name.
type Store struct {
	mu         sync.RWMutex
	templates  map[string]string
	overlayDir string
	watcher    *fsnotify.Watcher
	done       chan struct{}
}

// NewStore loads the embedded defaults and, if overlayDir is non-empty and
// exists, overlays any *.md files found there (file stem = agent name).
func NewStore(overlayDir string) (*Store, error) {
	s := &Store{
		templates:  make(map[string]string),
		overlayDir: overlayDir,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the template for an agent. Unknown agents get an empty string;
// callers treat that as "no system prompt".
func (s *Store) Get(agent string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.templates[agent]
}

// Names returns the loaded agent names.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	return names
}

// Reload re-reads embedded defaults and the overlay directory.
func (s *Store) Reload() error {
	loaded := make(map[string]string)

	err := fs.WalkDir(embeddedTemplates, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		data, readErr := embeddedTemplates.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		name := strings.TrimSuffix(filepath.Base(path), ".md")
		loaded[name] = string(data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load embedded templates: %w", err)
	}

	if s.overlayDir != "" {
		entries, err := os.ReadDir(s.overlayDir)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to read overlay directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			data, readErr := os.ReadFile(filepath.Join(s.overlayDir, entry.Name()))
			if readErr != nil {
				logging.Get(logging.CategoryPrompts).Warn("skipping overlay %s: %v", entry.Name(), readErr)
				continue
			}
			name := strings.TrimSuffix(entry.Name(), ".md")
			loaded[name] = string(data)
		}
	}

	s.mu.Lock()
	s.templates = loaded
	s.mu.Unlock()

	logging.Get(logging.CategoryPrompts).Info("loaded %d prompt templates", len(loaded))
	return nil
}

// Watch starts watching the overlay directory and reloads on changes.
// No-op when there is no overlay directory. Call Close to stop.
func (s *Store) Watch() error {
	if s.overlayDir == "" {
		return nil
	}
	if _, err := os.Stat(s.overlayDir); os.IsNotExist(err) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.overlayDir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.overlayDir, err)
	}

	s.watcher = watcher
	s.done = make(chan struct{})

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if !strings.HasSuffix(event.Name, ".md") {
					continue
				}
				logging.Get(logging.CategoryPrompts).Info("template change detected: %s", event.Name)
				if err := s.Reload(); err != nil {
					logging.Get(logging.CategoryPrompts).Error("reload failed: %v", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Get(logging.CategoryPrompts).Warn("watcher error: %v", err)
			case <-s.done:
				return
			}
		}
	}()

	return nil
}

// Close stops the watcher if one is running.
func (s *Store) Close() {
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
}
