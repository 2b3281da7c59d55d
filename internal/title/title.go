// Package title persists the display title shown by web clients.
//
// The title is a single line in a text file. Changes made through Set, or
// by editing the file while Watch runs, are reported to the OnChange callback.
package title

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/srg/shotbridge/internal/device"
)

// DefaultTitle is used when no title has been saved.
const DefaultTitle = "SG Timer"

// Store reads and writes the title file.
type Store struct {
	path   string
	def    string
	logger *logrus.Logger

	mu       sync.Mutex
	current  string
	onChange func(title string)
}

// NewStore creates a Store for path. An empty def means DefaultTitle.
func NewStore(path, def string, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	if strings.TrimSpace(def) == "" {
		def = DefaultTitle
	}
	return &Store{path: path, def: def, logger: logger}
}

// OnChange registers the callback invoked with every new title.
func (s *Store) OnChange(fn func(title string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Get returns the saved title. A missing or empty file yields the default,
// and a missing file is created with it.
func (s *Store) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.readLocked()
	if err != nil {
		s.logger.WithField("error", err).Warn("Failed to read title, using default")
		t = s.def
	}
	s.current = t
	return t
}

// Set saves title and notifies the callback. Surrounding whitespace is
// trimmed and an empty title is rejected.
func (s *Store) Set(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", device.NewRequestError("Missing title")
	}

	s.mu.Lock()
	if err := s.writeLocked(title); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.current = title
	fn := s.onChange
	s.mu.Unlock()

	s.logger.WithField("title", title).Info("Title updated")
	if fn != nil {
		fn(title)
	}
	return title, nil
}

// Reload re-reads the file and notifies the callback when the title changed.
func (s *Store) Reload() (string, bool) {
	s.mu.Lock()
	t, err := s.readLocked()
	if err != nil || t == s.current {
		s.mu.Unlock()
		return s.current, false
	}
	s.current = t
	fn := s.onChange
	s.mu.Unlock()

	s.logger.WithField("title", t).Info("Title changed on disk")
	if fn != nil {
		fn(t)
	}
	return t, true
}

// Watch reports edits to the title file until ctx is cancelled. It watches
// the parent directory so editors that replace the file are also seen.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create title watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(s.path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	s.Get()

	s.logger.WithField("path", abs).Debug("Watching title file")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				s.Reload()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.WithField("error", err).Warn("Title watcher error")
		}
	}
}

func (s *Store) readLocked() (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		if werr := s.writeLocked(s.def); werr != nil {
			s.logger.WithField("error", werr).Warn("Failed to create title file")
		}
		return s.def, nil
	}
	if err != nil {
		return "", err
	}
	t := strings.TrimSpace(string(data))
	if i := strings.IndexAny(t, "\r\n"); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	if t == "" {
		return s.def, nil
	}
	return t, nil
}

func (s *Store) writeLocked(title string) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create title directory: %w", err)
		}
	}
	if err := os.WriteFile(s.path, []byte(title+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write title: %w", err)
	}
	return nil
}
