// Package file provides a single-file kv.Store with atomic replace
// writes and an fsnotify watcher that reports external modification of
// the backing file. The watcher is the headless analog of a browser
// "storage" event: a second process writing the same file wakes up the
// auto-sync scheduler in this one.
package file

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/yeying-community/ucansync/kv"
)

// Store implements kv.Store by keeping every key in one JSON document
// on disk. Writes rewrite the whole document through a temp file and
// rename, so readers never observe a torn write.
type Store struct {
	mu       sync.Mutex
	path     string
	data     map[string][]byte
	lastHash [32]byte
	closed   bool
	log      *slog.Logger

	watchMu  sync.Mutex
	watcher  *fsnotify.Watcher
	handlers map[int]func()
	nextID   int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for watch diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// Open loads (or creates) the store backed by path.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:     filepath.Clean(path),
		data:     map[string][]byte{},
		handlers: map[int]func(){},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, err
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.data = map[string][]byte{}
			s.lastHash = sha256.Sum256(nil)
			return nil
		}
		return err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("kv/file: corrupt store %s: %w", s.path, err)
	}
	data := make(map[string][]byte, len(doc))
	for k, v := range doc {
		var val string
		if err := json.Unmarshal(v, &val); err != nil {
			continue
		}
		data[k] = []byte(val)
	}
	s.data = data
	s.lastHash = sha256.Sum256(raw)
	return nil
}

func (s *Store) flush() error {
	doc := make(map[string]string, len(s.data))
	for k, v := range s.data {
		doc[k] = string(v)
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return err
	}
	committed = true
	s.lastHash = sha256.Sum256(raw)
	return nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, kv.ErrClosed
	}
	v, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kv.ErrClosed
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.data[key] = v
	return s.flush()
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kv.ErrClosed
	}
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.flush()
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher != nil {
		err := s.watcher.Close()
		s.watcher = nil
		return err
	}
	return nil
}

// Watch registers fn to run whenever the backing file changes on disk
// with content this store did not write itself. The returned cancel
// removes the registration; the watcher itself is shared across all
// registrations and closed with the store.
func (s *Store) Watch(fn func()) (func(), error) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	if s.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, err
		}
		if err := w.Add(filepath.Dir(s.path)); err != nil {
			_ = w.Close()
			return nil, err
		}
		s.watcher = w
		go s.runWatch(w)
	}

	id := s.nextID
	s.nextID++
	s.handlers[id] = fn
	return func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		delete(s.handlers, id)
	}, nil
}

func (s *Store) runWatch(w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if s.externallyChanged() {
				s.notify()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.Debug("kv/file watch error", slog.String("err", err.Error()))
		}
	}
}

// externallyChanged reloads the file and reports whether its content
// differs from what this store last wrote or observed.
func (s *Store) externallyChanged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return false
	}
	h := sha256.Sum256(raw)
	if h == s.lastHash {
		return false
	}
	if err := s.reload(); err != nil {
		s.log.Warn("kv/file external change unreadable", slog.String("err", err.Error()))
		return false
	}
	return true
}

func (s *Store) notify() {
	s.watchMu.Lock()
	handlers := make([]func(), 0, len(s.handlers))
	for _, fn := range s.handlers {
		handlers = append(handlers, fn)
	}
	s.watchMu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

var (
	_ kv.Store     = (*Store)(nil)
	_ kv.Watchable = (*Store)(nil)
)
