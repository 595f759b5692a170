// Package settings persists console settings (model provider, wallet and
// session passcodes) in one JSON document.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"vawter.tech/stopper"

	"github.com/MrSnakeDoc/kilomarket/internal/logger"
)

const (
	fileMode = 0o600
	dirMode  = 0o755

	keyProvider = "ai_provider"
	keyWallet   = "wallet"
	keySessions = "sessions"
)

type document map[string]json.RawMessage

func defaults() document {
	return document{
		keyProvider: json.RawMessage(`{"enabled":false}`),
		keyWallet:   json.RawMessage(`{"enabled":false}`),
	}
}

// Store reads and writes the settings file. Reads are served from a cache
// that is dropped on every save and whenever the file changes on disk.
// Unknown top-level keys survive every save.
type Store struct {
	path string
	log  logger.Logger

	mu    sync.Mutex
	cache document
}

func NewStore(path string, log logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{path: path, log: log}
}

// Path returns the settings file location.
func (s *Store) Path() string { return s.path }

// loadLocked returns the current document. A missing or unreadable file
// yields the defaults.
func (s *Store) loadLocked() document {
	if s.cache != nil {
		return s.cache.clone()
	}

	doc := defaults()
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.log.Debug("settings file not found, using defaults", logger.String("path", s.path))
	case err != nil:
		s.log.Error("failed to read settings", logger.String("path", s.path), logger.Error(err))
		return doc
	default:
		var onDisk document
		if err := json.Unmarshal(data, &onDisk); err != nil {
			s.log.Error("failed to parse settings", logger.String("path", s.path), logger.Error(err))
			return doc
		}
		for k, v := range onDisk {
			if (k == keyProvider || k == keyWallet) && !isObject(v) {
				continue
			}
			doc[k] = v
		}
	}

	s.cache = doc
	return doc.clone()
}

func (s *Store) saveLocked(doc document) error {
	if err := os.MkdirAll(filepath.Dir(s.path), dirMode); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := renameio.WriteFile(s.path, append(data, '\n'), fileMode); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	s.cache = doc.clone()
	s.log.Debug("settings saved", logger.String("path", s.path))
	return nil
}

// update applies fn to the current document and saves the result.
func (s *Store) update(fn func(doc document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.loadLocked()
	if err := fn(doc); err != nil {
		return err
	}
	return s.saveLocked(doc)
}

func (s *Store) section(key string, into any) {
	s.mu.Lock()
	raw := s.loadLocked()[key]
	s.mu.Unlock()

	if len(raw) == 0 {
		return
	}
	if err := json.Unmarshal(raw, into); err != nil {
		s.log.Warn("ignoring malformed settings section", logger.String("section", key), logger.Error(err))
	}
}

func (d document) set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	d[key] = raw
	return nil
}

func (d document) clone() document {
	out := make(document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func isObject(raw json.RawMessage) bool {
	var m map[string]json.RawMessage
	return json.Unmarshal(raw, &m) == nil && m != nil
}

// Invalidate drops the cache so the next read goes to disk.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
}

// Watch invalidates the cache whenever the settings file changes on
// disk. The directory is watched so atomic renames are seen. The returned
// function stops the watcher.
func (s *Store) Watch(ctx context.Context) (func() error, error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("create settings directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("settings watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() { _ = watcher.Close() })

	name := filepath.Base(s.path)
	sctx.Go(func(sctx *stopper.Context) error {
		for {
			select {
			case <-sctx.Stopping():
				return nil
			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Base(ev.Name) != name {
					continue
				}
				s.Invalidate()
				s.log.Debug("settings changed on disk", logger.String("op", ev.Op.String()))
			case werr, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				s.log.Warn("settings watcher error", logger.Error(werr))
			}
		}
	})

	return func() error {
		sctx.Stop(100 * time.Millisecond)
		return sctx.Wait()
	}, nil
}
