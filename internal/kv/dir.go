package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const (
	dirFileExt    = ".json"
	dirTempGlob   = ".tmp-*"
	dirTempPrefix = ".tmp-"
)

// DirBackend stores one JSON file per key inside a directory. Edits made to
// those files by other processes are reported through Watch.
type DirBackend struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	written map[string][]byte
	removed map[string]bool
}

// DirOption configures a DirBackend.
type DirOption func(*DirBackend)

// WithDirLogger sets the logger used by the change feed.
func WithDirLogger(logger *slog.Logger) DirOption {
	return func(b *DirBackend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// OpenDir opens or creates the directory at path.
func OpenDir(path string, opts ...DirOption) (*DirBackend, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	b := &DirBackend{
		dir:     path,
		logger:  slog.Default(),
		written: make(map[string][]byte),
		removed: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Get returns the stored value or ErrNotFound.
func (b *DirBackend) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", key, err)
	}
	return data, nil
}

// SetMany writes each entry to a temp file and renames it into place.
func (b *DirBackend) SetMany(_ context.Context, entries map[string][]byte) error {
	for key, value := range entries {
		b.mu.Lock()
		b.written[key] = append([]byte(nil), value...)
		delete(b.removed, key)
		b.mu.Unlock()

		if err := b.writeFile(key, value); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the file for key.
func (b *DirBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	b.removed[key] = true
	delete(b.written, key)
	b.mu.Unlock()

	err := os.Remove(b.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %q: %w", key, err)
	}
	return nil
}

// Close is a no-op.
func (b *DirBackend) Close() error { return nil }

// Watch reports file changes in the directory that this backend did not make.
func (b *DirBackend) Watch(ctx context.Context, fn ChangeFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(b.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", b.dir, err)
	}

	go func() {
		defer watcher.Close()
		b.watchLoop(ctx, watcher.Events, watcher.Errors, fn)
	}()
	return nil
}

func (b *DirBackend) watchLoop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error, fn ChangeFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			b.handleEvent(event, fn)
		case err, ok := <-errs:
			if !ok {
				return
			}
			b.logger.Warn("watching store directory", "dir", b.dir, "error", err)
		}
	}
}

func (b *DirBackend) handleEvent(event fsnotify.Event, fn ChangeFunc) {
	key, ok := b.keyFor(event.Name)
	if !ok {
		return
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		if _, err := os.Stat(event.Name); errors.Is(err, os.ErrNotExist) {
			b.mu.Lock()
			own := b.removed[key]
			delete(b.removed, key)
			b.mu.Unlock()
			if !own {
				fn(key, nil, true)
			}
			return
		}
	}

	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	data, err := os.ReadFile(event.Name)
	if err != nil || len(data) == 0 {
		return
	}

	b.mu.Lock()
	own := bytes.Equal(b.written[key], data)
	b.mu.Unlock()
	if own {
		return
	}

	fn(key, data, false)
}

func (b *DirBackend) writeFile(key string, value []byte) error {
	tmp, err := os.CreateTemp(b.dir, dirTempGlob)
	if err != nil {
		return fmt.Errorf("creating temp file for %q: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %q: %w", key, err)
	}
	if err := os.Rename(tmpName, b.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming %q: %w", key, err)
	}
	return nil
}

func (b *DirBackend) path(key string) string {
	return filepath.Join(b.dir, url.PathEscape(key)+dirFileExt)
}

func (b *DirBackend) keyFor(name string) (string, bool) {
	base := filepath.Base(name)
	if strings.HasPrefix(base, dirTempPrefix) || !strings.HasSuffix(base, dirFileExt) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(base, dirFileExt))
	if err != nil {
		return "", false
	}
	return key, true
}
