package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/justestif/go-listening-tracker/internal/clock"
)

// DefaultWriteDelay is the trailing delay before queued writes are persisted.
const DefaultWriteDelay = 5 * time.Second

const scheduledFlushTimeout = 30 * time.Second

// Encoder produces the JSON document for a deferred write. It runs when the
// store flushes or when the key is read, never under the store's lock.
type Encoder func() ([]byte, error)

type cacheEntry struct {
	data    []byte
	missing bool
}

// Store is the key-value facade. Reads are served from memory when possible,
// writes are coalesced into a pending set that is persisted by a single
// scheduled flush.
type Store struct {
	backend    Backend
	sched      clock.Scheduler
	logger     *slog.Logger
	writeDelay time.Duration

	mu      sync.Mutex
	cache   map[string]cacheEntry
	pending map[string][]byte
	// deferred holds keys whose document is encoded only at flush time.
	// A key is in pending or deferred, never both.
	deferred map[string]Encoder
	timer    clock.Timer
	closed   bool

	// flushMu serializes backend writes so a retry never overtakes a newer batch.
	flushMu sync.Mutex

	listenersMu sync.Mutex
	listeners   map[string]map[int]Listener
	nextID      int
}

// Option configures a Store.
type Option func(*Store)

// WithWriteDelay sets the debounce delay for queued writes.
func WithWriteDelay(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.writeDelay = d
		}
	}
}

// WithScheduler sets the scheduler used for the flush timer.
func WithScheduler(sched clock.Scheduler) Option {
	return func(s *Store) {
		if sched != nil {
			s.sched = sched
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore wraps backend with caching and debounced persistence.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:    backend,
		sched:      clock.Real{},
		logger:     slog.Default(),
		writeDelay: DefaultWriteDelay,
		cache:      make(map[string]cacheEntry),
		pending:    make(map[string][]byte),
		deferred:   make(map[string]Encoder),
		listeners:  make(map[string]map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins delivering external changes to subscribers when the backend
// supports it. Delivery stops when ctx is done.
func (s *Store) Start(ctx context.Context) error {
	w, ok := s.backend.(Watcher)
	if !ok {
		return nil
	}
	if err := w.Watch(ctx, s.handleExternal); err != nil {
		return fmt.Errorf("watching backend: %w", err)
	}
	return nil
}

// Get decodes the value stored under key into dst. It reports false when the
// key has no value. Read failures are wrapped in ErrReadFailed.
func (s *Store) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, ok, err := s.GetRaw(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("%w: decoding %q: %w", ErrReadFailed, key, err)
	}
	return true, nil
}

// GetRaw returns the JSON document stored under key.
func (s *Store) GetRaw(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	if encode, ok := s.deferred[key]; ok {
		s.mu.Unlock()
		data, err := encode()
		if err != nil {
			return nil, false, fmt.Errorf("encoding %q: %w", key, err)
		}
		return data, true, nil
	}
	if data, ok := s.pending[key]; ok {
		s.mu.Unlock()
		return data, true, nil
	}
	if entry, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return entry.data, !entry.missing, nil
	}
	s.mu.Unlock()

	data, err := s.backend.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("%w: key %q: %w", ErrReadFailed, key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A write may have landed while the backend was being read.
	if fresh, ok := s.pending[key]; ok {
		return fresh, true, nil
	}
	if entry, ok := s.cache[key]; ok {
		return entry.data, !entry.missing, nil
	}

	if errors.Is(err, ErrNotFound) {
		s.cache[key] = cacheEntry{missing: true}
		return nil, false, nil
	}
	s.cache[key] = cacheEntry{data: data}
	return data, true, nil
}

// Set encodes v, updates the cache and queues the write. The first queued
// write schedules a flush after the write delay; later writes coalesce into it.
func (s *Store) Set(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.cache[key] = cacheEntry{data: data}
	s.pending[key] = data
	delete(s.deferred, key)
	s.scheduleLocked()
	return nil
}

// SetFunc queues a write whose document is produced by encode when the store
// flushes. Reads of key before the flush call encode too. encode must be safe
// to call from any goroutine.
func (s *Store) SetFunc(key string, encode Encoder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	delete(s.pending, key)
	delete(s.cache, key)
	s.deferred[key] = encode
	s.scheduleLocked()
	return nil
}

// SetNow encodes v and writes it to the backend immediately. On failure the
// value stays queued for the next flush cycle.
func (s *Store) SetNow(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.cache[key] = cacheEntry{data: data}
	delete(s.pending, key)
	delete(s.deferred, key)
	s.mu.Unlock()

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if err := s.backend.SetMany(ctx, map[string][]byte{key: data}); err != nil {
		s.requeue(map[string][]byte{key: data})
		return fmt.Errorf("%w: key %q: %w", ErrWriteFailed, key, err)
	}
	return nil
}

// Remove deletes key from the cache, the pending set and the backend.
func (s *Store) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	s.cache[key] = cacheEntry{missing: true}
	delete(s.pending, key)
	delete(s.deferred, key)
	s.mu.Unlock()

	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("%w: deleting %q: %w", ErrWriteFailed, key, err)
	}
	return nil
}

// Flush cancels the scheduled flush and persists every pending write now.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	return s.writePending(ctx)
}

// PendingKeys returns the number of keys waiting to be persisted.
func (s *Store) PendingKeys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) + len(s.deferred)
}

// Close flushes pending writes and closes the backend.
func (s *Store) Close(ctx context.Context) error {
	flushErr := s.Flush(ctx)

	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if err := s.backend.Close(); err != nil {
		return errors.Join(flushErr, fmt.Errorf("closing backend: %w", err))
	}
	return flushErr
}

// Subscribe registers fn for changes to key made outside this store.
// The returned function removes the subscription.
func (s *Store) Subscribe(key string, fn Listener) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	s.nextID++
	id := s.nextID
	if s.listeners[key] == nil {
		s.listeners[key] = make(map[int]Listener)
	}
	s.listeners[key][id] = fn

	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners[key], id)
	}
}

func (s *Store) scheduleLocked() {
	if s.timer != nil || s.closed {
		return
	}
	s.timer = s.sched.AfterFunc(s.writeDelay, s.scheduledFlush)
}

func (s *Store) scheduledFlush() {
	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), scheduledFlushTimeout)
	defer cancel()

	// Failures are logged and re-queued by writePending.
	_ = s.writePending(ctx)
}

func (s *Store) writePending(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if len(s.pending) == 0 && len(s.deferred) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := s.pending
	encoders := s.deferred
	s.pending = make(map[string][]byte)
	s.deferred = make(map[string]Encoder)
	s.mu.Unlock()

	var encodeErr error
	failed := make(map[string]Encoder)
	for key, encode := range encoders {
		data, err := encode()
		if err != nil {
			s.logger.Error("encoding deferred write", "key", key, "error", err)
			encodeErr = errors.Join(encodeErr, fmt.Errorf("encoding %q: %w", key, err))
			failed[key] = encode
			continue
		}
		batch[key] = data
	}
	s.cacheEncoded(batch, encoders, failed)
	if len(batch) == 0 {
		return encodeErr
	}

	if err := s.backend.SetMany(ctx, batch); err != nil {
		s.requeue(batch)
		s.logger.Error("persisting pending writes", "keys", len(batch), "error", err)
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	s.logger.Debug("persisted pending writes", "keys", len(batch))
	return encodeErr
}

// cacheEncoded records freshly encoded deferred documents in the read cache
// and re-queues encoders that failed, unless the key was written again while
// encoding.
func (s *Store) cacheEncoded(batch map[string][]byte, encoders, failed map[string]Encoder) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, encode := range failed {
		_, newer := s.pending[key]
		_, newerDeferred := s.deferred[key]
		if !newer && !newerDeferred {
			s.deferred[key] = encode
		}
	}
	if len(failed) > 0 {
		s.scheduleLocked()
	}

	for key := range encoders {
		data, ok := batch[key]
		if !ok {
			continue
		}
		if _, newer := s.pending[key]; newer {
			continue
		}
		if _, newer := s.deferred[key]; newer {
			continue
		}
		s.cache[key] = cacheEntry{data: data}
	}
}

// requeue puts failed entries back unless a newer value was queued meanwhile.
func (s *Store) requeue(batch map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, data := range batch {
		_, newer := s.pending[key]
		_, newerDeferred := s.deferred[key]
		if !newer && !newerDeferred {
			s.pending[key] = data
		}
	}
	s.scheduleLocked()
}

func (s *Store) handleExternal(key string, value []byte, deleted bool) {
	s.mu.Lock()
	_, queued := s.pending[key]
	_, queuedDeferred := s.deferred[key]
	if queued || queuedDeferred {
		// The local write is newer and will overwrite the external one.
		s.mu.Unlock()
		s.logger.Debug("ignoring external change for key with pending write", "key", key)
		return
	}
	if deleted {
		s.cache[key] = cacheEntry{missing: true}
	} else {
		s.cache[key] = cacheEntry{data: value}
	}
	s.mu.Unlock()

	s.listenersMu.Lock()
	fns := make([]Listener, 0, len(s.listeners[key]))
	for _, fn := range s.listeners[key] {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		s.notify(fn, key, value)
	}
}

func (s *Store) notify(fn Listener, key string, value []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("change listener panicked", "key", key, "panic", r)
		}
	}()
	fn(key, value)
}
