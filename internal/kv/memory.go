package kv

import (
	"context"
	"sync"
)

// MemoryBackend is an in-process Backend. Put simulates a write made by
// another process and is reported to watchers.
type MemoryBackend struct {
	mu       sync.Mutex
	data     map[string][]byte
	writeErr error
	readErr  error
	writes   int
	nextID   int
	watchers map[int]ChangeFunc
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data:     make(map[string][]byte),
		watchers: make(map[int]ChangeFunc),
	}
}

// Get returns the stored value or ErrNotFound.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.readErr != nil {
		return nil, m.readErr
	}
	data, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// SetMany stores all entries.
func (m *MemoryBackend) SetMany(_ context.Context, entries map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return m.writeErr
	}
	for key, data := range entries {
		m.data[key] = append([]byte(nil), data...)
	}
	m.writes++
	return nil
}

// Delete removes key.
func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return m.writeErr
	}
	delete(m.data, key)
	return nil
}

// Close is a no-op.
func (m *MemoryBackend) Close() error { return nil }

// Watch registers fn for changes made through Put and Drop.
func (m *MemoryBackend) Watch(ctx context.Context, fn ChangeFunc) error {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.watchers[id] = fn
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}()
	return nil
}

// Put stores value as another writer would and notifies watchers.
func (m *MemoryBackend) Put(key string, value []byte) {
	m.mu.Lock()
	m.data[key] = append([]byte(nil), value...)
	fns := m.watcherFuncs()
	m.mu.Unlock()

	for _, fn := range fns {
		fn(key, value, false)
	}
}

// Drop deletes key as another writer would and notifies watchers.
func (m *MemoryBackend) Drop(key string) {
	m.mu.Lock()
	delete(m.data, key)
	fns := m.watcherFuncs()
	m.mu.Unlock()

	for _, fn := range fns {
		fn(key, nil, true)
	}
}

// Raw returns the stored bytes for key, bypassing error injection.
func (m *MemoryBackend) Raw(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	return data, ok
}

// Writes returns the number of successful SetMany calls.
func (m *MemoryBackend) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// FailWrites makes subsequent writes return err; nil restores normal writes.
func (m *MemoryBackend) FailWrites(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// FailReads makes subsequent reads return err; nil restores normal reads.
func (m *MemoryBackend) FailReads(err error) {
	m.mu.Lock()
	m.readErr = err
	m.mu.Unlock()
}

func (m *MemoryBackend) watcherFuncs() []ChangeFunc {
	fns := make([]ChangeFunc, 0, len(m.watchers))
	for _, fn := range m.watchers {
		fns = append(fns, fn)
	}
	return fns
}
