package relaystore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. Two sessions in one process, and tests,
// share an instance.
type MemoryStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	hub    *hub
	closed bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
		hub:  newHub(),
	}
}

func (m *MemoryStore) Write(_ context.Context, path string, value []byte) error {
	path, err := Clean(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	v := append([]byte(nil), value...)
	m.data[path] = v
	m.hub.publish(Event{Type: EventPut, Path: path, Value: v})
	return nil
}

func (m *MemoryStore) ReadOnce(_ context.Context, path string) ([]byte, error) {
	path, err := Clean(path)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, path string, fn func(Event)) (func(), error) {
	path, err := Clean(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	var replay []Event
	for _, p := range m.pathsUnder(path) {
		replay = append(replay, Event{Type: EventPut, Path: p, Value: m.data[p]})
	}
	sub, err := m.hub.add(path, fn, replay)
	if err != nil {
		return nil, err
	}
	return m.hub.detach(ctx, sub), nil
}

// pathsUnder returns the stored paths within prefix in sorted order. Callers
// hold mu.
func (m *MemoryStore) pathsUnder(prefix string) []string {
	var paths []string
	for p := range m.data {
		if Within(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

func (m *MemoryStore) Remove(_ context.Context, path string) error {
	path, err := Clean(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, p := range m.pathsUnder(path) {
		delete(m.data, p)
		m.hub.publish(Event{Type: EventDelete, Path: p})
	}
	return nil
}

func (m *MemoryStore) Append(ctx context.Context, path string, value []byte) (string, error) {
	key := NewKey()
	if err := m.Write(ctx, Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.hub.close()
	return nil
}
