// Package kv provides the session-shared key/value storage that tabs use to
// persist notification state and observe each other's writes.
package kv

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrClosed is returned by operations on a closed storage.
var ErrClosed = errors.New("storage closed")

// Change describes a write made by another tab.
type Change struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Deleted bool   `json:"deleted,omitempty"`
	Writer  string `json:"writer"`
}

// Handler receives changes made by other writers.
type Handler func(Change)

// Storage is a string key/value store shared by every tab of a session.
// Watch handlers only see changes made through other Storage instances,
// mirroring browser storage events.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Watch(handler Handler) (cancel func())
	Close() error
}

// watchers is a registry of change handlers.
type watchers struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]Handler
}

func (w *watchers) add(h Handler) (int, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.handlers == nil {
		w.handlers = make(map[int]Handler)
	}
	w.nextID++
	id := w.nextID
	w.handlers[id] = h
	return id, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.handlers, id)
	}
}

func (w *watchers) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.handlers)
}

// dispatch invokes handlers outside the lock, in registration order.
func (w *watchers) dispatch(c Change) {
	w.mu.Lock()
	ids := make([]int, 0, len(w.handlers))
	for id := range w.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, w.handlers[id])
	}
	w.mu.Unlock()

	for _, h := range handlers {
		h(c)
	}
}

// MemoryHub is an in-process storage shared by several tabs.
type MemoryHub struct {
	mu    sync.Mutex
	data  map[string]string
	views []*MemoryStorage
}

// NewMemoryHub returns an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{data: make(map[string]string)}
}

// Open returns a Storage view for one tab identified by writer.
func (h *MemoryHub) Open(writer string) *MemoryStorage {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &MemoryStorage{hub: h, writer: writer}
	h.views = append(h.views, s)
	return s
}

func (h *MemoryHub) publish(from *MemoryStorage, c Change) {
	h.mu.Lock()
	targets := make([]*MemoryStorage, 0, len(h.views))
	for _, v := range h.views {
		if v != from {
			targets = append(targets, v)
		}
	}
	h.mu.Unlock()

	for _, v := range targets {
		v.watchers.dispatch(c)
	}
}

// MemoryStorage is one tab's view of a MemoryHub.
type MemoryStorage struct {
	hub      *MemoryHub
	writer   string
	watchers watchers

	mu     sync.Mutex
	closed bool
}

var _ Storage = (*MemoryStorage)(nil)

func (s *MemoryStorage) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *MemoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	if s.isClosed() {
		return "", false, ErrClosed
	}
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	v, ok := s.hub.data[key]
	return v, ok, nil
}

func (s *MemoryStorage) Set(_ context.Context, key, value string) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.hub.mu.Lock()
	s.hub.data[key] = value
	s.hub.mu.Unlock()
	s.hub.publish(s, Change{Key: key, Value: value, Writer: s.writer})
	return nil
}

func (s *MemoryStorage) Delete(_ context.Context, key string) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.hub.mu.Lock()
	_, existed := s.hub.data[key]
	delete(s.hub.data, key)
	s.hub.mu.Unlock()
	if existed {
		s.hub.publish(s, Change{Key: key, Deleted: true, Writer: s.writer})
	}
	return nil
}

func (s *MemoryStorage) Keys(_ context.Context, prefix string) ([]string, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	var keys []string
	for k := range s.hub.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStorage) Watch(handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	_, cancel := s.watchers.add(handler)
	return cancel
}

func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	views := s.hub.views[:0]
	for _, v := range s.hub.views {
		if v != s {
			views = append(views, v)
		}
	}
	s.hub.views = views
	return nil
}
