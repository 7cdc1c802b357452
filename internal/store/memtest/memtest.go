// Package memtest provides an in-memory store.CookieStore fake for unit
// tests of internal/proto, so command-handler tests don't need a real
// filesystem. It is not a candidate backing store for cosignd itself:
// cosignd's cookie store must survive process restarts (spec.md §4.2), and
// an in-memory map cannot.
package memtest

import (
	"context"
	"sync"
	"time"

	"github.com/rhopfer/cosignd/internal/store"
)

type entry[T any] struct {
	value        T
	lastActivity time.Time
}

// Store is a mutex-protected in-memory store.CookieStore.
type Store[T any] struct {
	// Clock can be overridden in tests to make idle-policy behavior
	// deterministic, mirroring the same field on store/file.Store.
	Clock func() time.Time

	mu    sync.Mutex
	items map[string]*entry[T]
}

// New returns a new, empty Store.
func New[T any]() *Store[T] {
	return &Store[T]{
		Clock: func() time.Time { return time.Now() },
		items: make(map[string]*entry[T]),
	}
}

var _ store.CookieStore[struct{}] = (*Store[struct{}])(nil)

func (s *Store[T]) Create(ctx context.Context, name string, v *T) error {
	if !store.ValidName(name) {
		return store.ErrInvalidName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[name]; ok {
		return store.ErrExists
	}
	s.items[name] = &entry[T]{value: *v, lastActivity: s.Clock()}
	return nil
}

func (s *Store[T]) Get(ctx context.Context, name string) (*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	v := e.value
	return &v, nil
}

func (s *Store[T]) Replace(ctx context.Context, name string, mutate func(*T) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[name]
	if !ok {
		return store.ErrNotFound
	}
	v := e.value
	if err := mutate(&v); err != nil {
		return err
	}
	e.value = v
	e.lastActivity = s.Clock()
	return nil
}

func (s *Store[T]) Touch(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[name]
	if !ok {
		return store.ErrNotFound
	}
	e.lastActivity = s.Clock()
	return nil
}

func (s *Store[T]) LastActivity(ctx context.Context, name string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[name]
	if !ok {
		return time.Time{}, store.ErrNotFound
	}
	return e.lastActivity, nil
}

func (s *Store[T]) Remove(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[name]; !ok {
		return store.ErrNotFound
	}
	delete(s.items, name)
	return nil
}

// SetLastActivity force-sets the stored lastActivity for name, so a test
// can simulate an aged record without sleeping.
func (s *Store[T]) SetLastActivity(name string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.items[name]; ok {
		e.lastActivity = t
	}
}
