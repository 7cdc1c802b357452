// Package file implements store.CookieStore on a flat filesystem
// directory, one regular file per cookie, following the atomic
// temp-file-then-hardlink creation discipline of spec.md §4.2 and §9
// ("Mixed filesystem race discipline" — this mechanism is load-bearing and
// must be preserved literally, not replaced with a plain rename-if-absent).
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rhopfer/cosignd/internal/store"
)

// Codec marshals and unmarshals a record of type T to and from its on-disk
// byte representation (see package record for the concrete tag-line codec
// used by cosignd).
type Codec[T any] interface {
	Encode(v *T) []byte
	Decode(data []byte) (*T, error)
}

// Store is a store.CookieStore backed by one file per cookie under Dir.
type Store[T any] struct {
	// Dir is the cookie working directory. It must already exist and must
	// be on the same filesystem for the whole lifetime of the Store (hard
	// links do not cross filesystem boundaries). Per spec.md §9's design
	// note, this is an explicit handle rather than an assumption about the
	// process's current working directory.
	Dir string
	// Codec marshals/unmarshals records of type T.
	Codec Codec[T]
	// Clock can be overridden in tests to make idle-policy behavior
	// deterministic.
	Clock func() time.Time
}

// New returns a new Store rooted at dir using codec for (de)serialization.
func New[T any](dir string, codec Codec[T]) *Store[T] {
	return &Store[T]{
		Dir:   dir,
		Codec: codec,
		Clock: func() time.Time { return time.Now() },
	}
}

var _ store.CookieStore[struct{}] = (*Store[struct{}])(nil)

func (s *Store[T]) path(name string) string {
	return filepath.Join(s.Dir, name)
}

// Create implements store.CookieStore.
func (s *Store[T]) Create(ctx context.Context, name string, v *T) error {
	if !store.ValidName(name) {
		return store.ErrInvalidName
	}
	tmp, err := os.CreateTemp(s.Dir, ".tmp-cosign-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w: %w", err, store.ErrFatal)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(s.Codec.Encode(v)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w: %w", err, store.ErrFatal)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w: %w", err, store.ErrFatal)
	}

	if err := os.Link(tmpPath, s.path(name)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return store.ErrExists
		}
		return fmt.Errorf("failed to link cookie into place: %w: %w", err, store.ErrFatal)
	}
	return nil
}

// Get implements store.CookieStore.
func (s *Store[T]) Get(ctx context.Context, name string) (*T, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read cookie: %w: %w", err, store.ErrFatal)
	}
	v, err := s.Codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cookie %q: %w: %w", name, err, store.ErrFatal)
	}
	return v, nil
}

// Replace implements store.CookieStore by reading the current record,
// applying mutate, and atomically rewriting the file via temp-file +
// rename (spec.md §4.2's "logout" discipline, generalized to any
// in-place mutation such as TIME's bulk timestamp/state gossip).
func (s *Store[T]) Replace(ctx context.Context, name string, mutate func(*T) error) error {
	v, err := s.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := mutate(v); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.Dir, ".tmp-cosign-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w: %w", err, store.ErrFatal)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(s.Codec.Encode(v)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w: %w", err, store.ErrFatal)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w: %w", err, store.ErrFatal)
	}
	if err := os.Rename(tmpPath, s.path(name)); err != nil {
		return fmt.Errorf("failed to replace cookie: %w: %w", err, store.ErrFatal)
	}
	return nil
}

// Touch implements store.CookieStore.
func (s *Store[T]) Touch(ctx context.Context, name string) error {
	now := s.Clock()
	if err := os.Chtimes(s.path(name), now, now); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return store.ErrNotFound
		}
		return fmt.Errorf("failed to touch cookie: %w: %w", err, store.ErrFatal)
	}
	return nil
}

// LastActivity implements store.CookieStore.
func (s *Store[T]) LastActivity(ctx context.Context, name string) (time.Time, error) {
	fi, err := os.Stat(s.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, store.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("failed to stat cookie: %w: %w", err, store.ErrFatal)
	}
	return fi.ModTime(), nil
}

// Remove implements store.CookieStore.
func (s *Store[T]) Remove(ctx context.Context, name string) error {
	if err := os.Remove(s.path(name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return store.ErrNotFound
		}
		return fmt.Errorf("failed to remove cookie: %w: %w", err, store.ErrFatal)
	}
	return nil
}
