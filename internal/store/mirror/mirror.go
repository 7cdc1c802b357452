// Package mirror provides an optional Redis-backed read-through mirror in
// front of a store.CookieStore[record.LoginRecord], consulted by CHECK and
// RETR ahead of the authoritative filesystem store so a busy fleet of
// service-side filters doesn't stat() the same hot login record on every
// request. The filesystem store (internal/store/file) remains the
// source of truth: a mirror miss or a Redis outage falls through to it
// transparently, and every mutation invalidates or refreshes the mirrored
// entry rather than trusting it to expire on its own.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rhopfer/cosignd/internal/record"
	"github.com/rhopfer/cosignd/internal/store"
)

// Store decorates an underlying store.CookieStore[record.LoginRecord] with
// a Redis read-through cache.
type Store struct {
	under  store.CookieStore[record.LoginRecord]
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

// New returns a Store mirroring under through rc, caching entries under the
// given key prefix for ttl.
func New(under store.CookieStore[record.LoginRecord], rc *redis.Client, prefix string, ttl time.Duration) *Store {
	return &Store{under: under, rc: rc, prefix: prefix, ttl: ttl}
}

var _ store.CookieStore[record.LoginRecord] = (*Store)(nil)

func (s *Store) key(name string) string {
	return fmt.Sprintf("%s:%s", s.prefix, name)
}

// invalidate removes a stale mirrored entry. Errors are non-fatal: the next
// Get will fall through to the filesystem and repopulate it.
func (s *Store) invalidate(ctx context.Context, name string) {
	s.rc.Del(ctx, s.key(name))
}

func (s *Store) refresh(ctx context.Context, name string, v *record.LoginRecord) {
	val, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.rc.Set(ctx, s.key(name), val, s.ttl)
}

// Create implements store.CookieStore. The mirror is not populated on
// create: the first Get after creation fills it, keeping this path simple
// and avoiding a window where the mirror holds a record the filesystem
// create might still fail to commit.
func (s *Store) Create(ctx context.Context, name string, v *record.LoginRecord) error {
	return s.under.Create(ctx, name, v)
}

// Get implements store.CookieStore, consulting the mirror before falling
// through to the filesystem store on a miss or a Redis error.
func (s *Store) Get(ctx context.Context, name string) (*record.LoginRecord, error) {
	val, err := s.rc.Get(ctx, s.key(name)).Result()
	if err == nil {
		v := new(record.LoginRecord)
		if jsonErr := json.Unmarshal([]byte(val), v); jsonErr == nil {
			return v, nil
		}
		// Unparseable cache entry: fall through as if it were a miss.
	}
	v, err := s.under.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	s.refresh(ctx, name, v)
	return v, nil
}

// Replace implements store.CookieStore, invalidating the mirror after a
// successful replace so the next Get repopulates it from the filesystem.
func (s *Store) Replace(ctx context.Context, name string, mutate func(*record.LoginRecord) error) error {
	if err := s.under.Replace(ctx, name, mutate); err != nil {
		return err
	}
	s.invalidate(ctx, name)
	return nil
}

// Touch implements store.CookieStore. The mirror's own TTL tracks
// freshness independently of the filesystem's mtime, so Touch need not
// invalidate it.
func (s *Store) Touch(ctx context.Context, name string) error {
	return s.under.Touch(ctx, name)
}

// LastActivity implements store.CookieStore. Idle-policy decisions always
// consult the authoritative filesystem mtime, never the mirror's cache
// freshness.
func (s *Store) LastActivity(ctx context.Context, name string) (time.Time, error) {
	return s.under.LastActivity(ctx, name)
}

// Remove implements store.CookieStore, invalidating the mirror first so a
// concurrent Get can't repopulate it from a record that is about to
// disappear.
func (s *Store) Remove(ctx context.Context, name string) error {
	s.invalidate(ctx, name)
	return s.under.Remove(ctx, name)
}
