// Package store defines the cookie store abstraction used by cosignd's
// command handlers (spec.md §4.2): a keyed persistent map of login and
// service cookies with atomic creation semantics.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrExists indicates that the provided cookie name already has a
	// stored record (the "already exists" signal of spec.md §3's atomic
	// creation invariant).
	ErrExists = errors.New("cookie exists")
	// ErrNotFound indicates that the provided cookie name has no stored
	// record.
	ErrNotFound = errors.New("cookie not found")
	// ErrInvalidName indicates that the provided cookie name violates
	// spec.md §3's naming invariants (too long, contains '/').
	ErrInvalidName = errors.New("invalid cookie name")
	// ErrFatal wraps an underlying error (filesystem, encoding) that is
	// not one of the above recoverable conditions.
	ErrFatal = errors.New("store: fatal error")
)

// MaxCookieLen is MAXCOOKIELEN from spec.md §3: the maximum length of a
// login or service cookie name, exclusive (a name of exactly this length
// is rejected).
const MaxCookieLen = 128

// ValidName reports whether name satisfies spec.md §3's cookie naming
// invariants: non-empty, strictly shorter than MaxCookieLen, and free of
// path separators.
func ValidName(name string) bool {
	return name != "" && len(name) < MaxCookieLen && !strings.Contains(name, "/")
}

// CookieStore is the abstract persistent map backing either the login or
// the service cookie namespace. Implementations must provide the atomic
// create-if-absent and whole-record-replace semantics of spec.md §4.2 and
// §9 ("Mixed filesystem race discipline").
type CookieStore[T any] interface {
	// Create atomically stores v under name, returning ErrExists if a
	// record already exists and ErrInvalidName if name fails ValidName.
	Create(ctx context.Context, name string, v *T) error
	// Get returns the record stored under name, or ErrNotFound.
	Get(ctx context.Context, name string) (*T, error)
	// Replace atomically loads the record stored under name, applies
	// mutate to it, and stores the result back in place. mutate's error,
	// if any, aborts the replace without touching stored state. Returns
	// ErrNotFound if no record is stored under name.
	Replace(ctx context.Context, name string, mutate func(*T) error) error
	// Touch updates the record's last-modification time to now, without
	// altering its content. Returns ErrNotFound if no record is stored
	// under name.
	Touch(ctx context.Context, name string) error
	// LastActivity returns the record's last-modification time, the basis
	// for the idle policy of spec.md §4.6. Returns ErrNotFound if no
	// record is stored under name.
	LastActivity(ctx context.Context, name string) (time.Time, error)
	// Remove deletes the record stored under name. Returns ErrNotFound if
	// no record is stored under name. Used only for housekeeping
	// (spec.md §3's lifecycle note: destruction is out of core scope) and
	// for cleaning up a losing half of a torn ticket upload.
	Remove(ctx context.Context, name string) error
}
