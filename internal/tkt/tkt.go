// Package tkt implements byte-exact storage of the Kerberos ticket
// sideband blob associated with a login session (spec.md §4.6, §1's
// "ticket sideband"): uploaded at LOGIN time, fetched whole by RETR tgt.
// cosignd never parses the blob's contents.
package tkt

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rhopfer/cosignd/internal/token"
)

// Store manages ticket blobs under a single directory (TKT_PREFIX in
// spec.md §6's on-disk layout).
type Store struct {
	Dir  string
	auth *token.Authenticator
}

// New returns a Store rooted at dir, minting handle names with an
// Authenticator derived from key (see cmd/cosignd for key derivation via
// golang.org/x/crypto/hkdf).
func New(dir string, key []byte) *Store {
	return &Store{Dir: dir, auth: token.NewAuthenticator(key)}
}

func (s *Store) newHandle() string {
	if h, err := s.auth.Generate(24); err == nil {
		return h
	}
	// Entropy read failed; google/uuid is tried as a last-resort fallback.
	// It also reads crypto/rand, and uuid.NewString panics if that read
	// fails too.
	return uuid.NewString()
}

// Put stores exactly n bytes read from r under a freshly minted handle,
// returning the handle's path (the value recorded as LoginRecord.TicketPath).
// The write is all-or-nothing: a short read or write failure leaves no
// partial file behind.
func (s *Store) Put(r io.Reader, n int64) (path string, err error) {
	path = filepath.Join(s.Dir, s.newHandle())
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("tkt: failed to create ticket file: %w", err)
	}
	defer f.Close()

	written, err := io.CopyN(f, r, n)
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("tkt: short ticket write (%d of %d bytes): %w", written, n, err)
	}
	return path, nil
}

// Open returns a reader over the ticket blob at path along with its exact
// byte length, for RETR tgt's length-line-then-body reply.
func (s *Store) Open(path string) (io.ReadCloser, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("tkt: failed to open ticket file: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("tkt: failed to stat ticket file: %w", err)
	}
	return f, fi.Size(), nil
}

// Remove deletes the ticket blob at path, if any. Errors are not
// propagated as fatal: callers treat a missing ticket file as already
// cleaned up (SPEC_FULL.md supplemented feature 6).
func (s *Store) Remove(path string) {
	if path == "" {
		return
	}
	os.Remove(path)
}
