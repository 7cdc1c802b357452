// Package token provides utilities for minting authenticated opaque token
// strings.
//
// cosignd uses this to mint the random suffixes appended to proxy service
// cookies handed out by RETR cookies, and the ticket sideband handle names
// under the ticket directory. Both are bearer identifiers looked up
// directly by filename/key, so authenticity is established by possession
// of the identifier, not by checking its MAC.
package token

import (
	"crypto/rand"
	"fmt"

	v0 "github.com/rhopfer/cosignd/internal/token/v0"
)

// Authenticator manages authenticated token strings.
type Authenticator struct {
	key []byte
}

// NewAuthenticator returns a new Authenticator instance using the provided key
// to compute token MACs.
func NewAuthenticator(key []byte) *Authenticator {
	return &Authenticator{key: key}
}

// Create returns an authenticated token string for the provided payload byte
// sequence (e.g., an arbitrary identifier).
func (a *Authenticator) Create(data []byte) string {
	return v0.Create(a.key, data)
}

// Generate returns an authenticated token string wrapping n freshly read
// random bytes. It is the usual entry point for minting a new opaque
// identifier (ticket handle, proxy cookie suffix); Create is retained for
// callers that already have a specific payload to authenticate.
func (a *Authenticator) Generate(n int) (string, error) {
	data := make([]byte, n)
	if _, err := rand.Read(data); err != nil {
		return "", fmt.Errorf("failed to read random data: %w", err)
	}
	return a.Create(data), nil
}
