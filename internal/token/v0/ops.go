// Package v0 implements operations supporting the v0 token version.
package v0

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/rhopfer/cosignd/internal/token/common"
)

// Version is the version identifier prefix for this token implementation.
const Version = "v0"

// v0 tokens are defined by:
// * MAC: HMAC-SHA256
// * Format:
//     <version><VersionHeaderSeparator><base64url payload>.<base64url MAC>
//     [<--  "message" over which the MAC is computed  -->]

const macFooterSeparator = "."

// Create returns an authenticated token string for the provided payload byte
// sequence (e.g., an arbitrary identifier).
func Create(key []byte, data []byte) string {
	msg := fmt.Sprintf("%s%s%s", Version, common.VersionHeaderSeparator, base64.URLEncoding.EncodeToString(data))
	h := hmac.New(sha256.New, key)
	h.Write([]byte(msg))
	return fmt.Sprintf("%s%s%s", msg, macFooterSeparator, base64.URLEncoding.EncodeToString(h.Sum(nil)))
}

