// Package record implements the on-disk tag-line codec for cookie store
// records (spec.md §4.2, §6): one attribute per line, first character is a
// tag byte, the remainder of the line is the value.
package record

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Bounds on record field lengths (spec.md §3: "bounded"). These are
// generous enough for any realistic principal/realm/IP literal while still
// keeping a single record file well under the line transport's 1 MiB read
// buffer (spec.md §4.1).
const (
	MaxIPLen        = 64
	MaxPrincipalLen = 256
	MaxRealmLen     = 256
	MaxTicketLen    = 1024
)

// State is the LoggedIn/LoggedOut marker carried by a LoginRecord.
type State int

const (
	LoggedOut State = 0
	LoggedIn  State = 1
)

// CurrentVersion is the only LoginRecord format this implementation writes.
// DecodeLogin does not check the version line's value.
const CurrentVersion = "v0"

// LoginRecord is the value stored under a LoginCookie (spec.md §3).
type LoginRecord struct {
	Version    string
	State      State
	IPAddress  string
	Principal  string
	Realm      string
	CreatedAt  int64
	TicketPath string
}

// ServiceBinding is the value stored under a ServiceCookie: the single
// LoginCookie it is bound to (spec.md §3).
type ServiceBinding struct {
	LoginCookie string
}

const (
	tagVersion   = 'v'
	tagState     = 's'
	tagIP        = 'i'
	tagPrincipal = 'p'
	tagRealm     = 'r'
	tagCreatedAt = 't'
	tagTicket    = 'k'
	tagLoginLink = 'l'
)

// EncodeLogin serializes a LoginRecord to its on-disk tag-line form.
func EncodeLogin(r *LoginRecord) []byte {
	var b bytes.Buffer
	version := r.Version
	if version == "" {
		version = CurrentVersion
	}
	// The version line is the marker itself ("v0"): its first byte is the tag.
	fmt.Fprintf(&b, "%s\n", version)
	fmt.Fprintf(&b, "%c%d\n", tagState, r.State)
	fmt.Fprintf(&b, "%c%s\n", tagIP, r.IPAddress)
	fmt.Fprintf(&b, "%c%s\n", tagPrincipal, r.Principal)
	fmt.Fprintf(&b, "%c%s\n", tagRealm, r.Realm)
	fmt.Fprintf(&b, "%c%d\n", tagCreatedAt, r.CreatedAt)
	if r.TicketPath != "" {
		fmt.Fprintf(&b, "%c%s\n", tagTicket, r.TicketPath)
	}
	return b.Bytes()
}

// DecodeLogin parses the on-disk tag-line form of a LoginRecord, defaulting
// any attribute line that is absent.
func DecodeLogin(data []byte) (*LoginRecord, error) {
	r := &LoginRecord{Version: CurrentVersion}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		tag, value := line[0], line[1:]
		var err error
		switch tag {
		case tagVersion:
			r.Version = line
		case tagState:
			r.State, err = parseState(value)
		case tagIP:
			r.IPAddress = value
		case tagPrincipal:
			r.Principal = value
		case tagRealm:
			r.Realm = value
		case tagCreatedAt:
			r.CreatedAt, err = strconv.ParseInt(value, 10, 64)
		case tagTicket:
			r.TicketPath = value
		default:
			// Unknown tags are ignored rather than rejected, so a future
			// attribute can be added without breaking old readers.
		}
		if err != nil {
			return nil, fmt.Errorf("record: malformed %q line: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("record: scan failed: %w", err)
	}
	return r, nil
}

func parseState(value string) (State, error) {
	switch strings.TrimSpace(value) {
	case "0":
		return LoggedOut, nil
	case "1":
		return LoggedIn, nil
	default:
		return LoggedOut, fmt.Errorf("invalid state %q", value)
	}
}

// EncodeServiceBinding serializes a ServiceBinding to its on-disk form.
func EncodeServiceBinding(b *ServiceBinding) []byte {
	return []byte(fmt.Sprintf("%c%s\n", tagLoginLink, b.LoginCookie))
}

// DecodeServiceBinding parses the on-disk form of a ServiceBinding.
func DecodeServiceBinding(data []byte) (*ServiceBinding, error) {
	b := &ServiceBinding{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if line[0] == tagLoginLink {
			b.LoginCookie = line[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("record: scan failed: %w", err)
	}
	if b.LoginCookie == "" {
		return nil, fmt.Errorf("record: service binding missing %q line", string(tagLoginLink))
	}
	return b, nil
}
