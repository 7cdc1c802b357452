// Package proto implements the cosignd session protocol engine: the
// per-connection state machine, command dispatcher, and command handlers
// of spec.md §4.4, §4.5, and §4.6.
package proto

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rhopfer/cosignd/internal/policy"
	"github.com/rhopfer/cosignd/internal/record"
	"github.com/rhopfer/cosignd/internal/store"
	"github.com/rhopfer/cosignd/internal/tkt"
	"github.com/rhopfer/cosignd/internal/token"
	"github.com/rhopfer/cosignd/internal/transport"
	"golang.org/x/exp/slog"
)

// ProtocolVersion is echoed by NOOP's reply (SPEC_FULL.md supplemented
// feature 2). The greeting does not include it.
const ProtocolVersion = "1.0"

// Greeting is the banner sent immediately after a connection is accepted.
const Greeting = "COokie SIGNer ready"

// Config bundles the collaborators a Session needs: the cookie stores, the
// ticket sideband, the access policy, and the token authenticator used to
// mint proxy-cookie suffixes.
type Config struct {
	Hostname    string
	Logins      store.CookieStore[record.LoginRecord]
	Services    store.CookieStore[record.ServiceBinding]
	Tickets     *tkt.Store
	ProxyTokens *token.Authenticator
	Policy      *policy.Policy
	TLS         *tls.Config
	// Clock is overridable in tests; defaults to time.Now.
	Clock func() time.Time
	// DebugMode starts the session already authenticated as the synthetic
	// DEBUG host (spec.md §4.3's tlsopt shortcut).
	DebugMode bool
}

func (c Config) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

// Replicator forwards a mutating command's equivalent line to the
// configured replication peer on a best-effort basis (spec.md §4.7). A nil
// Replicator is treated as "no peer configured".
type Replicator interface {
	Replicate(line string)
}

type outcome int

const (
	outcomeContinue outcome = iota
	outcomeClose
	outcomeFatal
)

type handlerFunc func(ctx context.Context, s *Session, args []string) outcome

// Session is the per-connection state of spec.md §4.5: a single worker's
// exclusive view of its transport, its authenticated ClientHost (once
// known), and its replication-suppression flag.
type Session struct {
	cfg        Config
	conn       *transport.Conn
	logger     *slog.Logger
	replicator Replicator

	host   policy.ClientHost
	authed bool
	table  map[string]handlerFunc

	// downstream mirrors the original daemon's process-global `replicate`
	// flag, scoped per connection instead: once a peer tells us DAEMON
	// <not-self>, we stop forwarding mutations for the life of this
	// session (spec.md §4.7's anti-broadcast invariant).
	downstream bool
}

// NewSession constructs a Session in the unauthenticated start state.
func NewSession(cfg Config, conn *transport.Conn, logger *slog.Logger, replicator Replicator) *Session {
	return &Session{
		cfg:        cfg,
		conn:       conn,
		logger:     logger,
		replicator: replicator,
		table:      unauthTable,
	}
}

func (s *Session) authenticate(host policy.ClientHost) {
	s.host = host
	s.authed = true
	s.table = authTable
}

// replicate forwards line to the configured peer unless replication has
// been suppressed for this session or no peer is configured.
func (s *Session) replicate(format string, args ...any) {
	if s.replicator == nil || s.downstream {
		return
	}
	s.replicator.Replicate(fmt.Sprintf(format, args...))
}

// Serve runs the command loop until the connection closes or a fatal
// error/read failure ends the session. A nil return means the worker
// should exit 0 (spec.md §4.5: clean QUIT, idle read timeout, or EOF are
// all non-errors); a non-nil return means exit 1.
func (s *Session) Serve(ctx context.Context) error {
	if s.cfg.DebugMode {
		host, ok := s.cfg.Policy.Debug()
		if !ok {
			s.conn.Writef("%d No DEBUG access", 508)
			return errors.New("proto: debug mode requested but no DEBUG host is configured")
		}
		s.authenticate(host)
	}

	if err := s.conn.Writef("%d %s", 220, Greeting); err != nil {
		return fmt.Errorf("proto: failed to send greeting: %w", err)
	}

	for {
		line, err := s.conn.ReadLine(transport.CommandReadTimeout)
		if err != nil {
			return s.classifyReadError(err)
		}

		args, perr := tokenize(line)
		if perr != nil {
			s.conn.Writef("%d Syntax error", 501)
			continue
		}
		if len(args) == 0 {
			s.conn.Writef("%d Command unrecognized", 501)
			continue
		}

		name := strings.ToUpper(args[0])
		handler, ok := s.table[name]
		if !ok {
			s.conn.Writef("%d Command %s unrecognized", 500, args[0])
			continue
		}

		switch handler(ctx, s, args) {
		case outcomeClose:
			return nil
		case outcomeFatal:
			s.conn.Writef("%d Service not available, closing transmission channel", 421)
			return fmt.Errorf("proto: fatal error handling %s", name)
		}
	}
}

// classifyReadError implements spec.md §4.5's exit-status rules: idle
// timeout and EOF are not errors, anything else is.
func (s *Session) classifyReadError(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	if transport.IsTimeout(err) {
		return nil
	}
	return fmt.Errorf("proto: command read failed: %w", err)
}
