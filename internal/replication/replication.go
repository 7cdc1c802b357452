// Package replication implements the single outbound replication peer of
// spec.md §4.7: a client session of the same line protocol the server
// speaks, performing STARTTLS and DAEMON against the peer before
// forwarding mutating commands to it on a best-effort basis.
package replication

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/rhopfer/cosignd/internal/retry"
	"github.com/rhopfer/cosignd/internal/transport"
	"golang.org/x/exp/slog"
)

// Config configures a Peer.
type Config struct {
	// Addr is the peer's host:port.
	Addr string
	// Hostname is this server's own hostname, sent as DAEMON's argument so
	// the peer can detect a replication loop back to us.
	Hostname string
	// TLS is the client-side TLS config (client certificate + CA pool).
	TLS *tls.Config
	Logger *slog.Logger
	// Dialer is overridable in tests; defaults to net.Dialer.DialContext.
	Dialer func(ctx context.Context, network, addr string) (net.Conn, error)
}

const queueDepth = 256

// Peer is a lazily-connected, best-effort replication client implementing
// proto.Replicator. At most one Peer exists per server process (spec.md
// §4.7): cmd/cosignd builds it once and passes it to every connection's
// proto.Session as that session's Replicator.
type Peer struct {
	cfg   Config
	lines chan string
	done  chan struct{}
	once  sync.Once

	mu   sync.Mutex
	conn *transport.Conn
}

// New starts a Peer's background send loop against cfg.Addr. Replicate may
// be called immediately; lines queue until the first connection succeeds.
func New(ctx context.Context, cfg Config) *Peer {
	if cfg.Dialer == nil {
		var d net.Dialer
		cfg.Dialer = d.DialContext
	}
	p := &Peer{
		cfg:   cfg,
		lines: make(chan string, queueDepth),
		done:  make(chan struct{}),
	}
	go p.run(ctx)
	return p
}

// Replicate forwards line to the peer on a best-effort basis (spec.md
// §4.7): command handlers must never block waiting on a down peer, so a
// full queue drops the line and logs it rather than blocking the caller.
func (p *Peer) Replicate(line string) {
	select {
	case p.lines <- line:
	default:
		p.cfg.Logger.Warn("replicationQueueFull", "line", line)
	}
}

// Close stops the Peer's background loop and closes any open connection.
func (p *Peer) Close() {
	p.once.Do(func() { close(p.done) })
	p.disconnect()
}

func (p *Peer) run(ctx context.Context) {
	defer p.disconnect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case line := <-p.lines:
			p.sendWithRetry(ctx, line)
		}
	}
}

// sendWithRetry implements spec.md §4.7's "best-effort": a bounded number
// of attempts via retry.ReplicationBackoff, reconnecting between attempts
// if the connection was lost, then giving up and logging rather than
// blocking the caller's already-completed local mutation.
func (p *Peer) sendWithRetry(ctx context.Context, line string) {
	err := retry.ReplicationBackoff.Do(func(rc *retry.RetryContext) {
		if err := p.ensureConnected(ctx); err != nil {
			p.cfg.Logger.Warn("replicationConnectFailed", "addr", p.cfg.Addr, "err", err)
			return
		}
		if err := p.conn.Writef("%s", line); err != nil {
			p.cfg.Logger.Warn("replicationSendFailed", "line", line, "err", err)
			p.disconnect()
			return
		}
		if _, err := p.conn.ReadLine(transport.WriteTimeout); err != nil {
			p.cfg.Logger.Warn("replicationReplyFailed", "line", line, "err", err)
			p.disconnect()
			return
		}
		rc.Done()
	}, 4)
	if err != nil {
		p.cfg.Logger.Error("replicationLineDropped", "line", line, "err", err)
	}
}

func (p *Peer) ensureConnected(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return nil
	}

	netConn, err := p.cfg.Dialer(ctx, "tcp", p.cfg.Addr)
	if err != nil {
		return fmt.Errorf("replication: dial failed: %w", err)
	}
	conn := transport.New(netConn, p.cfg.Logger)

	if _, err := conn.ReadLine(transport.WriteTimeout); err != nil {
		conn.Close()
		return fmt.Errorf("replication: failed to read greeting: %w", err)
	}
	if err := conn.Writef("STARTTLS"); err != nil {
		conn.Close()
		return fmt.Errorf("replication: failed to send STARTTLS: %w", err)
	}
	if _, err := conn.ReadLine(transport.WriteTimeout); err != nil {
		conn.Close()
		return fmt.Errorf("replication: failed to read STARTTLS reply: %w", err)
	}

	serverName := ""
	if p.cfg.TLS != nil {
		serverName = p.cfg.TLS.ServerName
	}
	if err := conn.ClientUpgradeTLS(ctx, p.cfg.TLS, serverName); err != nil {
		conn.Close()
		return fmt.Errorf("replication: TLS upgrade failed: %w", err)
	}

	if err := conn.Writef("DAEMON %s", p.cfg.Hostname); err != nil {
		conn.Close()
		return fmt.Errorf("replication: failed to send DAEMON: %w", err)
	}
	reply, err := conn.ReadLine(transport.WriteTimeout)
	if err != nil {
		conn.Close()
		return fmt.Errorf("replication: failed to read DAEMON reply: %w", err)
	}
	if strings.HasPrefix(reply, "471") {
		conn.Close()
		return fmt.Errorf("replication: peer detected a replication loop: %q", reply)
	}

	p.conn = conn
	return nil
}

func (p *Peer) disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}
