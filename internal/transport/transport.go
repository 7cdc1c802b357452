// Package transport implements the line transport of spec.md §4.1: framed
// read/write of CRLF-terminated text lines over a plain or TLS-upgraded
// stream, with explicit per-operation deadlines and an in-band TLS upgrade
// that requires and verifies a client certificate.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/bassosimone/errclass"
	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/safeconn"
	"golang.org/x/exp/slog"
)

// LineBufferSize is the minimum read buffer capacity required by spec.md
// §4.1 ("Read buffer capacity ≥1 MiB; a line exceeding the buffer fails
// the connection").
const LineBufferSize = 1 << 20

// Default deadlines from spec.md §4.1.
const (
	CommandReadTimeout = 10 * time.Minute
	BulkLineTimeout    = 2 * time.Minute
	TicketBodyTimeout  = time.Hour
	WriteTimeout       = 2 * time.Minute
	TLSHandshakeTimeout = 2 * time.Minute
)

// ErrLineTooLong is returned by ReadLine when a line exceeds LineBufferSize
// without a terminator.
var ErrLineTooLong = errors.New("transport: line exceeds read buffer")

// Conn wraps a net.Conn with the line-transport operations command
// handlers need. It is not safe for concurrent use: spec.md §5 gives each
// connection a single worker with no internal scheduling.
type Conn struct {
	conn   net.Conn
	r      *bufio.Reader
	logger *slog.Logger
}

// New wraps conn for line-oriented I/O, logging transport-level events to
// logger.
func New(conn net.Conn, logger *slog.Logger) *Conn {
	return &Conn{
		conn:   conn,
		r:      bufio.NewReaderSize(conn, LineBufferSize),
		logger: logger,
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// RemoteAddr returns the peer address for logging, nil-safe via safeconn.
func (c *Conn) RemoteAddr() string { return safeconn.RemoteAddr(c.conn) }

func (c *Conn) readLineRaw() (string, error) {
	var buf []byte
	for {
		chunk, err := c.r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			if len(buf) >= LineBufferSize {
				// Drain is pointless: the peer is still sending a line we
				// will never accept. Fail the connection per spec.md §4.1.
				return "", ErrLineTooLong
			}
			continue
		}
		return "", err
	}
	if len(buf) > LineBufferSize {
		return "", ErrLineTooLong
	}
	return strings.TrimRight(string(buf), "\r\n"), nil
}

// ReadLine reads one CRLF-terminated line with the given deadline. A
// deadline exceeded is reported as a *net.OpError (or equivalent) whose
// Timeout() is true; callers distinguish that, io.EOF, and other errors
// per spec.md §4.5's exit-status rules.
func (c *Conn) ReadLine(timeout time.Duration) (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", fmt.Errorf("transport: failed to set read deadline: %w", err)
	}
	defer c.conn.SetReadDeadline(time.Time{})
	line, err := c.readLineRaw()
	if err != nil {
		c.logger.Debug("readLineFailed",
			slog.String("remoteAddr", c.RemoteAddr()),
			slog.String("errClass", errclass.New(err)),
			slog.Any("err", err),
		)
		return "", err
	}
	return line, nil
}

// IsTimeout reports whether err is a deadline-exceeded error from the
// underlying net.Conn.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Conn) writeAll(timeout time.Duration, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("transport: failed to set write deadline: %w", err)
	}
	defer c.conn.SetWriteDeadline(time.Time{})
	for len(data) > 0 {
		n, err := c.conn.Write(data)
		if err != nil {
			return fmt.Errorf("transport: write failed: %w", err)
		}
		data = data[n:]
	}
	return nil
}

// Writef formats a reply line and writes it CRLF-terminated, retrying
// partial writes until complete or WriteTimeout expires (spec.md §4.1).
func (c *Conn) Writef(format string, args ...any) error {
	line := fmt.Sprintf(format, args...)
	return c.writeAll(WriteTimeout, []byte(line+"\r\n"))
}

// Reader returns an io.Reader over the connection with timeout applied as
// an absolute read deadline, and a cleanup func that clears the deadline.
// Callers that need to hand the connection to an API expecting a plain
// io.Reader (e.g. internal/tkt.Store.Put, which performs its own bounded
// io.CopyN into the ticket file) use this.
func (c *Conn) Reader(timeout time.Duration) (io.Reader, func(), error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, fmt.Errorf("transport: failed to set read deadline: %w", err)
	}
	return c.r, func() { c.conn.SetReadDeadline(time.Time{}) }, nil
}

// WriteExact writes the entirety of r (n bytes) to the connection,
// retrying partial writes, for RETR tgt's file body.
func (c *Conn) WriteExact(r io.Reader, n int64, timeout time.Duration) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("transport: failed to set write deadline: %w", err)
	}
	defer c.conn.SetWriteDeadline(time.Time{})
	written, err := io.CopyN(c.conn, r, n)
	if err != nil {
		return fmt.Errorf("transport: short bulk write (%d of %d bytes): %w", written, n, err)
	}
	return nil
}

// UpgradeTLS performs the in-band STARTTLS handshake: the server always
// requires and verifies a client certificate (spec.md §4.1, §6). On
// success it swaps the underlying connection for the TLS session and
// returns the peer certificate's Subject Common Name.
func (c *Conn) UpgradeTLS(ctx context.Context, base *tls.Config) (commonName string, err error) {
	runtimex.Assert(base != nil)
	cfg := base.Clone()
	cfg.ClientAuth = tls.RequireAndVerifyClientCert

	tconn := tls.Server(c.conn, cfg)
	hctx, cancel := context.WithTimeout(ctx, TLSHandshakeTimeout)
	defer cancel()

	t0 := time.Now()
	c.logHandshakeStart(t0, cfg)
	hsErr := tconn.HandshakeContext(hctx)
	state := tconn.ConnectionState()
	c.logHandshakeDone(t0, cfg, state, hsErr)

	if hsErr != nil {
		tconn.Close()
		return "", fmt.Errorf("transport: TLS handshake failed: %w", hsErr)
	}
	if len(state.PeerCertificates) == 0 {
		tconn.Close()
		return "", errors.New("transport: no client certificate presented")
	}

	c.conn = tconn
	c.r = bufio.NewReaderSize(tconn, LineBufferSize)
	return state.PeerCertificates[0].Subject.CommonName, nil
}

// ClientUpgradeTLS is UpgradeTLS's counterpart for the replication client
// (internal/replication): it dials out as the TLS client side of the same
// in-band STARTTLS upgrade, presenting serverName and a client certificate
// via base.
func (c *Conn) ClientUpgradeTLS(ctx context.Context, base *tls.Config, serverName string) error {
	runtimex.Assert(base != nil)
	cfg := base.Clone()
	cfg.ServerName = serverName

	tconn := tls.Client(c.conn, cfg)
	hctx, cancel := context.WithTimeout(ctx, TLSHandshakeTimeout)
	defer cancel()

	t0 := time.Now()
	c.logHandshakeStart(t0, cfg)
	hsErr := tconn.HandshakeContext(hctx)
	state := tconn.ConnectionState()
	c.logHandshakeDone(t0, cfg, state, hsErr)

	if hsErr != nil {
		tconn.Close()
		return fmt.Errorf("transport: client TLS handshake failed: %w", hsErr)
	}

	c.conn = tconn
	c.r = bufio.NewReaderSize(tconn, LineBufferSize)
	return nil
}

func (c *Conn) logHandshakeStart(t0 time.Time, cfg *tls.Config) {
	c.logger.Info("tlsHandshakeStart",
		slog.Time("t", t0),
		slog.String("localAddr", safeconn.LocalAddr(c.conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(c.conn)),
		slog.String("protocol", safeconn.Network(c.conn)),
		slog.Bool("clientAuthRequired", cfg.ClientAuth == tls.RequireAndVerifyClientCert),
	)
}

func (c *Conn) logHandshakeDone(t0 time.Time, cfg *tls.Config, state tls.ConnectionState, err error) {
	c.logger.Info("tlsHandshakeDone",
		slog.Time("t0", t0),
		slog.Duration("elapsed", time.Since(t0)),
		slog.String("localAddr", safeconn.LocalAddr(c.conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(c.conn)),
		slog.Any("err", err),
		slog.String("errClass", errclass.New(err)),
		slog.String("tlsVersion", tls.VersionName(state.Version)),
		slog.String("tlsCipherSuite", tls.CipherSuiteName(state.CipherSuite)),
		slog.Int("peerCertCount", len(state.PeerCertificates)),
	)
}
