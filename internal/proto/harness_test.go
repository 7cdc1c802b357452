package proto_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/bassosimone/slogstub"
	"github.com/rhopfer/cosignd/internal/policy"
	"github.com/rhopfer/cosignd/internal/proto"
	"github.com/rhopfer/cosignd/internal/record"
	"github.com/rhopfer/cosignd/internal/store/memtest"
	"github.com/rhopfer/cosignd/internal/testutil"
	"github.com/rhopfer/cosignd/internal/tkt"
	"github.com/rhopfer/cosignd/internal/token"
	"github.com/rhopfer/cosignd/internal/transport"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func discardLogger() *slog.Logger {
	return slog.New(&slogstub.FuncHandler{
		EnabledFunc: func(context.Context, slog.Level) bool { return false },
		HandleFunc:  func(context.Context, slog.Record) error { return nil },
	})
}

type fakeReplicator struct {
	lines []string
}

func (f *fakeReplicator) Replicate(line string) { f.lines = append(f.lines, line) }

// backing is the shared, cross-connection store state of a simulated
// cosignd process (spec.md §5: "the cookie store on the filesystem is the
// only cross-connection shared resource"), letting tests drive a LOGIN
// over one session and a CHECK/RETR over another, as real clients would.
type backing struct {
	t          *testing.T
	logins     *memtest.Store[record.LoginRecord]
	services   *memtest.Store[record.ServiceBinding]
	tickets    *tkt.Store
	replicator *fakeReplicator
	clock      time.Time
}

func newBacking(t *testing.T) *backing {
	t.Helper()
	b := &backing{
		t:          t,
		logins:     memtest.New[record.LoginRecord](),
		services:   memtest.New[record.ServiceBinding](),
		tickets:    tkt.New(t.TempDir(), testutil.MustDecodeBase64(t, "FjcKOUT10xuBXjijEMv/UvegOFPtu55WvvS3ChkcyL0=")),
		replicator: &fakeReplicator{},
		clock:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	b.logins.Clock = func() time.Time { return b.clock }
	b.services.Clock = func() time.Time { return b.clock }
	return b
}

type harness struct {
	t        *testing.T
	b        *backing
	client   net.Conn
	serveErr chan error
}

// newHarness starts a Session in DebugMode authenticated as the given role
// (spec.md §4.3's tlsopt shortcut), so command-handler tests don't need a
// real TLS handshake, backed by a freshly created, unshared backing.
func newHarness(t *testing.T, role policy.Role, caps policy.Capability, proxyList []policy.ProxyBinding) *harness {
	t.Helper()
	return newHarnessOn(t, newBacking(t), role, caps, proxyList)
}

// newHarnessOn starts a Session against an existing backing, for tests
// that need two connections (e.g. one CGI, one SERVICE) to observe each
// other's mutations.
func newHarnessOn(t *testing.T, b *backing, role policy.Role, caps policy.Capability, proxyList []policy.ProxyBinding) *harness {
	t.Helper()

	pol, err := policy.New([]policy.ClientHost{
		{Hostname: "DEBUG", Role: role, Capabilities: caps, ProxyList: proxyList},
	})
	require.NoError(t, err)

	return newHarnessWithPolicy(t, b, pol, true)
}

// newHarnessUnauth starts a Session with DebugMode off, so it begins in
// the unauthenticated start state of spec.md §4.5 instead of skipping
// straight to [Auth].
func newHarnessUnauth(t *testing.T, pol *policy.Policy) *harness {
	t.Helper()
	return newHarnessWithPolicy(t, newBacking(t), pol, false)
}

func newHarnessWithPolicy(t *testing.T, b *backing, pol *policy.Policy, debugMode bool) *harness {
	t.Helper()

	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })

	cfg := proto.Config{
		Hostname:    "cosignd-test",
		Logins:      b.logins,
		Services:    b.services,
		Tickets:     b.tickets,
		ProxyTokens: token.NewAuthenticator(testutil.MustDecodeBase64(t, "FjcKOUT10xuBXjijEMv/UvegOFPtu55WvvS3ChkcyL0=")),
		Policy:      pol,
		Clock:       func() time.Time { return b.clock },
		DebugMode:   debugMode,
	}

	h := &harness{t: t, b: b, client: client, serveErr: make(chan error, 1)}

	conn := transport.New(server, discardLogger())
	sess := proto.NewSession(cfg, conn, discardLogger(), b.replicator)

	go func() {
		h.serveErr <- sess.Serve(context.Background())
	}()

	// Drain the greeting line before the test drives its own exchange.
	h.readLine()
	return h
}

func (h *harness) replicatedLines() []string { return h.b.replicator.lines }

func (h *harness) advanceClock(d time.Duration) { h.b.clock = h.b.clock.Add(d) }

func (h *harness) send(line string) {
	h.t.Helper()
	_, err := h.client.Write([]byte(line + "\r\n"))
	require.NoError(h.t, err)
}

func (h *harness) readLine() string {
	h.t.Helper()
	h.client.SetReadDeadline(time.Now().Add(5 * time.Second))
	var line []byte
	buf := make([]byte, 1)
	for {
		_, err := h.client.Read(buf)
		require.NoError(h.t, err)
		if buf[0] == '\n' {
			break
		}
		if buf[0] != '\r' {
			line = append(line, buf[0])
		}
	}
	return string(line)
}

func (h *harness) readExact(n int) []byte {
	h.t.Helper()
	h.client.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := h.client.Read(buf[read:])
		require.NoError(h.t, err)
		read += m
	}
	return buf
}
