package proto_test

import (
	"strings"
	"testing"

	"github.com/rhopfer/cosignd/internal/policy"
	"github.com/stretchr/testify/require"
)

func TestNoopEchoesVersion(t *testing.T) {
	h := newHarness(t, policy.RoleCGI, 0, nil)

	h.send("NOOP")
	require.Equal(t, "250 cosign v1.0", h.readLine())
}

func TestQuitClosesSession(t *testing.T) {
	h := newHarness(t, policy.RoleCGI, 0, nil)

	h.send("QUIT")
	require.Equal(t, "221 Service closing transmission channel", h.readLine())
	require.NoError(t, <-h.serveErr)
}

func TestHelpListsActiveTable(t *testing.T) {
	h := newHarness(t, policy.RoleCGI, 0, nil)

	h.send("HELP")
	reply := h.readLine()
	require.True(t, strings.HasPrefix(reply, "203 "))
	require.Contains(t, reply, "LOGIN")
	require.Contains(t, reply, "STARTTLS")
}

func TestUnknownCommandReturns500(t *testing.T) {
	h := newHarness(t, policy.RoleCGI, 0, nil)

	h.send("BOGUS")
	reply := h.readLine()
	require.True(t, strings.HasPrefix(reply, "500 Command BOGUS unrecognized"))
}

func TestEmptyLineReturns501(t *testing.T) {
	h := newHarness(t, policy.RoleCGI, 0, nil)

	h.send("")
	reply := h.readLine()
	require.True(t, strings.HasPrefix(reply, "501"))
}

func TestUnauthSessionRefusesMutatingCommands(t *testing.T) {
	pol, err := policy.New([]policy.ClientHost{{Hostname: "cgi.example.com", Role: policy.RoleCGI}})
	require.NoError(t, err)
	h := newHarnessUnauth(t, pol)

	h.send("NOOP")
	require.Equal(t, "250 cosign v1.0", h.readLine())

	h.send("LOGIN mycookie 10.0.0.1 alice EXAMPLE.COM")
	require.Equal(t, "550 You must call STARTTLS first!", h.readLine())
}
