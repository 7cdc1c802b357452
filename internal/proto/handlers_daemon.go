package proto

import (
	"context"
	"strings"

	"github.com/rhopfer/cosignd/internal/policy"
)

// handleDaemon implements DAEMON, the replication handshake a peer sends
// immediately after STARTTLS to identify itself and guard against a
// replication loop (spec.md §4.6, §4.7's anti-broadcast invariant).
func handleDaemon(ctx context.Context, s *Session, args []string) outcome {
	if !policy.Allowed(policy.CmdDaemon, s.host) {
		s.conn.Writef("%d DAEMON: %s not allowed.", 460, s.host.Hostname)
		return outcomeContinue
	}
	if len(args) != 2 {
		s.conn.Writef("%d DAEMON: Wrong number of args.", 571)
		return outcomeContinue
	}

	if strings.EqualFold(args[1], s.cfg.Hostname) {
		s.conn.Writef("%d Schizophrenia!", 471)
		return outcomeContinue
	}

	s.downstream = true
	s.conn.Writef("%d Daemon flag set", 271)
	return outcomeContinue
}
