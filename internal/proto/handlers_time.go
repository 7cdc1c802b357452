package proto

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rhopfer/cosignd/internal/policy"
	"github.com/rhopfer/cosignd/internal/record"
	"github.com/rhopfer/cosignd/internal/transport"
)

// handleTime implements TIME, the peer-reconciliation gossip command
// (spec.md §4.6, §5's "eventually consistent" replication note): the peer
// sends a batch of `<loginCookie> <timestamp> <state>` lines and every
// line is handled best-effort, never aborting the batch.
func handleTime(ctx context.Context, s *Session, args []string) outcome {
	if !policy.Allowed(policy.CmdTime, s.host) {
		s.conn.Writef("%d TIME: %s not allowed.", 460, s.host.Hostname)
		return outcomeContinue
	}
	if len(args) != 1 {
		s.conn.Writef("%d TIME: Wrong number of args.", 560)
		return outcomeContinue
	}

	if err := s.conn.Writef("%d Send timestamps.", 360); err != nil {
		return outcomeFatal
	}

	for {
		line, err := s.conn.ReadLine(transport.BulkLineTimeout)
		if err != nil {
			return outcomeFatal
		}
		if line == "." {
			break
		}
		s.applyTimeLine(ctx, line)
	}

	s.conn.Writef("%d TIME successful: we are now up-to-date", 260)
	return outcomeContinue
}

// applyTimeLine applies one TIME gossip line, logging and skipping any
// malformed or unresolvable entry rather than failing the batch. Each line
// names a login cookie directly (spec.md §4.6's `<loginCookie> <timestamp>
// <state>`), mirroring original_source/daemon/command.c's f_time, which
// keys on the login cookie's own "cosign=" prefix and stat()s/do_logout()s
// that file directly rather than going through a service binding.
func (s *Session) applyTimeLine(ctx context.Context, line string) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		s.logger.Info("timeLineMalformed", "line", line)
		return
	}
	cookie, tsField, stateField := fields[0], fields[1], fields[2]

	if validateCookieName(cookie) != nameValid {
		s.logger.Info("timeLineInvalidCookie", "cookie", cookie)
		return
	}

	ts, err := strconv.ParseInt(tsField, 10, 64)
	if err != nil {
		s.logger.Info("timeLineBadTimestamp", "line", line, "err", err)
		return
	}
	state, err := strconv.Atoi(stateField)
	if err != nil {
		s.logger.Info("timeLineBadState", "line", line, "err", err)
		return
	}

	lastActive, err := s.cfg.Logins.LastActivity(ctx, cookie)
	if err != nil {
		s.logger.Info("timeLineUnknownLogin", "loginCookie", cookie)
		return
	}
	incoming := time.Unix(ts, 0)
	if incoming.After(lastActive) {
		if err := s.cfg.Logins.Touch(ctx, cookie); err != nil {
			s.logger.Info("timeLineTouchFailed", "err", err)
		}
	}

	if state == 0 {
		rec, err := s.cfg.Logins.Get(ctx, cookie)
		if err != nil {
			return
		}
		if rec.State == record.LoggedIn {
			ticketPath := rec.TicketPath
			if err := s.cfg.Logins.Replace(ctx, cookie, func(r *record.LoginRecord) error {
				r.State = record.LoggedOut
				return nil
			}); err != nil {
				s.logger.Info("timeLineLogoutFailed", "err", err)
				return
			}
			s.cfg.Tickets.Remove(ticketPath)
		}
	}
}
