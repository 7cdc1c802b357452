package proto

import (
	"context"
	"strings"

	"github.com/rhopfer/cosignd/internal/policy"
	"github.com/rhopfer/cosignd/internal/record"
)

// serviceCookiePrefix is the literal prefix original_source/daemon/command.c
// uses to distinguish a service cookie handed to CHECK from a bare
// login cookie (spec.md §9 resolves the distinction this way since the
// distilled spec is silent on how CHECK tells the two apart).
const serviceCookiePrefix = "cosign-"

// handleCheck implements CHECK: resolve either a service cookie (via its
// bound login cookie) or a login cookie directly, report its session, and
// bump its activity clock (spec.md §4.6).
func handleCheck(ctx context.Context, s *Session, args []string) outcome {
	if !policy.Allowed(policy.CmdCheck, s.host) {
		s.conn.Writef("%d CHECK: %s not allowed to check.", 430, s.host.Hostname)
		return outcomeContinue
	}
	if len(args) != 2 {
		s.conn.Writef("%d CHECK: Wrong number of args.", 530)
		return outcomeContinue
	}

	cookie := args[1]
	switch validateCookieName(cookie) {
	case nameHasSlash:
		s.conn.Writef("%d CHECK: Invalid cookie name.", 531)
		return outcomeContinue
	case nameTooLong:
		s.conn.Writef("%d CHECK: Cookie too long", 532)
		return outcomeContinue
	}

	loginCookie := cookie
	statusBase := 232
	if strings.HasPrefix(cookie, serviceCookiePrefix) {
		binding, err := s.cfg.Services.Get(ctx, cookie)
		if err != nil {
			s.conn.Writef("%d CHECK error: Sorry", 534)
			return outcomeContinue
		}
		loginCookie = binding.LoginCookie
		statusBase = 231
	}

	rec, err := s.cfg.Logins.Get(ctx, loginCookie)
	if err != nil {
		s.conn.Writef("%d CHECK error: Sorry", 534)
		return outcomeContinue
	}
	if rec.State == record.LoggedOut {
		s.conn.Writef("%d CHECK: %s is not logged in.", 430, loginCookie)
		return outcomeContinue
	}

	lastActive, err := s.cfg.Logins.LastActivity(ctx, loginCookie)
	if err != nil {
		s.logger.Error("checkLastActivityFailed", "err", err)
		return outcomeFatal
	}
	age := s.cfg.now().Sub(lastActive)
	switch idleStatus(age, false) {
	case idleGrey:
		s.conn.Writef("%d CHECK: Session in grey area, please re-login.", 531)
		return outcomeContinue
	case idleExpired:
		if err := s.cfg.Logins.Replace(ctx, loginCookie, func(r *record.LoginRecord) error {
			r.State = record.LoggedOut
			return nil
		}); err != nil {
			s.logger.Error("checkExpireFailed", "err", err)
			return outcomeFatal
		}
		s.cfg.Tickets.Remove(rec.TicketPath)
		s.conn.Writef("%d CHECK: Session expired, please re-login.", 431)
		return outcomeContinue
	}

	if err := s.cfg.Logins.Touch(ctx, loginCookie); err != nil {
		s.logger.Error("checkTouchFailed", "err", err)
	}
	s.conn.Writef("%d %s %s %s", statusBase, rec.IPAddress, rec.Principal, rec.Realm)
	return outcomeContinue
}
