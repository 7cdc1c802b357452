package proto

import (
	"context"
	"errors"

	"github.com/rhopfer/cosignd/internal/policy"
	"github.com/rhopfer/cosignd/internal/record"
	"github.com/rhopfer/cosignd/internal/store"
)

// handleRegister binds a service cookie to an already-logged-in login
// cookie (spec.md §4.6). Re-registering an existing binding is treated as
// success, not collision: a service filter retries this unconditionally on
// every request with no cookie of its own yet.
func handleRegister(ctx context.Context, s *Session, args []string) outcome {
	if !policy.Allowed(policy.CmdRegister, s.host) {
		s.conn.Writef("%d REGISTER: %s not allowed to register.", 420, s.host.Hostname)
		return outcomeContinue
	}
	if len(args) != 4 {
		s.conn.Writef("%d REGISTER: Wrong number of args.", 520)
		return outcomeContinue
	}

	loginCookie, ip, serviceCookie := args[1], args[2], args[3]
	if validateCookieName(loginCookie) != nameValid || validateCookieName(serviceCookie) != nameValid {
		switch {
		case validateCookieName(loginCookie) == nameTooLong || validateCookieName(serviceCookie) == nameTooLong:
			s.conn.Writef("%d REGISTER: Cookie too long", 522)
		default:
			s.conn.Writef("%d REGISTER: Invalid cookie name.", 521)
		}
		return outcomeContinue
	}

	rec, err := s.cfg.Logins.Get(ctx, loginCookie)
	if err != nil {
		s.conn.Writef("%d REGISTER error: Sorry", 523)
		return outcomeContinue
	}
	if rec.State == record.LoggedOut {
		s.conn.Writef("%d REGISTER: %s is not logged in.", 420, loginCookie)
		return outcomeContinue
	}

	lastActive, err := s.cfg.Logins.LastActivity(ctx, loginCookie)
	if err != nil {
		s.logger.Error("registerLastActivityFailed", "err", err)
		return outcomeFatal
	}
	age := s.cfg.now().Sub(lastActive)
	switch idleStatus(age, true) {
	case idleGrey:
		s.conn.Writef("%d REGISTER: Session in grey area, please re-login.", 521)
		return outcomeContinue
	case idleExpired:
		ticketPath := rec.TicketPath
		if err := s.cfg.Logins.Replace(ctx, loginCookie, func(r *record.LoginRecord) error {
			r.State = record.LoggedOut
			return nil
		}); err != nil {
			s.logger.Error("registerExpireFailed", "err", err)
			return outcomeFatal
		}
		s.cfg.Tickets.Remove(ticketPath)
		s.conn.Writef("%d REGISTER: Session expired, please re-login.", 421)
		return outcomeContinue
	}

	binding := &record.ServiceBinding{LoginCookie: loginCookie}
	if err := s.cfg.Services.Create(ctx, serviceCookie, binding); err != nil {
		if !errors.Is(err, store.ErrExists) {
			s.logger.Error("registerCreateFailed", "err", err)
			return outcomeFatal
		}
		s.conn.Writef("%d REGISTER: Already registered", 226)
		return outcomeContinue
	}

	if err := s.cfg.Logins.Touch(ctx, loginCookie); err != nil {
		s.logger.Error("registerTouchFailed", "err", err)
	}
	s.conn.Writef("%d REGISTER successful: Cookie Stored", 220)
	s.replicate("REGISTER %s %s %s", loginCookie, ip, serviceCookie)
	return outcomeContinue
}
