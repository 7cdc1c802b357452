package proto

import (
	"context"

	"github.com/rhopfer/cosignd/internal/policy"
	"github.com/rhopfer/cosignd/internal/record"
	"github.com/rhopfer/cosignd/internal/transport"
)

// handleRetr implements RETR: resolve a service cookie to its login
// exactly as CHECK does, then dispatch on kind to either the ticket
// sideband stream ("tgt") or a batch of freshly minted proxy cookies
// ("cookies"), each gated by its own capability bit (spec.md §4.6).
func handleRetr(ctx context.Context, s *Session, args []string) outcome {
	if !policy.Allowed(policy.CmdRetr, s.host) {
		s.conn.Writef("%d RETR: %s not allowed to retrieve.", 442, s.host.Hostname)
		return outcomeContinue
	}
	if len(args) != 3 {
		s.conn.Writef("%d RETR: Wrong number of args.", 540)
		return outcomeContinue
	}

	serviceCookie, kind := args[1], args[2]
	switch validateCookieName(serviceCookie) {
	case nameHasSlash:
		s.conn.Writef("%d RETR: Invalid cookie name.", 541)
		return outcomeContinue
	case nameTooLong:
		s.conn.Writef("%d RETR: Cookie too long", 542)
		return outcomeContinue
	}

	binding, err := s.cfg.Services.Get(ctx, serviceCookie)
	if err != nil {
		s.conn.Writef("%d RETR error: Sorry", 543)
		return outcomeContinue
	}
	loginCookie := binding.LoginCookie

	rec, err := s.cfg.Logins.Get(ctx, loginCookie)
	if err != nil {
		s.conn.Writef("%d RETR error: Sorry", 544)
		return outcomeContinue
	}
	if rec.State == record.LoggedOut {
		s.conn.Writef("%d RETR: %s is not logged in.", 440, loginCookie)
		return outcomeContinue
	}

	lastActive, err := s.cfg.Logins.LastActivity(ctx, loginCookie)
	if err != nil {
		s.logger.Error("retrLastActivityFailed", "err", err)
		return outcomeFatal
	}
	// RETR shares CHECK's weaker idle-expiry test, not REGISTER's: both
	// handlers in the original daemon use the identical `age > IDLE_OUT`
	// else-if, confirmed by direct comparison of their command dispatch
	// bodies.
	age := s.cfg.now().Sub(lastActive)
	switch idleStatus(age, false) {
	case idleGrey:
		s.conn.Writef("%d RETR: Session in grey area, please re-login.", 541)
		return outcomeContinue
	case idleExpired:
		if err := s.cfg.Logins.Replace(ctx, loginCookie, func(r *record.LoginRecord) error {
			r.State = record.LoggedOut
			return nil
		}); err != nil {
			s.logger.Error("retrExpireFailed", "err", err)
			return outcomeFatal
		}
		s.cfg.Tickets.Remove(rec.TicketPath)
		s.conn.Writef("%d RETR: Session expired, please re-login.", 441)
		return outcomeContinue
	}

	switch kind {
	case "tgt":
		return retrTicket(s, rec)
	case "cookies":
		return retrCookies(ctx, s, loginCookie)
	default:
		s.logger.Info("retrUnknownKind", "kind", kind, "serviceCookie", serviceCookie)
		s.conn.Writef("%d RETR: Unknown retrieve type.", 441)
		return outcomeContinue
	}
}

func retrTicket(s *Session, rec *record.LoginRecord) outcome {
	if !s.host.Capabilities.Has(policy.TicketAllowed) {
		s.conn.Writef("%d RETR tgt: %s not allowed to retrieve tickets.", 442, s.host.Hostname)
		return outcomeContinue
	}
	if rec.TicketPath == "" {
		s.conn.Writef("%d RETR tgt: no ticket on file.", 441)
		return outcomeContinue
	}

	f, size, err := s.cfg.Tickets.Open(rec.TicketPath)
	if err != nil {
		s.logger.Error("retrTicketOpenFailed", "err", err)
		return outcomeFatal
	}
	defer f.Close()

	if err := s.conn.Writef("%d Retrieving file", 240); err != nil {
		return outcomeFatal
	}
	if err := s.conn.Writef("%d", size); err != nil {
		return outcomeFatal
	}
	if err := s.conn.WriteExact(f, size, transport.TicketBodyTimeout); err != nil {
		s.logger.Error("retrTicketStreamFailed", "err", err)
		return outcomeFatal
	}
	if err := s.conn.Writef("."); err != nil {
		return outcomeFatal
	}
	return outcomeContinue
}

func retrCookies(ctx context.Context, s *Session, loginCookie string) outcome {
	if !s.host.Capabilities.Has(policy.ProxyAllowed) {
		s.conn.Writef("%d RETR cookies: %s not allowed to retrieve proxy cookies.", 443, s.host.Hostname)
		return outcomeContinue
	}

	for _, binding := range s.host.ProxyList {
		suffix, err := s.cfg.ProxyTokens.Generate(16)
		if err != nil {
			s.logger.Error("retrCookiesGenerateFailed", "err", err)
			continue
		}
		proxyCookie := binding.ServiceCookiePrefix + suffix
		if err := s.cfg.Services.Create(ctx, proxyCookie, &record.ServiceBinding{LoginCookie: loginCookie}); err != nil {
			s.logger.Error("retrCookiesRegisterFailed", "err", err, "cookie", proxyCookie)
			continue
		}
		s.replicate("REGISTER %s - %s", loginCookie, proxyCookie)
		if err := s.conn.Writef("241-%s %s", proxyCookie, binding.ServiceHostname); err != nil {
			return outcomeFatal
		}
	}

	if err := s.conn.Writef("%d Cookies registered and sent", 241); err != nil {
		return outcomeFatal
	}
	return outcomeContinue
}
