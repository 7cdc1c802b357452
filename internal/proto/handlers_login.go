package proto

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/rhopfer/cosignd/internal/policy"
	"github.com/rhopfer/cosignd/internal/record"
	"github.com/rhopfer/cosignd/internal/store"
	"github.com/rhopfer/cosignd/internal/transport"
)

func handleLogin(ctx context.Context, s *Session, args []string) outcome {
	if !policy.Allowed(policy.CmdLogin, s.host) {
		s.conn.Writef("%d LOGIN: %s not allowed to login.", 400, s.host.Hostname)
		return outcomeContinue
	}
	if len(args) != 5 && len(args) != 6 {
		s.conn.Writef("%d LOGIN: Wrong number of args.", 500)
		return outcomeContinue
	}

	kerberos := false
	if len(args) == 6 {
		if args[5] != "kerberos" {
			s.conn.Writef("%d LOGIN: Ticket type not supported.", 507)
			return outcomeContinue
		}
		kerberos = true
	}

	cookie, ip, principal, realm := args[1], args[2], args[3], args[4]
	switch validateCookieName(cookie) {
	case nameHasSlash:
		s.conn.Writef("%d LOGIN: Invalid cookie name.", 501)
		return outcomeContinue
	case nameTooLong:
		s.conn.Writef("%d LOGIN: Cookie too long.", 502)
		return outcomeContinue
	}
	if len(ip) >= record.MaxIPLen || len(principal) >= record.MaxPrincipalLen || len(realm) >= record.MaxRealmLen {
		s.conn.Writef("%d LOGIN Syntax Error: Bad File Format", 504)
		return outcomeContinue
	}

	rec := &record.LoginRecord{
		Version:   record.CurrentVersion,
		State:     record.LoggedIn,
		IPAddress: ip,
		Principal: principal,
		Realm:     realm,
		CreatedAt: s.cfg.now().Unix(),
	}

	if err := s.cfg.Logins.Create(ctx, cookie, rec); err != nil {
		if !errors.Is(err, store.ErrExists) {
			s.logger.Error("loginCreateFailed", "err", err)
			return outcomeFatal
		}
		return handleLoginCollision(ctx, s, cookie, principal)
	}

	if !kerberos {
		s.conn.Writef("%d LOGIN successful: Cookie Stored.", 200)
		s.replicate("LOGIN %s %s %s %s", cookie, ip, principal, realm)
		return outcomeContinue
	}

	return handleLoginTicketUpload(ctx, s, cookie, ip, principal, realm)
}

// handleLoginCollision implements the existing-record branch of LOGIN:
// the cookie name is already taken, so the outcome depends on the
// existing record's state and principal (spec.md §4.6).
func handleLoginCollision(ctx context.Context, s *Session, cookie, principal string) outcome {
	existing, err := s.cfg.Logins.Get(ctx, cookie)
	if err != nil {
		s.conn.Writef("%d LOGIN error: Sorry", 503)
		return outcomeContinue
	}
	if existing.State == record.LoggedOut {
		if existing.TicketPath != "" {
			s.cfg.Tickets.Remove(existing.TicketPath)
		}
		s.conn.Writef("%d LOGIN: Already logged out", 505)
		return outcomeContinue
	}
	if existing.Principal != principal {
		s.conn.Writef("%d user name given does not match cookie", 402)
		return outcomeContinue
	}
	s.conn.Writef("%d LOGIN: Cookie already exists", 201)
	return outcomeContinue
}

// handleLoginTicketUpload implements the `kerberos` suffix of LOGIN: a
// length-line-then-body bulk transfer into the ticket sideband, followed
// by a `.` terminator (spec.md §4.6, §6).
func handleLoginTicketUpload(ctx context.Context, s *Session, cookie, ip, principal, realm string) outcome {
	if err := s.conn.Writef("%d LOGIN: Send length then file.", 300); err != nil {
		return outcomeFatal
	}

	sizeLine, err := s.conn.ReadLine(transport.BulkLineTimeout)
	if err != nil {
		return outcomeFatal
	}
	n, perr := strconv.ParseInt(strings.TrimSpace(sizeLine), 10, 64)
	if perr != nil || n < 0 {
		s.cfg.Logins.Remove(ctx, cookie)
		return outcomeFatal
	}

	r, done, err := s.conn.Reader(transport.TicketBodyTimeout)
	if err != nil {
		s.cfg.Logins.Remove(ctx, cookie)
		return outcomeFatal
	}
	path, err := s.cfg.Tickets.Put(r, n)
	done()
	if err != nil {
		s.logger.Error("loginTicketUploadFailed", "err", err)
		s.cfg.Logins.Remove(ctx, cookie)
		return outcomeFatal
	}

	term, err := s.conn.ReadLine(transport.BulkLineTimeout)
	if err != nil {
		s.cfg.Tickets.Remove(path)
		s.cfg.Logins.Remove(ctx, cookie)
		return outcomeFatal
	}
	if term != "." {
		s.conn.Writef("%d Length doesn't match sent data", 505)
		s.cfg.Tickets.Remove(path)
		s.cfg.Logins.Remove(ctx, cookie)
		s.drainUntilTerminator()
		return outcomeFatal
	}

	if err := s.cfg.Logins.Replace(ctx, cookie, func(r *record.LoginRecord) error {
		r.TicketPath = path
		return nil
	}); err != nil {
		s.logger.Error("loginTicketPathPersistFailed", "err", err)
		return outcomeFatal
	}

	s.conn.Writef("%d LOGIN successful: Cookie & Ticket Stored.", 201)
	s.replicate("LOGIN %s %s %s %s kerberos", cookie, ip, principal, realm)
	return outcomeContinue
}

// drainUntilTerminator reads and discards lines until a bare "." or a
// read error, the cleanup path when a bulk transfer's length doesn't
// match what the client actually sent (spec.md §4.6).
func (s *Session) drainUntilTerminator() {
	for {
		line, err := s.conn.ReadLine(transport.BulkLineTimeout)
		if err != nil || line == "." {
			return
		}
	}
}

func handleLogout(ctx context.Context, s *Session, args []string) outcome {
	if !policy.Allowed(policy.CmdLogout, s.host) {
		s.conn.Writef("%d LOGOUT: %s not allowed to logout.", 410, s.host.Hostname)
		return outcomeContinue
	}
	if len(args) != 3 {
		s.conn.Writef("%d LOGOUT: Wrong number of args.", 510)
		return outcomeContinue
	}

	cookie, ip := args[1], args[2]
	switch validateCookieName(cookie) {
	case nameHasSlash:
		s.conn.Writef("%d LOGOUT: Invalid cookie name.", 511)
		return outcomeContinue
	case nameTooLong:
		s.conn.Writef("%d LOGOUT: Cookie too long", 512)
		return outcomeContinue
	}

	rec, err := s.cfg.Logins.Get(ctx, cookie)
	if err != nil {
		s.conn.Writef("%d LOGOUT error: Sorry", 513)
		return outcomeContinue
	}
	if rec.State == record.LoggedOut {
		s.conn.Writef("%d LOGOUT: Already logged out", 411)
		return outcomeContinue
	}

	ticketPath := rec.TicketPath
	if err := s.cfg.Logins.Replace(ctx, cookie, func(r *record.LoginRecord) error {
		r.State = record.LoggedOut
		return nil
	}); err != nil {
		s.logger.Error("logoutReplaceFailed", "err", err)
		return outcomeFatal
	}
	if ticketPath != "" {
		s.cfg.Tickets.Remove(ticketPath)
	}

	s.conn.Writef("%d LOGOUT successful: cookie no longer valid", 210)
	s.replicate("LOGOUT %s %s", cookie, ip)
	return outcomeContinue
}
