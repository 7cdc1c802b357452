package proto

import (
	"context"
	"sort"
	"strings"
)

func handleNoop(ctx context.Context, s *Session, args []string) outcome {
	s.conn.Writef("%d cosign v%s", 250, ProtocolVersion)
	return outcomeContinue
}

func handleQuit(ctx context.Context, s *Session, args []string) outcome {
	s.conn.Writef("%d Service closing transmission channel", 221)
	return outcomeClose
}

func handleHelp(ctx context.Context, s *Session, args []string) outcome {
	names := commandNames(s.table)
	sort.Strings(names)
	s.conn.Writef("%d Slainte Mhath! Commands: %s", 203, strings.Join(names, " "))
	return outcomeContinue
}

// handleNotAuthenticated is installed for every command that requires
// STARTTLS first; it never touches the store (spec.md §8: "No command in
// [Unauth] ever mutates the store").
func handleNotAuthenticated(ctx context.Context, s *Session, args []string) outcome {
	s.conn.Writef("%d You must call STARTTLS first!", 550)
	return outcomeContinue
}

func handleStartTLS(ctx context.Context, s *Session, args []string) outcome {
	if len(args) != 1 {
		s.conn.Writef("%d Syntax error", 501)
		return outcomeContinue
	}

	if err := s.conn.Writef("%d Ready to start TLS", 220); err != nil {
		return outcomeFatal
	}

	cn, err := s.conn.UpgradeTLS(ctx, s.cfg.TLS)
	if err != nil {
		s.logger.Error("startTLSFailed", "err", err)
		return outcomeFatal
	}

	host, ok := s.cfg.Policy.Lookup(cn)
	if !ok {
		s.logger.Error("startTLSUnknownHost", "commonName", cn)
		return outcomeFatal
	}

	s.authenticate(host)
	return outcomeContinue
}
