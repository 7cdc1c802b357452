package proto

// unauthTable is the command set available before STARTTLS succeeds
// (spec.md §4.5): NOOP/QUIT/HELP/STARTTLS behave normally; every other
// known command name is present but refuses with 550, matching the
// original daemon's parallel unauth_commands/auth_commands tables
// (spec.md §9's design note reframes the table swap as session state
// rather than global mutable state).
var unauthTable = map[string]handlerFunc{
	"NOOP":     handleNoop,
	"QUIT":     handleQuit,
	"HELP":     handleHelp,
	"STARTTLS": handleStartTLS,
	"LOGIN":    handleNotAuthenticated,
	"LOGOUT":   handleNotAuthenticated,
	"REGISTER": handleNotAuthenticated,
	"CHECK":    handleNotAuthenticated,
	"RETR":     handleNotAuthenticated,
	"TIME":     handleNotAuthenticated,
	"DAEMON":   handleNotAuthenticated,
}

// authTable is the command set available once a client certificate has
// been verified and mapped to a ClientHost. Role gating within this table
// (CGI vs SERVICE vs DEBUG) happens inside each handler via
// policy.Allowed, not via table selection: spec.md §4.3's permission
// table is per-role, not per-authentication-state.
var authTable = map[string]handlerFunc{
	"NOOP":     handleNoop,
	"QUIT":     handleQuit,
	"HELP":     handleHelp,
	"STARTTLS": handleStartTLS,
	"LOGIN":    handleLogin,
	"LOGOUT":   handleLogout,
	"REGISTER": handleRegister,
	"CHECK":    handleCheck,
	"RETR":     handleRetr,
	"TIME":     handleTime,
	"DAEMON":   handleDaemon,
}

// commandNames lists t's keys for HELP's reply (SPEC_FULL.md supplemented
// feature 1: HELP lists the currently active table, not a fixed string).
func commandNames(t map[string]handlerFunc) []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	return names
}
