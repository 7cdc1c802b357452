// Package policy maps an authenticated peer identity (a TLS client
// certificate's Subject CN) to a ClientHost, and gates which commands that
// host's role may invoke (spec.md §4.3).
package policy

import "fmt"

// Role is the access role granted to an authenticated peer.
type Role int

const (
	// RoleCGI is the web login CGI: may create and invalidate sessions.
	RoleCGI Role = iota
	// RoleService is a protected service's authentication filter: may
	// query sessions and retrieve tickets/proxy cookies.
	RoleService
	// RoleDebug is the synthetic debug-mode host (spec.md §4.3's tlsopt
	// shortcut).
	RoleDebug
)

func (r Role) String() string {
	switch r {
	case RoleCGI:
		return "CGI"
	case RoleService:
		return "SERVICE"
	case RoleDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// Capability is a bitmask of extra privileges a SERVICE host may hold.
type Capability int

const (
	// ProxyAllowed permits RETR cookies.
	ProxyAllowed Capability = 1 << iota
	// TicketAllowed permits RETR tgt.
	TicketAllowed
)

// Has reports whether c includes the given capability bit.
func (c Capability) Has(bit Capability) bool { return c&bit != 0 }

// ProxyBinding is one entry of a ClientHost's proxy list: a service
// cookie prefix this host is permitted to mint proxy cookies for, and the
// hostname to report back to the caller alongside the minted cookie
// (spec.md §3's ClientHost.proxyList).
type ProxyBinding struct {
	ServiceCookiePrefix string
	ServiceHostname     string
}

// ClientHost is the access-control record for one authenticated peer
// (spec.md §3).
type ClientHost struct {
	Hostname     string
	Role         Role
	Capabilities Capability
	ProxyList    []ProxyBinding
}

// Policy is the loaded, queryable access policy (spec.md §4.3): one-time
// built from configuration, read-only for the life of the process.
type Policy struct {
	hosts map[string]ClientHost
	debug *ClientHost
}

// New returns a Policy built from hosts, keyed by their Subject CN
// (ClientHost.Hostname). A host named "DEBUG" (whatever its role) or a
// host with the DEBUG role is also reachable via Debug for the tlsopt
// start-state shortcut (spec.md §4.3, §4.5).
func New(hosts []ClientHost) (*Policy, error) {
	p := &Policy{hosts: make(map[string]ClientHost, len(hosts))}
	for _, h := range hosts {
		if h.Hostname == "" {
			return nil, fmt.Errorf("policy: client host with empty hostname")
		}
		if _, dup := p.hosts[h.Hostname]; dup {
			return nil, fmt.Errorf("policy: duplicate client host %q", h.Hostname)
		}
		p.hosts[h.Hostname] = h
		if h.Hostname == "DEBUG" || h.Role == RoleDebug {
			hh := h
			p.debug = &hh
		}
	}
	return p, nil
}

// Lookup returns the ClientHost for cn, the Subject CN extracted from a
// verified client certificate, and whether it is known to the policy.
func (p *Policy) Lookup(cn string) (ClientHost, bool) {
	h, ok := p.hosts[cn]
	return h, ok
}

// Debug returns the synthetic DEBUG host, if one is configured (spec.md
// §4.3: "When tlsopt (debug mode) is set, a connection starts already
// authenticated as the synthetic host DEBUG; if no such host is
// configured, the connection is closed immediately with a refusal.").
func (p *Policy) Debug() (ClientHost, bool) {
	if p.debug == nil {
		return ClientHost{}, false
	}
	return *p.debug, true
}

// Command is the set of commands the permission table of spec.md §4.3
// names explicitly. Commands not listed here (NOOP, QUIT, HELP, STARTTLS)
// are always permitted once authenticated.
type Command string

const (
	CmdLogin    Command = "LOGIN"
	CmdLogout   Command = "LOGOUT"
	CmdRegister Command = "REGISTER"
	CmdCheck    Command = "CHECK"
	CmdRetr     Command = "RETR"
	CmdTime     Command = "TIME"
	CmdDaemon   Command = "DAEMON"
)

// Allowed reports whether h's role permits issuing cmd, per spec.md §4.3's
// table. It does not evaluate RETR's sub-kind capability gates (tgt vs
// cookies); callers check h.Capabilities directly once they know which
// RETR kind was requested.
func Allowed(cmd Command, h ClientHost) bool {
	switch cmd {
	case CmdLogin, CmdLogout, CmdRegister, CmdTime, CmdDaemon:
		return h.Role == RoleCGI
	case CmdCheck:
		return h.Role == RoleCGI || h.Role == RoleService
	case CmdRetr:
		return h.Role == RoleService
	default:
		return false
	}
}
