package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rhopfer/cosignd/internal/policy"
)

// Config is the daemon's environment-sourced configuration (SPEC_FULL.md's
// ambient configuration section). Client-host/proxy-list parsing itself is
// an external collaborator per spec.md §1's scope boundary; Config only
// carries the path to that file.
type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":6663"`
	Hostname   string `envconfig:"HOSTNAME" required:"true"`

	TLSCertFile     string `envconfig:"TLS_CERT_FILE" required:"true"`
	TLSKeyFile      string `envconfig:"TLS_KEY_FILE" required:"true"`
	TLSClientCAFile string `envconfig:"TLS_CLIENT_CA_FILE" required:"true"`

	LoginDir   string `envconfig:"LOGIN_DIR" required:"true"`
	ServiceDir string `envconfig:"SERVICE_DIR"`
	TicketDir  string `envconfig:"TICKET_DIR" required:"true"`

	// RootKey is the base64-encoded input keying material hkdf derives the
	// proxy-cookie-suffix and ticket-handle signing keys from (SPEC_FULL.md
	// DOMAIN STACK: golang.org/x/crypto/hkdf).
	RootKey string `envconfig:"ROOT_KEY" required:"true"`

	ClientHostsFile string `envconfig:"CLIENT_HOSTS_FILE" required:"true"`

	MaxConnections int  `envconfig:"MAX_CONNECTIONS" default:"256"`
	DebugMode      bool `envconfig:"DEBUG_MODE" default:"false"`

	ReplicationPeerAddr string `envconfig:"REPLICATION_PEER_ADDR"`

	RedisAddr      string        `envconfig:"REDIS_ADDR"`
	RedisMirrorTTL time.Duration `envconfig:"REDIS_MIRROR_TTL" default:"30s"`
}

// Environ loads Config from the process environment.
func Environ() (Config, error) {
	cfg := Config{}
	err := envconfig.Process("", &cfg)
	if cfg.ServiceDir == "" {
		cfg.ServiceDir = cfg.LoginDir
	}
	return cfg, err
}

// clientHostFile is the on-disk JSON shape read from Config.ClientHostsFile.
// Parsing this file is the "external collaborator" spec.md §1 puts out of
// scope; this is the minimal stdlib decoder cmd/cosignd wires it through.
type clientHostFile struct {
	Hostname     string             `json:"hostname"`
	Role         string             `json:"role"`
	Capabilities []string           `json:"capabilities"`
	ProxyList    []proxyBindingFile `json:"proxyList"`
}

type proxyBindingFile struct {
	Prefix   string `json:"prefix"`
	Hostname string `json:"hostname"`
}

func loadClientHosts(path string) ([]policy.ClientHost, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cosignd: failed to read client hosts file: %w", err)
	}
	var entries []clientHostFile
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("cosignd: failed to parse client hosts file: %w", err)
	}

	hosts := make([]policy.ClientHost, 0, len(entries))
	for _, e := range entries {
		role, err := parseRole(e.Role)
		if err != nil {
			return nil, fmt.Errorf("cosignd: client host %q: %w", e.Hostname, err)
		}
		var caps policy.Capability
		for _, c := range e.Capabilities {
			switch c {
			case "proxy":
				caps |= policy.ProxyAllowed
			case "ticket":
				caps |= policy.TicketAllowed
			default:
				return nil, fmt.Errorf("cosignd: client host %q: unknown capability %q", e.Hostname, c)
			}
		}
		proxyList := make([]policy.ProxyBinding, 0, len(e.ProxyList))
		for _, pb := range e.ProxyList {
			proxyList = append(proxyList, policy.ProxyBinding{
				ServiceCookiePrefix: pb.Prefix,
				ServiceHostname:     pb.Hostname,
			})
		}
		hosts = append(hosts, policy.ClientHost{
			Hostname:     e.Hostname,
			Role:         role,
			Capabilities: caps,
			ProxyList:    proxyList,
		})
	}
	return hosts, nil
}

func parseRole(s string) (policy.Role, error) {
	switch s {
	case "CGI":
		return policy.RoleCGI, nil
	case "SERVICE":
		return policy.RoleService, nil
	case "DEBUG":
		return policy.RoleDebug, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

func decodeRootKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("cosignd: ROOT_KEY is not valid base64: %w", err)
	}
	return key, nil
}
