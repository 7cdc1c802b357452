// Command cosignd is the cosignd session state server: it accepts
// mutually-TLS-authenticated connections speaking the line protocol of
// internal/proto, backing login/service cookies with internal/store/file
// and, optionally, a Redis read-through mirror, and replicating mutations
// to a single downstream peer via internal/replication.
package main

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rhopfer/cosignd/internal/policy"
	"github.com/rhopfer/cosignd/internal/proto"
	"github.com/rhopfer/cosignd/internal/record"
	"github.com/rhopfer/cosignd/internal/replication"
	"github.com/rhopfer/cosignd/internal/store"
	"github.com/rhopfer/cosignd/internal/store/file"
	"github.com/rhopfer/cosignd/internal/store/mirror"
	"github.com/rhopfer/cosignd/internal/tkt"
	"github.com/rhopfer/cosignd/internal/token"
	"github.com/rhopfer/cosignd/internal/transport"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/exp/slog"
	"golang.org/x/net/netutil"
)

func main() {
	var envFile string
	flag.StringVar(&envFile, "env-file", ".env", "optional environment file to load before reading configuration")
	flag.Parse()
	godotenv.Load(envFile)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := Environ()
	if err != nil {
		logger.Error("invalidConfiguration", "err", err)
		os.Exit(1)
	}

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("cosigndExited", "err", err)
		os.Exit(1)
	}
}

// deriveKeys splits one root secret into len(infos) independent HMAC keys
// via HKDF-SHA256, one per info label, the same pattern the teacher uses to
// split its root key into a session-token key and a CSRF-token key.
func deriveKeys(ikm []byte, infos ...string) ([][]byte, error) {
	var keys [][]byte
	prk := hkdf.Extract(sha256.New, ikm, nil)
	for _, info := range infos {
		key := make([]byte, 32)
		if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, []byte(info)), key); err != nil {
			return nil, fmt.Errorf("cosignd: key derivation failed for %q: %w", info, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	rootKey, err := decodeRootKey(cfg.RootKey)
	if err != nil {
		return err
	}
	keys, err := deriveKeys(rootKey, "cosignd-proxy-cookie-suffix", "cosignd-ticket-handle")
	if err != nil {
		return err
	}
	proxyTokens := token.NewAuthenticator(keys[0])
	ticketKey := keys[1]

	hosts, err := loadClientHosts(cfg.ClientHostsFile)
	if err != nil {
		return err
	}
	pol, err := policy.New(hosts)
	if err != nil {
		return fmt.Errorf("cosignd: invalid client host configuration: %w", err)
	}

	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		return err
	}

	var logins store.CookieStore[record.LoginRecord] = file.NewLoginStore(cfg.LoginDir)
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		logins = mirror.New(logins, rc, "cosignd-login", cfg.RedisMirrorTTL)
	}
	services := file.NewServiceStore(cfg.ServiceDir)
	tickets := tkt.New(cfg.TicketDir, ticketKey)

	var replicator proto.Replicator
	if cfg.ReplicationPeerAddr != "" {
		peer := replication.New(ctx, replication.Config{
			Addr:     cfg.ReplicationPeerAddr,
			Hostname: cfg.Hostname,
			TLS:      tlsConfig.Clone(),
			Logger:   logger,
		})
		defer peer.Close()
		replicator = peer
	}

	sessionCfg := proto.Config{
		Hostname:    cfg.Hostname,
		Logins:      logins,
		Services:    services,
		Tickets:     tickets,
		ProxyTokens: proxyTokens,
		Policy:      pol,
		TLS:         tlsConfig,
		DebugMode:   cfg.DebugMode,
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("cosignd: failed to listen on %s: %w", cfg.ListenAddr, err)
	}
	ln = netutil.LimitListener(ln, cfg.MaxConnections)
	logger.Info("listening", "addr", cfg.ListenAddr, "maxConnections", cfg.MaxConnections)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	return acceptLoop(ctx, ln, sessionCfg, replicator, logger)
}

func acceptLoop(ctx context.Context, ln net.Listener, cfg proto.Config, replicator proto.Replicator, logger *slog.Logger) error {
	for {
		netConn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("cosignd: accept failed: %w", err)
		}
		go serveConn(ctx, netConn, cfg, replicator, logger)
	}
}

func serveConn(ctx context.Context, netConn net.Conn, cfg proto.Config, replicator proto.Replicator, logger *slog.Logger) {
	defer netConn.Close()
	conn := transport.New(netConn, logger)
	sess := proto.NewSession(cfg, conn, logger, replicator)
	if err := sess.Serve(ctx); err != nil {
		logger.Warn("sessionEnded", "remoteAddr", conn.RemoteAddr(), "err", err)
	}
}

func buildTLSConfig(cfg Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("cosignd: failed to load TLS certificate: %w", err)
	}
	caData, err := os.ReadFile(cfg.TLSClientCAFile)
	if err != nil {
		return nil, fmt.Errorf("cosignd: failed to read client CA file: %w", err)
	}
	clientCAs := x509.NewCertPool()
	if !clientCAs.AppendCertsFromPEM(caData) {
		return nil, fmt.Errorf("cosignd: no certificates found in %s", cfg.TLSClientCAFile)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    clientCAs,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
