package main

import (
	"context"
	"log"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"mealsync/netmon"
	"mealsync/session"
	"mealsync/store"
)

// runtime wires the stack the way a UI host application would.
type runtime struct {
	cfg    session.Config
	log    zerolog.Logger
	cache  *store.Store
	creds  *session.FileCredentialStore
	mon    *netmon.Monitor
	remote *session.HTTPRemote
	sync   *session.Synchronizer
}

func run(fn func(ctx context.Context, rt *runtime) error) {
	ctx := context.Background()

	cfg, err := session.LoadConfig(ctx)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := buildLogger(cfg)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		log.Fatalf("data dir: %v", err)
	}
	cache, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		log.Fatalf("open cache: %v", err)
	}
	defer func() {
		_ = cache.Close()
	}()

	creds, err := session.NewFileCredentialStore(cfg.CredentialDir, logger)
	if err != nil {
		log.Fatalf("open credential store: %v", err)
	}

	mon := netmon.New(netmon.Options{
		Addr:     probeAddr(cfg.BaseURL),
		Interval: cfg.ProbeInterval,
		Logger:   logger,
	})
	mon.Start(ctx)
	defer mon.Close()

	remote := session.NewHTTPRemote(session.HTTPRemoteOptions{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
	})
	sync := session.New(remote, creds, cache, mon, logger)

	rt := &runtime{
		cfg:    cfg,
		log:    logger,
		cache:  cache,
		creds:  creds,
		mon:    mon,
		remote: remote,
		sync:   sync,
	}
	if err := fn(ctx, rt); err != nil {
		log.Fatal(err)
	}
}

func buildLogger(cfg session.Config) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	var out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if !cfg.PrettyLog {
		return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// probeAddr extracts host:port from the base URL for the reachability probe.
func probeAddr(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "localhost:80"
	}
	if _, _, err := net.SplitHostPort(u.Host); err == nil {
		return u.Host
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Host, port)
}
