// cmd/preflight/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/proxyscore/internal/config"
	"github.com/hamed0406/proxyscore/internal/repo/backend"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "optional INI config file")
	connect := flag.Bool("connect", false, "also open the repository (creates the table if missing)")
	flag.Parse()

	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	cfg, err := config.Load(*configPath)
	if err != nil {
		for _, e := range multierr.Errors(err) {
			var ce *config.Error
			if errors.As(e, &ce) {
				fmt.Fprintln(os.Stderr, "✖", ce.Key+": "+ce.Reason+" (got "+fmt.Sprintf("%q", ce.Value)+")")
				continue
			}
			fmt.Fprintln(os.Stderr, "✖", e)
		}
		os.Exit(1)
	}
	ok(fmt.Sprintf("verify: level=%s rounds=%d timeout=%s max_concurrency=%d", cfg.VerifyLevel, cfg.Rounds, cfg.Timeout, cfg.MaxConcurrency))

	switch scheme := backend.Scheme(cfg.DatabaseURL); scheme {
	case "":
		fail("DATABASE_URL scheme not supported (use postgres://, mysql://, sqlite:// or leave empty).")
	case "memory":
		warn("DATABASE_URL empty: results live in memory and are lost on exit.")
	default:
		ok("DATABASE_URL present (" + scheme + "), table " + cfg.Table)
	}

	if !cfg.HasSources() && !cfg.Reverify {
		warn("no SOURCE_* configured and REVERIFY=false: a pass will have nothing to check.")
	}
	if len(cfg.TestURLs) == 0 {
		warn("TEST_URLS empty: probes use the built-in default target.")
	}
	if cfg.AlertMinUsable > 0 && cfg.SlackWebhookURL == "" {
		warn("ALERT_MIN_USABLE set without SLACK_WEBHOOK_URL: pool alerts go to the log only.")
	}
	if cfg.OpsAddr != "" {
		ok("OPS_ADDR=" + cfg.OpsAddr)
	}

	if *connect {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := backend.Open(ctx, backend.Options{DSN: cfg.DatabaseURL, Table: cfg.Table, MaxConns: 1}, zap.NewNop())
		if err != nil {
			fail("repository: " + err.Error())
		}
		_ = store.Close()
		ok("repository reachable")
	}

	ok("preflight passed")
}
