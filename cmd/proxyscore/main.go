package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/hamed0406/proxyscore/internal/config"
	"github.com/hamed0406/proxyscore/internal/httpapi"
	"github.com/hamed0406/proxyscore/internal/logging"
	"github.com/hamed0406/proxyscore/internal/metrics"
	"github.com/hamed0406/proxyscore/internal/notify"
	"github.com/hamed0406/proxyscore/internal/pipeline"
	"github.com/hamed0406/proxyscore/internal/probe"
	"github.com/hamed0406/proxyscore/internal/repo"
	"github.com/hamed0406/proxyscore/internal/repo/backend"
	"github.com/hamed0406/proxyscore/internal/scheduler"
	"github.com/hamed0406/proxyscore/internal/source"
	"github.com/hamed0406/proxyscore/internal/verify"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "optional INI config file")
	once := flag.Bool("once", false, "run a single pass and exit, ignoring INTERVAL_SECONDS")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	if *once {
		cfg.Interval = 0
	}

	logger, err := logging.New(logging.Options{Dir: cfg.LogDir, Level: cfg.LogLevel, Console: cfg.LogConsole})
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("proxyscore_exit", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	m := metrics.New()

	store, err := backend.Open(ctx, backend.Options{
		DSN:      cfg.DatabaseURL,
		Table:    cfg.Table,
		MaxConns: cfg.DBMaxConns,
		CacheTTL: cfg.CacheTTL,
	}, logger)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	defer store.Close()

	v, err := verify.New(probe.NewHTTPProber(cfg.TestURLs...), verify.Options{
		Rounds:         cfg.Rounds,
		Timeout:        cfg.Timeout,
		MaxConcurrency: cfg.MaxConcurrency,
	}, logger, m)
	if err != nil {
		return err
	}
	popts := pipeline.Options{WriteConcurrency: cfg.WriteConcurrency, PassTimeout: cfg.PassTimeout}

	var fresh, reverify scheduler.Pass
	if cfg.HasSources() {
		fresh = pipeline.New(buildSources(cfg, logger), v, store, popts, logger, m)
	}
	if cfg.Reverify {
		reverify = pipeline.New(source.Stored{Repo: store}, v, store, popts, logger, m)
	}
	if fresh == nil && reverify == nil {
		logger.Warn("proxyscore_nothing_to_do", zap.String("hint", "set SOURCE_* or REVERIFY=true"))
		return nil
	}

	var alerter *scheduler.Alerter
	if cfg.AlertMinUsable > 0 {
		n := notify.Multi{notify.Log{L: logger}}
		if s := notify.NewSlack(cfg.SlackWebhookURL); s != nil {
			n = append(n, s)
		}
		alerter = scheduler.NewAlerter(store, n, scheduler.AlerterConfig{
			MinUsable:       cfg.AlertMinUsable,
			MinScore:        cfg.AlertMinScore,
			AlertOnRecovery: true,
			Cooldown:        cfg.AlertCooldown,
		}, logger)
	}

	if cfg.OpsAddr != "" {
		ops := httpapi.NewOpsServer(logger, m.Gatherer())
		ops.Ready = func(ctx context.Context) error {
			_, err := store.Query(ctx, repo.Filter{Limit: 1})
			return err
		}
		go func() {
			if err := ops.Serve(ctx, cfg.OpsAddr); err != nil {
				logger.Error("ops_serve_error", zap.Error(err))
			}
		}()
	}

	logger.Info("proxyscore_start",
		zap.Int("max_concurrency", cfg.MaxConcurrency),
		zap.Int("rounds", cfg.Rounds),
		zap.Duration("timeout", cfg.Timeout),
		zap.String("verify_level", cfg.VerifyLevel),
		zap.String("backend", backend.Scheme(cfg.DatabaseURL)),
		zap.Duration("interval", cfg.Interval),
	)
	return scheduler.NewRunner(logger, fresh, reverify, alerter, cfg.Interval).Run(ctx)
}

func buildSources(cfg config.Config, logger *zap.Logger) source.Source {
	var srcs []source.Source
	for _, u := range cfg.TextURLs {
		srcs = append(srcs, source.TextList{URL: u})
	}
	for _, f := range cfg.Files {
		srcs = append(srcs, source.File{Path: f})
	}
	for _, u := range cfg.TableURLs {
		srcs = append(srcs, source.NewHTMLTable(u, source.ExpandPages(u, cfg.Pages), logger))
	}
	for _, u := range cfg.EmbeddedURLs {
		srcs = append(srcs, source.EmbeddedJSON{Label: u, Pages: source.ExpandPages(u, cfg.Pages), Log: logger})
	}
	for _, u := range cfg.JSONURLs {
		api := source.NewJSONAPI(u, source.ExpandPages(u, cfg.Pages), logger)
		if cfg.JSONListPath != "" {
			api.ListPath = cfg.JSONListPath
		}
		srcs = append(srcs, api)
	}
	return source.Multi{Sources: srcs, Log: logger}
}
