package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/proxyscore/internal/config"
	"github.com/hamed0406/proxyscore/internal/domain"
	"github.com/hamed0406/proxyscore/internal/repo"
	"github.com/hamed0406/proxyscore/internal/repo/backend"
)

// ErrNoStore is returned when DATABASE_URL names no persistent backend; an
// in-process store would always be empty.
var ErrNoStore = errors.New("DATABASE_URL must point at a persistent store (postgres, sqlite or mysql)")

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "optional INI config file")
	opts := listOptions{}
	flag.IntVar(&opts.n, "n", 20, "how many proxies to list")
	flag.Float64Var(&opts.minScore, "min-score", -1, "only proxies scoring at least this (negative: no filter)")
	flag.BoolVar(&opts.alive, "alive", true, "only proxies with a non-zero success rate")
	flag.DurationVar(&opts.since, "since", 0, "only proxies checked within this window")
	flag.BoolVar(&opts.json, "json", false, "print JSON instead of a table")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	if err := run(cfg, opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if errors.Is(err, ErrNoStore) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type listOptions struct {
	n        int
	minScore float64
	alive    bool
	since    time.Duration
	json     bool
}

func (o listOptions) filter(now time.Time) repo.Filter {
	f := repo.Filter{Limit: o.n, Alive: o.alive}
	if o.minScore >= 0 {
		score := o.minScore
		f.MinScore = &score
	}
	if o.since > 0 {
		f.CheckedSince = now.Add(-o.since)
	}
	return f
}

// run returns errors instead of exiting so deferred cleanup always runs.
func run(cfg config.Config, opts listOptions, out io.Writer) error {
	if backend.Scheme(cfg.DatabaseURL) == "memory" {
		return ErrNoStore
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := backend.Open(ctx, backend.Options{DSN: cfg.DatabaseURL, Table: cfg.Table, MaxConns: 1}, zap.NewNop())
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}
	defer store.Close()

	ps, err := store.Query(ctx, opts.filter(time.Now()))
	if err != nil {
		return fmt.Errorf("querying proxies: %w", err)
	}

	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(ps)
	}
	printTable(out, ps)
	return nil
}

func printTable(out io.Writer, ps []domain.Proxy) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROXY\tSCORE\tSPEED\tSUCCESS\tSTABILITY\tCHECKED")
	for _, p := range ps {
		checked := "-"
		if p.LastChecked != nil {
			checked = p.LastChecked.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Candidate().String(), num(p.Score, "%.3f"), num(p.Speed, "%.3fs"),
			num(p.SuccessRate, "%.2f"), num(p.Stability, "%.3f"), checked)
	}
	_ = w.Flush()
	if len(ps) == 0 {
		fmt.Fprintln(out, "No proxies stored yet.")
	}
}

func num(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}
