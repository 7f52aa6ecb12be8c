// Package backend picks a repository adapter from the connection string.
package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/proxyscore/internal/repo"
	"github.com/hamed0406/proxyscore/internal/repo/cached"
	"github.com/hamed0406/proxyscore/internal/repo/memory"
	"github.com/hamed0406/proxyscore/internal/repo/mysql"
	"github.com/hamed0406/proxyscore/internal/repo/postgres"
	"github.com/hamed0406/proxyscore/internal/repo/sqlite"
)

type Options struct {
	DSN      string
	Table    string
	MaxConns int
	CacheTTL time.Duration // wraps the store in a query cache when > 0
}

// Open dispatches on the DSN scheme:
//
//	""  or memory://              in-process map
//	postgres:// or postgresql://  pgx pool
//	sqlite://<path>               glebarez sqlite file
//	mysql://<go-sql-driver DSN>   gorm mysql
func Open(ctx context.Context, opts Options, log *zap.Logger) (repo.Repository, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Table == "" {
		opts.Table = repo.DefaultTable
	}
	if err := repo.ValidateTableName(opts.Table); err != nil {
		return nil, err
	}

	var (
		r    repo.Repository
		err  error
		kind = Scheme(opts.DSN)
	)
	switch kind {
	case "memory":
		r = memory.New()
	case "postgres":
		r, err = postgres.New(ctx, opts.DSN, opts.Table, opts.MaxConns, log)
	case "sqlite":
		r, err = sqlite.Open(ctx, strings.TrimPrefix(opts.DSN, "sqlite://"), opts.Table, log)
	case "mysql":
		r, err = mysql.Open(ctx, strings.TrimPrefix(opts.DSN, "mysql://"), opts.Table, opts.MaxConns, log)
	default:
		return nil, &repo.StorageError{
			Op:   "open",
			Kind: repo.KindInvalid,
			Err:  fmt.Errorf("%w: scheme of %q", repo.ErrUnsupportedBackend, redact(opts.DSN)),
		}
	}
	if err != nil {
		return nil, err
	}

	log.Info("repository_opened", zap.String("backend", kind), zap.String("table", opts.Table), zap.Duration("cache_ttl", opts.CacheTTL))
	if opts.CacheTTL > 0 {
		r = cached.New(r, opts.CacheTTL)
	}
	return r, nil
}

// Scheme names the backend a DSN selects, or "" when none matches.
func Scheme(dsn string) string {
	switch {
	case dsn == "", strings.HasPrefix(dsn, "memory://"):
		return "memory"
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite"
	case strings.HasPrefix(dsn, "mysql://"):
		return "mysql"
	}
	return ""
}

// redact drops everything after the scheme so credentials never reach logs.
func redact(dsn string) string {
	if i := strings.Index(dsn, "://"); i >= 0 {
		return dsn[:i+3] + "..."
	}
	if len(dsn) > 8 {
		return dsn[:8] + "..."
	}
	return dsn
}
