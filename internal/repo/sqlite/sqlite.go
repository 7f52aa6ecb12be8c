// Package sqlite opens a file-backed proxy store through the pure-Go
// glebarez driver.
package sqlite

import (
	"context"
	"strings"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"

	"github.com/hamed0406/proxyscore/internal/repo"
	"github.com/hamed0406/proxyscore/internal/repo/gormstore"
)

var dialect = gormstore.Dialect{
	Name: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS %[1]s (
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  ip           TEXT NOT NULL,
  port         TEXT NOT NULL,
  speed        REAL NULL,
  success_rate REAL NULL,
  stability    REAL NULL,
  score        REAL NULL,
  last_checked DATETIME NULL,
  UNIQUE (ip, port)
)`,
		`CREATE INDEX IF NOT EXISTS %[1]s_score_idx ON %[1]s (score DESC, last_checked DESC)`,
	},
	Classify: classify,
}

// Open opens path (a file name, or ":memory:"). SQLite serialises writers,
// so the pool is held to a single connection.
func Open(ctx context.Context, path, table string, log *zap.Logger) (*gormstore.Store, error) {
	if path == "" {
		path = "proxyscore.db"
	}
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	return gormstore.Open(ctx, sqlite.Open(dsn), dialect, table, 1, log)
}

func classify(err error) repo.Kind {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "constraint failed"):
		return repo.KindConstraint
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "unable to open"),
		strings.Contains(msg, "disk I/O error"),
		strings.Contains(msg, "sql: database is closed"):
		return repo.KindUnavailable
	case strings.Contains(msg, "datatype mismatch"):
		return repo.KindInvalid
	}
	return ""
}
