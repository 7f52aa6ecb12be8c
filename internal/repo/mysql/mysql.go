// Package mysql opens a proxy store on MySQL or MariaDB. ip and port use a
// binary collation so identity is the exact string on every backend.
package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	gormmysql "gorm.io/driver/mysql"

	"github.com/hamed0406/proxyscore/internal/repo"
	"github.com/hamed0406/proxyscore/internal/repo/gormstore"
)

var dialect = gormstore.Dialect{
	Name: "mysql",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS %[1]s (
  id           BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
  ip           VARCHAR(64) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
  port         VARCHAR(16) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
  speed        DOUBLE NULL,
  success_rate DOUBLE NULL,
  stability    DOUBLE NULL,
  score        DOUBLE NULL,
  last_checked DATETIME(6) NULL,
  UNIQUE KEY %[1]s_ip_port (ip, port),
  KEY %[1]s_score_idx (score, last_checked)
) ENGINE=InnoDB`,
	},
	Classify: classify,
}

// Open takes a go-sql-driver DSN (user:pass@tcp(host:3306)/db). parseTime
// and UTC are forced so last_checked round-trips as time.Time.
func Open(ctx context.Context, dsn, table string, maxConns int, log *zap.Logger) (*gormstore.Store, error) {
	cfg, err := mysqldrv.ParseDSN(dsn)
	if err != nil {
		return nil, &repo.StorageError{Op: "open", Backend: dialect.Name, Kind: repo.KindInvalid, Err: err}
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return gormstore.Open(ctx, gormmysql.Open(cfg.FormatDSN()), dialect, table, maxConns, log)
}

// MySQL error numbers.
const (
	erDupEntry         = 1062
	erDataTooLong      = 1406
	erTruncatedValue   = 1366
	erConCount         = 1040
	erLockWaitTimeout  = 1205
	erServerShutdown   = 1053
	erAccessDenied     = 1045
	erNoSuchTable      = 1146
	erLockDeadlock     = 1213
	erOutOfRangeValue  = 1264
	erBadNullError     = 1048
	erTooManyUserConns = 1203
)

func classify(err error) repo.Kind {
	var me *mysqldrv.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case erDupEntry, erBadNullError:
			return repo.KindConstraint
		case erDataTooLong, erTruncatedValue, erOutOfRangeValue:
			return repo.KindInvalid
		case erConCount, erTooManyUserConns, erServerShutdown, erAccessDenied, erLockWaitTimeout, erLockDeadlock:
			return repo.KindUnavailable
		case erNoSuchTable:
			return repo.KindQuery
		}
		return ""
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysqldrv.ErrInvalidConn) {
		return repo.KindUnavailable
	}
	return ""
}
