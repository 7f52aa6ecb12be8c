package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/proxyscore/internal/domain"
	"github.com/hamed0406/proxyscore/internal/repo"
)

var _ repo.Repository = (*Store)(nil)

const backend = "postgres"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS %[1]s (
  id           BIGSERIAL PRIMARY KEY,
  ip           TEXT NOT NULL,
  port         TEXT NOT NULL,
  speed        DOUBLE PRECISION NULL,
  success_rate DOUBLE PRECISION NULL,
  stability    DOUBLE PRECISION NULL,
  score        DOUBLE PRECISION NULL,
  last_checked TIMESTAMPTZ NULL,
  UNIQUE (ip, port)
);

CREATE INDEX IF NOT EXISTS %[1]s_score_idx ON %[1]s (score DESC NULLS LAST, last_checked DESC NULLS LAST);
`

const columns = `id, ip, port, speed, success_rate, stability, score, last_checked`

type Store struct {
	pool  *pgxpool.Pool
	table string
	log   *zap.Logger
}

// New connects, pings and creates the table if it does not exist. maxConns
// caps the pool; 0 keeps the pgx default.
func New(ctx context.Context, dsn, table string, maxConns int, log *zap.Logger) (*Store, error) {
	if err := repo.ValidateTableName(table); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, &repo.StorageError{Op: "open", Backend: backend, Kind: repo.KindInvalid, Err: err}
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, wrap("open", fmt.Errorf("pgxpool.New: %w", err))
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, &repo.StorageError{Op: "ping", Backend: backend, Kind: repo.KindUnavailable, Err: err}
	}

	s := &Store{pool: pool, table: table, log: log}
	if _, err := pool.Exec(ctx, fmt.Sprintf(schemaSQL, table)); err != nil {
		pool.Close()
		return nil, wrap("migrate", err)
	}
	log.Info("postgres_store_ready", zap.String("table", table), zap.Int32("max_conns", cfg.MaxConns))
	return s, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, p *domain.Proxy) error {
	if err := repo.ValidateProxy(p); err != nil {
		return err
	}
	q := fmt.Sprintf(`
INSERT INTO %s (ip, port, speed, success_rate, stability, score, last_checked)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (ip, port) DO UPDATE SET
  speed        = EXCLUDED.speed,
  success_rate = EXCLUDED.success_rate,
  stability    = EXCLUDED.stability,
  score        = EXCLUDED.score,
  last_checked = EXCLUDED.last_checked
RETURNING id`, s.table)

	err := s.pool.QueryRow(ctx, q,
		p.IP, p.Port, p.Speed, p.SuccessRate, p.Stability, p.Score, p.LastChecked,
	).Scan(&p.ID)
	if err != nil {
		return wrap("upsert", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, f repo.Filter) ([]domain.Proxy, error) {
	var (
		where []string
		args  []any
	)
	if f.MinScore != nil {
		args = append(args, *f.MinScore)
		where = append(where, fmt.Sprintf("score >= $%d", len(args)))
	}
	if !f.CheckedSince.IsZero() {
		args = append(args, f.CheckedSince)
		where = append(where, fmt.Sprintf("last_checked >= $%d", len(args)))
	}
	if f.Alive {
		where = append(where, "success_rate > 0")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", columns, s.table)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(` ORDER BY score DESC NULLS LAST, last_checked DESC NULLS LAST, ip COLLATE "C", port COLLATE "C"`)
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, wrap("query", err)
	}
	defer rows.Close()

	var out []domain.Proxy
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, wrap("scan", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("query", err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, ip, port string) (*domain.Proxy, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE ip = $1 AND port = $2`, columns, s.table), ip, port)
	p, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get", err)
	}
	return &p, nil
}

func scan(row pgx.Row) (domain.Proxy, error) {
	var p domain.Proxy
	err := row.Scan(&p.ID, &p.IP, &p.Port, &p.Speed, &p.SuccessRate, &p.Stability, &p.Score, &p.LastChecked)
	if p.LastChecked != nil {
		t := p.LastChecked.UTC()
		p.LastChecked = &t
	}
	return p, err
}

// wrap classifies err by SQLSTATE class, falling back to transport checks.
func wrap(op string, err error) error {
	return &repo.StorageError{Op: op, Backend: backend, Kind: classify(err), Err: err}
}

func classify(err error) repo.Kind {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"):
			return repo.KindConstraint
		case strings.HasPrefix(pgErr.Code, "22"):
			return repo.KindInvalid
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57P"), strings.HasPrefix(pgErr.Code, "53"):
			return repo.KindUnavailable
		}
		return repo.KindQuery
	}
	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		pgconn.SafeToRetry(err) {
		return repo.KindUnavailable
	}
	return repo.KindQuery
}
