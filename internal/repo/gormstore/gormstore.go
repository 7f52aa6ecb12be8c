// Package gormstore implements repo.Repository over gorm so the SQLite and
// MySQL adapters only supply a dialector, DDL and error classification.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hamed0406/proxyscore/internal/domain"
	"github.com/hamed0406/proxyscore/internal/repo"
)

var _ repo.Repository = (*Store)(nil)

// Dialect describes one SQL flavour. Schema statements take the table name
// as %[1]s.
type Dialect struct {
	Name     string
	Schema   []string
	Classify func(error) repo.Kind
}

type row struct {
	ID          int64      `gorm:"column:id;primaryKey;autoIncrement"`
	IP          string     `gorm:"column:ip"`
	Port        string     `gorm:"column:port"`
	Speed       *float64   `gorm:"column:speed"`
	SuccessRate *float64   `gorm:"column:success_rate"`
	Stability   *float64   `gorm:"column:stability"`
	Score       *float64   `gorm:"column:score"`
	LastChecked *time.Time `gorm:"column:last_checked"`
}

var updatable = []string{"speed", "success_rate", "stability", "score", "last_checked"}

type Store struct {
	db      *gorm.DB
	table   string
	dialect Dialect
	log     *zap.Logger
}

// Open connects through dialector, applies the dialect's schema and caps
// the connection pool at maxConns when it is positive.
func Open(ctx context.Context, dialector gorm.Dialector, d Dialect, table string, maxConns int, log *zap.Logger) (*Store, error) {
	if err := repo.ValidateTableName(table); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, &repo.StorageError{Op: "open", Backend: d.Name, Kind: repo.KindUnavailable, Err: err}
	}
	s := &Store{db: db, table: table, dialect: d, log: log}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, s.wrap("open", err)
	}
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(maxConns)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, &repo.StorageError{Op: "ping", Backend: d.Name, Kind: repo.KindUnavailable, Err: err}
	}

	for _, stmt := range d.Schema {
		if err := db.WithContext(ctx).Exec(fmt.Sprintf(stmt, table)).Error; err != nil {
			sqlDB.Close()
			return nil, s.wrap("migrate", err)
		}
	}
	log.Info("gorm_store_ready", zap.String("backend", d.Name), zap.String("table", table))
	return s, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return s.wrap("close", err)
	}
	return sqlDB.Close()
}

// Upsert issues a single INSERT ... ON CONFLICT / ON DUPLICATE KEY UPDATE,
// then reads back the surrogate id.
func (s *Store) Upsert(ctx context.Context, p *domain.Proxy) error {
	if err := repo.ValidateProxy(p); err != nil {
		return err
	}
	r := fromDomain(p)
	err := s.db.WithContext(ctx).Table(s.table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ip"}, {Name: "port"}},
		DoUpdates: clause.AssignmentColumns(updatable),
	}).Create(&r).Error
	if err != nil {
		return s.wrap("upsert", err)
	}

	var id int64
	err = s.db.WithContext(ctx).Table(s.table).
		Select("id").
		Where("ip = ? AND port = ?", p.IP, p.Port).
		Take(&id).Error
	if err != nil {
		return s.wrap("upsert", err)
	}
	p.ID = id
	return nil
}

func (s *Store) Query(ctx context.Context, f repo.Filter) ([]domain.Proxy, error) {
	q := s.db.WithContext(ctx).Table(s.table)
	if f.MinScore != nil {
		q = q.Where("score >= ?", *f.MinScore)
	}
	if !f.CheckedSince.IsZero() {
		q = q.Where("last_checked >= ?", f.CheckedSince.UTC())
	}
	if f.Alive {
		q = q.Where("success_rate > 0")
	}
	q = q.Order(repo.OrderBy)
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []row
	if err := q.Find(&rows).Error; err != nil {
		return nil, s.wrap("query", err)
	}
	out := make([]domain.Proxy, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, ip, port string) (*domain.Proxy, error) {
	var r row
	err := s.db.WithContext(ctx).Table(s.table).
		Where("ip = ? AND port = ?", ip, port).
		Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap("get", err)
	}
	p := r.toDomain()
	return &p, nil
}

func (s *Store) wrap(op string, err error) error {
	return &repo.StorageError{Op: op, Backend: s.dialect.Name, Kind: s.classify(err), Err: err}
}

func (s *Store) classify(err error) repo.Kind {
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey),
		errors.Is(err, gorm.ErrForeignKeyViolated),
		errors.Is(err, gorm.ErrCheckConstraintViolated):
		return repo.KindConstraint
	case errors.Is(err, gorm.ErrInvalidData), errors.Is(err, gorm.ErrInvalidValue):
		return repo.KindInvalid
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return repo.KindUnavailable
	}
	if s.dialect.Classify != nil {
		if k := s.dialect.Classify(err); k != "" {
			return k
		}
	}
	return repo.KindQuery
}

func fromDomain(p *domain.Proxy) row {
	r := row{
		IP:          p.IP,
		Port:        p.Port,
		Speed:       p.Speed,
		SuccessRate: p.SuccessRate,
		Stability:   p.Stability,
		Score:       p.Score,
	}
	if p.LastChecked != nil {
		t := p.LastChecked.UTC()
		r.LastChecked = &t
	}
	return r
}

func (r row) toDomain() domain.Proxy {
	p := domain.Proxy{
		ID:          r.ID,
		IP:          r.IP,
		Port:        r.Port,
		Speed:       r.Speed,
		SuccessRate: r.SuccessRate,
		Stability:   r.Stability,
		Score:       r.Score,
	}
	if r.LastChecked != nil {
		t := r.LastChecked.UTC()
		p.LastChecked = &t
	}
	return p
}
