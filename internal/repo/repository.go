package repo

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/hamed0406/proxyscore/internal/domain"
)

// DefaultTable is the table proxies are stored in unless configured.
const DefaultTable = "proxy"

// Repository is the storage port. Every backend adapter implements it with
// the same semantics: Upsert is atomic per record and keyed by the exact
// (ip, port) strings, Get returns nil, nil when nothing is stored.
type Repository interface {
	Upsert(ctx context.Context, p *domain.Proxy) error
	Query(ctx context.Context, f Filter) ([]domain.Proxy, error)
	Get(ctx context.Context, ip, port string) (*domain.Proxy, error)
	Close() error
}

// Filter narrows Query. The zero value returns every record.
type Filter struct {
	MinScore     *float64  // only records with a defined score >= MinScore
	Limit        int       // 0 means no limit
	CheckedSince time.Time // only records checked at or after this instant
	Alive        bool      // only records with success_rate > 0
}

// Match reports whether p passes f. Backends that filter in SQL use it in
// tests; the memory store filters with it directly.
func (f Filter) Match(p domain.Proxy) bool {
	if f.MinScore != nil && (p.Score == nil || *p.Score < *f.MinScore) {
		return false
	}
	if !f.CheckedSince.IsZero() && (p.LastChecked == nil || p.LastChecked.Before(f.CheckedSince)) {
		return false
	}
	if f.Alive && (p.SuccessRate == nil || *p.SuccessRate <= 0) {
		return false
	}
	return true
}

// Sort orders proxies the way every backend returns them: score desc with
// undefined scores last, then last_checked desc, then ip and port.
func Sort(ps []domain.Proxy) {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if (a.Score == nil) != (b.Score == nil) {
			return a.Score != nil
		}
		if a.Score != nil && *a.Score != *b.Score {
			return *a.Score > *b.Score
		}
		if (a.LastChecked == nil) != (b.LastChecked == nil) {
			return a.LastChecked != nil
		}
		if a.LastChecked != nil && !a.LastChecked.Equal(*b.LastChecked) {
			return a.LastChecked.After(*b.LastChecked)
		}
		if a.IP != b.IP {
			return a.IP < b.IP
		}
		return a.Port < b.Port
	})
}

// OrderBy is the SQL form of Sort for backends without NULLS LAST.
const OrderBy = "score IS NULL, score DESC, last_checked IS NULL, last_checked DESC, ip, port"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateTableName rejects anything that is not a plain identifier, since
// the name is interpolated into DDL and queries.
func ValidateTableName(name string) error {
	if !tableName.MatchString(name) {
		return &StorageError{Op: "validate_table", Kind: KindInvalid, Err: fmt.Errorf("bad table name %q", name)}
	}
	return nil
}

// ValidateProxy checks the fields every backend requires.
func ValidateProxy(p *domain.Proxy) error {
	if p == nil {
		return &StorageError{Op: "upsert", Kind: KindInvalid, Err: fmt.Errorf("nil proxy")}
	}
	if p.IP == "" || p.Port == "" {
		return &StorageError{Op: "upsert", Kind: KindInvalid, Err: fmt.Errorf("ip and port are required, got %q:%q", p.IP, p.Port)}
	}
	return nil
}
