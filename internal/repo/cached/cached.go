// Package cached wraps a Repository with a short-lived LRU over Query
// results. Any successful Upsert purges the cache.
package cached

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hamed0406/proxyscore/internal/domain"
	"github.com/hamed0406/proxyscore/internal/repo"
)

var _ repo.Repository = (*Store)(nil)

const defaultSize = 128

type Store struct {
	next  repo.Repository
	cache *expirable.LRU[string, []domain.Proxy]

	// gen is bumped on every successful Upsert. A Query only caches what it
	// read if no Upsert finished in between.
	mu  sync.Mutex
	gen uint64
}

func New(next repo.Repository, ttl time.Duration) *Store {
	return &Store{
		next:  next,
		cache: expirable.NewLRU[string, []domain.Proxy](defaultSize, nil, ttl),
	}
}

func (s *Store) Upsert(ctx context.Context, p *domain.Proxy) error {
	if err := s.next.Upsert(ctx, p); err != nil {
		return err
	}
	s.mu.Lock()
	s.gen++
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

func (s *Store) Query(ctx context.Context, f repo.Filter) ([]domain.Proxy, error) {
	key := filterKey(f)
	if ps, ok := s.cache.Get(key); ok {
		return copyOut(ps), nil
	}
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	ps, err := s.next.Query(ctx, f)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.gen == gen {
		s.cache.Add(key, copyOut(ps))
	}
	s.mu.Unlock()
	return ps, nil
}

func (s *Store) Get(ctx context.Context, ip, port string) (*domain.Proxy, error) {
	return s.next.Get(ctx, ip, port)
}

func (s *Store) Close() error {
	s.cache.Purge()
	return s.next.Close()
}

func filterKey(f repo.Filter) string {
	min := "-"
	if f.MinScore != nil {
		min = fmt.Sprintf("%g", *f.MinScore)
	}
	return fmt.Sprintf("%s|%d|%d|%t", min, f.Limit, f.CheckedSince.UnixNano(), f.Alive)
}

func copyOut(ps []domain.Proxy) []domain.Proxy {
	out := make([]domain.Proxy, len(ps))
	for i, p := range ps {
		out[i] = clone(p)
	}
	return out
}

func clone(p domain.Proxy) domain.Proxy {
	cp := p
	cp.Speed = copyFloat(p.Speed)
	cp.SuccessRate = copyFloat(p.SuccessRate)
	cp.Stability = copyFloat(p.Stability)
	cp.Score = copyFloat(p.Score)
	if p.LastChecked != nil {
		t := *p.LastChecked
		cp.LastChecked = &t
	}
	return cp
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := *v
	return &f
}
