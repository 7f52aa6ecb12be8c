package memory

import (
	"context"
	"sync"

	"github.com/hamed0406/proxyscore/internal/domain"
	"github.com/hamed0406/proxyscore/internal/repo"
)

// Store keeps proxies in a map keyed by exact (ip, port). It is the default
// backend and the one tests run against.
type Store struct {
	mu      sync.RWMutex
	proxies map[string]*domain.Proxy
	nextID  int64
}

func New() *Store {
	return &Store{proxies: make(map[string]*domain.Proxy)}
}

func (m *Store) Upsert(ctx context.Context, p *domain.Proxy) error {
	if err := repo.ValidateProxy(p); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &repo.StorageError{Op: "upsert", Backend: "memory", Kind: repo.KindUnavailable, Err: err}
	}
	key := p.Candidate().Key()

	m.mu.Lock()
	defer m.mu.Unlock()
	cp := clone(*p)
	if cur, ok := m.proxies[key]; ok {
		cp.ID = cur.ID
	} else {
		m.nextID++
		cp.ID = m.nextID
	}
	m.proxies[key] = &cp
	p.ID = cp.ID
	return nil
}

func (m *Store) Query(ctx context.Context, f repo.Filter) ([]domain.Proxy, error) {
	m.mu.RLock()
	out := make([]domain.Proxy, 0, len(m.proxies))
	for _, p := range m.proxies {
		if f.Match(*p) {
			out = append(out, clone(*p))
		}
	}
	m.mu.RUnlock()

	repo.Sort(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Store) Get(ctx context.Context, ip, port string) (*domain.Proxy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proxies[domain.Candidate{IP: ip, Port: port}.Key()]
	if !ok {
		return nil, nil
	}
	cp := clone(*p)
	return &cp, nil
}

func (m *Store) Close() error { return nil }

// clone copies the optional fields so callers never share pointers with
// the stored record.
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
	return domain.Float(*v)
}
