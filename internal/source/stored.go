package source

import (
	"context"
	"fmt"

	"github.com/hamed0406/proxyscore/internal/domain"
	"github.com/hamed0406/proxyscore/internal/repo"
)

// Stored re-verifies proxies already in the repository.
type Stored struct {
	Repo   repo.Repository
	Filter repo.Filter
}

func (s Stored) Name() string { return "stored" }

func (s Stored) Fetch(ctx context.Context) ([]domain.Candidate, error) {
	ps, err := s.Repo.Query(ctx, s.Filter)
	if err != nil {
		return nil, fmt.Errorf("stored source: %w", err)
	}
	out := make([]domain.Candidate, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Candidate())
	}
	return out, nil
}
