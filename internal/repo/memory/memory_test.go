package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hamed0406/proxyscore/internal/domain"
	"github.com/hamed0406/proxyscore/internal/repo"
)

func TestMemoryStore_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()

	now := time.Now().UTC()
	p := &domain.Proxy{IP: "10.0.0.1", Port: "8080", SuccessRate: domain.Float(1), Score: domain.Float(0.9), LastChecked: &now}
	if err := s.Upsert(ctx, p); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Upsert(ctx, p); err != nil {
		t.Fatalf("Upsert again: %v", err)
	}

	all, err := s.Query(ctx, repo.Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 record, got %d", len(all))
	}
	if *all[0].Score != 0.9 {
		t.Fatalf("unexpected score: %v", *all[0].Score)
	}
}

func TestMemoryStore_UpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	s := New()

	first := &domain.Proxy{IP: "10.0.0.1", Port: "8080", Score: domain.Float(0.9)}
	if err := s.Upsert(ctx, first); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	second := &domain.Proxy{IP: "10.0.0.1", Port: "8080", SuccessRate: domain.Float(0)}
	if err := s.Upsert(ctx, second); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("id changed on overwrite: %d -> %d", first.ID, second.ID)
	}

	got, err := s.Get(ctx, "10.0.0.1", "8080")
	if err != nil || got == nil {
		t.Fatalf("Get: %v, %v", got, err)
	}
	if got.Score != nil {
		t.Fatalf("score should be overwritten with nil, got %v", *got.Score)
	}
}

func TestMemoryStore_ExactStringIdentity(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, port := range []string{"80", "080"} {
		if err := s.Upsert(ctx, &domain.Proxy{IP: "10.0.0.1", Port: port}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	all, _ := s.Query(ctx, repo.Filter{})
	if len(all) != 2 {
		t.Fatalf("expected 2 distinct records, got %d", len(all))
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	got, err := New().Get(context.Background(), "10.0.0.9", "1")
	if err != nil || got != nil {
		t.Fatalf("want nil, nil; got %v, %v", got, err)
	}
}

func TestMemoryStore_RejectsMissingIdentity(t *testing.T) {
	err := New().Upsert(context.Background(), &domain.Proxy{IP: "10.0.0.1"})
	if repo.KindOf(err) != repo.KindInvalid {
		t.Fatalf("want invalid, got %v", err)
	}
}

func TestMemoryStore_QueryFilterAndLimit(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i, score := range []float64{0.2, 0.9, 0.5} {
		p := &domain.Proxy{IP: fmt.Sprintf("10.0.0.%d", i+1), Port: "80", Score: domain.Float(score), SuccessRate: domain.Float(1)}
		if err := s.Upsert(ctx, p); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	got, err := s.Query(ctx, repo.Filter{MinScore: domain.Float(0.3), Limit: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].IP != "10.0.0.2" {
		t.Fatalf("want best proxy only, got %+v", got)
	}
}

func TestMemoryStore_ConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Upsert(ctx, &domain.Proxy{IP: "10.0.0.1", Port: "8080", Score: domain.Float(float64(i) / 50)})
		}(i)
	}
	wg.Wait()
	all, _ := s.Query(ctx, repo.Filter{})
	if len(all) != 1 {
		t.Fatalf("expected 1 record after concurrent upserts, got %d", len(all))
	}
}
