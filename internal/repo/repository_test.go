package repo_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamed0406/proxyscore/internal/domain"
	"github.com/hamed0406/proxyscore/internal/repo"
	"github.com/hamed0406/proxyscore/internal/repo/cached"
	"github.com/hamed0406/proxyscore/internal/repo/gormstore"
	"github.com/hamed0406/proxyscore/internal/repo/memory"
	pg "github.com/hamed0406/proxyscore/internal/repo/postgres"
)

// Compile-time interface satisfaction checks.
// Using external test package avoids import cycle.
func TestInterfaceSatisfaction(t *testing.T) {
	var _ repo.Repository = memory.New()
	var _ repo.Repository = (*pg.Store)(nil)
	var _ repo.Repository = (*gormstore.Store)(nil)
	var _ repo.Repository = (*cached.Store)(nil)
}

func TestValidateTableName(t *testing.T) {
	for _, ok := range []string{"proxy", "proxies_v2", "_tmp"} {
		assert.NoError(t, repo.ValidateTableName(ok), ok)
	}
	for _, bad := range []string{"", "1proxy", "proxy;drop table x", "my-table", "a b"} {
		err := repo.ValidateTableName(bad)
		require.Error(t, err, bad)
		assert.Equal(t, repo.KindInvalid, repo.KindOf(err))
	}
}

func TestStorageError_Branching(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("pass: %w", &repo.StorageError{Op: "upsert", Backend: "postgres", Kind: repo.KindUnavailable, Err: cause})

	assert.True(t, repo.IsUnavailable(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, repo.Kind(""), repo.KindOf(cause))
	assert.Contains(t, err.Error(), "postgres upsert (unavailable)")
}

func TestSort(t *testing.T) {
	t1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	ps := []domain.Proxy{
		{IP: "10.0.0.4", Port: "80", LastChecked: &t2},
		{IP: "10.0.0.3", Port: "80", Score: domain.Float(0.5), LastChecked: &t1},
		{IP: "10.0.0.2", Port: "80", Score: domain.Float(0.9), LastChecked: &t1},
		{IP: "10.0.0.1", Port: "81", Score: domain.Float(0.5), LastChecked: &t2},
		{IP: "10.0.0.1", Port: "80", Score: domain.Float(0.5), LastChecked: &t2},
	}
	repo.Sort(ps)

	var got []string
	for _, p := range ps {
		got = append(got, p.IP+":"+p.Port)
	}
	assert.Equal(t, []string{
		"10.0.0.2:80",
		"10.0.0.1:80",
		"10.0.0.1:81",
		"10.0.0.3:80",
		"10.0.0.4:80",
	}, got)
}

func TestFilter_Match(t *testing.T) {
	now := time.Now().UTC()
	alive := domain.Proxy{IP: "10.0.0.1", Port: "80", Score: domain.Float(0.7), SuccessRate: domain.Float(1), LastChecked: &now}
	dead := domain.Proxy{IP: "10.0.0.2", Port: "80", SuccessRate: domain.Float(0), LastChecked: &now}

	assert.True(t, repo.Filter{}.Match(dead))
	assert.True(t, repo.Filter{MinScore: domain.Float(0.7)}.Match(alive))
	assert.False(t, repo.Filter{MinScore: domain.Float(0.1)}.Match(dead))
	assert.False(t, repo.Filter{Alive: true}.Match(dead))
	assert.False(t, repo.Filter{CheckedSince: now.Add(time.Second)}.Match(alive))
}
