package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hamed0406/proxyscore/internal/domain"
	"github.com/hamed0406/proxyscore/internal/probe"
	"github.com/hamed0406/proxyscore/internal/repo"
	"github.com/hamed0406/proxyscore/internal/repo/memory"
	"github.com/hamed0406/proxyscore/internal/source"
	"github.com/hamed0406/proxyscore/internal/verify"
)

// scripted answers by ip: fast hosts answer in ~80ms, anything else times out.
func scripted(fast map[string][]time.Duration) probe.Prober {
	var mu sync.Mutex
	calls := map[string]int{}
	return probe.ProberFunc(func(ctx context.Context, c domain.Candidate) domain.RoundOutcome {
		lat, ok := fast[c.IP]
		if !ok {
			return domain.Failure(domain.FailureTimeout, "deadline exceeded")
		}
		mu.Lock()
		i := calls[c.IP]
		calls[c.IP]++
		mu.Unlock()
		return domain.Success(lat[i%len(lat)])
	})
}

func newPipeline(t *testing.T, src source.Source, p probe.Prober, r repo.Repository) (*Pipeline, *clock.Mock) {
	t.Helper()
	v, err := verify.New(p, verify.Options{Rounds: 3, Timeout: 5 * time.Second, MaxConcurrency: 4}, zap.NewNop(), nil)
	require.NoError(t, err)
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 5, 4, 3, 2, 1, 0, time.UTC))
	return New(src, v, r, Options{WriteConcurrency: 2}, zap.NewNop(), nil).WithClock(mock), mock
}

func TestRunOnce_EndToEnd(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	src := source.Static{Candidates: []domain.Candidate{
		{IP: "1.2.3.4", Port: "8080"},
		{IP: "5.6.7.8", Port: "3128"},
	}}
	prober := scripted(map[string][]time.Duration{
		"1.2.3.4": {79 * time.Millisecond, 80 * time.Millisecond, 81 * time.Millisecond},
	})
	pl, mock := newPipeline(t, src, prober, store)

	sum, err := pl.RunOnce(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, sum.PassID)
	assert.Equal(t, 2, sum.Candidates)
	assert.Equal(t, 1, sum.Alive)
	assert.Equal(t, 1, sum.Dead)
	assert.Equal(t, 2, sum.Stored)

	all, err := store.Query(ctx, repo.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	good, err := store.Get(ctx, "1.2.3.4", "8080")
	require.NoError(t, err)
	require.NotNil(t, good)
	require.NotNil(t, good.Score)
	assert.InDelta(t, 1.0, *good.Score, 0.01)
	assert.InDelta(t, 0.08, *good.Speed, 0.001)
	assert.Equal(t, 1.0, *good.SuccessRate)
	require.NotNil(t, good.LastChecked)
	assert.True(t, good.LastChecked.Equal(mock.Now()))

	bad, err := store.Get(ctx, "5.6.7.8", "3128")
	require.NoError(t, err)
	require.NotNil(t, bad)
	assert.Nil(t, bad.Score)
	assert.Nil(t, bad.Speed)
	assert.Nil(t, bad.Stability)
	assert.Equal(t, 0.0, *bad.SuccessRate)
	assert.NotNil(t, bad.LastChecked)

	// a second pass overwrites instead of adding rows
	mock.Add(time.Hour)
	_, err = pl.RunOnce(ctx)
	require.NoError(t, err)
	all, _ = store.Query(ctx, repo.Filter{})
	assert.Len(t, all, 2)
	again, _ := store.Get(ctx, "1.2.3.4", "8080")
	assert.True(t, again.LastChecked.Equal(mock.Now()))
}

func TestRunOnce_SkipsMalformedAndDuplicates(t *testing.T) {
	store := memory.New()
	src := source.Static{Candidates: []domain.Candidate{
		{IP: "1.2.3.4", Port: "8080"},
		{IP: "1.2.3.4", Port: "8080"},
		{IP: "localhost", Port: "80"},
		{IP: "1.2.3.4"},
	}}
	pl, _ := newPipeline(t, src, scripted(map[string][]time.Duration{"1.2.3.4": {10 * time.Millisecond}}), store)

	sum, err := pl.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Candidates)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Stored)
}

type brokenRepo struct{ repo.Repository }

func (brokenRepo) Upsert(context.Context, *domain.Proxy) error {
	return &repo.StorageError{Op: "upsert", Backend: "fake", Kind: repo.KindUnavailable, Err: errors.New("connection refused")}
}

func TestRunOnce_PropagatesStorageErrors(t *testing.T) {
	src := source.Static{Candidates: []domain.Candidate{
		{IP: "1.2.3.4", Port: "8080"},
		{IP: "5.6.7.8", Port: "3128"},
	}}
	pl, _ := newPipeline(t, src, scripted(nil), brokenRepo{memory.New()})

	sum, err := pl.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, repo.IsUnavailable(err))
	var se *repo.StorageError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, 0, sum.Stored)
}

type emptyFailing struct{}

func (emptyFailing) Name() string { return "down" }
func (emptyFailing) Fetch(context.Context) ([]domain.Candidate, error) {
	return nil, errors.New("source unreachable")
}

func TestRunOnce_FetchFailure(t *testing.T) {
	pl, _ := newPipeline(t, emptyFailing{}, scripted(nil), memory.New())

	_, err := pl.RunOnce(context.Background())
	assert.ErrorContains(t, err, "source unreachable")
}

func TestRunOnce_PassTimeoutKeepsCompletedRounds(t *testing.T) {
	store := memory.New()
	src := source.Static{Candidates: []domain.Candidate{{IP: "1.2.3.4", Port: "8080"}}}
	var n int
	p := probe.ProberFunc(func(ctx context.Context, c domain.Candidate) domain.RoundOutcome {
		n++
		if n == 1 {
			return domain.Success(20 * time.Millisecond)
		}
		<-ctx.Done()
		return domain.Failure(domain.FailureTimeout, ctx.Err().Error())
	})
	v, err := verify.New(p, verify.Options{Rounds: 3, Timeout: 5 * time.Second, MaxConcurrency: 1}, zap.NewNop(), nil)
	require.NoError(t, err)
	pl := New(src, v, store, Options{WriteConcurrency: 1, PassTimeout: 50 * time.Millisecond}, zap.NewNop(), nil)

	sum, err := pl.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Partial)
	assert.Equal(t, 1, sum.Stored)

	got, _ := store.Get(context.Background(), "1.2.3.4", "8080")
	require.NotNil(t, got)
	assert.Equal(t, 1.0, *got.SuccessRate)
	assert.Nil(t, got.Score)
}
