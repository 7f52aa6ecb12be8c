// Package pipeline runs one pass: fetch candidates, verify them, score the
// results and upsert every scored record.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/proxyscore/internal/domain"
	"github.com/hamed0406/proxyscore/internal/metrics"
	"github.com/hamed0406/proxyscore/internal/repo"
	"github.com/hamed0406/proxyscore/internal/score"
	"github.com/hamed0406/proxyscore/internal/source"
	"github.com/hamed0406/proxyscore/internal/verify"
)

type Options struct {
	WriteConcurrency int
	PassTimeout      time.Duration // bounds fetch and verification, not writes
}

type Pipeline struct {
	source   source.Source
	verifier *verify.Verifier
	repo     repo.Repository
	opts     Options
	clock    clock.Clock
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func New(src source.Source, v *verify.Verifier, r repo.Repository, opts Options, log *zap.Logger, m *metrics.Metrics) *Pipeline {
	if opts.WriteConcurrency < 1 {
		opts.WriteConcurrency = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		source:   src,
		verifier: v,
		repo:     r,
		opts:     opts,
		clock:    clock.New(),
		log:      log,
		metrics:  m,
	}
}

// WithClock swaps the time source used for last_checked and durations.
func (p *Pipeline) WithClock(c clock.Clock) *Pipeline {
	p.clock = c
	return p
}

// Summary counts what happened in one pass.
type Summary struct {
	PassID     string
	Fetched    int
	Candidates int // after normalization
	Skipped    int // malformed, never probed
	Alive      int
	Dead       int
	Partial    int
	Stored     int
	Failed     int // upserts that returned an error
	Duration   time.Duration
}

// RunOnce executes a pass. Storage errors from individual upserts do not
// stop the pass; they are returned together once every write finished.
func (p *Pipeline) RunOnce(ctx context.Context) (Summary, error) {
	sum := Summary{PassID: uuid.NewString()}
	log := p.log.With(zap.String("pass_id", sum.PassID))
	start := p.clock.Now()

	vctx := ctx
	if p.opts.PassTimeout > 0 {
		var cancel context.CancelFunc
		vctx, cancel = context.WithTimeout(ctx, p.opts.PassTimeout)
		defer cancel()
	}

	raw, err := p.source.Fetch(vctx)
	sum.Fetched = len(raw)
	if err != nil {
		if len(raw) == 0 {
			return sum, fmt.Errorf("fetch %s: %w", p.source.Name(), err)
		}
		log.Warn("pipeline_fetch_partial", zap.String("source", p.source.Name()), zap.Error(err))
	}
	cands := source.Normalize(raw, log)
	sum.Candidates = len(cands)
	log.Info("pipeline_pass_start",
		zap.String("source", p.source.Name()),
		zap.Int("fetched", sum.Fetched),
		zap.Int("candidates", sum.Candidates),
	)

	in := make(chan domain.Candidate)
	go func() {
		defer close(in)
		for _, c := range cands {
			in <- c
		}
	}()

	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	g.SetLimit(p.opts.WriteConcurrency)

	for v := range p.verifier.Stream(vctx, in) {
		if v.Err != nil {
			sum.Skipped++
			continue
		}
		res := v.Result
		switch {
		case res.Partial:
			sum.Partial++
		case res.Successes() > 0:
			sum.Alive++
		default:
			sum.Dead++
		}
		// never probed: nothing measured, keep whatever is stored
		if res.Attempts() == 0 {
			continue
		}

		rec := score.Project(res.Candidate, res, score.Score(res), p.clock.Now())
		g.Go(func() error {
			err := p.repo.Upsert(ctx, &rec)
			p.metrics.Upsert(err)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Failed++
				errs = multierr.Append(errs, err)
				log.Warn("pipeline_upsert_error",
					zap.String("candidate", rec.Candidate().String()),
					zap.Error(err),
				)
				return nil
			}
			sum.Stored++
			return nil
		})
	}
	_ = g.Wait()

	sum.Duration = p.clock.Since(start)
	p.metrics.PassDone(sum.Duration)
	log.Info("pipeline_pass_done",
		zap.Int("alive", sum.Alive),
		zap.Int("dead", sum.Dead),
		zap.Int("partial", sum.Partial),
		zap.Int("skipped", sum.Skipped),
		zap.Int("stored", sum.Stored),
		zap.Int("failed", sum.Failed),
		zap.Duration("duration", sum.Duration),
	)
	return sum, errs
}
