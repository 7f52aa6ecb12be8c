// Package verify runs the configured number of probe rounds against each
// candidate while holding at most MaxConcurrency candidates in flight.
package verify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/hamed0406/proxyscore/internal/domain"
	"github.com/hamed0406/proxyscore/internal/metrics"
	"github.com/hamed0406/proxyscore/internal/probe"
)

var ErrInvalidOptions = errors.New("invalid verifier options")

type Options struct {
	Rounds         int
	Timeout        time.Duration
	MaxConcurrency int
}

func (o Options) validate() error {
	switch {
	case o.Rounds < 1:
		return fmt.Errorf("%w: rounds must be >= 1, got %d", ErrInvalidOptions, o.Rounds)
	case o.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be > 0, got %s", ErrInvalidOptions, o.Timeout)
	case o.MaxConcurrency < 1:
		return fmt.Errorf("%w: max concurrency must be >= 1, got %d", ErrInvalidOptions, o.MaxConcurrency)
	}
	return nil
}

// ScheduleError reports a candidate that was never probed.
type ScheduleError struct {
	Candidate domain.Candidate
	Err       error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("schedule %q: %v", e.Candidate.String(), e.Err)
}

func (e *ScheduleError) Unwrap() error { return e.Err }

// Verified is one candidate's outcome. Err is set only for candidates that
// could not be scheduled; a dead proxy is a normal Result.
type Verified struct {
	Result domain.CheckResult
	Err    error
}

type Verifier struct {
	prober  probe.Prober
	opts    Options
	gate    *semaphore.Weighted
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(p probe.Prober, opts Options, log *zap.Logger, m *metrics.Metrics) (*Verifier, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{
		prober:  p,
		opts:    opts,
		gate:    semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		log:     log,
		metrics: m,
	}, nil
}

func (v *Verifier) Options() Options { return v.opts }

// Stream verifies candidates as they arrive on in. The returned channel is
// closed once in is closed and every admitted candidate has finished; the
// caller must drain it. When ctx ends, candidates still waiting for a slot
// come back as empty partial results.
func (v *Verifier) Stream(ctx context.Context, in <-chan domain.Candidate) <-chan Verified {
	out := make(chan Verified)
	go func() {
		var wg sync.WaitGroup
		defer func() {
			wg.Wait()
			close(out)
		}()

		for c := range in {
			if err := c.Validate(); err != nil {
				v.log.Warn("verify_candidate_skipped",
					zap.String("candidate", c.String()),
					zap.Error(err),
				)
				v.metrics.Candidate(metrics.ResultSkipped)
				out <- Verified{Err: &ScheduleError{Candidate: c, Err: err}}
				continue
			}

			if err := v.gate.Acquire(ctx, 1); err != nil {
				v.metrics.Candidate(metrics.ResultPartial)
				out <- Verified{Result: domain.CheckResult{Candidate: c, Planned: v.opts.Rounds, Partial: true}}
				continue
			}

			wg.Add(1)
			go func(c domain.Candidate) {
				defer wg.Done()
				res := v.check(ctx, c)
				v.gate.Release(1)
				out <- Verified{Result: res}
			}(c)
		}
	}()
	return out
}

// VerifyAll verifies a batch and returns results in completion order.
func (v *Verifier) VerifyAll(ctx context.Context, cs []domain.Candidate) []Verified {
	in := make(chan domain.Candidate)
	go func() {
		defer close(in)
		for _, c := range cs {
			in <- c
		}
	}()

	out := make([]Verified, 0, len(cs))
	for r := range v.Stream(ctx, in) {
		out = append(out, r)
	}
	return out
}

// check runs the rounds for one admitted candidate. A failed round never
// stops the next one; only the end of ctx does.
func (v *Verifier) check(ctx context.Context, c domain.Candidate) domain.CheckResult {
	v.metrics.SlotAcquired()
	defer v.metrics.SlotReleased()

	res := domain.CheckResult{
		Candidate: c,
		Planned:   v.opts.Rounds,
		Rounds:    make([]domain.RoundOutcome, 0, v.opts.Rounds),
	}
	for i := 0; i < v.opts.Rounds; i++ {
		if ctx.Err() != nil {
			res.Partial = true
			break
		}
		own := time.Now().Add(v.opts.Timeout)
		rctx, cancel := context.WithTimeout(probe.WithRound(ctx, i), v.opts.Timeout)
		o := v.prober.Probe(rctx, c)
		cancel()

		if cutByPass(ctx, o, own) {
			res.Partial = true
			break
		}
		res.Record(o)
		v.metrics.ObserveRound(o)
	}

	switch {
	case res.Partial:
		v.metrics.Candidate(metrics.ResultPartial)
	case res.Successes() > 0:
		v.metrics.Candidate(metrics.ResultAlive)
	default:
		v.metrics.Candidate(metrics.ResultDead)
	}

	v.log.Debug("verify_candidate_done",
		zap.String("candidate", c.String()),
		zap.Int("rounds", res.Attempts()),
		zap.Int("successes", res.Successes()),
		zap.Bool("partial", res.Partial),
	)
	return res
}

// cutByPass reports whether a failed round only failed because ctx ended
// before the round's own deadline. Such a round did not complete.
func cutByPass(ctx context.Context, o domain.RoundOutcome, own time.Time) bool {
	if o.OK() || o.Failure != domain.FailureTimeout || ctx.Err() == nil {
		return false
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if dl, ok := ctx.Deadline(); ok && own.Before(dl) {
			return false
		}
	}
	return true
}
