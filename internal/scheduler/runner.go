package scheduler

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/hamed0406/proxyscore/internal/pipeline"
	"github.com/hamed0406/proxyscore/internal/repo"
)

// Pass is one fetch-verify-store cycle.
type Pass interface {
	RunOnce(ctx context.Context) (pipeline.Summary, error)
}

type Runner struct {
	Logger   *zap.Logger
	Fresh    Pass // new candidates from the configured sources
	Reverify Pass // stored proxies; nil to skip
	Alerter  *Alerter
	Interval time.Duration
	Clock    clock.Clock
}

func NewRunner(logger *zap.Logger, fresh, reverify Pass, alerter *Alerter, interval time.Duration) *Runner {
	if interval < 0 {
		interval = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		Logger:   logger,
		Fresh:    fresh,
		Reverify: reverify,
		Alerter:  alerter,
		Interval: interval,
		Clock:    clock.New(),
	}
}

// Run does an immediate cycle, then one per tick until ctx is cancelled.
// With a zero interval it runs a single cycle and returns its error.
func (r *Runner) Run(ctx context.Context) error {
	if r.Interval == 0 {
		return r.cycle(ctx)
	}
	t := r.Clock.Ticker(r.Interval)
	defer t.Stop()

	_ = r.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			r.Logger.Info("runner_stopped")
			return nil
		case <-t.C:
			_ = r.cycle(ctx)
		}
	}
}

// cycle runs the reverify pass first so fresh candidates never wait behind
// it, then the fresh pass, then the pool check. Errors are logged and the
// last one is returned.
func (r *Runner) cycle(ctx context.Context) error {
	var last error
	for _, p := range []struct {
		name string
		pass Pass
	}{{"reverify", r.Reverify}, {"fresh", r.Fresh}} {
		if p.pass == nil || ctx.Err() != nil {
			continue
		}
		sum, err := p.pass.RunOnce(ctx)
		if err != nil {
			last = err
			r.Logger.Warn("runner_pass_error",
				zap.String("pass", p.name),
				zap.String("pass_id", sum.PassID),
				zap.String("kind", string(repo.KindOf(err))),
				zap.Error(err),
			)
			continue
		}
		r.Logger.Info("runner_pass_done",
			zap.String("pass", p.name),
			zap.String("pass_id", sum.PassID),
			zap.Int("stored", sum.Stored),
			zap.Int("alive", sum.Alive),
		)
	}
	if r.Alerter != nil && ctx.Err() == nil {
		if err := r.Alerter.Check(ctx); err != nil {
			r.Logger.Warn("runner_alert_error", zap.Error(err))
		}
	}
	return last
}
