package probe

import (
	"context"

	"github.com/hamed0406/proxyscore/internal/domain"
)

// Prober runs a single timed test against one candidate. The deadline is
// carried by ctx; implementations never retry.
type Prober interface {
	Probe(ctx context.Context, c domain.Candidate) domain.RoundOutcome
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, c domain.Candidate) domain.RoundOutcome

func (f ProberFunc) Probe(ctx context.Context, c domain.Candidate) domain.RoundOutcome {
	return f(ctx, c)
}

type roundKey struct{}

// WithRound tags ctx with the zero-based round index of the candidate being
// probed. Probers that test several targets pick one from it.
func WithRound(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, roundKey{}, n)
}

// Round returns the index set by WithRound, or 0.
func Round(ctx context.Context) int {
	n, _ := ctx.Value(roundKey{}).(int)
	return n
}
