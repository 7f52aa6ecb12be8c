// Package score turns the rounds run against a candidate into the metrics
// that get persisted. Everything here is pure.
package score

import (
	"time"

	"github.com/hamed0406/proxyscore/internal/domain"
)

// Composite weights.
const (
	SpeedWeight     = 0.4
	SuccessWeight   = 0.3
	StabilityWeight = 0.3
)

// speedBuckets maps mean latency to a speed score. A mean equal to a bound
// falls into the next, slower bucket.
var speedBuckets = []struct {
	below time.Duration
	score float64
}{
	{100 * time.Millisecond, 1.0},
	{500 * time.Millisecond, 0.8},
	{1000 * time.Millisecond, 0.5},
	{2000 * time.Millisecond, 0.3},
}

const slowestSpeed = 0.1

// ScoredMetrics is the derived view of one CheckResult. Nil means undefined.
type ScoredMetrics struct {
	SpeedScore     *float64
	SuccessRate    float64
	StabilityScore *float64
	Composite      *float64
}

// Score derives metrics from r. Speed needs at least one success, stability
// needs two, and the composite is only defined when both are.
func Score(r domain.CheckResult) ScoredMetrics {
	m := ScoredMetrics{SuccessRate: r.SuccessRate()}
	if mean, ok := r.MeanLatency(); ok {
		m.SpeedScore = domain.Float(SpeedScore(mean))
	}
	if s, ok := Stability(r); ok {
		m.StabilityScore = domain.Float(s)
	}
	if m.SpeedScore != nil && m.StabilityScore != nil {
		m.Composite = domain.Float(Composite(*m.SpeedScore, m.SuccessRate, *m.StabilityScore))
	}
	return m
}

func SpeedScore(mean time.Duration) float64 {
	for _, b := range speedBuckets {
		if mean < b.below {
			return b.score
		}
	}
	return slowestSpeed
}

// Stability is 1/(1+cv) with cv the coefficient of variation of successful
// latencies. Identical latencies give 1.0.
func Stability(r domain.CheckResult) (float64, bool) {
	sd, ok := r.StdDev()
	if !ok {
		return 0, false
	}
	mean, _ := r.MeanLatency()
	if mean <= 0 {
		return 1, true
	}
	cv := float64(sd) / float64(mean)
	return 1 / (1 + cv), true
}

func Composite(speed, success, stability float64) float64 {
	return clamp(SpeedWeight*speed + SuccessWeight*success + StabilityWeight*stability)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Project builds the record persisted for c. Speed is the mean latency in
// seconds, not the speed score.
func Project(c domain.Candidate, r domain.CheckResult, m ScoredMetrics, checkedAt time.Time) domain.Proxy {
	p := domain.Proxy{
		IP:          c.IP,
		Port:        c.Port,
		SuccessRate: domain.Float(m.SuccessRate),
		Stability:   m.StabilityScore,
		Score:       m.Composite,
	}
	if mean, ok := r.MeanLatency(); ok {
		p.Speed = domain.Float(mean.Seconds())
	}
	at := checkedAt.UTC()
	p.LastChecked = &at
	return p
}
