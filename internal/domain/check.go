package domain

import (
	"math"
	"time"
)

// FailureKind classifies a failed round.
type FailureKind string

const (
	FailureTimeout    FailureKind = "timeout"
	FailureConnection FailureKind = "connection"
	FailureProtocol   FailureKind = "protocol"
)

// RoundOutcome is the result of one timed probe: a latency on success, a
// failure kind otherwise.
type RoundOutcome struct {
	Latency time.Duration `json:"latency,omitempty"`
	Failure FailureKind   `json:"failure,omitempty"`
	Message string        `json:"message,omitempty"`
}

func Success(latency time.Duration) RoundOutcome {
	return RoundOutcome{Latency: latency}
}

func Failure(kind FailureKind, msg string) RoundOutcome {
	return RoundOutcome{Failure: kind, Message: msg}
}

func (o RoundOutcome) OK() bool { return o.Failure == "" }

// CheckResult aggregates the rounds run against one candidate in a pass.
// Rounds are kept in the order they ran. Partial is set when the pass was
// cancelled before Planned rounds completed.
type CheckResult struct {
	Candidate Candidate
	Planned   int
	Rounds    []RoundOutcome
	Partial   bool
}

func (r *CheckResult) Record(o RoundOutcome) { r.Rounds = append(r.Rounds, o) }

// Attempts is the number of rounds that completed.
func (r CheckResult) Attempts() int { return len(r.Rounds) }

func (r CheckResult) Successes() int {
	n := 0
	for _, o := range r.Rounds {
		if o.OK() {
			n++
		}
	}
	return n
}

// SuccessRate is successes over completed rounds. For a full pass that is
// successes / Planned; a cancelled candidate only counts what actually ran.
func (r CheckResult) SuccessRate() float64 {
	if len(r.Rounds) == 0 {
		return 0
	}
	return float64(r.Successes()) / float64(len(r.Rounds))
}

// Latencies returns the latencies of successful rounds only.
func (r CheckResult) Latencies() []time.Duration {
	out := make([]time.Duration, 0, len(r.Rounds))
	for _, o := range r.Rounds {
		if o.OK() {
			out = append(out, o.Latency)
		}
	}
	return out
}

// MeanLatency is the mean over successful rounds; ok is false with none.
func (r CheckResult) MeanLatency() (time.Duration, bool) {
	ls := r.Latencies()
	if len(ls) == 0 {
		return 0, false
	}
	var sum float64
	for _, l := range ls {
		sum += float64(l)
	}
	return time.Duration(sum / float64(len(ls))), true
}

// StdDev is the population standard deviation of successful latencies. It
// needs at least two successes.
func (r CheckResult) StdDev() (time.Duration, bool) {
	ls := r.Latencies()
	if len(ls) < 2 {
		return 0, false
	}
	var sum float64
	for _, l := range ls {
		sum += float64(l)
	}
	mean := sum / float64(len(ls))
	var sq float64
	for _, l := range ls {
		d := float64(l) - mean
		sq += d * d
	}
	return time.Duration(math.Sqrt(sq / float64(len(ls)))), true
}

// FailureCounts tallies failed rounds by kind.
func (r CheckResult) FailureCounts() map[FailureKind]int {
	out := make(map[FailureKind]int)
	for _, o := range r.Rounds {
		if !o.OK() {
			out[o.Failure]++
		}
	}
	return out
}
