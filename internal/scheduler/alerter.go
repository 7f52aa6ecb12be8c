package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/hamed0406/proxyscore/internal/notify"
	"github.com/hamed0406/proxyscore/internal/repo"
)

type AlerterConfig struct {
	MinUsable       int     // alert when fewer usable proxies than this
	MinScore        float64 // a proxy is usable at or above this score
	AlertOnRecovery bool
	Cooldown        time.Duration
}

// Alerter watches the size of the usable pool and notifies when it drops
// below MinUsable, and again when it recovers.
type Alerter struct {
	repo     repo.Repository
	notifier notify.Notifier
	cfg      AlerterConfig
	clock    clock.Clock
	log      *zap.Logger

	mu       sync.Mutex
	low      bool
	lastSent time.Time
}

func NewAlerter(r repo.Repository, n notify.Notifier, cfg AlerterConfig, log *zap.Logger) *Alerter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Alerter{repo: r, notifier: n, cfg: cfg, clock: clock.New(), log: log}
}

func (a *Alerter) WithClock(c clock.Clock) *Alerter {
	a.clock = c
	return a
}

// Check counts usable proxies and sends at most one notice.
func (a *Alerter) Check(ctx context.Context) error {
	minScore := a.cfg.MinScore
	usable, err := a.repo.Query(ctx, repo.Filter{MinScore: &minScore, Alive: true})
	if err != nil {
		return fmt.Errorf("alerter query: %w", err)
	}
	n := len(usable)
	now := a.clock.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	low := n < a.cfg.MinUsable
	changed := low != a.low
	cooled := a.lastSent.IsZero() || now.Sub(a.lastSent) >= a.cfg.Cooldown

	// while low, repeat once per cooldown
	lowAlert := low && (changed || cooled)
	recoveryAlert := !low && changed && a.cfg.AlertOnRecovery // bypass cooldown
	a.low = low

	if !lowAlert && !recoveryAlert {
		return nil
	}

	title := "🔴 Proxy pool LOW"
	if !low {
		title = "🟢 Proxy pool RECOVERED"
	}
	text := fmt.Sprintf("Usable proxies: %d (threshold %d, min score %.2f)\nChecked: %s",
		n, a.cfg.MinUsable, a.cfg.MinScore, now.UTC().Format(time.RFC3339))

	a.lastSent = now
	a.log.Info("alerter_notice", zap.Bool("low", low), zap.Int("usable", n))
	return a.notifier.Send(ctx, title, text)
}
