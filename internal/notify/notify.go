package notify

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Notifier interface {
	Send(ctx context.Context, title, text string) error
}

// Multi sends to every notifier and returns all failures combined.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, title, text string) error {
	var errs error
	for _, n := range m {
		if n == nil {
			continue
		}
		errs = multierr.Append(errs, n.Send(ctx, title, text))
	}
	return errs
}

// Log writes notices to a zap logger so alerts are recorded even without a
// webhook.
type Log struct {
	L *zap.Logger
}

func (l Log) Send(_ context.Context, title, text string) error {
	l.L.Warn("pool_notice", zap.String("title", title), zap.String("text", text))
	return nil
}
