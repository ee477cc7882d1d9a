package feedback

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// OutcomeSource supplies recent review outcomes, typically the linking
// ledger.
type OutcomeSource interface {
	RecentOutcomes(ctx context.Context, limit int) ([]Outcome, error)
}

// Loop periodically recalibrates a Controller from an OutcomeSource. It
// runs out of band from extraction and linking; decisions made under the
// old configuration are not revisited.
type Loop struct {
	controller *Controller
	source     OutcomeSource
	interval   time.Duration
	window     int
	logger     *zap.Logger
}

// NewLoop creates a feedback loop. Zero interval defaults to 15 minutes,
// zero window to 100 outcomes.
func NewLoop(controller *Controller, source OutcomeSource, interval time.Duration, window int, logger *zap.Logger) *Loop {
	if interval == 0 {
		interval = 15 * time.Minute
	}
	if window == 0 {
		window = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		controller: controller,
		source:     source,
		interval:   interval,
		window:     window,
		logger:     logger,
	}
}

// Run recalibrates on a ticker until the context is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single recalibration pass, the on-demand trigger.
func (l *Loop) RunOnce(ctx context.Context) ThresholdConfig {
	outcomes, err := l.source.RecentOutcomes(ctx, l.window)
	if err != nil {
		l.logger.Warn("feedback outcomes unavailable", zap.Error(err))
		return l.controller.Current()
	}

	before := l.controller.Current()
	after := l.controller.Recalibrate(outcomes)
	if after != before {
		l.logger.Info("thresholds recalibrated",
			zap.Float64("auto_link", after.AutoLink),
			zap.Float64("review", after.Review),
			zap.Int("outcomes", len(outcomes)),
		)
	}
	return after
}
