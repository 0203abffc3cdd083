package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/config"
)

// Checker collects a snapshot on an interval and sends the alerts it
// triggers. An alert type that already fired is held back for the cooldown
// while its condition persists.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  time.Duration
	cooldown  time.Duration
	nowFunc   func() time.Time

	lastSent map[AlertType]time.Time
}

// NewChecker creates a background alert checker. The cooldown is the
// larger of the lookback window and the check interval.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	lookback := time.Duration(cfg.LookbackMins) * time.Minute
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  lookback,
		cooldown:  max(lookback, interval),
		nowFunc:   time.Now,
		lastSent:  make(map[AlertType]time.Time),
	}
}

// Run checks once per interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", c.interval),
		zap.Duration("lookback", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// check runs one collection and returns the number of alerts sent.
func (c *Checker) check(ctx context.Context, log *zap.Logger) int {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return 0
	}

	now := c.nowFunc()
	triggered := c.alerter.Evaluate(snap)
	fired := make(map[AlertType]bool, len(triggered))
	var due []Alert
	for _, a := range triggered {
		fired[a.Type] = true
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < c.cooldown {
			continue
		}
		due = append(due, a)
	}
	// A cleared condition may alert again as soon as it recurs.
	for t := range c.lastSent {
		if !fired[t] {
			delete(c.lastSent, t)
		}
	}
	if len(due) == 0 {
		log.Debug("monitoring: no new alerts", zap.Int("triggered", len(triggered)))
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, due)
	if sent > 0 {
		for _, a := range due {
			c.lastSent[a.Type] = now
		}
	}
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(triggered)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}
