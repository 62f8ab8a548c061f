package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/county-risk/internal/config"
)

// Checker runs periodic run-health checks in the background. An alert is
// delivered once per run and alert type.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	sent      map[string]bool
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		sent:      make(map[string]bool),
	}
}

// Run checks immediately and then on every interval. It blocks until ctx is
// cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting run health checker",
		zap.Duration("interval", interval),
		zap.Int("max_run_age_hours", c.cfg.MaxRunAgeHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() == nil {
			c.check(ctx, log)
		}
		select {
		case <-ctx.Done():
			log.Info("run health checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check collects one snapshot and returns the alerts not yet delivered.
func (c *Checker) Check(ctx context.Context) ([]Alert, error) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		return nil, err
	}
	var fresh []Alert
	for _, a := range c.alerter.Evaluate(snap) {
		key := snap.LatestRunID + "/" + string(a.Type)
		if c.sent[key] {
			continue
		}
		c.sent[key] = true
		fresh = append(fresh, a)
	}
	return fresh, nil
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	alerts, err := c.Check(ctx)
	if err != nil {
		log.Error("monitoring: failed to collect run health", zap.Error(err))
		return
	}
	if len(alerts) == 0 {
		log.Debug("monitoring: no new alerts")
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: run health check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
}
