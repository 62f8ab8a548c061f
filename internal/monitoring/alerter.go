package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/county-risk/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertNoRun          AlertType = "no_run"
	AlertStaleRun       AlertType = "stale_run"
	AlertLowCoverage    AlertType = "low_coverage"
	AlertFlatPopulation AlertType = "flat_population"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if !snap.HasRun {
		return append(alerts, Alert{
			Type:      AlertNoRun,
			Severity:  "high",
			Message:   "No scoring run has been published",
			Timestamp: now,
		})
	}

	if a.cfg.MaxRunAgeHours > 0 && snap.LatestAgeHours > float64(a.cfg.MaxRunAgeHours) {
		alerts = append(alerts, Alert{
			Type:     AlertStaleRun,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Latest run %s is %.1fh old, threshold %dh",
				snap.LatestRunID, snap.LatestAgeHours, a.cfg.MaxRunAgeHours,
			),
			Details: map[string]any{
				"run_id":      snap.LatestRunID,
				"age_hours":   snap.LatestAgeHours,
				"threshold_h": a.cfg.MaxRunAgeHours,
			},
			Timestamp: now,
		})
	}

	if snap.LatestEntities > 0 && snap.ScoredFraction < a.cfg.MinScoredFraction {
		alerts = append(alerts, Alert{
			Type:     AlertLowCoverage,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run %s scored %.1f%% of entities (%d / %d), threshold %.1f%%",
				snap.LatestRunID, snap.ScoredFraction*100, snap.LatestScored, snap.LatestEntities,
				a.cfg.MinScoredFraction*100,
			),
			Details: map[string]any{
				"scored":    snap.LatestScored,
				"entities":  snap.LatestEntities,
				"fraction":  snap.ScoredFraction,
				"threshold": a.cfg.MinScoredFraction,
			},
			Timestamp: now,
		})
	}

	if len(snap.FlatMetrics) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertFlatPopulation,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Run %s had no spread in %s; their z-scores are all 0",
				snap.LatestRunID, strings.Join(snap.FlatMetrics, ", "),
			),
			Details: map[string]any{
				"metrics": snap.FlatMetrics,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
