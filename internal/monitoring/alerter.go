package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/config"
	"github.com/sells-group/prospector/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertJobFailureRate AlertType = "job_failure_rate"
	AlertDegradedJobs   AlertType = "degraded_jobs"
	AlertStuckJobs      AlertType = "stuck_jobs"
)

// minFinished is the number of finished jobs needed before a failure rate
// means anything.
const minFinished = 5

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
	policy resilience.Policy
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		policy: resilience.DefaultPolicy("monitoring", "alert"),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	finished := snap.JobsCompleted + snap.JobsFailed
	if finished >= minFinished && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertJobFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Workflow failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dm)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.JobsFailed, finished, snap.LookbackMins,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.JobsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.DegradedThreshold > 0 && snap.JobsDegraded >= a.cfg.DegradedThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDegradedJobs,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d workflow(s) completed with degradations in last %dm",
				snap.JobsDegraded, snap.LookbackMins,
			),
			Details: map[string]any{
				"degraded":  snap.JobsDegraded,
				"by_stage":  snap.Degradations,
				"threshold": a.cfg.DegradedThreshold,
			},
			Timestamp: now,
		})
	}

	if snap.JobsStuck > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertStuckJobs,
			Severity: "high",
			Message:  fmt.Sprintf("%d workflow(s) running longer than %dm", snap.JobsStuck, a.cfg.StuckAfterMins),
			Details: map[string]any{
				"stuck":   snap.JobsStuck,
				"running": snap.JobsRunning,
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

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	return resilience.ExecuteErr(ctx, a.policy, func(ctx context.Context) error {
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
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return resilience.NewStatusError(resp, body)
		}
		return nil
	})
}
