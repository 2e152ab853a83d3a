// Package monitoring evaluates run summaries against operator thresholds
// and delivers webhook alerts. Alerting is advisory: a failed delivery is
// logged and never fails the run that produced the summary.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sagepoint-data/identity-cli/internal/config"
	"github.com/sagepoint-data/identity-cli/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertUnresolvedRate AlertType = "unresolved_rate"
	AlertDegradedRun    AlertType = "degraded_run"
	AlertAutoDerived    AlertType = "auto_derived_ratio"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// RunSummary is what one resolution run reports for alert evaluation.
type RunSummary struct {
	RunID            string           `json:"run_id"`
	Stats            model.Statistics `json:"stats"`
	Degraded         bool             `json:"degraded"`
	DegradedReason   string           `json:"degraded_reason,omitempty"`
	AutoDerivedRatio float64          `json:"auto_derived_ratio"`
}

// Alerter evaluates run summaries against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	if cfg.MinFinished <= 0 {
		cfg.MinFinished = 5
	}
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the summary against thresholds and returns any alerts.
// Individual unresolved records never alert; only batch-level rates do.
func (a *Alerter) Evaluate(sum *RunSummary) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	total := sum.Stats.Total()
	if total >= a.cfg.MinFinished && a.cfg.UnresolvedRateThreshold > 0 {
		rate := float64(sum.Stats.Unresolved) / float64(total)
		if rate > a.cfg.UnresolvedRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertUnresolvedRate,
				Severity: "high",
				Message: fmt.Sprintf(
					"Unresolved rate %.1f%% exceeds threshold %.1f%% (%d unresolved / %d records, run %s)",
					rate*100, a.cfg.UnresolvedRateThreshold*100,
					sum.Stats.Unresolved, total, sum.RunID,
				),
				Details: map[string]any{
					"run_id":     sum.RunID,
					"rate":       rate,
					"threshold":  a.cfg.UnresolvedRateThreshold,
					"unresolved": sum.Stats.Unresolved,
					"total":      total,
				},
				Timestamp: now,
			})
		}
	}

	if sum.Degraded {
		alerts = append(alerts, Alert{
			Type:     AlertDegradedRun,
			Severity: "high",
			Message:  fmt.Sprintf("Run %s completed degraded: %s", sum.RunID, sum.DegradedReason),
			Details: map[string]any{
				"run_id": sum.RunID,
				"reason": sum.DegradedReason,
			},
			Timestamp: now,
		})
	}

	if a.cfg.AutoDerivedThreshold > 0 && sum.AutoDerivedRatio > a.cfg.AutoDerivedThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertAutoDerived,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Auto-derived reference ratio %.1f%% exceeds threshold %.1f%% (run %s)",
				sum.AutoDerivedRatio*100, a.cfg.AutoDerivedThreshold*100, sum.RunID,
			),
			Details: map[string]any{
				"run_id":    sum.RunID,
				"ratio":     sum.AutoDerivedRatio,
				"threshold": a.cfg.AutoDerivedThreshold,
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
