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

	"github.com/sells-group/sportsfeed/internal/config"
	"github.com/sells-group/sportsfeed/internal/quality"
	"github.com/sells-group/sportsfeed/internal/quota"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertQuotaUsage  AlertType = "quota_usage"
	AlertLowTrust    AlertType = "low_trust"
	AlertStaleData   AlertType = "stale_data"
	AlertBreakerOpen AlertType = "breaker_open"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	// subject distinguishes conditions of the same type, e.g. the source
	// whose quota is running out.
	subject string
}

func (a Alert) key() string {
	return string(a.Type) + "|" + a.Severity + "|" + a.subject
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	floor  quality.TrustLevel
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config. An
// unparseable trust floor falls back to poor.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	floor, err := quality.ParseTrustLevel(cfg.TrustFloor)
	if err != nil {
		floor = quality.TrustPoor
	}
	return &Alerter{
		cfg:    cfg,
		floor:  floor,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	// Quota usage, per source.
	for _, st := range snap.Quota {
		var severity string
		switch st.Level {
		case quota.LevelRed:
			severity = "high"
		case quota.LevelYellow:
			severity = "medium"
		default:
			continue
		}
		alerts = append(alerts, Alert{
			Type:     AlertQuotaUsage,
			Severity: severity,
			Message: fmt.Sprintf(
				"%s quota at %.0f%% daily (%d/%d) and %.0f%% monthly (%d/%d)",
				st.Source, st.DailyPercent, st.Daily.Used, st.Daily.Limit,
				st.MonthlyPercent, st.Monthly.Used, st.Monthly.Limit,
			),
			Details: map[string]any{
				"source":          st.Source,
				"daily_percent":   st.DailyPercent,
				"monthly_percent": st.MonthlyPercent,
				"can_consume":     st.CanConsume,
			},
			Timestamp: now,
			subject:   st.Source,
		})
	}

	// Overall trust. Nothing contributing means no data yet, not bad data.
	if len(snap.Contributing) > 0 && snap.OverallTrust.Rank() <= a.floor.Rank() {
		alerts = append(alerts, Alert{
			Type:     AlertLowTrust,
			Severity: "high",
			Message: fmt.Sprintf(
				"Overall data trust %s (confidence %.2f) is at or below %s",
				snap.OverallTrust, snap.OverallConfidence, a.floor,
			),
			Details: map[string]any{
				"confidence":   snap.OverallConfidence,
				"trust_level":  snap.OverallTrust,
				"trust_floor":  a.floor,
				"contributing": snap.Contributing,
			},
			Timestamp: now,
			subject:   string(snap.OverallTrust),
		})
	}

	if len(snap.StaleDomains) > 0 {
		names := make([]string, len(snap.StaleDomains))
		for i, d := range snap.StaleDomains {
			names[i] = string(d)
		}
		alerts = append(alerts, Alert{
			Type:      AlertStaleData,
			Severity:  "medium",
			Message:   fmt.Sprintf("Serving stale data for %s", strings.Join(names, ", ")),
			Details:   map[string]any{"domains": names},
			Timestamp: now,
			subject:   strings.Join(names, ","),
		})
	}

	if len(snap.OpenBreakers) > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertBreakerOpen,
			Severity:  "medium",
			Message:   fmt.Sprintf("Circuit open for %s", strings.Join(snap.OpenBreakers, ", ")),
			Details:   map[string]any{"sources": snap.OpenBreakers},
			Timestamp: now,
			subject:   strings.Join(snap.OpenBreakers, ","),
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}
	sent := 0
	for _, alert := range alerts {
		if a.deliver(ctx, alert) == nil {
			sent++
		}
	}
	return sent
}

// deliver posts one alert. Without a webhook the alert is only logged and
// counts as delivered.
func (a *Alerter) deliver(ctx context.Context, alert Alert) error {
	if a.cfg.WebhookURL == "" {
		zap.L().Warn("monitoring: alert",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
			zap.String("message", alert.Message),
		)
		return nil
	}
	if err := a.sendWebhook(ctx, alert); err != nil {
		zap.L().Error("monitoring: failed to send alert",
			zap.String("type", string(alert.Type)),
			zap.Error(err),
		)
		return err
	}
	zap.L().Info("monitoring: alert sent",
		zap.String("type", string(alert.Type)),
		zap.String("severity", alert.Severity),
	)
	return nil
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
