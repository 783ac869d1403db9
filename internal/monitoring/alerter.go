package monitoring

import (
	"fmt"
	"time"

	"github.com/sells-group/site-scorer/internal/config"
)

// AlertType identifies the kind of health problem.
type AlertType string

const (
	AlertReconcileFailureRate AlertType = "reconcile_failure_rate"
	AlertScoreFailureRate     AlertType = "score_failure_rate"
	AlertStaleShards          AlertType = "stale_shards"
)

// Alert describes one breached threshold.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// minFinished is the number of runs needed before a failure rate counts.
const minFinished = 3

// Evaluate checks the snapshot against thresholds and returns any alerts.
func Evaluate(snap *HealthSnapshot, cfg config.MonitoringConfig) []Alert {
	var alerts []Alert
	now := snap.CollectedAt

	if snap.ReconcileTotal >= minFinished && snap.ReconcileFailRate > cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertReconcileFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Reconcile failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d in last %dh)",
				snap.ReconcileFailRate*100, cfg.FailureRateThreshold*100,
				snap.ReconcileFailed, snap.ReconcileTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.ReconcileFailRate,
				"threshold":    cfg.FailureRateThreshold,
			},
			Timestamp: now,
		})
	}

	if snap.ScoreTotal >= minFinished && snap.ScoreFailRate > cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertScoreFailureRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Scoring failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d in last %dh)",
				snap.ScoreFailRate*100, cfg.FailureRateThreshold*100,
				snap.ScoreFailed, snap.ScoreTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.ScoreFailRate,
				"threshold":    cfg.FailureRateThreshold,
			},
			Timestamp: now,
		})
	}

	if cfg.StaleAfterHours > 0 {
		limit := time.Duration(cfg.StaleAfterHours) * time.Hour
		switch {
		case snap.LastReconcileAt == nil:
			alerts = append(alerts, Alert{
				Type:      AlertStaleShards,
				Severity:  "high",
				Message:   "No successful reconcile recorded",
				Timestamp: now,
			})
		case now.Sub(*snap.LastReconcileAt) > limit:
			alerts = append(alerts, Alert{
				Type:     AlertStaleShards,
				Severity: "high",
				Message: fmt.Sprintf("Last successful reconcile %s ago exceeds %s",
					now.Sub(*snap.LastReconcileAt).Round(time.Minute), limit),
				Details: map[string]any{
					"last_reconcile_at": snap.LastReconcileAt.Format(time.RFC3339),
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}
