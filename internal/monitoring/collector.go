// Package monitoring summarises run history into health snapshots.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/site-scorer/internal/model"
	"github.com/sells-group/site-scorer/internal/store"
)

// HealthSnapshot holds a point-in-time view of run history.
type HealthSnapshot struct {
	// Reconcile runs (within lookback window).
	ReconcileTotal    int     `json:"reconcile_total"`
	ReconcileComplete int     `json:"reconcile_complete"`
	ReconcileFailed   int     `json:"reconcile_failed"`
	ReconcileFailRate float64 `json:"reconcile_fail_rate"`
	ShardsDownloaded  int     `json:"shards_downloaded"`

	// Scoring runs (within lookback window).
	ScoreTotal       int     `json:"score_total"`
	ScoreComplete    int     `json:"score_complete"`
	ScoreFailed      int     `json:"score_failed"`
	ScoreFailRate    float64 `json:"score_fail_rate"`
	CandidatesScored int     `json:"candidates_scored"`

	// Last successful reconcile regardless of the window.
	LastReconcileAt *time.Time `json:"last_reconcile_at,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister abstracts the history query used by the collector.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers health metrics from run history.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new health collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*HealthSnapshot, error) {
	now := c.now().UTC()
	snap := &HealthSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	runs, err := c.runs.ListRuns(ctx, store.RunFilter{Since: cutoff, Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	for _, r := range runs {
		switch r.Kind {
		case model.RunKindReconcile:
			snap.ReconcileTotal++
			if r.Status == model.RunStatusComplete {
				snap.ReconcileComplete++
				snap.ShardsDownloaded += summaryInt(r.Summary, "downloaded")
			} else {
				snap.ReconcileFailed++
			}
		case model.RunKindScore:
			snap.ScoreTotal++
			if r.Status == model.RunStatusComplete {
				snap.ScoreComplete++
				snap.CandidatesScored += summaryInt(r.Summary, "candidates")
			} else {
				snap.ScoreFailed++
			}
		}
	}
	snap.ReconcileFailRate = failRate(snap.ReconcileFailed, snap.ReconcileTotal)
	snap.ScoreFailRate = failRate(snap.ScoreFailed, snap.ScoreTotal)

	last, err := c.runs.ListRuns(ctx, store.RunFilter{
		Kind:   model.RunKindReconcile,
		Status: model.RunStatusComplete,
		Limit:  1,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: last reconcile")
	}
	if len(last) > 0 {
		at := last[0].FinishedAt
		snap.LastReconcileAt = &at
	}

	return snap, nil
}

func failRate(failed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

// summaryInt reads a count from a run summary. Values decoded from JSON
// arrive as float64.
func summaryInt(summary map[string]any, key string) int {
	switch v := summary[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
