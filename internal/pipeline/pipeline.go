// Package pipeline wires projection, the shard cache, the proximity engine
// and the scorer into the two operations the service exposes: scoring a
// batch of candidates and refreshing the shard cache.
package pipeline

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/site-scorer/internal/geo"
	"github.com/sells-group/site-scorer/internal/metrics"
	"github.com/sells-group/site-scorer/internal/model"
	"github.com/sells-group/site-scorer/internal/proximity"
	"github.com/sells-group/site-scorer/internal/scorer"
	"github.com/sells-group/site-scorer/internal/shardcache"
	"github.com/sells-group/site-scorer/internal/store"
)

// Cache is the part of shardcache.Cache the pipeline depends on.
type Cache interface {
	Snapshot() *shardcache.Snapshot
	Reconcile(ctx context.Context, endDate string) (*shardcache.Result, error)
}

// Deps holds the pipeline's collaborators. History and Metrics may be nil.
type Deps struct {
	Cache     Cache
	Engine    *proximity.Engine
	Scorer    *scorer.Scorer
	Projector geo.Projector
	Radii     model.RadiusTier
	History   store.Store
	Metrics   *metrics.Metrics
}

// Pipeline runs scoring and refresh passes. It is safe for concurrent use.
type Pipeline struct {
	deps Deps
	now  func() time.Time
}

// Result is the outcome of one scoring pass.
type Result struct {
	RunID   string              `json:"run_id,omitempty"`
	Radii   model.RadiusTier    `json:"radii"`
	Weeks   []string            `json:"weeks"`
	Results []model.ScoreResult `json:"results"`
}

// New creates a Pipeline.
func New(deps Deps) (*Pipeline, error) {
	if deps.Cache == nil || deps.Engine == nil || deps.Scorer == nil {
		return nil, eris.New("pipeline: cache, engine and scorer are required")
	}
	if err := deps.Radii.Validate(); err != nil {
		return nil, err
	}
	if deps.Projector == nil {
		deps.Projector = geo.UTM{}
	}
	return &Pipeline{deps: deps, now: time.Now}, nil
}

// Score projects and scores cands against the current shard snapshot. The
// snapshot is taken once, so a concurrent refresh never mixes generations
// within one batch. Every pass is recorded in run history when configured.
func (p *Pipeline) Score(ctx context.Context, cands []model.Candidate) (*Result, error) {
	log := zap.L().With(zap.String("component", "pipeline"), zap.Int("candidates", len(cands)))
	started := p.now()
	summary := map[string]any{
		"candidates":   len(cands),
		"weights_hash": p.deps.Scorer.Weights().Hash(),
	}

	res, err := p.score(ctx, cands, summary, log)

	run := &model.Run{Kind: model.RunKindScore, Summary: summary, StartedAt: started, FinishedAt: p.now()}
	if err != nil {
		run.Status = model.RunStatusFailed
		run.Error = err.Error()
		log.Error("pipeline: scoring failed", zap.Error(err))
	} else {
		run.Status = model.RunStatusComplete
		log.Info("pipeline: scoring complete",
			zap.Int64("duration_ms", run.FinishedAt.Sub(started).Milliseconds()),
			zap.Any("weeks", res.Weeks),
		)
	}
	if id := p.record(ctx, run, log); res != nil {
		res.RunID = id
	}
	return res, err
}

func (p *Pipeline) score(ctx context.Context, cands []model.Candidate, summary map[string]any, log *zap.Logger) (*Result, error) {
	byZone, err := p.project(cands)
	if err != nil {
		return nil, err
	}

	zones := make([]model.Zone, 0, len(byZone))
	for z := range byZone {
		zones = append(zones, z)
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].String() < zones[j].String() })

	snap := p.deps.Cache.Snapshot()
	shards := snap.ForZones(zones)

	var missing []string
	shardCount := 0
	for _, z := range zones {
		if len(shards[z]) == 0 {
			missing = append(missing, z.String())
		}
		shardCount += len(shards[z])
	}
	summary["zones"] = len(zones)
	summary["shards"] = shardCount
	if len(missing) > 0 {
		summary["zones_without_shards"] = missing
		log.Warn("pipeline: no shards cached for zones; their counts are zero", zap.Strings("zones", missing))
	}

	counted, err := p.deps.Engine.Query(ctx, byZone, shards, p.deps.Radii)
	if err != nil {
		return nil, err
	}

	results := p.deps.Scorer.Score(counted)
	flagged := 0
	for _, r := range results {
		integrityFailed := r.Integrity != ""
		if integrityFailed {
			flagged++
		}
		p.deps.Metrics.RecordScored(string(r.Rank), integrityFailed)
	}
	summary["integrity_failures"] = flagged

	return &Result{
		Radii:   p.deps.Radii,
		Weeks:   snap.Weeks(),
		Results: results,
	}, nil
}

// project fills Point on every candidate and groups them by zone.
func (p *Pipeline) project(cands []model.Candidate) (map[model.Zone][]model.Candidate, error) {
	byZone := make(map[model.Zone][]model.Candidate)
	for _, c := range cands {
		pt, err := p.deps.Projector.Project(c.Latitude, c.Longitude)
		if err != nil {
			if model.KindOf(err) != "" {
				return nil, eris.Wrapf(err, "pipeline: project row %s", strconv.Itoa(c.Row))
			}
			return nil, model.NewError(model.KindInvalidInput, "project row "+strconv.Itoa(c.Row), err)
		}
		c.Point = pt
		byZone[pt.Zone] = append(byZone[pt.Zone], c)
	}
	return byZone, nil
}

// Refresh reconciles the shard cache against the retention window ending on
// endDate (today when empty) and records the pass.
func (p *Pipeline) Refresh(ctx context.Context, endDate string) (*shardcache.Result, error) {
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("end_date", endDate))
	started := p.now()

	res, err := p.deps.Cache.Reconcile(ctx, endDate)

	run := &model.Run{Kind: model.RunKindReconcile, StartedAt: started, FinishedAt: p.now()}
	if res != nil {
		run.Summary = res.Summary()
	}
	if err != nil {
		run.Status = model.RunStatusFailed
		run.Error = err.Error()
		log.Error("pipeline: refresh failed", zap.Error(err))
	} else {
		run.Status = model.RunStatusComplete
		log.Info("pipeline: refresh complete", zap.Any("summary", run.Summary))
	}

	// Malformed dates are rejected before any I/O and are not recorded.
	if model.KindOf(err) != model.KindInvalidDateFormat {
		p.record(ctx, run, log)
	}
	return res, err
}

// record writes run to history and returns its ID. Failures are logged and
// never fail the operation.
func (p *Pipeline) record(ctx context.Context, run *model.Run, log *zap.Logger) string {
	if p.deps.History == nil {
		return ""
	}
	if err := p.deps.History.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn("pipeline: failed to record run", zap.String("kind", string(run.Kind)), zap.Error(err))
		return ""
	}
	return run.ID
}
