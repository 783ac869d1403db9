// Package proximity counts reference points around candidate locations by
// fanning (zone, shard) ball queries over a bounded worker pool.
package proximity

import (
	"context"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/site-scorer/internal/metrics"
	"github.com/sells-group/site-scorer/internal/model"
	"github.com/sells-group/site-scorer/internal/spatial"
)

// cancelCheckEvery is how many candidates a task scores between context
// checks.
const cancelCheckEvery = 256

// Config controls the worker pool.
type Config struct {
	// Workers bounds concurrent tasks. Zero means NumCPU-1, at least 1.
	Workers int
	// TaskTimeout bounds a single (zone, shard) task. Zero disables it.
	TaskTimeout time.Duration
}

// DefaultWorkers is the pool size used when Config.Workers is zero.
func DefaultWorkers() int {
	return max(runtime.NumCPU()-1, 1)
}

// Partial is the private result of one task: per candidate row, cumulative
// counts for each radius against a single shard.
type Partial struct {
	Zone   model.Zone
	Shard  model.ShardKey
	Counts map[int][]int
}

// countFunc runs one task. Tests swap it to inject failures.
type countFunc func(ctx context.Context, shard *spatial.Shard, cands []model.Candidate, radii []float64) (map[int][]int, error)

// Engine runs proximity queries. It holds no per-query state and is safe for
// concurrent use.
type Engine struct {
	cfg     Config
	metrics *metrics.Metrics
	count   countFunc
	log     *zap.Logger
}

// New creates an engine. m may be nil.
func New(cfg Config, m *metrics.Metrics) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers()
	}
	return &Engine{
		cfg:     cfg,
		metrics: m,
		count:   countShard,
		log:     zap.L().With(zap.String("component", "proximity")),
	}
}

type task struct {
	zone  model.Zone
	shard *spatial.Shard
	cands []model.Candidate
}

// Query fills Counts on every candidate with the number of shard points
// within each radius, summed over all shards on the candidate's grid (same
// zone number and hemisphere, any band letter).
// Candidates are returned in row order. Zones without shards keep zero
// counts. Any failed or timed out task fails the whole batch with a
// QueryTaskFailure; no partial aggregate is returned.
func (e *Engine) Query(ctx context.Context, candidatesByZone map[model.Zone][]model.Candidate,
	shardsByZone map[model.Zone][]*spatial.Shard, radii model.RadiusTier) ([]model.Candidate, error) {
	if err := radii.Validate(); err != nil {
		return nil, err
	}
	meters := radii.Meters()
	start := time.Now()
	defer func() { e.metrics.RecordQueryBatch(time.Since(start)) }()

	zones := make([]model.Zone, 0, len(candidatesByZone))
	for z := range candidatesByZone {
		zones = append(zones, z)
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].String() < zones[j].String() })

	var tasks []task
	out := make([]model.Candidate, 0)
	byRow := make(map[int]int)
	for _, z := range zones {
		for _, c := range candidatesByZone[z] {
			if _, dup := byRow[c.Row]; dup {
				return nil, model.NewError(model.KindInvalidInput, "duplicate candidate row "+strconv.Itoa(c.Row), nil)
			}
			c.Counts = make([]int, len(meters))
			byRow[c.Row] = len(out)
			out = append(out, c)
		}
		for _, sh := range shardsByZone[z] {
			if sh == nil || sh.Key().Zone.Grid() != z.Grid() {
				continue
			}
			tasks = append(tasks, task{zone: z, shard: sh, cands: candidatesByZone[z]})
		}
	}

	e.log.Debug("dispatching proximity tasks",
		zap.Int("zones", len(zones)),
		zap.Int("tasks", len(tasks)),
		zap.Int("workers", e.cfg.Workers),
	)

	partials := make([]Partial, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, t := range tasks {
		g.Go(func() error {
			p, err := e.run(gctx, t, meters)
			e.metrics.RecordQueryTask(err)
			if err != nil {
				return err
			}
			partials[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, p := range partials {
		for row, counts := range p.Counts {
			idx, ok := byRow[row]
			if !ok {
				return nil, eris.Errorf("proximity: partial for %s has unknown row %d", p.Shard, row)
			}
			if len(counts) != len(meters) {
				return nil, eris.Errorf("proximity: partial for %s has %d counts, want %d", p.Shard, len(counts), len(meters))
			}
			for k, n := range counts {
				out[idx].Counts[k] += n
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Row < out[j].Row })
	return out, nil
}

func (e *Engine) run(ctx context.Context, t task, radii []float64) (Partial, error) {
	tctx := ctx
	if e.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, e.cfg.TaskTimeout)
		defer cancel()
	}
	counts, err := e.count(tctx, t.shard, t.cands, radii)
	if err == nil {
		err = tctx.Err()
	}
	if err != nil {
		return Partial{}, model.NewError(model.KindQueryTaskFailure,
			"proximity: task "+t.shard.Key().String()+" failed", err)
	}
	return Partial{Zone: t.zone, Shard: t.shard.Key(), Counts: counts}, nil
}

func countShard(ctx context.Context, shard *spatial.Shard, cands []model.Candidate, radii []float64) (map[int][]int, error) {
	out := make(map[int][]int, len(cands))
	for i, c := range cands {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		out[c.Row] = shard.CountWithinRadii(c.Point.X, c.Point.Y, radii)
	}
	return out, nil
}
