// Package shardbuild turns raw geographic points into encoded weekly shards,
// one per UTM zone, ready to be published to the object store.
package shardbuild

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/site-scorer/internal/geo"
	"github.com/sells-group/site-scorer/internal/model"
	"github.com/sells-group/site-scorer/internal/objstore"
	"github.com/sells-group/site-scorer/internal/shardcodec"
	"github.com/sells-group/site-scorer/internal/spatial"
)

// Encoded is one shard ready to write.
type Encoded struct {
	Key    model.ShardKey
	Points int
	Blob   []byte
}

// Builder projects points and encodes per-zone shards.
type Builder struct {
	projector   geo.Projector
	codec       shardcodec.Options
	concurrency int
}

// New creates a Builder. A nil projector means geo.UTM.
func New(projector geo.Projector, codec shardcodec.Options) *Builder {
	if projector == nil {
		projector = geo.UTM{}
	}
	return &Builder{projector: projector, codec: codec, concurrency: 4}
}

// Build groups pts by zone and encodes one shard per zone for the week that
// contains week. Points outside the projection range are skipped and
// counted. Results are ordered by zone.
func (b *Builder) Build(ctx context.Context, week time.Time, pts []LatLon) ([]Encoded, int, error) {
	weekStart := model.WeekStart(week)
	log := zap.L().With(zap.String("component", "shardbuild"), zap.String("week", weekStart.Format(model.DateLayout)))

	byZone := make(map[model.Zone][]float64)
	skipped := 0
	for _, p := range pts {
		pt, err := b.projector.Project(p.Lat, p.Lon)
		if err != nil {
			skipped++
			continue
		}
		byZone[pt.Zone] = append(byZone[pt.Zone], pt.X, pt.Y)
	}
	if skipped > 0 {
		log.Warn("shardbuild: skipped unprojectable points", zap.Int("skipped", skipped))
	}

	zones := make([]model.Zone, 0, len(byZone))
	for z := range byZone {
		zones = append(zones, z)
	}
	sort.Slice(zones, func(i, j int) bool {
		if zones[i].Number != zones[j].Number {
			return zones[i].Number < zones[j].Number
		}
		return zones[i].Letter < zones[j].Letter
	})

	out := make([]Encoded, len(zones))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, z := range zones {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			key := model.ShardKey{Week: weekStart, Zone: z}
			shard, err := spatial.NewShard(key, byZone[z])
			if err != nil {
				return eris.Wrapf(err, "shardbuild: build %s", key)
			}
			blob, err := shardcodec.Encode(shard, b.codec)
			if err != nil {
				return eris.Wrapf(err, "shardbuild: encode %s", key)
			}
			out[i] = Encoded{Key: key, Points: shard.Len(), Blob: blob}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, skipped, err
	}

	log.Info("shardbuild: built shards", zap.Int("zones", len(out)), zap.Int("points", len(pts)-skipped))
	return out, skipped, nil
}

// Publish uploads each shard under <week>/<basename> and returns the keys.
func (b *Builder) Publish(ctx context.Context, store objstore.Store, shards []Encoded) ([]string, error) {
	keys := make([]string, len(shards))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, s := range shards {
		g.Go(func() error {
			key := s.Key.ObjectKey("")
			if err := store.Put(gctx, key, s.Blob); err != nil {
				return eris.Wrapf(err, "shardbuild: put %s", key)
			}
			keys[i] = key
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return keys, nil
}

// WriteDir writes each shard to dir/<basename> and returns the paths.
func WriteDir(dir string, shards []Encoded) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "shardbuild: create %s", dir)
	}
	paths := make([]string, 0, len(shards))
	for _, s := range shards {
		p := filepath.Join(dir, s.Key.Basename())
		if err := os.WriteFile(p, s.Blob, 0o644); err != nil {
			return nil, eris.Wrapf(err, "shardbuild: write %s", p)
		}
		paths = append(paths, p)
	}
	return paths, nil
}
