package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/site-scorer/internal/geo"
	"github.com/sells-group/site-scorer/internal/metrics"
	"github.com/sells-group/site-scorer/internal/model"
	"github.com/sells-group/site-scorer/internal/objstore"
	"github.com/sells-group/site-scorer/internal/proximity"
	"github.com/sells-group/site-scorer/internal/scorer"
	"github.com/sells-group/site-scorer/internal/shardcache"
	"github.com/sells-group/site-scorer/internal/shardcodec"
	"github.com/sells-group/site-scorer/internal/spatial"
	"github.com/sells-group/site-scorer/internal/store"
)

// recordingStore keeps recorded runs in memory.
type recordingStore struct {
	mu   sync.Mutex
	runs []model.Run
	err  error
}

func (s *recordingStore) RecordRun(_ context.Context, run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	run.ID = "run-" + string(rune('a'+len(s.runs)))
	s.runs = append(s.runs, *run)
	return nil
}

func (s *recordingStore) GetRun(context.Context, string) (*model.Run, error) { return nil, nil }
func (s *recordingStore) ListRuns(context.Context, store.RunFilter) ([]model.Run, error) {
	return s.runs, nil
}
func (s *recordingStore) Migrate(context.Context) error { return nil }
func (s *recordingStore) Close() error                  { return nil }

var (
	siteA = model.Candidate{Row: 0, Group: "toronto", Source: "acme", Latitude: 43.6532, Longitude: -79.3832, Attribute: 4}
	siteB = model.Candidate{Row: 1, Group: "TORONTO", Source: "volt", Latitude: 43.7000, Longitude: -79.4000, Attribute: model.UnknownAttribute}
	siteC = model.Candidate{Row: 2, Group: "denver", Source: "acme", Latitude: 39.7392, Longitude: -104.9903, Attribute: 1}
)

func putShard(t *testing.T, st *objstore.Memory, week string, zone model.Zone, flat ...float64) {
	t.Helper()
	w, err := time.Parse(model.DateLayout, week)
	require.NoError(t, err)
	key := model.ShardKey{Week: w, Zone: zone}
	s, err := spatial.NewShard(key, flat)
	require.NoError(t, err)
	blob, err := shardcodec.Encode(s, shardcodec.Options{})
	require.NoError(t, err)
	require.NoError(t, st.Put(context.Background(), key.ObjectKey(""), blob))
}

type fixture struct {
	pipeline *Pipeline
	cache    *shardcache.Cache
	history  *recordingStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	a, err := geo.UTM{}.Project(siteA.Latitude, siteA.Longitude)
	require.NoError(t, err)

	// Points at 100/300 m in one week and 700/1500 m in the next, all east
	// of site A, so A's cumulative counts are 1, 2, 3, 4.
	mem := objstore.NewMemory()
	putShard(t, mem, "2024-01-08", a.Zone, a.X+100, a.Y, a.X+300, a.Y)
	putShard(t, mem, "2024-01-15", a.Zone, a.X+700, a.Y, a.X+1500, a.Y)
	// Outside the two-week window.
	putShard(t, mem, "2024-01-01", a.Zone, a.X, a.Y)

	cache, err := shardcache.New(shardcache.Config{Dir: t.TempDir(), Weeks: 2}, mem)
	require.NoError(t, err)

	sc, err := scorer.New(scorer.DefaultWeights(), 4)
	require.NoError(t, err)

	history := &recordingStore{}
	p, err := New(Deps{
		Cache:   cache,
		Engine:  proximity.New(proximity.Config{Workers: 2, TaskTimeout: 5 * time.Second}, nil),
		Scorer:  sc,
		Radii:   model.DefaultRadiusTier(),
		History: history,
		Metrics: metrics.New(),
	})
	require.NoError(t, err)
	return &fixture{pipeline: p, cache: cache, history: history}
}

func TestRefreshThenScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rr, err := f.pipeline.Refresh(ctx, "2024-01-17")
	require.NoError(t, err)
	assert.Len(t, rr.Downloaded, 2)

	res, err := f.pipeline.Score(ctx, []model.Candidate{siteA, siteB, siteC})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-08", "2024-01-15"}, res.Weeks)
	assert.Equal(t, "run-b", res.RunID)
	require.Len(t, res.Results, 3)

	a, b, c := res.Results[0], res.Results[1], res.Results[2]
	assert.Equal(t, 0, a.Row)
	assert.Equal(t, "Toronto", a.Group)
	assert.Equal(t, []int{1, 2, 3, 4}, a.Counts)
	assert.Equal(t, []int{1, 1, 1, 1}, a.Bands)
	assert.Equal(t, 100, a.ScoreBase)
	assert.Equal(t, 100, a.ScoreWithAttribute)
	assert.Equal(t, model.RankHighest, a.Rank)

	assert.Equal(t, 1, b.Row)
	assert.Equal(t, "Toronto", b.Group)
	assert.Equal(t, []int{0, 0, 0, 0}, b.Counts)
	assert.False(t, b.AttributeKnown)
	assert.Equal(t, model.RankLowest, b.Rank)

	// No shards for 13S: zero counts, scored alone in its group.
	assert.Equal(t, "Denver", c.Group)
	assert.Equal(t, []int{0, 0, 0, 0}, c.Counts)
	assert.Equal(t, 0, c.ScoreBase)
	assert.Equal(t, model.RankHighest, c.Rank)

	require.Len(t, f.history.runs, 2)
	refresh, score := f.history.runs[0], f.history.runs[1]
	assert.Equal(t, model.RunKindReconcile, refresh.Kind)
	assert.Equal(t, model.RunStatusComplete, refresh.Status)
	assert.Equal(t, model.RunKindScore, score.Kind)
	assert.Equal(t, model.RunStatusComplete, score.Status)
	assert.Equal(t, 3, score.Summary["candidates"])
	assert.Equal(t, 2, score.Summary["zones"])
	assert.Equal(t, 2, score.Summary["shards"])
	assert.Equal(t, []string{"13S"}, score.Summary["zones_without_shards"])
	assert.Equal(t, scorer.DefaultWeights().Hash(), score.Summary["weights_hash"])
}

func TestScoreBeforeRefreshGivesZeroCounts(t *testing.T) {
	f := newFixture(t)

	res, err := f.pipeline.Score(context.Background(), []model.Candidate{siteA})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, []int{0, 0, 0, 0}, res.Results[0].Counts)
	assert.Empty(t, res.Weeks)
}

func TestScoreCountsAcrossLatitudeBandEdge(t *testing.T) {
	ctx := context.Background()
	// 40N is the S/T band edge in zone 17; the two points are ~111 m apart.
	ref, err := geo.UTM{}.Project(40.0005, -81)
	require.NoError(t, err)
	require.Equal(t, "17T", ref.Zone.String())

	mem := objstore.NewMemory()
	putShard(t, mem, "2024-01-15", ref.Zone, ref.X, ref.Y)
	cache, err := shardcache.New(shardcache.Config{Dir: t.TempDir(), Weeks: 1}, mem)
	require.NoError(t, err)
	sc, err := scorer.New(scorer.DefaultWeights(), 4)
	require.NoError(t, err)
	p, err := New(Deps{
		Cache:  cache,
		Engine: proximity.New(proximity.Config{Workers: 2}, nil),
		Scorer: sc,
		Radii:  model.DefaultRadiusTier(),
	})
	require.NoError(t, err)
	_, err = p.Refresh(ctx, "2024-01-17")
	require.NoError(t, err)

	south := model.Candidate{Row: 0, Group: "edge", Latitude: 39.9995, Longitude: -81, Attribute: model.UnknownAttribute}
	res, err := p.Score(ctx, []model.Candidate{south})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, []int{1, 1, 1, 1}, res.Results[0].Counts)
}

func TestScoreRejectsUnprojectable(t *testing.T) {
	f := newFixture(t)
	bad := siteA
	bad.Row = 7
	bad.Latitude = 86

	res, err := f.pipeline.Score(context.Background(), []model.Candidate{siteB, bad})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, model.IsBadInput(err))
	assert.Contains(t, err.Error(), "row 7")

	require.Len(t, f.history.runs, 1)
	assert.Equal(t, model.RunStatusFailed, f.history.runs[0].Status)
	assert.NotEmpty(t, f.history.runs[0].Error)
}

func TestScoreQueryFailureFailsBatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline.Refresh(context.Background(), "2024-01-17")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = f.pipeline.Score(ctx, []model.Candidate{siteA})
	require.Error(t, err)
	assert.Equal(t, model.KindQueryTaskFailure, model.KindOf(err))
	assert.True(t, model.IsRetryable(err))

	// The failed pass is still recorded.
	require.Len(t, f.history.runs, 2)
	assert.Equal(t, model.RunStatusFailed, f.history.runs[1].Status)
}

func TestRefreshBadDateNotRecorded(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Refresh(context.Background(), "17-01-2024")
	require.Error(t, err)
	assert.Equal(t, model.KindInvalidDateFormat, model.KindOf(err))
	assert.Empty(t, f.history.runs)
}

func TestHistoryFailureDoesNotFailScore(t *testing.T) {
	f := newFixture(t)
	f.history.err = errors.New("disk full")

	res, err := f.pipeline.Score(context.Background(), []model.Candidate{siteA})
	require.NoError(t, err)
	assert.Empty(t, res.RunID)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)

	f := newFixture(t)
	deps := f.pipeline.deps
	deps.Radii = model.RadiusTier{}
	_, err = New(deps)
	require.Error(t, err)
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	s := NewScheduler(f.pipeline, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerRefreshesOnTick(t *testing.T) {
	f := newFixture(t)
	s := NewScheduler(f.pipeline, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		f.history.mu.Lock()
		defer f.history.mu.Unlock()
		return len(f.history.runs) > 0
	}, 2*time.Second, 10*time.Millisecond)

	f.history.mu.Lock()
	defer f.history.mu.Unlock()
	assert.Equal(t, model.RunKindReconcile, f.history.runs[0].Kind)
}
