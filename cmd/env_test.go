//go:build !integration

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/site-scorer/internal/config"
	"github.com/sells-group/site-scorer/internal/geo"
	"github.com/sells-group/site-scorer/internal/model"
	"github.com/sells-group/site-scorer/internal/objstore"
	"github.com/sells-group/site-scorer/internal/shardbuild"
	"github.com/sells-group/site-scorer/internal/shardcache"
	"github.com/sells-group/site-scorer/internal/shardcodec"
	"github.com/sells-group/site-scorer/internal/store"
)

// useConfig installs a dir-backed config for the duration of the test.
func useConfig(t *testing.T, storeDir string) {
	t.Helper()
	prev := cfg
	t.Cleanup(func() { cfg = prev })

	cfg = &config.Config{
		Store: config.StoreConfig{Driver: "dir", Dir: storeDir},
		Cache: config.CacheConfig{Dir: filepath.Join(t.TempDir(), "cache"), Weeks: 2, DownloadConcurrency: 2},
		Query: config.QueryConfig{Radii: model.DefaultRadiusTier(), TaskTimeoutSecs: 30},
		Scoring: config.ScoringConfig{
			BaseWeights:          []float64{0.4, 0.3, 0.2, 0.1},
			AttributeBandWeights: []float64{0.25, 0.2, 0.15, 0.1},
			AttributeWeight:      0.3,
		},
		History:    config.HistoryConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "history.db")},
		Server:     config.ServerConfig{Port: 8080},
		Log:        config.LogConfig{Level: "info", Format: "json"},
		Monitoring: config.MonitoringConfig{LookbackHours: 24},
	}
}

func TestInitObjectStore(t *testing.T) {
	useConfig(t, t.TempDir())

	s, err := initObjectStore(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &objstore.Dir{}, s)

	cfg.Store.Driver = "ftp"
	cfg.Store.Endpoint = "ftp://mirror.example.com/trees"
	s, err = initObjectStore(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &objstore.FTP{}, s)

	cfg.Store.Driver = "gcs"
	_, err = initObjectStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store driver")
}

func TestInitEnv_InvalidConfig(t *testing.T) {
	useConfig(t, t.TempDir())
	cfg.Scoring.BaseWeights = []float64{0.5, 0.5, 0.5, 0.5}

	_, err := initEnv(context.Background(), "score")
	require.Error(t, err)

	useConfig(t, t.TempDir())
	cfg.Cache.Weeks = 0
	_, err = initEnv(context.Background(), "refresh")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.weeks")
}

func TestInitEnv_RefreshThenScore(t *testing.T) {
	ctx := context.Background()
	storeDir := t.TempDir()
	useConfig(t, storeDir)

	// Two points 50 m and 300 m east of the candidate, one week before the
	// window end, published the way the shard build command does it.
	week := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	builder := shardbuild.New(geo.UTM{}, shardcodec.Options{})
	shards, skipped, err := builder.Build(ctx, week, []shardbuild.LatLon{
		{Lat: 39.7392, Lon: -104.98972},
		{Lat: 39.7392, Lon: -104.98680},
	})
	require.NoError(t, err)
	require.Zero(t, skipped)
	_, err = builder.Publish(ctx, objstore.NewDir(storeDir), shards)
	require.NoError(t, err)

	env, err := initEnv(ctx, "score")
	require.NoError(t, err)
	defer env.Close()
	require.NotNil(t, env.History)

	res, err := env.Pipeline.Refresh(ctx, "2024-01-17")
	require.NoError(t, err)
	assert.Len(t, res.Downloaded, 1)
	assert.Equal(t, 1, env.Cache.Snapshot().Len())

	scored, err := env.Pipeline.Score(ctx, []model.Candidate{{
		Row: 0, Group: "denver", Source: "acme",
		Latitude: 39.7392, Longitude: -104.9903,
		Attribute: model.UnknownAttribute,
	}})
	require.NoError(t, err)
	require.Len(t, scored.Results, 1)
	assert.Equal(t, []int{1, 2, 2, 2}, scored.Results[0].Counts)
	assert.Equal(t, model.RankHighest, scored.Results[0].Rank)
	assert.NotEmpty(t, scored.RunID)

	runs, err := env.History.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestDownloadProgress(t *testing.T) {
	var buf bytes.Buffer
	p := newDownloadProgress(&buf)

	p.update(0, 0)
	assert.Nil(t, p.bar)

	p.update(0, 3)
	require.NotNil(t, p.bar)
	p.update(2, 3)
	p.update(1, 3)
	assert.Equal(t, 2, p.done)
	p.update(3, 3)
	p.finish()

	assert.Contains(t, buf.String(), "downloading shards")
}

func TestFormatRefreshResult(t *testing.T) {
	end := time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC)
	res := &shardcache.Result{
		Window:     model.RetentionWindow{End: end, Weeks: 2},
		Needed:     []string{"2024-01-08", "2024-01-15"},
		Downloaded: map[string]string{"2024-01-15/2024-01-15_utm_13S.tree": "/tmp/x"},
	}

	var buf bytes.Buffer
	formatRefreshResult(&buf, res)

	out := buf.String()
	assert.Contains(t, out, "2024-01-08 .. 2024-01-17 (2 weeks)")
	assert.Contains(t, out, "2024-01-08, 2024-01-15")
	assert.Contains(t, out, "Obsolete:   -")
	assert.Contains(t, out, "Downloaded: 1")
}

func TestReadPoints(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "points.csv")
	require.NoError(t, os.WriteFile(path, []byte("lat,lng\n39.7392,-104.9903\nbad,1\n"), 0o644))

	pts, skipped, err := readPoints(context.Background(), path, "lat", "lng")
	require.NoError(t, err)
	assert.Len(t, pts, 1)
	assert.Equal(t, 1, skipped)

	_, _, err = readPoints(context.Background(), filepath.Join(dir, "points.geojson"), "lat", "lng")
	require.Error(t, err)
	assert.Equal(t, model.KindInvalidInput, model.KindOf(err))
}

func TestFormatShardList(t *testing.T) {
	zone, err := model.ParseZone("13S")
	require.NoError(t, err)
	shards := []shardbuild.Encoded{{
		Key:    model.ShardKey{Week: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), Zone: zone},
		Points: 2,
		Blob:   make([]byte, 120),
	}}

	var buf bytes.Buffer
	formatShardList(&buf, shards)

	assert.Contains(t, buf.String(), "2024-01-08_utm_13S.tree")
	assert.Contains(t, buf.String(), "120")
}
