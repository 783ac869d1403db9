package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/site-scorer/internal/geo"
	"github.com/sells-group/site-scorer/internal/metrics"
	"github.com/sells-group/site-scorer/internal/objstore"
	"github.com/sells-group/site-scorer/internal/pipeline"
	"github.com/sells-group/site-scorer/internal/proximity"
	"github.com/sells-group/site-scorer/internal/resilience"
	"github.com/sells-group/site-scorer/internal/scorer"
	"github.com/sells-group/site-scorer/internal/shardcache"
	"github.com/sells-group/site-scorer/internal/store"
)

// scorerEnv holds everything the serve, score and refresh commands share.
type scorerEnv struct {
	Objects  objstore.Store
	History  store.Store // may be nil
	Cache    *shardcache.Cache
	Pipeline *pipeline.Pipeline
	Metrics  *metrics.Metrics
}

// Close releases resources held by the environment.
func (e *scorerEnv) Close() {
	if e.History != nil {
		_ = e.History.Close()
	}
}

// initEnv validates config for mode and wires the object store, cache,
// history store and pipeline. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string, opts ...shardcache.Option) (*scorerEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	radii := cfg.Radii()
	if err := scorer.ValidateConfig(cfg.Scoring, len(radii)); err != nil {
		return nil, err
	}

	objects, err := initObjectStore(ctx)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	opts = append([]shardcache.Option{shardcache.WithMetrics(m)}, opts...)
	cache, err := shardcache.New(shardcache.Config{
		Dir:                 cfg.Cache.Dir,
		Weeks:               cfg.Cache.Weeks,
		DownloadConcurrency: cfg.Cache.DownloadConcurrency,
	}, objects, opts...)
	if err != nil {
		return nil, err
	}

	sc, err := scorer.New(scorer.WeightsFromConfig(cfg.Scoring), len(radii))
	if err != nil {
		return nil, err
	}

	history, err := store.Open(ctx, cfg.History)
	if err != nil {
		return nil, eris.Wrap(err, "open run history")
	}
	if history == nil {
		zap.L().Info("run history disabled")
	}

	engine := proximity.New(proximity.Config{
		Workers:     cfg.Query.Workers,
		TaskTimeout: time.Duration(cfg.Query.TaskTimeoutSecs) * time.Second,
	}, m)

	p, err := pipeline.New(pipeline.Deps{
		Cache:     cache,
		Engine:    engine,
		Scorer:    sc,
		Projector: geo.UTM{},
		Radii:     radii,
		History:   history,
		Metrics:   m,
	})
	if err != nil {
		if history != nil {
			_ = history.Close()
		}
		return nil, err
	}

	return &scorerEnv{
		Objects:  objects,
		History:  history,
		Cache:    cache,
		Pipeline: p,
		Metrics:  m,
	}, nil
}

// initObjectStore opens the shard object store named by store.driver.
func initObjectStore(ctx context.Context) (objstore.Store, error) {
	switch cfg.Store.Driver {
	case "dir":
		return objstore.NewDir(cfg.Store.Dir), nil
	case "ftp":
		s, err := objstore.NewFTP(objstore.FTPConfig{
			URL:      cfg.Store.Endpoint,
			User:     cfg.Store.AccessKey,
			Password: cfg.Store.SecretKey,
			Retry:    resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs),
		})
		if err != nil {
			return nil, eris.Wrap(err, "init ftp store")
		}
		return s, nil
	case "s3":
		s, err := objstore.NewS3(ctx, objstore.S3Config{
			Endpoint:          cfg.Store.Endpoint,
			Region:            cfg.Store.Region,
			Bucket:            cfg.Store.Bucket,
			Prefix:            cfg.Store.Prefix,
			AccessKey:         cfg.Store.AccessKey,
			SecretKey:         cfg.Store.SecretKey,
			PathStyle:         cfg.Store.PathStyle,
			RequestsPerSecond: cfg.Store.RequestsPerSecond,
			Burst:             cfg.Store.Burst,
			Retry:             resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs),
			Breaker:           resilience.FromCircuitConfig(cfg.Retry.BreakerThreshold, cfg.Retry.BreakerResetSecs),
		})
		if err != nil {
			return nil, eris.Wrap(err, "init s3 store")
		}
		return s, nil
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
