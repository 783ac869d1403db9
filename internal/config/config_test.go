package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/site-scorer/internal/model"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "s3", cfg.Store.Driver)
	assert.Equal(t, "us-east-1", cfg.Store.Region)
	assert.Equal(t, "trees", cfg.Store.Prefix)
	assert.InDelta(t, 20.0, cfg.Store.RequestsPerSecond, 0.001)
	assert.Equal(t, "trees", cfg.Cache.Dir)
	assert.Equal(t, 4, cfg.Cache.Weeks)
	assert.Equal(t, 4, cfg.Cache.DownloadConcurrency)
	assert.Equal(t, model.DefaultRadiusTier(), cfg.Radii())
	assert.Equal(t, 120, cfg.Query.TaskTimeoutSecs)
	assert.Equal(t, []float64{0.4, 0.3, 0.2, 0.1}, cfg.Scoring.BaseWeights)
	assert.Equal(t, []float64{0.25, 0.2, 0.15, 0.1}, cfg.Scoring.AttributeBandWeights)
	assert.InDelta(t, 0.3, cfg.Scoring.AttributeWeight, 0.001)
	assert.Equal(t, "city", cfg.Intake.GroupColumn)
	assert.Equal(t, "num_chargers", cfg.Intake.AttributeColumn)
	assert.Equal(t, "sqlite", cfg.History.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: dir
  dir: /data/trees
cache:
  weeks: 8
query:
  radii:
    - meters: 100
      label: near
    - meters: 500
      label: far
scoring:
  base_weights: [0.6, 0.4]
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dir", cfg.Store.Driver)
	assert.Equal(t, "/data/trees", cfg.Store.Dir)
	assert.Equal(t, 8, cfg.Cache.Weeks)
	assert.Equal(t, model.RadiusTier{{Meters: 100, Label: "near"}, {Meters: 500, Label: "far"}}, cfg.Radii())
	assert.Equal(t, []float64{0.6, 0.4}, cfg.Scoring.BaseWeights)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 4, cfg.Cache.DownloadConcurrency)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  bucket: from-file
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("SITESCORER_STORE_BUCKET", "from-env")
	t.Setenv("SITESCORER_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "from-env", cfg.Store.Bucket)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("SITESCORER_CACHE_WEEKS", "12")
	t.Setenv("SITESCORER_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Cache.Weeks)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "s3"
	cfg.Store.Bucket = "shards"
	cfg.Cache.Dir = "trees"
	cfg.Cache.Weeks = 4
	cfg.Cache.DownloadConcurrency = 4
	cfg.Query.Radii = model.DefaultRadiusTier()
	cfg.History.Driver = "sqlite"
	cfg.Server.Port = 8080
	cfg.Log.Format = "json"
	return cfg
}

func TestValidateModes(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"serve", "score", "refresh", "build", "runs"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Bucket = ""
	err := cfg.Validate("build")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.bucket is required")

	cfg.Store.Driver = "dir"
	err = cfg.Validate("build")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.dir is required")

	cfg.Store.Dir = "/data"
	assert.NoError(t, cfg.Validate("build"))

	cfg.Store.Driver = "ftp"
	err = cfg.Validate("refresh")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ftp:// url")

	cfg.Store.Endpoint = "ftp://mirror.example.com/trees"
	assert.NoError(t, cfg.Validate("refresh"))

	cfg.Store.Driver = "gcs"
	err = cfg.Validate("refresh")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be s3, ftp or dir")
}

func TestValidateCacheBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Cache.Weeks = 0
	cfg.Cache.DownloadConcurrency = 65
	err := cfg.Validate("refresh")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.weeks must be >= 1")
	assert.Contains(t, err.Error(), "cache.download_concurrency must be between 1 and 64")

	// runs does not touch the cache
	assert.NoError(t, cfg.Validate("runs"))
}

func TestValidateRadii(t *testing.T) {
	cfg := validDefaults()
	cfg.Query.Radii = model.RadiusTier{{Meters: 400, Label: "a"}, {Meters: 200, Label: "b"}}

	err := cfg.Validate("score")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query.radii")

	// refresh does not query
	assert.NoError(t, cfg.Validate("refresh"))
}

func TestValidateHistory(t *testing.T) {
	cfg := validDefaults()
	cfg.History.Driver = "postgres"
	err := cfg.Validate("runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history.database_url is required")

	cfg.History.DatabaseURL = "postgres://localhost/scorer"
	assert.NoError(t, cfg.Validate("runs"))

	cfg.History.Driver = "mysql"
	err = cfg.Validate("runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history.driver must be")

	cfg.History.Driver = "none"
	assert.NoError(t, cfg.Validate("runs"))
}

func TestValidateServePort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.NoError(t, cfg.Validate("score"))
}

func TestValidateLogFormat(t *testing.T) {
	cfg := validDefaults()
	cfg.Log.Format = "xml"
	err := cfg.Validate("runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.format")
}
