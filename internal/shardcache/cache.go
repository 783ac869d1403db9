// Package shardcache mirrors the week/zone shards inside a retention window
// from the object store into a local directory and keeps an in-memory
// snapshot of the decoded shards for queries.
package shardcache

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/site-scorer/internal/metrics"
	"github.com/sells-group/site-scorer/internal/model"
	"github.com/sells-group/site-scorer/internal/objstore"
	"github.com/sells-group/site-scorer/internal/shardcodec"
	"github.com/sells-group/site-scorer/internal/spatial"
)

// Config controls the local cache.
type Config struct {
	Dir                 string
	Weeks               int
	DownloadConcurrency int
}

// Option customises a Cache.
type Option func(*Cache)

// WithMetrics records reconciliation metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithClock replaces time.Now, which decides "today" for an empty end date.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithProgress is called once the download plan is known and after each
// completed download.
func WithProgress(fn func(done, total int)) Option {
	return func(c *Cache) { c.progress = fn }
}

// Cache owns the local shard directory. Reconcile and Load are serialised;
// Snapshot is safe to call at any time.
type Cache struct {
	cfg      Config
	store    objstore.Store
	metrics  *metrics.Metrics
	now      func() time.Time
	progress func(done, total int)
	log      *zap.Logger

	mu   sync.Mutex
	snap atomic.Pointer[Snapshot]
}

// New creates a cache over store. The directory is created lazily.
func New(cfg Config, store objstore.Store, opts ...Option) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, eris.New("shardcache: cache dir is required")
	}
	if cfg.Weeks < 1 {
		return nil, eris.Errorf("shardcache: weeks must be >= 1, got %d", cfg.Weeks)
	}
	if cfg.DownloadConcurrency < 1 {
		cfg.DownloadConcurrency = 4
	}
	c := &Cache{
		cfg:   cfg,
		store: store,
		now:   time.Now,
		log:   zap.L().With(zap.String("component", "shardcache")),
	}
	for _, o := range opts {
		o(c)
	}
	c.snap.Store(newSnapshot(map[string]*spatial.Shard{}, time.Time{}))
	return c, nil
}

// Snapshot returns the current immutable shard set. It is never nil.
func (c *Cache) Snapshot() *Snapshot {
	return c.snap.Load()
}

// Available lists the keys of every shard in the current snapshot.
func (c *Cache) Available() []model.ShardKey {
	return c.Snapshot().Keys()
}

// Result summarises one reconciliation pass.
type Result struct {
	Window     model.RetentionWindow `json:"window"`
	Needed     []string              `json:"needed_weeks"`
	Obsolete   []string              `json:"obsolete_weeks"`
	Downloaded map[string]string     `json:"downloaded"`
	Deleted    []string              `json:"deleted"`
	Available  []model.ShardKey      `json:"available"`
}

// Summary flattens the result for run history.
func (r *Result) Summary() map[string]any {
	return map[string]any{
		"end":        r.Window.End.Format(model.DateLayout),
		"weeks":      r.Window.Weeks,
		"needed":     r.Needed,
		"obsolete":   r.Obsolete,
		"downloaded": len(r.Downloaded),
		"deleted":    len(r.Deleted),
		"available":  len(r.Available),
	}
}

// Reconcile brings the local directory in line with the retention window
// ending at endDate (YYYY-MM-DD, empty = today). A malformed date fails
// before any disk or network access.
func (c *Cache) Reconcile(ctx context.Context, endDate string) (*Result, error) {
	window, err := model.NewRetentionWindow(endDate, c.cfg.Weeks, c.now())
	if err != nil {
		return nil, err
	}
	return c.ReconcileWindow(ctx, window)
}

// ReconcileWindow runs one pass against an already validated window:
// list remote shards, split observed weeks into needed and obsolete, delete
// obsolete local files, download missing needed shards and rebuild the
// snapshot. A failed download aborts the pass and leaves earlier downloads
// in place; running the pass again resumes from there.
func (c *Cache) ReconcileWindow(ctx context.Context, window model.RetentionWindow) (res *Result, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	res = &Result{Window: window, Downloaded: map[string]string{}}
	defer func() {
		c.metrics.RecordReconcile(time.Since(start), len(res.Downloaded), len(res.Deleted), len(res.Available), err)
	}()

	if err := os.MkdirAll(c.cfg.Dir, 0o755); err != nil && !os.IsExist(err) {
		return res, eris.Wrapf(err, "shardcache: create %s", c.cfg.Dir)
	}

	remote, err := c.store.List(ctx, model.ShardSuffix)
	if err != nil {
		return res, wrapRemote(err, model.KindRemoteListingFailure, "list remote shards")
	}
	local, err := c.localFiles()
	if err != nil {
		return res, err
	}

	weeks := remoteWeeks(remote, c.log)
	for _, name := range local {
		if d, ok := model.WeekDateIn(name); ok {
			weeks[d] = true
		}
	}
	needed, obsolete := partitionWeeks(weeks, window, c.log)
	res.Needed, res.Obsolete = sortedKeys(needed), sortedKeys(obsolete)

	toDelete := obsoleteFiles(local, obsolete)
	for _, name := range toDelete {
		p := filepath.Join(c.cfg.Dir, name)
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return res, eris.Wrapf(err, "shardcache: delete %s", p)
		}
		res.Deleted = append(res.Deleted, p)
		c.log.Info("deleted obsolete shard", zap.String("file", name))
	}

	toDownload := downloadPlan(remote, needed, local)
	c.log.Info("reconcile plan",
		zap.String("window_start", window.Start().Format(model.DateLayout)),
		zap.String("window_end", window.End.Format(model.DateLayout)),
		zap.Strings("needed", res.Needed),
		zap.Strings("obsolete", res.Obsolete),
		zap.Int("download", len(toDownload)),
		zap.Int("delete", len(toDelete)),
	)

	downloaded, err := c.download(ctx, toDownload)
	for k, v := range downloaded {
		res.Downloaded[k] = v
	}
	if err != nil {
		return res, err
	}

	snap, err := c.rebuild(c.Snapshot())
	if err != nil {
		return res, err
	}
	c.snap.Store(snap)
	res.Available = snap.Keys()
	return res, nil
}

// Load builds the snapshot from whatever is on disk, without touching the
// object store. Files that fail to decode are removed with a warning.
func (c *Cache) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(c.cfg.Dir, 0o755); err != nil && !os.IsExist(err) {
		return eris.Wrapf(err, "shardcache: create %s", c.cfg.Dir)
	}
	snap, err := c.rebuild(nil)
	if err != nil {
		return err
	}
	c.snap.Store(snap)
	c.metrics.SetCachedShards(snap.Len())
	c.log.Info("loaded shard cache", zap.Int("shards", snap.Len()), zap.Strings("weeks", snap.Weeks()))
	return nil
}

// localFiles returns the basenames of shard files in the cache directory.
func (c *Cache) localFiles() ([]string, error) {
	entries, err := os.ReadDir(c.cfg.Dir)
	if err != nil {
		return nil, eris.Wrapf(err, "shardcache: read %s", c.cfg.Dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), model.ShardSuffix) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// remoteWeeks collects the distinct week directories in a listing. A key's
// week is its parent directory; keys rooted at "/" and directories whose
// name is not a date are skipped.
func remoteWeeks(keys []string, log *zap.Logger) map[string]bool {
	weeks := make(map[string]bool)
	for _, k := range keys {
		dir, ok := weekDir(k)
		if !ok {
			log.Debug("skipping key outside a week directory", zap.String("key", k))
			continue
		}
		weeks[dir] = true
	}
	return weeks
}

func weekDir(key string) (string, bool) {
	if strings.HasPrefix(key, "/") {
		return "", false
	}
	dir := path.Dir(strings.TrimSuffix(key, "/"))
	if dir == "." {
		return "", false
	}
	week := path.Base(dir)
	if _, err := time.Parse(model.DateLayout, week); err != nil {
		return "", false
	}
	return week, true
}

func partitionWeeks(weeks map[string]bool, window model.RetentionWindow, log *zap.Logger) (needed, obsolete map[string]bool) {
	needed = make(map[string]bool)
	obsolete = make(map[string]bool)
	for w := range weeks {
		t, err := time.Parse(model.DateLayout, w)
		if err != nil {
			log.Debug("skipping unparseable week", zap.String("week", w))
			continue
		}
		if window.Contains(t) {
			needed[w] = true
		} else {
			obsolete[w] = true
		}
	}
	return needed, obsolete
}

// downloadPlan keeps leaf shard keys under needed weeks whose basename is
// not already cached.
func downloadPlan(remote []string, needed map[string]bool, local []string) []string {
	have := make(map[string]bool, len(local))
	for _, n := range local {
		have[n] = true
	}
	var plan []string
	seen := make(map[string]bool)
	for _, k := range remote {
		if strings.HasSuffix(k, "/") || !strings.HasSuffix(k, model.ShardSuffix) {
			continue
		}
		week, ok := weekDir(k)
		if !ok || !needed[week] {
			continue
		}
		base := path.Base(k)
		if have[base] || seen[base] {
			continue
		}
		seen[base] = true
		plan = append(plan, k)
	}
	sort.Strings(plan)
	return plan
}

// obsoleteFiles returns local basenames that embed an obsolete week date.
func obsoleteFiles(local []string, obsolete map[string]bool) []string {
	var out []string
	for _, n := range local {
		for w := range obsolete {
			if strings.Contains(n, w) {
				out = append(out, n)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func (c *Cache) download(ctx context.Context, keys []string) (map[string]string, error) {
	total := len(keys)
	if c.progress != nil {
		c.progress(0, total)
	}
	if total == 0 {
		return nil, nil
	}

	var (
		mu   sync.Mutex
		done = make(map[string]string, total)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.DownloadConcurrency)
	for _, key := range keys {
		g.Go(func() error {
			p, err := c.fetch(gctx, key)
			if err != nil {
				return err
			}
			mu.Lock()
			done[key] = p
			n := len(done)
			mu.Unlock()
			if c.progress != nil {
				c.progress(n, total)
			}
			c.log.Info("downloaded shard", zap.String("key", key), zap.String("path", p))
			return nil
		})
	}
	err := g.Wait()
	return done, err
}

// fetch downloads one key, checks it decodes to the shard its name claims,
// and writes it atomically under the remote basename.
func (c *Cache) fetch(ctx context.Context, key string) (string, error) {
	blob, err := c.store.Get(ctx, key)
	if err != nil {
		return "", wrapRemote(err, model.KindRemoteDownloadFailure, "download "+key)
	}
	shard, err := shardcodec.Decode(blob)
	if err != nil {
		return "", eris.Wrapf(err, "shardcache: decode %s", key)
	}
	base := path.Base(key)
	if want, perr := model.ParseShardName(base); perr == nil && want.Zone != shard.Key().Zone {
		return "", model.NewError(model.KindDataIntegrity,
			"shard "+key+" holds zone "+shard.Key().Zone.String(), nil)
	}

	dst := filepath.Join(c.cfg.Dir, base)
	if err := writeAtomic(dst, blob); err != nil {
		return "", eris.Wrapf(err, "shardcache: write %s", dst)
	}
	return dst, nil
}

// rebuild decodes every local shard file into a new snapshot, reusing
// already decoded shards from prev by basename. Files that fail to decode
// are deleted.
func (c *Cache) rebuild(prev *Snapshot) (*Snapshot, error) {
	names, err := c.localFiles()
	if err != nil {
		return nil, err
	}
	files := make(map[string]*spatial.Shard, len(names))
	for _, n := range names {
		if prev != nil {
			if sh, ok := prev.byFile[n]; ok {
				files[n] = sh
				continue
			}
		}
		blob, err := os.ReadFile(filepath.Join(c.cfg.Dir, n))
		if err != nil {
			return nil, eris.Wrapf(err, "shardcache: read %s", n)
		}
		sh, err := shardcodec.Decode(blob)
		if err != nil {
			// Removing it lets the next reconcile download a fresh copy.
			c.log.Warn("removing undecodable shard", zap.String("file", n), zap.Error(err))
			if rmErr := os.Remove(filepath.Join(c.cfg.Dir, n)); rmErr != nil && !os.IsNotExist(rmErr) {
				c.log.Warn("remove undecodable shard", zap.String("file", n), zap.Error(rmErr))
			}
			continue
		}
		files[n] = sh
	}
	return newSnapshot(files, c.now()), nil
}

func writeAtomic(dst string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// wrapRemote keeps an existing typed error and otherwise tags err with kind.
func wrapRemote(err error, kind model.ErrorKind, msg string) error {
	if _, ok := model.AsError(err); ok {
		return eris.Wrap(err, "shardcache: "+msg)
	}
	return model.NewError(kind, "shardcache: "+msg, err)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
