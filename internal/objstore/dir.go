package objstore

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Dir is a Store backed by a local directory tree, used for offline runs
// and for staging shards before upload.
type Dir struct {
	root string
}

// NewDir returns a Store rooted at root. The directory is created on first
// Put.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// List implements Store.
func (d *Dir) List(ctx context.Context, contains string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(d.root, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if e.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.Contains(key, contains) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "objstore: list %s", d.root)
	}
	sort.Strings(keys)
	return keys, nil
}

// Get implements Store.
func (d *Dir) Get(_ context.Context, key string) ([]byte, error) {
	b, err := os.ReadFile(d.path(key))
	if os.IsNotExist(err) {
		return nil, eris.Wrapf(ErrNotFound, "objstore: get %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "objstore: get %s", key)
	}
	return b, nil
}

// Put implements Store. The write goes through a temp file and rename.
func (d *Dir) Put(_ context.Context, key string, data []byte) error {
	dst := d.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return eris.Wrapf(err, "objstore: mkdir for %s", key)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return eris.Wrapf(err, "objstore: put %s", key)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return eris.Wrapf(err, "objstore: put %s", key)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "objstore: put %s", key)
	}
	return eris.Wrapf(os.Rename(tmp.Name(), dst), "objstore: put %s", key)
}

func (d *Dir) path(key string) string {
	return filepath.Join(d.root, filepath.FromSlash(strings.TrimPrefix(key, "/")))
}
