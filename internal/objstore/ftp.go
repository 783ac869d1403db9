package objstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/site-scorer/internal/model"
	"github.com/sells-group/site-scorer/internal/resilience"
)

// FTPConfig configures an FTP backed store. URL is ftp://host[:port]/root;
// an empty User logs in anonymously.
type FTPConfig struct {
	URL      string
	User     string
	Password string
	Timeout  time.Duration
	Retry    resilience.RetryConfig
}

// ftpClient is the subset of an FTP session the store uses.
type ftpClient interface {
	List(dir string) ([]*ftp.Entry, error)
	Retrieve(file string) ([]byte, error)
	Store(file string, r io.Reader) error
	MakeDir(dir string) error
	Quit() error
}

// FTP is a Store on an FTP server laid out like the bucket. Each call opens
// its own session, so the store is safe for concurrent use.
type FTP struct {
	root  string
	retry resilience.RetryConfig
	dial  func(ctx context.Context) (ftpClient, error)
	log   *zap.Logger
}

// NewFTP returns a store for cfg. No connection is made until first use.
func NewFTP(cfg FTPConfig) (*FTP, error) {
	host, root, err := parseFTPURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	user, pass := cfg.User, cfg.Password
	if user == "" {
		user, pass = "anonymous", "anonymous@"
	}
	dial := func(ctx context.Context) (ftpClient, error) {
		conn, err := ftp.Dial(host, ftp.DialWithTimeout(cfg.Timeout), ftp.DialWithContext(ctx))
		if err != nil {
			return nil, eris.Wrap(err, "ftp dial")
		}
		if err := conn.Login(user, pass); err != nil {
			_ = conn.Quit()
			return nil, eris.Wrap(err, "ftp login")
		}
		return serverConn{conn}, nil
	}
	return newFTP(root, cfg.Retry, dial), nil
}

func newFTP(root string, retry resilience.RetryConfig, dial func(ctx context.Context) (ftpClient, error)) *FTP {
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("objstore", "ftp")
	}
	return &FTP{
		root:  root,
		retry: retry,
		dial:  dial,
		log:   zap.L().With(zap.String("component", "objstore.ftp")),
	}
}

// parseFTPURL extracts host (with port) and root path from an FTP URL.
func parseFTPURL(rawURL string) (host string, root string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("expected ftp scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", "", eris.New("empty host in ftp url")
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	root = path.Clean("/" + u.Path)
	return host, root, nil
}

// List implements Store by walking the tree under the root.
func (f *FTP) List(ctx context.Context, contains string) ([]string, error) {
	keys, err := withFTP(ctx, f, func(c ftpClient) ([]string, error) {
		var keys []string
		if err := f.walk(ctx, c, f.root, &keys); err != nil {
			return nil, err
		}
		return keys, nil
	})
	if err != nil {
		return nil, model.NewError(model.KindRemoteListingFailure, "list ftp "+f.root, err)
	}

	var out []string
	for _, k := range keys {
		if strings.Contains(k, contains) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	f.log.Debug("objstore: listed keys", zap.String("contains", contains), zap.Int("count", len(out)))
	return out, nil
}

func (f *FTP) walk(ctx context.Context, c ftpClient, dir string, keys *[]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := c.List(dir)
	if err != nil {
		return classifyFTP(eris.Wrapf(err, "ftp list %s", dir))
	}
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		p := path.Join(dir, e.Name)
		switch e.Type {
		case ftp.EntryTypeFolder:
			if err := f.walk(ctx, c, p, keys); err != nil {
				return err
			}
		case ftp.EntryTypeFile:
			*keys = append(*keys, strings.TrimPrefix(strings.TrimPrefix(p, f.root), "/"))
		}
	}
	return nil
}

// Get implements Store.
func (f *FTP) Get(ctx context.Context, key string) ([]byte, error) {
	p := path.Join(f.root, key)
	data, err := withFTP(ctx, f, func(c ftpClient) ([]byte, error) {
		b, err := c.Retrieve(p)
		if err != nil {
			return nil, classifyFTP(eris.Wrapf(err, "ftp retrieve %s", p))
		}
		return b, nil
	})
	if err != nil {
		if isFTPCode(err, ftp.StatusFileUnavailable) {
			err = eris.Wrapf(ErrNotFound, "objstore: get %s", key)
		}
		return nil, model.NewError(model.KindRemoteDownloadFailure, "get "+key, err)
	}
	return data, nil
}

// Put implements Store. Missing directories are created.
func (f *FTP) Put(ctx context.Context, key string, data []byte) error {
	p := path.Join(f.root, key)
	_, err := withFTP(ctx, f, func(c ftpClient) (struct{}, error) {
		if err := mkdirAll(c, f.root, path.Dir(p)); err != nil {
			return struct{}{}, err
		}
		if err := c.Store(p, bytes.NewReader(data)); err != nil {
			return struct{}{}, classifyFTP(eris.Wrapf(err, "ftp store %s", p))
		}
		return struct{}{}, nil
	})
	return eris.Wrapf(err, "objstore: put ftp %s", p)
}

// mkdirAll creates each directory between root and dir. Errors from
// directories that already exist are ignored.
func mkdirAll(c ftpClient, root, dir string) error {
	rel := strings.TrimPrefix(strings.TrimPrefix(dir, root), "/")
	if rel == "" {
		return nil
	}
	cur := root
	for _, part := range strings.Split(rel, "/") {
		cur = path.Join(cur, part)
		if err := c.MakeDir(cur); err != nil && !isFTPCode(err, ftp.StatusFileUnavailable) {
			return classifyFTP(eris.Wrapf(err, "ftp mkdir %s", cur))
		}
	}
	return nil
}

// withFTP opens a session, runs fn and closes the session, retrying
// transient failures.
func withFTP[T any](ctx context.Context, f *FTP, fn func(c ftpClient) (T, error)) (T, error) {
	return resilience.DoVal(ctx, f.retry, func(ctx context.Context) (T, error) {
		var zero T
		c, err := f.dial(ctx)
		if err != nil {
			return zero, classifyFTP(err)
		}
		defer func() {
			if qerr := c.Quit(); qerr != nil {
				f.log.Debug("ftp quit", zap.Error(qerr))
			}
		}()
		return fn(c)
	})
}

// classifyFTP marks 4xx replies, which FTP reserves for transient
// conditions, as retryable.
func classifyFTP(err error) error {
	var te *textproto.Error
	if errors.As(err, &te) && te.Code >= 400 && te.Code < 500 {
		return resilience.NewTransientError(err, 0)
	}
	return err
}

func isFTPCode(err error, code int) bool {
	var te *textproto.Error
	return errors.As(err, &te) && te.Code == code
}

// serverConn adapts *ftp.ServerConn to ftpClient.
type serverConn struct {
	c *ftp.ServerConn
}

func (s serverConn) List(dir string) ([]*ftp.Entry, error) { return s.c.List(dir) }
func (s serverConn) MakeDir(dir string) error              { return s.c.MakeDir(dir) }
func (s serverConn) Quit() error                           { return s.c.Quit() }

func (s serverConn) Store(file string, r io.Reader) error {
	return s.c.Stor(file, r)
}

func (s serverConn) Retrieve(file string) ([]byte, error) {
	resp, err := s.c.Retr(file)
	if err != nil {
		return nil, err
	}
	defer resp.Close() //nolint:errcheck
	b, err := io.ReadAll(resp)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "read ftp response"), 0)
	}
	return b, nil
}
