package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/sells-group/site-scorer/internal/shardcache"
)

var refreshDate string

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Reconcile the local shard cache with object storage",
	Long:  "Downloads the shards of every week in the retention window ending at --date (default today) and deletes local shards from weeks outside it.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		progress := newDownloadProgress(os.Stderr)
		env, err := initEnv(ctx, "refresh", shardcache.WithProgress(progress.update))
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.Refresh(ctx, refreshDate)
		progress.finish()
		if err != nil {
			return eris.Wrap(err, "refresh")
		}

		formatRefreshResult(os.Stdout, res)
		return nil
	},
}

func init() {
	refreshCmd.Flags().StringVar(&refreshDate, "date", "", "last day of the retention window (YYYY-MM-DD, default today)")
	rootCmd.AddCommand(refreshCmd)
}

// downloadProgress drives a progress bar from cache download callbacks,
// which may arrive concurrently and out of order.
type downloadProgress struct {
	mu   sync.Mutex
	out  io.Writer
	bar  *progressbar.ProgressBar
	done int
}

func newDownloadProgress(out io.Writer) *downloadProgress {
	return &downloadProgress{out: out}
}

func (p *downloadProgress) update(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if total == 0 {
		return
	}
	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetDescription("downloading shards"),
			progressbar.OptionShowCount(),
		)
	}
	if done > p.done {
		p.done = done
		_ = p.bar.Set(done)
	}
}

func (p *downloadProgress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
		_, _ = fmt.Fprintln(p.out)
	}
}

// formatRefreshResult writes a short summary of a reconcile pass.
func formatRefreshResult(out io.Writer, res *shardcache.Result) {
	_, _ = fmt.Fprintf(out, "Window:     %s .. %s (%d weeks)\n",
		res.Window.Start().Format("2006-01-02"), res.Window.End.Format("2006-01-02"), res.Window.Weeks)
	_, _ = fmt.Fprintf(out, "Needed:     %s\n", joinOrDash(res.Needed))
	_, _ = fmt.Fprintf(out, "Obsolete:   %s\n", joinOrDash(res.Obsolete))
	_, _ = fmt.Fprintf(out, "Downloaded: %d\n", len(res.Downloaded))
	_, _ = fmt.Fprintf(out, "Deleted:    %d\n", len(res.Deleted))
	_, _ = fmt.Fprintf(out, "Available:  %d\n", len(res.Available))
}

func joinOrDash(vs []string) string {
	if len(vs) == 0 {
		return "-"
	}
	return strings.Join(vs, ", ")
}
