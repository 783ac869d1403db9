package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/site-scorer/internal/geo"
	"github.com/sells-group/site-scorer/internal/model"
	"github.com/sells-group/site-scorer/internal/shardbuild"
	"github.com/sells-group/site-scorer/internal/shardcodec"
)

var shardCmd = &cobra.Command{
	Use:   "shard",
	Short: "Build and publish weekly point shards",
}

var shardBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build per-zone shards for one week from a CSV or point shapefile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		input, _ := cmd.Flags().GetString("input")
		weekStr, _ := cmd.Flags().GetString("week")
		upload, _ := cmd.Flags().GetBool("upload")
		outDir, _ := cmd.Flags().GetString("out")
		latCol, _ := cmd.Flags().GetString("lat-col")
		lonCol, _ := cmd.Flags().GetString("lon-col")

		if !upload && outDir == "" {
			return eris.New("shard build: set --upload, --out or both")
		}
		week, err := time.Parse(model.DateLayout, weekStr)
		if err != nil {
			return model.NewError(model.KindInvalidDateFormat, fmt.Sprintf("week %q", weekStr), err)
		}

		pts, skipped, err := readPoints(ctx, input, latCol, lonCol)
		if err != nil {
			return err
		}
		log := zap.L().With(zap.String("component", "shard.build"))
		log.Info("read points", zap.Int("points", len(pts)), zap.Int("skipped", skipped))

		builder := shardbuild.New(geo.UTM{}, shardcodec.Options{})
		shards, unprojected, err := builder.Build(ctx, week, pts)
		if err != nil {
			return err
		}
		if unprojected > 0 {
			log.Warn("points outside the projection range", zap.Int("skipped", unprojected))
		}

		if outDir != "" {
			paths, err := shardbuild.WriteDir(outDir, shards)
			if err != nil {
				return err
			}
			log.Info("wrote shards", zap.String("dir", outDir), zap.Int("files", len(paths)))
		}
		if upload {
			if err := cfg.Validate("build"); err != nil {
				return err
			}
			objects, err := initObjectStore(ctx)
			if err != nil {
				return err
			}
			keys, err := builder.Publish(ctx, objects, shards)
			if err != nil {
				return err
			}
			log.Info("published shards", zap.Int("objects", len(keys)))
		}

		formatShardList(os.Stdout, shards)
		return nil
	},
}

func init() {
	shardBuildCmd.Flags().String("input", "", "point source (.csv or .shp)")
	shardBuildCmd.Flags().String("week", "", "any day of the target week (YYYY-MM-DD)")
	shardBuildCmd.Flags().Bool("upload", false, "publish shards to the configured object store")
	shardBuildCmd.Flags().String("out", "", "also write shards to this directory")
	shardBuildCmd.Flags().String("lat-col", "latitude", "CSV latitude column")
	shardBuildCmd.Flags().String("lon-col", "longitude", "CSV longitude column")
	_ = shardBuildCmd.MarkFlagRequired("input")
	_ = shardBuildCmd.MarkFlagRequired("week")

	shardCmd.AddCommand(shardBuildCmd)
	rootCmd.AddCommand(shardCmd)
}

// readPoints loads lat/lon points from a CSV or shapefile by extension.
func readPoints(ctx context.Context, path, latCol, lonCol string) ([]shardbuild.LatLon, int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return shardbuild.ReadShapefile(path)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, 0, eris.Wrapf(err, "open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return shardbuild.ReadCSV(ctx, f, latCol, lonCol)
	default:
		return nil, 0, model.NewError(model.KindInvalidInput,
			fmt.Sprintf("unsupported point source %q (want .csv or .shp)", filepath.Base(path)), nil)
	}
}

// formatShardList writes one line per built shard.
func formatShardList(out io.Writer, shards []shardbuild.Encoded) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SHARD\tPOINTS\tBYTES")
	_, _ = fmt.Fprintln(w, "-----\t------\t-----")
	for _, s := range shards {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\n", s.Key.Basename(), s.Points, len(s.Blob))
	}
	_ = w.Flush()
}
