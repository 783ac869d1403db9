package shardbuild

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// LatLon is one raw geographic point.
type LatLon struct {
	Lat float64
	Lon float64
}

// ReadCSV reads points from a CSV with a header row. latCol and lonCol are
// matched case-insensitively. Rows whose coordinates do not parse are
// skipped and counted.
func ReadCSV(ctx context.Context, r io.Reader, latCol, lonCol string) ([]LatLon, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, 0, eris.New("shardbuild: csv is empty")
	}
	if err != nil {
		return nil, 0, eris.Wrap(err, "shardbuild: read csv header")
	}
	latIdx, lonIdx := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case strings.ToLower(latCol):
			latIdx = i
		case strings.ToLower(lonCol):
			lonIdx = i
		}
	}
	if latIdx < 0 || lonIdx < 0 {
		return nil, 0, eris.Errorf("shardbuild: csv needs %q and %q columns", latCol, lonCol)
	}

	var (
		pts     []LatLon
		skipped int
	)
	for {
		if ctx.Err() != nil {
			return nil, 0, eris.Wrap(ctx.Err(), "shardbuild: context cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, eris.Wrap(err, "shardbuild: read csv row")
		}
		if latIdx >= len(record) || lonIdx >= len(record) {
			skipped++
			continue
		}
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(record[latIdx]), 64)
		lon, errLon := strconv.ParseFloat(strings.TrimSpace(record[lonIdx]), 64)
		if errLat != nil || errLon != nil {
			skipped++
			continue
		}
		pts = append(pts, LatLon{Lat: lat, Lon: lon})
	}
	return pts, skipped, nil
}

// ReadShapefile reads point geometries from a shapefile whose coordinates
// are longitude (X) and latitude (Y). Non-point records are skipped and
// counted.
func ReadShapefile(shpPath string) ([]LatLon, int, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "shardbuild: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	var (
		pts     []LatLon
		skipped int
	)
	for reader.Next() {
		_, shape := reader.Shape()
		switch s := shape.(type) {
		case *shp.Point:
			pts = append(pts, LatLon{Lat: s.Y, Lon: s.X})
		case *shp.PointZ:
			pts = append(pts, LatLon{Lat: s.Y, Lon: s.X})
		case *shp.PointM:
			pts = append(pts, LatLon{Lat: s.Y, Lon: s.X})
		case *shp.MultiPoint:
			for _, p := range s.Points {
				pts = append(pts, LatLon{Lat: p.Y, Lon: p.X})
			}
		default:
			skipped++
		}
	}
	if err := reader.Err(); err != nil {
		return nil, 0, eris.Wrapf(err, "shardbuild: read shapefile %s", shpPath)
	}

	if skipped > 0 {
		zap.L().Debug("shardbuild: skipped non-point shapefile records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}
	return pts, skipped, nil
}
