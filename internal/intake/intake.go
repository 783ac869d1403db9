// Package intake parses candidate sheets (xlsx or csv) into model.Candidate rows.
package intake

import (
	"context"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/site-scorer/internal/config"
	"github.com/sells-group/site-scorer/internal/model"
)

// Columns names the required input columns. Header matching is
// case-insensitive.
type Columns struct {
	Group     string
	Latitude  string
	Longitude string
	Attribute string
	Source    string
}

// DefaultColumns returns the stock column names.
func DefaultColumns() Columns {
	return Columns{
		Group:     "city",
		Latitude:  "latitude",
		Longitude: "longitude",
		Attribute: "num_chargers",
		Source:    "provider",
	}
}

// ColumnsFromConfig builds Columns from config, falling back to the defaults
// for blank names.
func ColumnsFromConfig(c config.IntakeConfig) Columns {
	d := DefaultColumns()
	pick := func(v, def string) string {
		if strings.TrimSpace(v) == "" {
			return def
		}
		return v
	}
	return Columns{
		Group:     pick(c.GroupColumn, d.Group),
		Latitude:  pick(c.LatitudeColumn, d.Latitude),
		Longitude: pick(c.LongitudeColumn, d.Longitude),
		Attribute: pick(c.AttributeColumn, d.Attribute),
		Source:    pick(c.SourceColumn, d.Source),
	}
}

func (c Columns) required() []string {
	return []string{
		strings.ToLower(c.Group),
		strings.ToLower(c.Latitude),
		strings.ToLower(c.Longitude),
		strings.ToLower(c.Attribute),
		strings.ToLower(c.Source),
	}
}

// Parse reads a candidate sheet. The format is chosen by filename extension.
func Parse(ctx context.Context, filename string, r io.Reader, cols Columns) ([]model.Candidate, error) {
	var (
		rows [][]string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".xlsx":
		rows, err = readXLSX(ctx, r)
	case ".csv":
		rows, err = readCSV(ctx, r)
	default:
		return nil, model.NewError(model.KindInvalidInput, "unsupported file type "+strconv.Quote(ext), nil)
	}
	if err != nil {
		return nil, err
	}
	return FromRows(rows, cols)
}

// FromRows converts a header row plus data rows into candidates. Every
// missing required column is reported at once.
func FromRows(rows [][]string, cols Columns) ([]model.Candidate, error) {
	if len(rows) == 0 {
		return nil, model.MissingColumns(cols.required())
	}

	header := make([]string, len(rows[0]))
	index := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		h = strings.ToLower(strings.TrimSpace(h))
		header[i] = h
		if _, dup := index[h]; !dup && h != "" {
			index[h] = i
		}
	}

	var missing []string
	for _, name := range cols.required() {
		if _, ok := index[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, model.MissingColumns(missing)
	}

	req := cols.required()
	known := make(map[int]bool, len(req))
	for _, name := range req {
		known[index[name]] = true
	}

	out := make([]model.Candidate, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		line := i + 2 // 1-based, after the header
		cell := func(name string) string {
			j := index[name]
			if j >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[j])
		}

		lat, err := parseCoord(cell(req[1]), -90, 90)
		if err != nil {
			return nil, badCell(line, req[1], err)
		}
		lon, err := parseCoord(cell(req[2]), -180, 180)
		if err != nil {
			return nil, badCell(line, req[2], err)
		}
		attr, err := parseAttribute(cell(req[3]))
		if err != nil {
			return nil, badCell(line, req[3], err)
		}

		c := model.Candidate{
			Row:       len(out),
			Group:     cell(req[0]),
			Source:    cell(req[4]),
			Latitude:  lat,
			Longitude: lon,
			Attribute: attr,
		}
		for j, h := range header {
			if known[j] || h == "" || j >= len(row) {
				continue
			}
			if c.Extra == nil {
				c.Extra = make(map[string]string)
			}
			c.Extra[h] = row[j]
		}
		out = append(out, c)
	}
	return out, nil
}

func parseCoord(s string, lo, hi float64) (float64, error) {
	if s == "" {
		return 0, eris.New("value is empty")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Errorf("%q is not a number", s)
	}
	if math.IsNaN(v) || v < lo || v > hi {
		return 0, eris.Errorf("%v is outside [%v, %v]", v, lo, hi)
	}
	return v, nil
}

// parseAttribute maps an empty cell to model.UnknownAttribute.
func parseAttribute(s string) (float64, error) {
	if s == "" || strings.EqualFold(s, "n/a") {
		return model.UnknownAttribute, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Errorf("%q is not a number", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, eris.Errorf("%v must be a non-negative number", v)
	}
	return v, nil
}

func badCell(line int, column string, err error) error {
	return model.NewError(model.KindInvalidInput, "row "+strconv.Itoa(line)+" column "+column, err)
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
