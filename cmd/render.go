package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/site-scorer/internal/intake"
	"github.com/sells-group/site-scorer/internal/model"
	"github.com/sells-group/site-scorer/internal/pipeline"
)

// notAvailable is shown in place of an unknown attribute.
const notAvailable = "N/A"

// report is a scored batch flattened into named columns.
type report struct {
	Columns []string
	Rows    [][]any
}

// buildReport lays out res using the configured input column names, any
// extra input columns, the per-band counts and the two scores. Rows flagged
// with an integrity error show zero counts.
func buildReport(res *pipeline.Result, cols intake.Columns) report {
	extras := extraColumns(res.Results)
	hasIntegrity := false
	for _, r := range res.Results {
		if r.Integrity != "" {
			hasIntegrity = true
			break
		}
	}

	header := []string{cols.Group, cols.Latitude, cols.Longitude, cols.Attribute, cols.Source}
	header = append(header, extras...)
	header = append(header, res.Radii.Labels()...)
	header = append(header, "score_nochargers", "score_chargers", "ranking")
	if hasIntegrity {
		header = append(header, "integrity_error")
	}

	rows := make([][]any, 0, len(res.Results))
	for _, r := range res.Results {
		var attr any = notAvailable
		if r.HasAttribute() {
			attr = r.Attribute
		}
		row := []any{r.Group, r.Latitude, r.Longitude, attr, r.Source}
		for _, e := range extras {
			row = append(row, r.Extra[e])
		}
		for i := range res.Radii {
			n := 0
			if r.Integrity == "" && i < len(r.Bands) {
				n = r.Bands[i]
			}
			row = append(row, n)
		}
		row = append(row, r.ScoreBase, r.ScoreWithAttribute, string(r.Rank))
		if hasIntegrity {
			row = append(row, r.Integrity)
		}
		rows = append(rows, row)
	}
	return report{Columns: header, Rows: rows}
}

func extraColumns(results []model.ScoreResult) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range results {
		for k := range r.Extra {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}

// records returns one map per row keyed by column name.
func (r report) records() []map[string]any {
	out := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		rec := make(map[string]any, len(r.Columns))
		for i, c := range r.Columns {
			rec[c] = row[i]
		}
		out = append(out, rec)
	}
	return out
}

// writeReport renders rep to w in format: table, csv, json or yaml.
func writeReport(w io.Writer, rep report, format string) error {
	switch strings.ToLower(format) {
	case "", "table":
		return writeTable(w, rep)
	case "csv":
		return writeCSV(w, rep)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep.records())
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep.records()); err != nil {
			return eris.Wrap(err, "render yaml")
		}
		return enc.Close()
	default:
		return eris.Errorf("unknown output format %q (want table, csv, json or yaml)", format)
	}
}

func writeTable(out io.Writer, rep report) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.ToUpper(strings.Join(rep.Columns, "\t")))
	for _, row := range rep.Rows {
		_, _ = fmt.Fprintln(w, strings.Join(cells(row), "\t"))
	}
	return w.Flush()
}

func writeCSV(out io.Writer, rep report) error {
	w := csv.NewWriter(out)
	if err := w.Write(rep.Columns); err != nil {
		return eris.Wrap(err, "render csv")
	}
	for _, row := range rep.Rows {
		if err := w.Write(cells(row)); err != nil {
			return eris.Wrap(err, "render csv")
		}
	}
	w.Flush()
	return w.Error()
}

func cells(row []any) []string {
	out := make([]string, len(row))
	for i, v := range row {
		switch v := v.(type) {
		case float64:
			out[i] = strconv.FormatFloat(v, 'f', -1, 64)
		case string:
			out[i] = v
		default:
			out[i] = fmt.Sprint(v)
		}
	}
	return out
}
