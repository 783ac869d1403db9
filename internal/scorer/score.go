package scorer

import (
	"math"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/site-scorer/internal/model"
)

// Scorer computes band counts, scores and ranks for a batch of candidates.
type Scorer struct {
	weights Weights
	bands   int
}

// New validates w for the given number of radius bands.
func New(w Weights, bands int) (*Scorer, error) {
	if err := w.Validate(bands); err != nil {
		return nil, err
	}
	return &Scorer{weights: w, bands: bands}, nil
}

// Weights returns the weights in use.
func (s *Scorer) Weights() Weights {
	return s.weights
}

// NormalizeGroup maps a raw group key to its display form: underscores
// become spaces and words are title-cased ("NEW_YORK" -> "New York").
func NormalizeGroup(raw string) string {
	return cases.Title(language.Und).String(strings.ReplaceAll(strings.TrimSpace(raw), "_", " "))
}

// Score converts every candidate's cumulative counts to bands, scores each
// group against its own maxima, ranks each group and returns the results
// sorted by ScoreBase descending. Candidates whose counts fail the band
// integrity check are flagged, scored 0, labelled Unscored and left out of
// their group's maxima and ranking.
func (s *Scorer) Score(cands []model.Candidate) []model.ScoreResult {
	results := make([]model.ScoreResult, len(cands))
	groups := make(map[string][]int)
	var order []string

	for i, c := range cands {
		c.Group = NormalizeGroup(c.Group)
		r := model.ScoreResult{Candidate: c, AttributeKnown: c.HasAttribute()}

		bands, err := ToBands(c.Counts)
		if err == nil && len(bands) != s.bands {
			err = model.NewError(model.KindDataIntegrity, "candidate has wrong number of counts", nil)
		}
		if err != nil {
			r.Integrity = err.Error()
			r.Rank = model.RankUnscored
			zap.L().Warn("scorer: candidate failed integrity check",
				zap.Int("row", c.Row),
				zap.String("group", c.Group),
				zap.Error(err),
			)
			results[i] = r
			continue
		}
		r.Bands = bands
		results[i] = r

		if _, ok := groups[c.Group]; !ok {
			order = append(order, c.Group)
		}
		groups[c.Group] = append(groups[c.Group], i)
	}

	for _, g := range order {
		idx := groups[g]
		s.scoreGroup(results, idx)
		rankGroup(results, idx)
	}

	sortByScore(results)
	return results
}

// scoreGroup fills both scores for the results at idx, which share a group.
func (s *Scorer) scoreGroup(results []model.ScoreResult, idx []int) {
	maxBand := make([]int, s.bands)
	maxAttr := 0.0
	for _, i := range idx {
		for b, n := range results[i].Bands {
			maxBand[b] = max(maxBand[b], n)
		}
		if results[i].AttributeKnown {
			maxAttr = math.Max(maxAttr, results[i].Attribute)
		}
	}

	for _, i := range idx {
		r := &results[i]
		if allZero(r.Bands) {
			r.ScoreBase, r.ScoreWithAttribute = 0, 0
			continue
		}
		r.ScoreBase = weighted(r.Bands, maxBand, s.weights.Base, 0)

		if r.AttributeKnown && maxAttr != 0 {
			attr := s.weights.Attribute * r.Attribute / maxAttr
			r.ScoreWithAttribute = weighted(r.Bands, maxBand, s.weights.AttributeBands, attr)
		}
	}
}

// weighted returns round(100 * (extra + Σ w_b * n_b / max_b)); terms with a
// zero maximum contribute nothing. Halves round to even.
func weighted(bands, maxBand []int, weights []float64, extra float64) int {
	total := extra
	for b, n := range bands {
		if maxBand[b] == 0 {
			continue
		}
		total += weights[b] * float64(n) / float64(maxBand[b])
	}
	score := math.RoundToEven(100 * total)
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	return int(math.Min(score, 100))
}

func allZero(ns []int) bool {
	for _, n := range ns {
		if n != 0 {
			return false
		}
	}
	return true
}
