package scorer

import (
	"sort"

	"github.com/sells-group/site-scorer/internal/model"
)

// rankGroup labels the results at idx, which share a group. The closed range
// [min, max] of ScoreBase is cut into five equal-width bands; each band
// includes its lower edge and excludes its upper edge, except the last which
// also includes max. When every score is equal each result is Highest.
func rankGroup(results []model.ScoreResult, idx []int) {
	if len(idx) == 0 {
		return
	}
	lo, hi := results[idx[0]].ScoreBase, results[idx[0]].ScoreBase
	for _, i := range idx[1:] {
		lo = min(lo, results[i].ScoreBase)
		hi = max(hi, results[i].ScoreBase)
	}
	for _, i := range idx {
		results[i].Rank = RankFor(results[i].ScoreBase, lo, hi)
	}
}

// RankFor returns the label for score within the group range [lo, hi].
func RankFor(score, lo, hi int) model.RankLabel {
	n := len(model.RankLabels)
	if hi <= lo {
		return model.RankHighest
	}
	// floor((score-lo) / ((hi-lo)/n)) in integers, so edges are exact.
	b := n * (score - lo) / (hi - lo)
	b = max(0, min(b, n-1))
	return model.RankLabels[b]
}

// sortByScore orders results by ScoreBase descending, keeping input order
// among equal scores.
func sortByScore(results []model.ScoreResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].ScoreBase > results[j].ScoreBase
	})
}
