package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/site-scorer/internal/model"
)

func TestRankFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		score, lo, hi int
		want          model.RankLabel
	}{
		{0, 0, 100, model.RankLowest},
		{19, 0, 100, model.RankLowest},
		{20, 0, 100, model.RankLow},
		{39, 0, 100, model.RankLow},
		{40, 0, 100, model.RankMid},
		{60, 0, 100, model.RankHigh},
		{79, 0, 100, model.RankHigh},
		{80, 0, 100, model.RankHighest},
		{100, 0, 100, model.RankHighest},
		{10, 10, 17, model.RankLowest},
		{12, 10, 17, model.RankLow},
		{17, 10, 17, model.RankHighest},
		{42, 42, 42, model.RankHighest},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RankFor(tt.score, tt.lo, tt.hi), "score=%d range=[%d,%d]", tt.score, tt.lo, tt.hi)
	}
}

func TestRankGroup_SingleCandidateIsHighest(t *testing.T) {
	t.Parallel()
	results := []model.ScoreResult{{ScoreBase: 0}}
	rankGroup(results, []int{0})
	assert.Equal(t, model.RankHighest, results[0].Rank)
}

func TestSortByScore_Stable(t *testing.T) {
	t.Parallel()
	results := []model.ScoreResult{
		{Candidate: model.Candidate{Row: 1}, ScoreBase: 30},
		{Candidate: model.Candidate{Row: 2}, ScoreBase: 90},
		{Candidate: model.Candidate{Row: 3}, ScoreBase: 30},
		{Candidate: model.Candidate{Row: 4}, ScoreBase: 60},
	}
	sortByScore(results)

	rows := make([]int, len(results))
	for i, r := range results {
		rows[i] = r.Row
	}
	assert.Equal(t, []int{2, 4, 1, 3}, rows)
}
