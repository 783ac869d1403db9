package model

// UnknownAttribute marks a candidate whose secondary attribute was absent.
const UnknownAttribute = -1.0

// Radius is one distance tier with the label used as its result column.
type Radius struct {
	Meters float64 `json:"meters" mapstructure:"meters" yaml:"meters"`
	Label  string  `json:"label" mapstructure:"label" yaml:"label"`
}

// RadiusTier is an ordered list of strictly increasing radii.
type RadiusTier []Radius

// DefaultRadiusTier returns the 200/400/800/1600 meter tiers.
func DefaultRadiusTier() RadiusTier {
	return RadiusTier{
		{Meters: 200, Label: "num_pts200"},
		{Meters: 400, Label: "num_pts400"},
		{Meters: 800, Label: "num_pts800"},
		{Meters: 1600, Label: "num_pts1600"},
	}
}

// Meters returns the radii in order.
func (t RadiusTier) Meters() []float64 {
	out := make([]float64, len(t))
	for i, r := range t {
		out[i] = r.Meters
	}
	return out
}

// Labels returns the column labels in order.
func (t RadiusTier) Labels() []string {
	out := make([]string, len(t))
	for i, r := range t {
		out[i] = r.Label
	}
	return out
}

// Validate checks that radii are positive and strictly increasing and that
// labels are present and distinct.
func (t RadiusTier) Validate() error {
	if len(t) == 0 {
		return NewError(KindInvalidInput, "radius tier is empty", nil)
	}
	seen := make(map[string]bool, len(t))
	for i, r := range t {
		if r.Meters <= 0 {
			return NewError(KindInvalidInput, "radius must be positive: "+r.Label, nil)
		}
		if i > 0 && r.Meters <= t[i-1].Meters {
			return NewError(KindInvalidInput, "radii must be strictly increasing: "+r.Label, nil)
		}
		if r.Label == "" || seen[r.Label] {
			return NewError(KindInvalidInput, "radius labels must be unique and non-empty", nil)
		}
		seen[r.Label] = true
	}
	return nil
}

// Candidate is one input location to score.
type Candidate struct {
	Row       int               `json:"row"`
	Group     string            `json:"city"`
	Source    string            `json:"provider"`
	Latitude  float64           `json:"latitude"`
	Longitude float64           `json:"longitude"`
	Attribute float64           `json:"num_chargers"`
	Point     Point             `json:"-"`
	Counts    []int             `json:"counts"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// HasAttribute reports whether the secondary attribute is known.
func (c *Candidate) HasAttribute() bool {
	return c.Attribute != UnknownAttribute
}

// RankLabel is the ordinal bucket a candidate lands in within its group.
type RankLabel string

const (
	RankLowest   RankLabel = "Lowest"
	RankLow      RankLabel = "Low"
	RankMid      RankLabel = "Mid"
	RankHigh     RankLabel = "High"
	RankHighest  RankLabel = "Highest"
	RankUnscored RankLabel = "Unscored"
)

// RankLabels lists the five labels low to high.
var RankLabels = [5]RankLabel{RankLowest, RankLow, RankMid, RankHigh, RankHighest}

// ScoreResult is a candidate augmented with band counts, scores and rank.
type ScoreResult struct {
	Candidate
	Bands              []int     `json:"bands"`
	ScoreBase          int       `json:"score_nochargers"`
	ScoreWithAttribute int       `json:"score_chargers"`
	AttributeKnown     bool      `json:"attribute_known"`
	Rank               RankLabel `json:"ranking"`
	Integrity          string    `json:"integrity_error,omitempty"`
}
