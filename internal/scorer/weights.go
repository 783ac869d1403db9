// Package scorer turns cumulative proximity counts into exclusive band
// counts, group-normalised weighted scores and five-bucket rank labels.
package scorer

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/site-scorer/internal/config"
)

// weightTolerance absorbs float error when checking that weights sum to 1.
const weightTolerance = 1e-6

// Weights are the per-band coefficients of the two scores, ordered smallest
// to largest radius.
type Weights struct {
	Base           []float64 `json:"base"`
	AttributeBands []float64 `json:"attribute_bands"`
	Attribute      float64   `json:"attribute"`
}

// DefaultWeights returns {.4,.3,.2,.1} for the base score and
// {.25,.2,.15,.1} plus .3 on the attribute for the attribute score.
func DefaultWeights() Weights {
	return Weights{
		Base:           []float64{0.4, 0.3, 0.2, 0.1},
		AttributeBands: []float64{0.25, 0.2, 0.15, 0.1},
		Attribute:      0.3,
	}
}

// WeightsFromConfig converts the scoring section of the config.
func WeightsFromConfig(c config.ScoringConfig) Weights {
	return Weights{
		Base:           append([]float64(nil), c.BaseWeights...),
		AttributeBands: append([]float64(nil), c.AttributeBandWeights...),
		Attribute:      c.AttributeWeight,
	}
}

// ValidateConfig checks a scoring config against the number of radius bands.
func ValidateConfig(c config.ScoringConfig, bands int) error {
	return WeightsFromConfig(c).Validate(bands)
}

// Validate checks that both weight sets have one entry per band, are
// non-negative and sum to 1.
func (w Weights) Validate(bands int) error {
	var errs []string

	if len(w.Base) != bands {
		errs = append(errs, fmt.Sprintf("base_weights needs %d entries, got %d", bands, len(w.Base)))
	}
	if len(w.AttributeBands) != bands {
		errs = append(errs, fmt.Sprintf("attribute_band_weights needs %d entries, got %d", bands, len(w.AttributeBands)))
	}
	for i, v := range w.Base {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("base_weights[%d] must be >= 0", i))
		}
	}
	for i, v := range w.AttributeBands {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("attribute_band_weights[%d] must be >= 0", i))
		}
	}
	if w.Attribute < 0 {
		errs = append(errs, "attribute_weight must be >= 0")
	}

	if total := sum(w.Base); math.Abs(total-1) > weightTolerance {
		errs = append(errs, fmt.Sprintf("base_weights should sum to 1, got %.4f", total))
	}
	if total := sum(w.AttributeBands) + w.Attribute; math.Abs(total-1) > weightTolerance {
		errs = append(errs, fmt.Sprintf("attribute_band_weights plus attribute_weight should sum to 1, got %.4f", total))
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Hash returns a short SHA-256 of the weights, recorded with each scoring
// run so results can be traced to the weights that produced them.
func (w Weights) Hash() string {
	data, err := json.Marshal(w)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:16])
}

func sum(vs []float64) float64 {
	var s float64
	for _, v := range vs {
		s += v
	}
	return s
}
