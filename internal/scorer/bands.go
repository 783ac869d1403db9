package scorer

import (
	"fmt"

	"github.com/sells-group/site-scorer/internal/model"
)

// ToBands converts cumulative radius counts into exclusive band counts by
// subtracting each count from the next larger one, largest first. The
// smallest band is unchanged and the bands sum to the largest cumulative
// count. A negative band means the input was not cumulative and is reported
// as a data integrity error; nothing is clamped.
func ToBands(cumulative []int) ([]int, error) {
	bands := append([]int(nil), cumulative...)
	for i := len(bands) - 1; i > 0; i-- {
		bands[i] -= bands[i-1]
		if bands[i] < 0 {
			return nil, model.NewError(model.KindDataIntegrity,
				fmt.Sprintf("cumulative counts %v decrease at band %d", cumulative, i), nil)
		}
	}
	if len(bands) > 0 && bands[0] < 0 {
		return nil, model.NewError(model.KindDataIntegrity,
			fmt.Sprintf("negative count in %v", cumulative), nil)
	}
	return bands, nil
}
