package scorer

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/site-scorer/internal/model"
)

func TestToBands(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      []int
		want    []int
		wantErr bool
	}{
		{"four radii", []int{1, 3, 6, 10}, []int{1, 2, 3, 4}, false},
		{"flat", []int{5, 5, 5, 5}, []int{5, 0, 0, 0}, false},
		{"zeros", []int{0, 0, 0, 0}, []int{0, 0, 0, 0}, false},
		{"single radius", []int{7}, []int{7}, false},
		{"empty", nil, nil, false},
		{"decreasing", []int{5, 3, 4, 6}, nil, true},
		{"negative smallest", []int{-1, 2}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ToBands(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, model.KindDataIntegrity, model.KindOf(err))
				return
			}
			require.NoError(t, err)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToBands_DoesNotMutateInput(t *testing.T) {
	t.Parallel()
	in := []int{2, 4, 8}
	_, err := ToBands(in)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 8}, in)
}

func TestToBands_SumEqualsLargestRadius(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(42, 1))
	for i := 0; i < 500; i++ {
		n := 1 + rng.IntN(6)
		cum := make([]int, n)
		acc := 0
		for k := range cum {
			acc += rng.IntN(50)
			cum[k] = acc
		}
		bands, err := ToBands(cum)
		require.NoError(t, err)

		total := 0
		for _, b := range bands {
			assert.GreaterOrEqual(t, b, 0)
			total += b
		}
		assert.Equal(t, cum[n-1], total)
	}
}
