package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/site-scorer/internal/model"
)

func TestProjectKnownPoints(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		x, y     float64
		zone     string
	}{
		{"aachen", 51.2, 7.5, 395201.31, 5673135.24, "32U"},
		{"new york", 40.71435, -74.00597, 583960, 4507523, "18T"},
		{"cape town", -33.92487, 18.42406, 261878, 6243186, "34H"},
		{"equator", 0, 3, 500000, 0, "31N"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := UTM{}.Project(tt.lat, tt.lon)
			require.NoError(t, err)
			assert.InDelta(t, tt.x, p.X, 1.0)
			assert.InDelta(t, tt.y, p.Y, 1.0)
			assert.Equal(t, tt.zone, p.Zone.String())
		})
	}
}

func TestProjectZoneExceptions(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		want     string
	}{
		{"bergen", 60.39, 5.32, "32V"},
		{"svalbard west", 78.2, 8.9, "31X"},
		{"svalbard longyearbyen", 78.22, 15.65, "33X"},
		{"svalbard east", 79.0, 25.0, "35X"},
		{"svalbard far east", 80.0, 40.0, "37X"},
		{"west edge", 10, -180, "1P"},
		{"toronto", 43.65, -79.38, "17T"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := UTM{}.Project(tt.lat, tt.lon)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Zone.String())
		})
	}
}

func TestProjectBandEdgeSharesGrid(t *testing.T) {
	north, err := UTM{}.Project(40.0005, -81)
	require.NoError(t, err)
	south, err := UTM{}.Project(39.9995, -81)
	require.NoError(t, err)

	assert.Equal(t, "17T", north.Zone.String())
	assert.Equal(t, "17S", south.Zone.String())
	assert.Equal(t, north.Zone.Grid(), south.Zone.Grid())
	assert.InDelta(t, 111.0, math.Hypot(north.X-south.X, north.Y-south.Y), 1.0)
}

func TestProjectRejectsOutOfRange(t *testing.T) {
	for _, c := range [][2]float64{{84.5, 0}, {-80.1, 0}, {0, 181}, {0, -180.5}, {math.NaN(), 0}} {
		_, err := UTM{}.Project(c[0], c[1])
		require.Error(t, err)
		assert.Equal(t, model.KindInvalidInput, model.KindOf(err))
	}
}

func TestProjectPreservesShortDistances(t *testing.T) {
	// 0.001 degrees of latitude is about 111 meters.
	a, err := UTM{}.Project(43.650, -79.380)
	require.NoError(t, err)
	b, err := UTM{}.Project(43.651, -79.380)
	require.NoError(t, err)

	d := math.Hypot(a.X-b.X, a.Y-b.Y)
	assert.InDelta(t, 111.1, d, 0.5)
	assert.Equal(t, a.Zone, b.Zone)
}

var _ Projector = UTM{}
