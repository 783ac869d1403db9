// Package geo projects geographic coordinates onto planar UTM grids.
package geo

import (
	"math"
	"strconv"

	utm "github.com/im7mortal/UTM"
	"github.com/rotisserie/eris"

	"github.com/sells-group/site-scorer/internal/model"
)

// Projector maps a latitude/longitude pair to a planar point.
type Projector interface {
	Project(lat, lon float64) (model.Point, error)
}

// Latitude limits of the UTM grid.
const (
	MinLatitude = -80.0
	MaxLatitude = 84.0
)

// UTM projects WGS84 coordinates into their standard UTM zone, including the
// Norway and Svalbard zone exceptions.
type UTM struct{}

// Project returns the easting/northing of (lat, lon) in meters along with
// its zone. Coordinates outside the UTM grid are rejected as invalid input.
func (UTM) Project(lat, lon float64) (model.Point, error) {
	if math.IsNaN(lat) || lat < MinLatitude || lat > MaxLatitude {
		return model.Point{}, model.NewError(model.KindInvalidInput,
			"latitude "+format(lat)+" outside UTM range [-80, 84]", nil)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return model.Point{}, model.NewError(model.KindInvalidInput,
			"longitude "+format(lon)+" outside [-180, 180]", nil)
	}

	// Southern points carry the 10,000 km false northing.
	x, y, number, letter, err := utm.FromLatLon(lat, lon, lat >= 0)
	if err != nil {
		return model.Point{}, model.NewError(model.KindInvalidInput,
			"project "+format(lat)+","+format(lon), err)
	}
	zone, err := model.ParseZone(strconv.Itoa(number) + letter)
	if err != nil {
		return model.Point{}, eris.Wrapf(err, "geo: zone for %s,%s", format(lat), format(lon))
	}
	return model.Point{X: x, Y: y, Zone: zone}, nil
}

func format(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
