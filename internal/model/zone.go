package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// zoneLetters lists the valid UTM latitude band letters, south to north.
const zoneLetters = "CDEFGHJKLMNPQRSTUVWX"

// Zone identifies a UTM grid zone by number and latitude band letter. The
// letter names shards; planar coordinates are shared by every band of the
// same Grid.
type Zone struct {
	Number int  `json:"number"`
	Letter byte `json:"letter"`
}

// Grid is one planar UTM coordinate system: a zone number in one
// hemisphere. Distances are only meaningful between points on the same Grid.
type Grid struct {
	Number int
	North  bool
}

// String renders the grid as e.g. "17N" or "34S".
func (g Grid) String() string {
	if g.North {
		return fmt.Sprintf("%dN", g.Number)
	}
	return fmt.Sprintf("%dS", g.Number)
}

// Grid returns the coordinate system the zone's band belongs to. Bands N
// and above are north of the equator.
func (z Zone) Grid() Grid {
	return Grid{Number: z.Number, North: z.Letter >= 'N'}
}

// String renders the zone as it appears in shard names, e.g. "17T".
func (z Zone) String() string {
	return fmt.Sprintf("%d%c", z.Number, z.Letter)
}

// Valid reports whether the zone number and band letter are in range.
func (z Zone) Valid() bool {
	return z.Number >= 1 && z.Number <= 60 && strings.IndexByte(zoneLetters, z.Letter) >= 0
}

// MarshalText implements encoding.TextMarshaler so zones can key JSON maps.
func (z Zone) MarshalText() ([]byte, error) {
	return []byte(z.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (z *Zone) UnmarshalText(b []byte) error {
	parsed, err := ParseZone(string(b))
	if err != nil {
		return err
	}
	*z = parsed
	return nil
}

// ParseZone parses a zone string such as "17T" or "4q".
func ParseZone(s string) (Zone, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || len(s) > 3 {
		return Zone{}, eris.Errorf("model: invalid zone %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return Zone{}, eris.Wrapf(err, "model: invalid zone number in %q", s)
	}
	z := Zone{Number: n, Letter: strings.ToUpper(s[len(s)-1:])[0]}
	if !z.Valid() {
		return Zone{}, eris.Errorf("model: zone %q out of range", s)
	}
	return z, nil
}

// Point is a projected planar coordinate in meters within a Zone.
type Point struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zone Zone    `json:"zone"`
}
