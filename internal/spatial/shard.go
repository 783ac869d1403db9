// Package spatial holds the immutable point index behind one shard and the
// radius ball queries run against it.
package spatial

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/site-scorer/internal/model"
)

// leafSize is the subtree size below which queries scan linearly.
const leafSize = 16

// Shard is a static, balanced 2-d tree over one week's points for one zone.
// It is immutable once built and safe for concurrent queries.
type Shard struct {
	key model.ShardKey
	xs  []float64
	ys  []float64
}

// NewShard builds a shard over an XY flat coordinate slice
// (x0, y0, x1, y1, ...). The slice is copied.
func NewShard(key model.ShardKey, flat []float64) (*Shard, error) {
	if len(flat)%2 != 0 {
		return nil, eris.Errorf("spatial: odd coordinate count %d for shard %s", len(flat), key)
	}
	n := len(flat) / 2
	s := &Shard{
		key: key,
		xs:  make([]float64, n),
		ys:  make([]float64, n),
	}
	for i := 0; i < n; i++ {
		s.xs[i] = flat[2*i]
		s.ys[i] = flat[2*i+1]
	}
	s.build(0, n, 0)
	return s, nil
}

// NewShardFromMultiPoint builds a shard from a go-geom MultiPoint. Only the
// first two ordinates of each point are used.
func NewShardFromMultiPoint(key model.ShardKey, mp *geom.MultiPoint) (*Shard, error) {
	if mp == nil {
		return NewShard(key, nil)
	}
	stride := mp.Stride()
	src := mp.FlatCoords()
	flat := make([]float64, 0, 2*mp.NumPoints())
	for i := 0; i+1 < len(src); i += stride {
		flat = append(flat, src[i], src[i+1])
	}
	return NewShard(key, flat)
}

// Key identifies the week and zone the shard covers.
func (s *Shard) Key() model.ShardKey { return s.key }

// Len returns the number of indexed points.
func (s *Shard) Len() int { return len(s.xs) }

// MultiPoint returns the indexed points as an XY MultiPoint in tree order.
func (s *Shard) MultiPoint() *geom.MultiPoint {
	flat := make([]float64, 0, 2*len(s.xs))
	for i := range s.xs {
		flat = append(flat, s.xs[i], s.ys[i])
	}
	return geom.NewMultiPointFlat(geom.XY, flat)
}

// CountWithin returns the number of points at distance <= r from (x, y).
func (s *Shard) CountWithin(x, y, r float64) int {
	return s.CountWithinRadii(x, y, []float64{r})[0]
}

// CountWithinRadii returns, for each radius, the number of points at distance
// <= that radius from (x, y). radii must be ascending; the counts are
// cumulative, so out[i] >= out[i-1]. One traversal serves every radius.
func (s *Shard) CountWithinRadii(x, y float64, radii []float64) []int {
	out := make([]int, len(radii))
	if len(radii) == 0 || len(s.xs) == 0 {
		return out
	}
	sq := make([]float64, len(radii))
	for i, r := range radii {
		sq[i] = r * r
	}
	q := query{x: x, y: y, r: radii[len(radii)-1], sq: sq, bins: out}
	s.search(&q, 0, len(s.xs), 0)
	for i := 1; i < len(out); i++ {
		out[i] += out[i-1]
	}
	return out
}

type query struct {
	x, y float64
	r    float64
	sq   []float64
	bins []int
}

func (q *query) visit(px, py float64) {
	dx, dy := px-q.x, py-q.y
	d2 := dx*dx + dy*dy
	if d2 > q.sq[len(q.sq)-1] {
		return
	}
	for i, limit := range q.sq {
		if d2 <= limit {
			q.bins[i]++
			return
		}
	}
}

func (s *Shard) search(q *query, lo, hi, axis int) {
	if hi-lo <= leafSize {
		for i := lo; i < hi; i++ {
			q.visit(s.xs[i], s.ys[i])
		}
		return
	}
	m := int(uint(lo+hi) >> 1)
	q.visit(s.xs[m], s.ys[m])

	var d float64
	if axis == 0 {
		d = q.x - s.xs[m]
	} else {
		d = q.y - s.ys[m]
	}
	if d <= q.r {
		s.search(q, lo, m, 1-axis)
	}
	if d >= -q.r {
		s.search(q, m+1, hi, 1-axis)
	}
}

func (s *Shard) build(lo, hi, axis int) {
	if hi-lo <= leafSize {
		return
	}
	m := int(uint(lo+hi) >> 1)
	s.selectK(lo, hi-1, m, axis)
	s.build(lo, m, 1-axis)
	s.build(m+1, hi, 1-axis)
}

// selectK partially orders [left, right] on axis so that index k holds the
// k-th smallest value, with nothing larger before it and nothing smaller
// after it.
func (s *Shard) selectK(left, right, k, axis int) {
	for left < right {
		pivot := s.at(int(uint(left+right)>>1), axis)
		i, j := left, right
		for i <= j {
			for s.at(i, axis) < pivot {
				i++
			}
			for s.at(j, axis) > pivot {
				j--
			}
			if i <= j {
				s.swap(i, j)
				i++
				j--
			}
		}
		switch {
		case k <= j:
			right = j
		case k >= i:
			left = i
		default:
			return
		}
	}
}

func (s *Shard) at(i, axis int) float64 {
	if axis == 0 {
		return s.xs[i]
	}
	return s.ys[i]
}

func (s *Shard) swap(i, j int) {
	s.xs[i], s.xs[j] = s.xs[j], s.xs[i]
	s.ys[i], s.ys[j] = s.ys[j], s.ys[i]
}
