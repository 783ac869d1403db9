package shardcache

import (
	"sort"
	"time"

	"github.com/sells-group/site-scorer/internal/model"
	"github.com/sells-group/site-scorer/internal/spatial"
)

// Snapshot is an immutable view of the decoded shards on disk at one point
// in time. Queries read a Snapshot while a later reconciliation builds the
// next one, so the two never observe a half-updated cache.
type Snapshot struct {
	byGrid  map[model.Grid][]*spatial.Shard
	byFile  map[string]*spatial.Shard
	BuiltAt time.Time
}

func newSnapshot(byFile map[string]*spatial.Shard, at time.Time) *Snapshot {
	s := &Snapshot{
		byGrid:  make(map[model.Grid][]*spatial.Shard),
		byFile:  byFile,
		BuiltAt: at,
	}
	for _, sh := range byFile {
		g := sh.Key().Zone.Grid()
		s.byGrid[g] = append(s.byGrid[g], sh)
	}
	for _, list := range s.byGrid {
		sort.Slice(list, func(i, j int) bool {
			a, b := list[i].Key(), list[j].Key()
			if !a.Week.Equal(b.Week) {
				return a.Week.Before(b.Week)
			}
			return a.Zone.Letter < b.Zone.Letter
		})
	}
	return s
}

// Len returns the number of shards in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.byFile)
}

// ForZones returns, for each requested zone, every shard on the same grid.
// Points near a band edge are stored under the neighbouring letter but share
// the candidate's planar coordinates, so all bands of the grid are searched.
// Zones with no shard are present with a nil slice.
func (s *Snapshot) ForZones(zones []model.Zone) map[model.Zone][]*spatial.Shard {
	out := make(map[model.Zone][]*spatial.Shard, len(zones))
	for _, z := range zones {
		out[z] = s.byGrid[z.Grid()]
	}
	return out
}

// Keys lists every shard key, ordered by week then zone.
func (s *Snapshot) Keys() []model.ShardKey {
	keys := make([]model.ShardKey, 0, len(s.byFile))
	for _, sh := range s.byFile {
		keys = append(keys, sh.Key())
	}
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].Week.Equal(keys[j].Week) {
			return keys[i].Week.Before(keys[j].Week)
		}
		return keys[i].Zone.String() < keys[j].Zone.String()
	})
	return keys
}

// Weeks lists the distinct week dates held, oldest first.
func (s *Snapshot) Weeks() []string {
	seen := make(map[string]bool)
	var out []string
	for _, k := range s.Keys() {
		w := k.WeekString()
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}
