package model

import (
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ShardSuffix marks remote and local objects that hold an encoded shard.
const ShardSuffix = ".tree"

// DateLayout is the week-partition date format used in object keys.
const DateLayout = "2006-01-02"

var (
	// shardNameRE pulls the week date and zone out of a shard basename,
	// e.g. "2024-01-08_utm_17T.tree".
	shardNameRE = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}).*utm_(\d{1,2}[A-Za-z])\.tree$`)
	weekDateRE  = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
)

// ShardKey uniquely identifies one shard: a week partition within a zone.
type ShardKey struct {
	Week time.Time `json:"week"`
	Zone Zone      `json:"zone"`
}

// WeekString returns the week-start date as YYYY-MM-DD.
func (k ShardKey) WeekString() string {
	return k.Week.Format(DateLayout)
}

// Basename is the file name used both remotely and in the local cache.
func (k ShardKey) Basename() string {
	return k.WeekString() + "_" + ZoneSuffix(k.Zone)
}

// ObjectKey returns the remote key under prefix: <prefix>/<week>/<basename>.
func (k ShardKey) ObjectKey(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return path.Join(k.WeekString(), k.Basename())
	}
	return path.Join(prefix, k.WeekString(), k.Basename())
}

func (k ShardKey) String() string {
	return k.WeekString() + "/" + k.Zone.String()
}

// ZoneSuffix is the fragment that ties a shard file to a zone: "utm_17T.tree".
func ZoneSuffix(z Zone) string {
	return "utm_" + z.String() + ShardSuffix
}

// ParseShardName recovers the ShardKey from a key or file name whose
// basename embeds the week date and ends in utm_<zone>.tree.
func ParseShardName(name string) (ShardKey, error) {
	base := path.Base(name)
	m := shardNameRE.FindStringSubmatch(base)
	if m == nil {
		return ShardKey{}, eris.Errorf("model: %q is not a shard name", name)
	}
	week, err := time.Parse(DateLayout, m[1])
	if err != nil {
		return ShardKey{}, eris.Wrapf(err, "model: bad week in shard name %q", name)
	}
	zone, err := ParseZone(m[2])
	if err != nil {
		return ShardKey{}, err
	}
	return ShardKey{Week: week, Zone: zone}, nil
}

// WeekDateIn returns the first YYYY-MM-DD substring of s, if any.
func WeekDateIn(s string) (string, bool) {
	m := weekDateRE.FindString(s)
	return m, m != ""
}

// WeekStart truncates t to midnight UTC of the Monday that begins its week.
func WeekStart(t time.Time) time.Time {
	d := Date(t)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// Date truncates t to midnight UTC on the same calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseEndDate parses a YYYY-MM-DD retention end date. An empty string means
// today. Anything else that fails to parse is an InvalidDateFormat error.
func ParseEndDate(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date(now), nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, NewError(KindInvalidDateFormat,
			"date has to be entered in yyyy-mm-dd format, got "+s, err)
	}
	return t, nil
}

// RetentionWindow is the contiguous run of week partitions considered current
// as of End: exactly Weeks weeks, the last being the week containing End.
type RetentionWindow struct {
	End   time.Time `json:"end"`
	Weeks int       `json:"weeks"`
}

// NewRetentionWindow parses end (YYYY-MM-DD, empty = today) and builds a
// window of weeks partitions.
func NewRetentionWindow(end string, weeks int, now time.Time) (RetentionWindow, error) {
	if weeks < 1 {
		return RetentionWindow{}, NewError(KindInvalidInput, "retention window needs at least one week", nil)
	}
	t, err := ParseEndDate(end, now)
	if err != nil {
		return RetentionWindow{}, err
	}
	return RetentionWindow{End: Date(t), Weeks: weeks}, nil
}

// Start is the Monday of the oldest retained week.
func (w RetentionWindow) Start() time.Time {
	return WeekStart(w.End).AddDate(0, 0, -7*(w.Weeks-1))
}

// Contains reports whether a week-start date falls inside [Start, End].
func (w RetentionWindow) Contains(week time.Time) bool {
	d := Date(week)
	return !d.Before(w.Start()) && !d.After(Date(w.End))
}

// WeekStarts lists the Monday of every retained week, oldest first.
func (w RetentionWindow) WeekStarts() []time.Time {
	out := make([]time.Time, 0, w.Weeks)
	for d := w.Start(); !d.After(w.End); d = d.AddDate(0, 0, 7) {
		out = append(out, d)
	}
	return out
}
