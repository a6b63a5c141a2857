package essence

import (
	"maps"
	"time"

	"github.com/roach88/pivot/internal/cube"
)

// Timekeeper holds the clock and the latest data time of each cube.
// Relative time filters are evaluated against it.
type Timekeeper struct {
	Now      time.Time
	MaxTimes map[string]time.Time
}

// NewTimekeeper returns a timekeeper at now without known data times.
func NewTimekeeper(now time.Time) Timekeeper {
	return Timekeeper{Now: now}
}

// WithMaxTime returns a copy recording the latest data time of a cube.
func (tk Timekeeper) WithMaxTime(dataCube string, t time.Time) Timekeeper {
	out := Timekeeper{Now: tk.Now, MaxTimes: maps.Clone(tk.MaxTimes)}
	if out.MaxTimes == nil {
		out.MaxTimes = map[string]time.Time{}
	}
	out.MaxTimes[dataCube] = t
	return out
}

// MaxTimeFor returns the latest data time of c according to its refresh
// rule: the configured time for fixed, now for realtime, else the last
// recorded query result. It is zero when unknown.
func (tk Timekeeper) MaxTimeFor(c *cube.DataCube) time.Time {
	switch c.RefreshRule.Rule {
	case cube.RefreshFixed:
		if c.RefreshRule.Time != nil {
			return *c.RefreshRule.Time
		}
	case cube.RefreshRealtime:
		return tk.Now
	}
	return tk.MaxTimes[c.Name]
}

// NowFor is the clock used for c. A fixed refresh rule freezes it.
func (tk Timekeeper) NowFor(c *cube.DataCube) time.Time {
	if c.RefreshRule.Rule == cube.RefreshFixed && c.RefreshRule.Time != nil {
		return *c.RefreshRule.Time
	}
	return tk.Now
}
