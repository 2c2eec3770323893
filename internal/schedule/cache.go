// Package schedule turns the weekly release calendar into a minute-indexed
// cache and keeps it fresh.
package schedule

import (
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"airbot/internal/feed"
)

// DefaultGrace delays each release minute so listings can catch up.
const DefaultGrace = 10 * time.Minute

const horizonDays = 7

// Cache maps a UTC epoch minute to the titles releasing then. It is never
// mutated after Build returns.
type Cache struct {
	minutes map[int64][]string
	BuiltAt time.Time
}

// Minute is the cache key for t.
func Minute(t time.Time) int64 { return t.Unix() / 60 }

// Titles returns the titles at the minute containing t. The slice is shared; do not modify.
func (c *Cache) Titles(t time.Time) []string {
	if c == nil {
		return nil
	}
	return c.minutes[Minute(t)]
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, ts := range c.minutes {
		n += len(ts)
	}
	return n
}

// Build expands cal over the seven UTC days starting with now's date.
// It returns the cache and the number of entries skipped for a bad time.
func Build(cal feed.Calendar, now time.Time, grace time.Duration) (*Cache, int) {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	c := &Cache{minutes: map[int64][]string{}, BuiltAt: now}
	skipped := 0
	for i := 0; i < horizonDays; i++ {
		day := today.AddDate(0, 0, i)
		for _, e := range cal.Day(day.Weekday()) {
			hm, err := time.Parse("15:04", strings.TrimSpace(e.Time))
			if err != nil || strings.TrimSpace(e.Title) == "" {
				skipped++
				continue
			}
			at := day.Add(time.Duration(hm.Hour())*time.Hour + time.Duration(hm.Minute())*time.Minute + grace)
			k := Minute(at)
			c.minutes[k] = append(c.minutes[k], e.Title)
		}
	}
	return c, skipped
}

// Holder publishes the current cache. Load never sees a partially built value.
type Holder struct {
	p atomic.Pointer[Cache]
}

func (h *Holder) Load() *Cache         { return h.p.Load() }
func (h *Holder) Store(c *Cache)       { h.p.Store(c) }
func (h *Holder) Swap(c *Cache) *Cache { return h.p.Swap(c) }

// Release is one cache slot resolved to wall time.
type Release struct {
	At    time.Time
	Title string
}

// Upcoming lists the next n releases at or after from, in loc.
func Upcoming(c *Cache, from time.Time, n int, loc *time.Location) []Release {
	if c == nil {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	start := Minute(from)
	keys := make([]int64, 0, len(c.minutes))
	for k := range c.minutes {
		if k >= start {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	var out []Release
	for _, k := range keys {
		at := time.Unix(k*60, 0).In(loc)
		for _, t := range c.minutes[k] {
			if n > 0 && len(out) == n {
				return out
			}
			out = append(out, Release{At: at, Title: t})
		}
	}
	return out
}

// DayView lists the calendar entries of wd with the raw HH:MM converted to loc.
// Grace is not applied; these are announced times.
func DayView(cal feed.Calendar, wd time.Weekday, ref time.Time, loc *time.Location) []Release {
	if loc == nil {
		loc = time.UTC
	}
	ref = ref.UTC()
	base := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
	base = base.AddDate(0, 0, (int(wd)-int(base.Weekday())+7)%7)
	var out []Release
	for _, e := range cal.Day(wd) {
		hm, err := time.Parse("15:04", strings.TrimSpace(e.Time))
		if err != nil {
			continue
		}
		at := base.Add(time.Duration(hm.Hour())*time.Hour + time.Duration(hm.Minute())*time.Minute)
		out = append(out, Release{At: at.In(loc), Title: e.Title})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}
