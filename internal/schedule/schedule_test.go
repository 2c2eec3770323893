package schedule

import (
	"context"
	"testing"
	"time"

	"airbot/internal/eventbus"
	"airbot/internal/feed"
	"airbot/internal/task/engine"
	logx "airbot/pkg/logx"
)

// 2026-10-12 is a Monday.
var monday = time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC)

func testCalendar() feed.Calendar {
	return feed.Calendar{TZ: "UTC", Schedule: map[string][]feed.Entry{
		"Monday":    {{Title: "A", Time: "17:30"}, {Title: "B", Time: "17:30"}, {Title: "Bad", Time: "25:99"}},
		"Tuesday":   {{Title: "C", Time: "23:55"}},
		"Wednesday": {{Title: "D", Time: "00:00"}},
	}}
}

func TestBuildIndexesMinutesWithGrace(t *testing.T) {
	t.Parallel()
	c, skipped := Build(testCalendar(), monday, DefaultGrace)
	if skipped != 1 {
		t.Fatalf("skipped=%d want 1", skipped)
	}
	at := time.Date(2026, 10, 12, 17, 40, 0, 0, time.UTC)
	got := c.Titles(at.Add(30 * time.Second))
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("Titles(17:40) = %v", got)
	}
	if len(c.Titles(at.Add(-time.Minute))) != 0 {
		t.Fatalf("17:39 should be empty")
	}
	// Grace rolls a late slot into the next day.
	if got := c.Titles(time.Date(2026, 10, 14, 0, 5, 0, 0, time.UTC)); len(got) != 1 || got[0] != "C" {
		t.Fatalf("Titles(Wed 00:05) = %v", got)
	}
	// Monday of the following week is outside the seven-day horizon.
	if len(c.Titles(at.AddDate(0, 0, 7))) != 0 {
		t.Fatalf("next Monday should be outside the horizon")
	}
	if c.Len() != 4 {
		t.Fatalf("Len=%d want 4", c.Len())
	}
}

type fakeSource struct {
	cal feed.Calendar
	err error
}

func (f *fakeSource) Calendar(context.Context) (feed.Calendar, error) { return f.cal, f.err }

type fakeMetrics struct{ ok, failed int }

func (m *fakeMetrics) ObserveRefresh(ok bool, _ time.Duration, _ int) {
	if ok {
		m.ok++
	} else {
		m.failed++
	}
}

func TestRefreshKeepsCacheOnError(t *testing.T) {
	t.Parallel()
	src := &fakeSource{cal: testCalendar()}
	h := &Holder{}
	met := &fakeMetrics{}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()
	r := NewRefresher(src, h, DefaultGrace, logx.Nop(), WithBus(bus), WithMetrics(met), WithClock(func() time.Time { return monday }))

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	first := h.Load()
	if first == nil || first.Len() != 4 {
		t.Fatalf("cache not stored")
	}
	if ev := <-ch; ev.Type != eventbus.ScheduleRefreshed {
		t.Fatalf("event=%q", ev.Type)
	}

	src.err = &feed.TransportError{URL: "x", Status: 502}
	err := r.Refresh(context.Background())
	if err == nil || !engine.IsNoRetry(err) || !feed.IsTransport(err) {
		t.Fatalf("err=%v", err)
	}
	if h.Load() != first {
		t.Fatalf("cache replaced on failure")
	}
	if ev := <-ch; ev.Type != eventbus.ScheduleRefreshFailed {
		t.Fatalf("event=%q", ev.Type)
	}
	if met.ok != 1 || met.failed != 1 {
		t.Fatalf("metrics=%+v", met)
	}
	if len(r.Calendar().Day(time.Monday)) != 3 {
		t.Fatalf("calendar not retained")
	}
}

func TestUpcomingAndDayView(t *testing.T) {
	t.Parallel()
	c, _ := Build(testCalendar(), monday, DefaultGrace)
	tokyo, _ := time.LoadLocation("Asia/Tokyo")

	up := Upcoming(c, monday, 3, tokyo)
	if len(up) != 3 || up[0].Title != "A" || up[2].Title != "C" {
		t.Fatalf("Upcoming=%+v", up)
	}
	if up[0].At.Location() != tokyo || up[0].At.Hour() != 2 {
		t.Fatalf("Upcoming[0].At=%v", up[0].At)
	}

	day := DayView(testCalendar(), time.Tuesday, monday, tokyo)
	if len(day) != 1 || day[0].At.Weekday() != time.Wednesday || day[0].At.Hour() != 8 {
		t.Fatalf("DayView=%+v", day)
	}
}
