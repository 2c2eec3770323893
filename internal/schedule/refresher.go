package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"airbot/internal/eventbus"
	"airbot/internal/feed"
	"airbot/internal/task/engine"
	logx "airbot/pkg/logx"
)

type CalendarSource interface {
	Calendar(ctx context.Context) (feed.Calendar, error)
}

// Metrics is satisfied by metrics.Collector.
type Metrics interface {
	ObserveRefresh(ok bool, took time.Duration, titles int)
}

// RefreshEvent is the payload of schedule.refreshed and schedule.refresh_failed.
type RefreshEvent struct {
	Titles  int
	Skipped int
	Took    time.Duration
	Err     string
}

type Refresher struct {
	src    CalendarSource
	holder *Holder
	grace  time.Duration
	log    logx.Logger
	bus    eventbus.Bus
	met    Metrics
	now    func() time.Time

	mu  sync.RWMutex
	cal feed.Calendar
}

type RefresherOption func(*Refresher)

func WithBus(b eventbus.Bus) RefresherOption         { return func(r *Refresher) { r.bus = b } }
func WithMetrics(m Metrics) RefresherOption          { return func(r *Refresher) { r.met = m } }
func WithClock(now func() time.Time) RefresherOption { return func(r *Refresher) { r.now = now } }

func NewRefresher(src CalendarSource, holder *Holder, grace time.Duration, log logx.Logger, opts ...RefresherOption) *Refresher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if grace < 0 {
		grace = DefaultGrace
	}
	r := &Refresher{src: src, holder: holder, grace: grace, log: log.With(logx.String("comp", "schedule")), now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetGrace applies from the next refresh.
func (r *Refresher) SetGrace(d time.Duration) {
	r.mu.Lock()
	r.grace = d
	r.mu.Unlock()
}

// Calendar returns the last successfully fetched calendar.
func (r *Refresher) Calendar() feed.Calendar {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cal
}

// Refresh fetches the calendar and swaps in a new cache. On error the current
// cache is left untouched. Errors are NoRetry: the next hourly run retries.
func (r *Refresher) Refresh(ctx context.Context) error {
	start := r.now()
	cal, err := r.src.Calendar(ctx)
	if err != nil {
		took := r.now().Sub(start)
		r.log.Warn("schedule refresh failed; keeping previous cache", logx.Err(err), logx.Duration("took", took))
		r.observe(false, took, 0)
		r.publish(eventbus.ScheduleRefreshFailed, RefreshEvent{Took: took, Err: err.Error()})
		return engine.NoRetry(fmt.Errorf("refresh schedule: %w", err))
	}

	r.mu.RLock()
	grace := r.grace
	r.mu.RUnlock()

	c, skipped := Build(cal, start, grace)
	r.holder.Store(c)
	r.mu.Lock()
	r.cal = cal
	r.mu.Unlock()

	took := r.now().Sub(start)
	n := c.Len()
	r.log.Info("schedule refreshed", logx.Int("titles", n), logx.Int("skipped", skipped), logx.Duration("took", took))
	r.observe(true, took, n)
	r.publish(eventbus.ScheduleRefreshed, RefreshEvent{Titles: n, Skipped: skipped, Took: took})
	return nil
}

func (r *Refresher) observe(ok bool, took time.Duration, n int) {
	if r.met != nil {
		r.met.ObserveRefresh(ok, took, n)
	}
}

func (r *Refresher) publish(typ string, ev RefreshEvent) {
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}
