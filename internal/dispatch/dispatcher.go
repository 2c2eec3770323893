// Package dispatch turns schedule hits into per-subscriber pack notifications
// and answers manual episode queries.
package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"airbot/internal/eventbus"
	"airbot/internal/feed"
	"airbot/internal/schedule"
	"airbot/internal/settings"
	"airbot/internal/subscription"
	logx "airbot/pkg/logx"
)

// Notifier is the notify capability.
type Notifier interface {
	Notify(ctx context.Context, uid int64, text string) error
}

// Feed is the subset of feed.Client the dispatcher reads.
type Feed interface {
	Listing(ctx context.Context, rawURL string) (string, error)
	Search(ctx context.Context, title, episode string) (feed.Release, error)
}

type Settings interface {
	Get(ctx context.Context, uid int64) (settings.UserSettings, error)
}

type Subscribers interface {
	Subscribers(title string) []subscription.Subscription
}

type Metrics interface {
	ObserveTick(notified, failed, skipped int)
}

type Config struct {
	// Latest is how many trailing listing lines are considered per title.
	Latest int
	// Thumbnails adds the release image link to messages.
	Thumbnails bool
	// Metadata enables the release search lookup.
	Metadata bool
}

type Deps struct {
	Holder      *schedule.Holder
	Subscribers Subscribers
	Settings    Settings
	Catalog     *settings.Catalog
	Feed        Feed
	Notifier    Notifier
	Bus         eventbus.Bus
	Metrics     Metrics
}

// TickReport summarises one Tick.
type TickReport struct {
	Minute   time.Time `json:"minute"`
	Titles   int       `json:"titles"`
	Notified int       `json:"notified"`
	Failed   int       `json:"failed"`
	Skipped  int       `json:"skipped"`
}

type Dispatcher struct {
	cfg   atomic.Pointer[Config]
	deps  Deps
	log   logx.Logger
	ready atomic.Bool
}

func New(cfg Config, deps Deps, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{deps: deps, log: log.With(logx.String("comp", "dispatch"))}
	d.Apply(cfg)
	return d
}

func (d *Dispatcher) Apply(cfg Config) {
	if cfg.Latest <= 0 {
		cfg.Latest = 3
	}
	d.cfg.Store(&cfg)
}

// SetReady gates Tick. It is flipped once the transport session is up.
func (d *Dispatcher) SetReady(ok bool) { d.ready.Store(ok) }

func (d *Dispatcher) Ready() bool { return d.ready.Load() }

// tickState memoizes remote reads for the duration of one tick.
type tickState struct {
	listings map[int]listing
	latest   map[latestKey]map[string]feed.Pack
	releases map[releaseKey]feed.Release
}

type listing struct {
	text string
	err  error
}

type latestKey struct {
	source int
	title  string
}

type releaseKey struct{ title, episode string }

// Tick notifies the subscribers of every title scheduled at now's minute.
// Per-subscriber failures are logged and counted, never returned.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) TickReport {
	minute := now.UTC().Truncate(time.Minute)
	rep := TickReport{Minute: minute}
	if !d.ready.Load() {
		d.log.Debug("tick skipped: transport not ready")
		return rep
	}
	titles := d.deps.Holder.Load().Titles(minute)
	if len(titles) == 0 {
		return rep
	}

	cfg := *d.cfg.Load()
	st := &tickState{
		listings: map[int]listing{},
		latest:   map[latestKey]map[string]feed.Pack{},
		releases: map[releaseKey]feed.Release{},
	}
	for _, title := range titles {
		subs := d.deps.Subscribers.Subscribers(title)
		if len(subs) == 0 {
			continue
		}
		rep.Titles++
		for _, sub := range subs {
			if ctx.Err() != nil {
				d.finish(rep)
				return rep
			}
			switch d.notifyOne(ctx, cfg, st, sub) {
			case outcomeNotified:
				rep.Notified++
			case outcomeFailed:
				rep.Failed++
			default:
				rep.Skipped++
			}
		}
	}
	d.finish(rep)
	return rep
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeNotified
	outcomeFailed
)

func (d *Dispatcher) notifyOne(ctx context.Context, cfg Config, st *tickState, sub subscription.Subscription) outcome {
	log := d.log.With(logx.String("title", sub.Title), logx.Int64("uid", sub.SubscriberID))
	src := d.sourceFor(ctx, sub.SubscriberID, log)

	l, ok := st.listings[src.ID]
	if !ok {
		text, err := d.deps.Feed.Listing(ctx, src.ListingURL)
		l = listing{text: text, err: err}
		st.listings[src.ID] = l
		if err != nil {
			log.Warn("listing unavailable, skipping source for this tick", logx.Int("source", src.ID), logx.Err(err))
		}
	}
	if l.err != nil {
		return outcomeSkipped
	}

	lk := latestKey{source: src.ID, title: sub.Title}
	latest, ok := st.latest[lk]
	if !ok {
		latest = feed.LatestByQuality(feed.ParsePacks(l.text, sub.Title), cfg.Latest)
		st.latest[lk] = latest
	}
	pack, ok := latest[sub.Quality]
	if !ok {
		log.Debug("no pack for quality", logx.String("quality", sub.Quality))
		return outcomeSkipped
	}

	rel := d.release(ctx, cfg, st, sub.Title, pack.Episode, log)
	msg := Message{Title: sub.Title, Pack: pack, BotName: BotName(src.Name), ReleaseDate: rel.ReleaseDate}
	if cfg.Thumbnails {
		msg.ImageURL = rel.ImageURL
	}
	if err := d.deps.Notifier.Notify(ctx, sub.SubscriberID, RenderNew(msg)); err != nil {
		log.Warn("notify failed", logx.Err(err))
		return outcomeFailed
	}
	return outcomeNotified
}

// sourceFor returns the subscriber's preferred source, or the default one.
func (d *Dispatcher) sourceFor(ctx context.Context, uid int64, log logx.Logger) settings.Source {
	us, err := d.deps.Settings.Get(ctx, uid)
	if err != nil {
		if !errors.Is(err, settings.ErrNotRegistered) {
			log.Warn("settings lookup failed, using default source", logx.Err(err))
		}
		return d.deps.Catalog.Default()
	}
	if src, ok := d.deps.Catalog.Get(us.SourceID); ok {
		return src
	}
	return d.deps.Catalog.Default()
}

func (d *Dispatcher) release(ctx context.Context, cfg Config, st *tickState, title, episode string, log logx.Logger) feed.Release {
	if !cfg.Metadata {
		return feed.Release{}
	}
	k := releaseKey{title, episode}
	if r, ok := st.releases[k]; ok {
		return r
	}
	r, err := d.deps.Feed.Search(ctx, title, episode)
	if err != nil {
		log.Debug("release metadata unavailable", logx.Err(err))
	}
	st.releases[k] = r
	return r
}

func (d *Dispatcher) finish(rep TickReport) {
	if d.deps.Metrics != nil {
		d.deps.Metrics.ObserveTick(rep.Notified, rep.Failed, rep.Skipped)
	}
	if d.deps.Bus != nil {
		d.deps.Bus.Publish(eventbus.Event{Type: eventbus.DispatchTick, Data: rep})
	}
	d.log.Info("tick dispatched",
		logx.Time("minute", rep.Minute),
		logx.Int("titles", rep.Titles),
		logx.Int("notified", rep.Notified),
		logx.Int("failed", rep.Failed),
		logx.Int("skipped", rep.Skipped),
	)
}
