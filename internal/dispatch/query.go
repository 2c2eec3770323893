package dispatch

import (
	"context"
	"strings"

	"airbot/internal/feed"
	"airbot/internal/settings"
	"airbot/internal/subscription"
)

// Result is a manual query answer.
type Result struct {
	Pack    feed.Pack
	Source  settings.Source
	Release feed.Release
	Text    string
}

// Query finds the latest pack of title at quality in the user's source
// listing. It returns settings.ErrNotRegistered, subscription.ErrInvalidQuality,
// feed.ErrPackNotFound or a *feed.TransportError.
func (d *Dispatcher) Query(ctx context.Context, uid int64, title, quality string) (Result, error) {
	us, err := d.deps.Settings.Get(ctx, uid)
	if err != nil {
		return Result{}, err
	}
	src, ok := d.deps.Catalog.Get(us.SourceID)
	if !ok {
		src = d.deps.Catalog.Default()
	}
	return d.QuerySource(ctx, src, title, quality)
}

// QuerySource is Query against an explicit source.
func (d *Dispatcher) QuerySource(ctx context.Context, src settings.Source, title, quality string) (Result, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Result{}, subscription.ErrEmptyTitle
	}
	q, err := subscription.NormalizeQuality(quality)
	if err != nil {
		return Result{}, err
	}
	text, err := d.deps.Feed.Listing(ctx, src.ListingURL)
	if err != nil {
		return Result{}, err
	}
	pack, err := feed.FindPack(text, title, q)
	if err != nil {
		return Result{}, err
	}

	cfg := *d.cfg.Load()
	res := Result{Pack: pack, Source: src}
	if cfg.Metadata {
		// Best effort, like the tick path.
		res.Release, _ = d.deps.Feed.Search(ctx, title, pack.Episode)
	}
	msg := Message{Title: title, Pack: pack, BotName: BotName(src.Name), ReleaseDate: res.Release.ReleaseDate}
	if cfg.Thumbnails {
		msg.ImageURL = res.Release.ImageURL
	}
	res.Text = RenderLatest(msg)
	return res, nil
}
