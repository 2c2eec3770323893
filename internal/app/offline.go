package app

import (
	"time"

	"airbot/internal/config"
	"airbot/internal/dispatch"
	"airbot/internal/feed"
	"airbot/internal/settings"
	logx "airbot/pkg/logx"
)

// Offline is the read-only slice of the app used by one-shot CLI commands.
// It needs no Telegram session and no storage.
type Offline struct {
	Catalog    *settings.Catalog
	Feed       *feed.Client
	Dispatcher *dispatch.Dispatcher
	Grace      time.Duration
}

func NewOffline(cfg *config.Config, log logx.Logger) (*Offline, error) {
	cat, err := mapCatalog(cfg)
	if err != nil {
		return nil, err
	}
	fc, err := feed.New(mapFeed(cfg, cat), log)
	if err != nil {
		return nil, err
	}
	d := dispatch.New(mapDispatch(cfg), dispatch.Deps{Catalog: cat, Feed: fc}, log)
	return &Offline{Catalog: cat, Feed: fc, Dispatcher: d, Grace: mapGrace(cfg)}, nil
}
