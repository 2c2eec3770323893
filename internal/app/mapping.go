package app

import (
	"time"

	"airbot/internal/commands"
	"airbot/internal/config"
	"airbot/internal/dispatch"
	"airbot/internal/feed"
	"airbot/internal/notifier"
	"airbot/internal/observability/httpserver"
	"airbot/internal/schedule"
	"airbot/internal/settings"
	"airbot/internal/storage"
	"airbot/internal/task/engine"
	"airbot/internal/task/scheduler"
	telegram "airbot/internal/transport/telegram/adapter"
	logx "airbot/pkg/logx"
)

// The map* helpers assume cfg passed Validate; bad durations fall back to defaults.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			ChatID:     cfg.Telegram.AdminChatID,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func mapTelegram(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.MustDuration(cfg.Telegram.PollTimeout, 10*time.Second),
	}
}

func mapStorage(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: config.MustDuration(cfg.Storage.BusyTimeout, 5*time.Second),
	}
}

func mapCatalog(cfg *config.Config) (*settings.Catalog, error) {
	srcs := make([]settings.Source, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		srcs = append(srcs, settings.Source{ID: s.ID, Name: s.Name, ListingURL: s.ListingURL})
	}
	return settings.NewCatalog(srcs, cfg.Dispatch.DefaultSource)
}

// mapFeed opens the guard to every listing port in the catalog.
func mapFeed(cfg *config.Config, cat *settings.Catalog) feed.Config {
	var ports []int
	for _, s := range cat.All() {
		if p := feed.PortOf(s.ListingURL); p > 0 {
			ports = append(ports, p)
		}
	}
	return feed.Config{
		CalendarURL:  cfg.Feeds.CalendarURL,
		SearchURL:    cfg.Feeds.SearchURL,
		Timeout:      config.MustDuration(cfg.Feeds.Timeout, 5*time.Second),
		UserAgent:    cfg.Feeds.UserAgent,
		Guard:        cfg.Feeds.Guard,
		AllowedPorts: ports,
	}
}

func mapGrace(cfg *config.Config) time.Duration {
	return config.MustDuration(cfg.Feeds.Grace, schedule.DefaultGrace)
}

func mapEngine(cfg *config.Config) engine.Config {
	return engine.Config{
		Enabled:        true,
		Workers:        cfg.TaskEngine.Workers,
		QueueSize:      cfg.TaskEngine.QueueSize,
		DefaultTimeout: config.MustDuration(cfg.TaskEngine.DefaultTimeout, 30*time.Second),
		HistorySize:    cfg.TaskEngine.HistorySize,
		RetryMax:       cfg.TaskEngine.RetryMax,
	}
}

func mapScheduler(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: cfg.Scheduler.Timezone}
}

func mapNotifier(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       config.MustDuration(n.RetryBase, 500*time.Millisecond),
		RetryMaxDelay:   config.MustDuration(n.RetryMaxDelay, 10*time.Second),
		DedupWindow:     config.MustDuration(n.DedupWindow, 10*time.Minute),
		DedupMaxEntries: n.DedupMaxEntries,
	}
}

func mapDispatch(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		Latest:     cfg.Dispatch.Latest,
		Thumbnails: cfg.Dispatch.Thumbnails,
		Metadata:   cfg.Dispatch.Metadata,
	}
}

func mapCommands(cfg *config.Config) commands.Config {
	return commands.Config{
		Workers: cfg.Commands.Workers,
		Timeout: config.MustDuration(cfg.Commands.Timeout, 20*time.Second),
	}
}

func mapHTTP(cfg *config.Config) httpserver.Config {
	return httpserver.Config{
		Enabled:      cfg.HTTP.Enabled,
		Addr:         cfg.HTTP.Addr,
		Metrics:      cfg.HTTP.Metrics,
		Pprof:        cfg.HTTP.Pprof,
		ReadTimeout:  config.MustDuration(cfg.HTTP.ReadTimeout, 10*time.Second),
		WriteTimeout: config.MustDuration(cfg.HTTP.WriteTimeout, 40*time.Second),
	}
}
