package config

// Config is the on-disk configuration. Durations are Go duration strings.
// Parse starts from Default(), so omitted fields keep their defaults.
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Notifier   NotifierConfig   `json:"notifier"`
	Storage    StorageConfig    `json:"storage"`
	Feeds      FeedsConfig      `json:"feeds"`
	Dispatch   DispatchConfig   `json:"dispatch"`
	Commands   CommandsConfig   `json:"commands"`
	HTTP       HTTPConfig       `json:"http"`

	// Sources replaces the built-in XDCC source catalog when non-empty.
	Sources []SourceConfig `json:"sources,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout"`
	// AdminChatID receives mirrored warning/error logs when logging.chat is enabled.
	AdminChatID int64 `json:"admin_chat_id,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the two periodic jobs.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone"`

	// Refresh rebuilds the schedule cache. Accepts cron, "@hourly", "1h" or "01:00".
	Refresh        string `json:"refresh"`
	RefreshTimeout string `json:"refresh_timeout"`

	// Tick polls the cache and fans out notifications.
	Tick        string `json:"tick"`
	TickTimeout string `json:"tick_timeout"`
}

type TaskEngineConfig struct {
	Workers        int    `json:"workers"`
	QueueSize      int    `json:"queue_size"`
	DefaultTimeout string `json:"default_timeout"`
	HistorySize    int    `json:"history_size"`
	RetryMax       int    `json:"retry_max"`
}

type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

// StorageConfig selects the record store driver.
//
//	"storage": { "driver": "file", "path": "./data" }
type StorageConfig struct {
	Driver      string `json:"driver"` // file | sqlite | none
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type FeedsConfig struct {
	CalendarURL string `json:"calendar_url"`
	SearchURL   string `json:"search_url"`
	Timeout     string `json:"timeout"`
	UserAgent   string `json:"user_agent,omitempty"`

	// Guard routes every fetch through an SSRF-checking client.
	Guard bool `json:"guard"`

	// Grace shifts every release minute forward to give listings time to update.
	Grace string `json:"grace"`
}

type DispatchConfig struct {
	DefaultSource int  `json:"default_source"`
	Latest        int  `json:"latest"`
	Thumbnails    bool `json:"thumbnails"`
	Metadata      bool `json:"metadata"`
}

type CommandsConfig struct {
	Workers int    `json:"workers"`
	Timeout string `json:"timeout"`
}

// HTTPConfig controls the health/metrics listener.
//
// Prefer a loopback address; pprof is only mounted when Pprof is true.
type HTTPConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr"`
	Metrics      bool   `json:"metrics"`
	Pprof        bool   `json:"pprof"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

type SourceConfig struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	ListingURL string `json:"listing_url,omitempty"`
}

func Default() Config {
	return Config{
		Telegram: TelegramConfig{PollTimeout: "10s"},
		Logging:  LoggingConfig{Level: "info", Console: true, Chat: LoggingChat{MinLevel: "warn", RatePerSec: 1}},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			Timezone:       "UTC",
			Refresh:        "@hourly",
			RefreshTimeout: "30s",
			Tick:           "* * * * *",
			TickTimeout:    "50s",
		},
		TaskEngine: TaskEngineConfig{Workers: 2, QueueSize: 64, HistorySize: 100, RetryMax: 0},
		Notifier: NotifierConfig{
			Enabled:         true,
			Workers:         2,
			QueueSize:       512,
			RatePerSec:      20,
			RetryMax:        3,
			RetryBase:       "500ms",
			RetryMaxDelay:   "10s",
			DedupWindow:     "10m",
			DedupMaxEntries: 4096,
		},
		Storage: StorageConfig{Driver: "file", Path: "./data", BusyTimeout: "5s"},
		Feeds: FeedsConfig{
			CalendarURL: "https://subsplease.org/api/?f=schedule&tz=UTC",
			SearchURL:   "https://subsplease.org/api/?f=search&tz=UTC",
			Timeout:     "5s",
			UserAgent:   "airbot/1.0",
			Grace:       "10m",
		},
		Dispatch: DispatchConfig{DefaultSource: 1337, Latest: 3, Thumbnails: true, Metadata: true},
		Commands: CommandsConfig{Workers: 4, Timeout: "20s"},
		HTTP:     HTTPConfig{Addr: "127.0.0.1:9090", Metrics: true},
	}
}
