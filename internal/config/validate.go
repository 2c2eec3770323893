package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks values that Decode cannot. It joins every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	dur("telegram.poll_timeout", c.Telegram.PollTimeout)
	dur("scheduler.refresh_timeout", c.Scheduler.RefreshTimeout)
	dur("scheduler.tick_timeout", c.Scheduler.TickTimeout)
	dur("task_engine.default_timeout", c.TaskEngine.DefaultTimeout)
	dur("notifier.retry_base", c.Notifier.RetryBase)
	dur("notifier.retry_max_delay", c.Notifier.RetryMaxDelay)
	dur("notifier.dedup_window", c.Notifier.DedupWindow)
	dur("storage.busy_timeout", c.Storage.BusyTimeout)
	dur("feeds.timeout", c.Feeds.Timeout)
	dur("feeds.grace", c.Feeds.Grace)
	dur("commands.timeout", c.Commands.Timeout)
	dur("http.read_timeout", c.HTTP.ReadTimeout)
	dur("http.write_timeout", c.HTTP.WriteTimeout)

	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "sqlite", "none", "memory":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	for _, f := range []struct{ path, raw string }{
		{"feeds.calendar_url", c.Feeds.CalendarURL},
		{"feeds.search_url", c.Feeds.SearchURL},
	} {
		if f.raw == "" {
			continue
		}
		if u, err := url.Parse(f.raw); err != nil || u.Host == "" {
			add(fmt.Errorf("%s: invalid url %q", f.path, f.raw))
		}
	}
	seen := map[int]bool{}
	for i, s := range c.Sources {
		if s.ID <= 0 {
			add(fmt.Errorf("sources[%d]: id must be > 0", i))
		}
		if seen[s.ID] {
			add(fmt.Errorf("sources[%d]: duplicate id %d", i, s.ID))
		}
		seen[s.ID] = true
	}
	if len(c.Sources) > 0 && c.Dispatch.DefaultSource != 0 && !seen[c.Dispatch.DefaultSource] {
		add(fmt.Errorf("dispatch.default_source: %d not in sources", c.Dispatch.DefaultSource))
	}
	if c.Logging.Chat.Enabled && c.Telegram.AdminChatID == 0 {
		add(errors.New("logging.chat: telegram.admin_chat_id is required"))
	}
	if c.HTTP.Enabled && strings.TrimSpace(c.HTTP.Addr) == "" {
		add(errors.New("http.addr: required when http is enabled"))
	}
	return errors.Join(errs...)
}

// Changed lists the top-level sections that differ. Secrets are never compared
// by value in logs; callers only see section names.
func Changed(old, cur *Config) []string {
	if old == nil {
		old = &Config{}
	}
	if cur == nil {
		cur = &Config{}
	}
	var out []string
	if old.Telegram != cur.Telegram {
		out = append(out, "telegram")
	}
	if old.Logging != cur.Logging {
		out = append(out, "logging")
	}
	if old.Scheduler != cur.Scheduler {
		out = append(out, "scheduler")
	}
	if old.TaskEngine != cur.TaskEngine {
		out = append(out, "task_engine")
	}
	if old.Notifier != cur.Notifier {
		out = append(out, "notifier")
	}
	if old.Storage != cur.Storage {
		out = append(out, "storage")
	}
	if old.Feeds != cur.Feeds {
		out = append(out, "feeds")
	}
	if old.Dispatch != cur.Dispatch {
		out = append(out, "dispatch")
	}
	if old.Commands != cur.Commands {
		out = append(out, "commands")
	}
	if old.HTTP != cur.HTTP {
		out = append(out, "http")
	}
	if !equalSources(old.Sources, cur.Sources) {
		out = append(out, "sources")
	}
	return out
}

func equalSources(a, b []SourceConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
