package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestDecodeFormats(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{"json", "c.json", `{"telegram":{"token":"abc"},"feeds":{"grace":"5m"}}`},
		{"yaml", "c.yaml", "telegram:\n  token: abc\nfeeds:\n  grace: 5m\n"},
		{"toml", "c.toml", "[telegram]\ntoken = \"abc\"\n[feeds]\ngrace = \"5m\"\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Decode(tt.file, []byte(tt.body))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if cfg.Telegram.Token != "abc" || cfg.Feeds.Grace != "5m" {
				t.Fatalf("unexpected values: %+v %+v", cfg.Telegram, cfg.Feeds)
			}
			// Untouched sections keep their defaults.
			if cfg.Feeds.Timeout != "5s" || cfg.Dispatch.DefaultSource != 1337 {
				t.Fatalf("defaults lost: %+v %+v", cfg.Feeds, cfg.Dispatch)
			}
		})
	}
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.json", []byte(`{"bogus":1}`)); err == nil {
		t.Fatalf("expected unknown field error")
	}
	if _, err := Decode("c.json", []byte(`{}{}`)); err == nil {
		t.Fatalf("expected trailing data error")
	}
	if _, err := Decode("c.yaml", []byte("scheduler:\n  nope: true\n")); err == nil {
		t.Fatalf("expected unknown yaml field error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := Default()
	bad.Feeds.Timeout = "soon"
	bad.Scheduler.Timezone = "Mars/Base"
	bad.Storage.Driver = "redis"
	err := bad.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"feeds.timeout", "scheduler.timezone", "storage.driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestChanged(t *testing.T) {
	t.Parallel()
	a, b := Default(), Default()
	b.Logging.Level = "debug"
	b.Sources = []SourceConfig{{ID: 1, Name: "x"}}
	got := Changed(&a, &b)
	if strings.Join(got, ",") != "logging,sources" {
		t.Fatalf("Changed = %v", got)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	if err != nil || d != 3*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "-1s", time.Second); err == nil {
		t.Fatalf("expected negative duration error")
	}
}

func TestManagerWatchReloads(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "airbot.json", `{"logging":{"level":"info"}}`)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(p, []byte(`{"logging":{"level":"debug"}}`), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("level=%q", cfg.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no reload published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatalf("Get not updated")
	}
}
