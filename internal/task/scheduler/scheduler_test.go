package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"airbot/internal/task/engine"
	logx "airbot/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		raw    string
		kind   SpecKind
		source string
		every  time.Duration
	}{
		{name: "cron", raw: "* * * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@hourly", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", every: 10 * time.Minute},
		{name: "prefixed interval", raw: "every:45s", kind: SpecInterval, source: "duration", every: 45 * time.Second},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", every: 90 * time.Minute},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind || got.Source != tt.source {
				t.Fatalf("got kind=%v source=%s, want %v %s", got.Kind, got.Source, tt.kind, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "-5m", "00:00", "cron:"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q): expected error", raw)
		}
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := parseHHMM("23:15")
	if err != nil || h != 23 || m != 15 {
		t.Fatalf("parseHHMM = %d:%d, %v", h, m, err)
	}
	for _, bad := range []string{"24:00", "12:60", "1215", "12:5"} {
		if _, _, err := parseHHMM(bad); err == nil {
			t.Fatalf("parseHHMM(%q): expected error", bad)
		}
	}
}

func TestRunNowSubmitsOnStart(t *testing.T) {
	t.Parallel()
	eng := engine.New(engine.Config{Enabled: true, Workers: 1, QueueSize: 4}, logx.Nop(), nil)
	eng.Start(context.Background())
	defer eng.Stop(context.Background())

	s := New(Config{Enabled: true}, eng, logx.Nop())
	var runs atomic.Int32
	if err := s.Add("refresh", "@hourly", time.Second, func(context.Context) error { runs.Add(1); return nil }, WithRunNow()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runs.Load() != 1 {
		t.Fatalf("runs=%d want 1", runs.Load())
	}

	infos := s.Schedules()
	if len(infos) != 1 || infos[0].Name != "refresh" || infos[0].Next.IsZero() {
		t.Fatalf("unexpected schedules: %+v", infos)
	}
}

func TestAddReplacesAndRemove(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, nil, logx.Nop())
	job := func(context.Context) error { return nil }
	if err := s.Add("tick", "* * * * *", 0, job); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("tick", "1m", 0, job); err != nil {
		t.Fatalf("Add replace: %v", err)
	}
	if got := s.Schedules(); len(got) != 1 || got[0].Spec != "@every 1m0s" {
		t.Fatalf("unexpected schedules: %+v", got)
	}
	if err := s.AddCron("bad", "nope nope", 0, job); err == nil {
		t.Fatalf("expected parse error")
	}
	if !s.Remove("tick") || s.Remove("tick") {
		t.Fatalf("Remove should succeed once")
	}
	if err := s.RunNow("tick"); err == nil {
		t.Fatalf("RunNow on removed schedule should fail")
	}
}
