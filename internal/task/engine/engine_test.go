package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"airbot/internal/eventbus"
	logx "airbot/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestEnqueueRunsTask(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, QueueSize: 4})

	var ran atomic.Int32
	if err := s.Enqueue(Task{Name: "ok", Run: func(context.Context) error { ran.Add(1); return nil }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if ran.Load() != 1 {
		t.Fatalf("ran=%d want 1", ran.Load())
	}
	h := s.Snapshot().History[0]
	if h.ID == "" || h.Error != "" || h.Attempts != 1 {
		t.Fatalf("unexpected history item: %+v", h)
	}
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()

	disabled := New(Config{}, logx.Nop(), nil)
	if err := disabled.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err=%v want ErrDisabled", err)
	}

	stopped := New(Config{Enabled: true}, logx.Nop(), nil)
	if err := stopped.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err=%v want ErrStopped", err)
	}
	if err := stopped.Enqueue(Task{Name: " ", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatalf("expected error for blank name")
	}
	if err := stopped.Enqueue(Task{Name: "x"}); err == nil {
		t.Fatalf("expected error for nil Run")
	}
}

func TestOverlapSkip(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(Config{Enabled: true, Workers: 1, QueueSize: 4}, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	release := make(chan struct{})
	slow := Task{Name: "tick", Run: func(context.Context) error { <-release; return nil }}
	if err := s.Enqueue(slow); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if err := s.Enqueue(slow); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("err=%v want ErrOverlapSkip", err)
	}
	close(release)

	select {
	case ev := <-ch:
		if ev.Type != eventbus.TaskSkipped {
			t.Fatalf("event type=%q want %q", ev.Type, eventbus.TaskSkipped)
		}
	case <-time.After(time.Second):
		t.Fatalf("no skip event")
	}

	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if err := s.Enqueue(slow); err != nil {
		t.Fatalf("Enqueue after release: %v", err)
	}
}

func TestRetryStopsOnNoRetry(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, QueueSize: 4, RetryMax: 3})

	var calls atomic.Int32
	err := s.Enqueue(Task{
		Name: "perm",
		Opt:  TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond},
		Run: func(context.Context) error {
			calls.Add(1)
			return NoRetry(errors.New("bad"))
		},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if calls.Load() != 1 {
		t.Fatalf("calls=%d want 1", calls.Load())
	}
	if got := s.Snapshot().History[0].Error; got != "bad" {
		t.Fatalf("error=%q want %q", got, "bad")
	}
}

func TestRetryUntilSuccess(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, QueueSize: 4, RetryMax: 3})

	var calls atomic.Int32
	err := s.Enqueue(Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond},
		Run: func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	h := s.Snapshot().History[0]
	if h.Attempts != 3 || h.Error != "" {
		t.Fatalf("unexpected history item: %+v", h)
	}
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, QueueSize: 4})

	err := s.Enqueue(Task{Name: "boom", Opt: TaskOptions{RetryMax: -1}, Run: func(context.Context) error { panic("kaboom") }})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if got := s.Snapshot().History[0].Error; got != "panic: kaboom" {
		t.Fatalf("error=%q", got)
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))
	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second, RetryJitter: 0.2}

	tests := []struct {
		name    string
		attempt int
		err     error
		min     time.Duration
		max     time.Duration
	}{
		{"first", 1, errors.New("x"), 80 * time.Millisecond, 120 * time.Millisecond},
		{"third", 3, errors.New("x"), 320 * time.Millisecond, 480 * time.Millisecond},
		{"capped", 10, errors.New("x"), 800 * time.Millisecond, time.Second},
		{"hint", 1, RetryAfter(errors.New("x"), 500*time.Millisecond), 400 * time.Millisecond, 600 * time.Millisecond},
		{"hint capped", 1, RetryAfter(errors.New("x"), time.Minute), 800 * time.Millisecond, time.Second},
	}
	for _, tt := range tests {
		d := backoffDelay(opt, tt.attempt, tt.err, rng)
		if d < tt.min || d > tt.max {
			t.Fatalf("%s: delay=%s want [%s,%s]", tt.name, d, tt.min, tt.max)
		}
	}
}
