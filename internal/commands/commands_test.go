package commands

import (
	"context"
	"strings"
	"testing"
	"time"

	"airbot/internal/dispatch"
	"airbot/internal/feed"
	"airbot/internal/schedule"
	"airbot/internal/settings"
	"airbot/internal/storage"
	"airbot/internal/subscription"
	kit "airbot/internal/transport"
	logx "airbot/pkg/logx"
)

type captureSender struct {
	out chan string
}

func newCapture() *captureSender { return &captureSender{out: make(chan string, 32)} }

func (c *captureSender) SendText(_ context.Context, _ int64, text string) error {
	c.out <- text
	return nil
}

type fakeQuery struct{}

func (fakeQuery) Query(_ context.Context, uid int64, title, quality string) (dispatch.Result, error) {
	if title != "Show" {
		return dispatch.Result{}, feed.ErrPackNotFound
	}
	return dispatch.Result{Text: "pack for " + title + " " + quality}, nil
}

type harness struct {
	sender *captureSender
	subs   *subscription.Index
	store  *settings.Store
	ups    chan kit.Update
}

// 2026-10-12 is a Monday.
var now = time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, extra ...Command) *harness {
	t.Helper()
	backend := storage.NewMemory()
	t.Cleanup(func() { _ = backend.Close() })
	userSt, _ := backend.Store(settings.Kind)
	subSt, _ := backend.Store(subscription.Kind)
	cat, err := settings.NewCatalog(nil, settings.DefaultSource)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	store := settings.New(userSt, cat, logx.Nop())
	idx := subscription.New(subSt, store, logx.Nop())

	cal := feed.Calendar{Schedule: map[string][]feed.Entry{
		"Monday":  {{Title: "Show", Time: "17:30"}},
		"Tuesday": {{Title: "Other <Show>", Time: "01:00"}},
	}}
	holder := &schedule.Holder{}
	cache, _ := schedule.Build(cal, now, schedule.DefaultGrace)
	holder.Store(cache)

	bot := &Bot{
		Settings:      store,
		Catalog:       cat,
		Subscriptions: idx,
		Query:         fakeQuery{},
		Schedule:      holder,
		Calendar:      func() feed.Calendar { return cal },
		Now:           func() time.Time { return now },
	}
	sender := newCapture()
	r := NewRouter(Config{Workers: 2, Timeout: time.Second}, sender, logx.Nop())
	r.SetRegistry(append(bot.Commands(), extra...))

	ctx, cancel := context.WithCancel(context.Background())
	ups := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx, ups)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &harness{sender: sender, subs: idx, store: store, ups: ups}
}

func (h *harness) send(t *testing.T, uid int64, text string) string {
	t.Helper()
	h.ups <- kit.Update{ChatID: uid, UserID: uid, Text: text, Private: true}
	select {
	case out := <-h.sender.out:
		return out
	case <-time.After(2 * time.Second):
		t.Fatalf("no reply to %q", text)
		return ""
	}
}

func mustContain(t *testing.T, got string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(got, w) {
			t.Fatalf("reply missing %q:\n%s", w, got)
		}
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		word string
		args []string
		ok   bool
	}{
		{"/start", "start", nil, true},
		{"/Sub@airbot 720p  Some Title ", "sub", []string{"720p", "Some", "Title"}, true},
		{"hello", "", nil, false},
		{"/", "", nil, false},
	}
	for _, tt := range tests {
		word, args, ok := parseCommand(tt.in)
		if ok != tt.ok || word != tt.word || strings.Join(args, "|") != strings.Join(tt.args, "|") {
			t.Fatalf("parseCommand(%q) = %q %q %v", tt.in, word, args, ok)
		}
	}
}

func TestRegistrationFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	mustContain(t, h.send(t, 1, "/settings"), "not registered", "/register")
	mustContain(t, h.send(t, 1, "/register 9999 UTC"), "Unknown source")
	mustContain(t, h.send(t, 1, "/register 1337 Mars/Base"), "Unknown timezone")
	mustContain(t, h.send(t, 1, "/register 1337 Asia/Tokyo"), "Registered", "CR-HOLLAND", "Asia/Tokyo")
	mustContain(t, h.send(t, 1, "/source 8331"), "Source updated", "A-1080p")
	mustContain(t, h.send(t, 1, "/tz Europe/Berlin"), "Timezone updated", "Europe/Berlin")

	u, err := h.store.Get(context.Background(), 1)
	if err != nil || u.SourceID != 8331 || u.Timezone != "Europe/Berlin" {
		t.Fatalf("stored settings = %+v, %v", u, err)
	}
}

func TestSubscriptionFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	mustContain(t, h.send(t, 2, "/subscribe 720p Show"), "not registered")
	h.send(t, 2, "/register 1337 UTC")
	mustContain(t, h.send(t, 2, "/subscribe hd Show"), "Quality must look like")
	mustContain(t, h.send(t, 2, "/sub 1080P Sousou no Frieren"), "Subscribed", "Sousou no Frieren", "1080p")
	mustContain(t, h.send(t, 2, "/subscribe 720p Show"), "Subscribed")
	mustContain(t, h.send(t, 2, "/subs"), "Show (720p)", "Sousou no Frieren (1080p)")
	mustContain(t, h.send(t, 2, "/unsubscribe Nope"), "not subscribed")
	mustContain(t, h.send(t, 2, "/unsub Show"), "Unsubscribed")

	if got := h.subs.List(2); len(got) != 1 || got[0].Title != "Sousou no Frieren" {
		t.Fatalf("List = %+v", got)
	}
}

func TestForgetMe(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.send(t, 3, "/register 1337 UTC")
	h.send(t, 3, "/subscribe 720p Show")
	h.send(t, 3, "/subscribe 720p Other")

	mustContain(t, h.send(t, 3, "/forgetme"), "/forgetme confirm")
	if len(h.subs.List(3)) != 2 {
		t.Fatalf("data removed without confirmation")
	}
	mustContain(t, h.send(t, 3, "/forgetme confirm"), "Removed 2 subscription(s)")
	if len(h.subs.List(3)) != 0 {
		t.Fatalf("subscriptions left: %+v", h.subs.List(3))
	}
	mustContain(t, h.send(t, 3, "/settings"), "not registered")
}

func TestEpisodeAndSchedule(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	mustContain(t, h.send(t, 4, "/episode 720p"), "Usage")
	mustContain(t, h.send(t, 4, "/ep 720p Show"), "pack for Show 720p")
	mustContain(t, h.send(t, 4, "/episode 720p Missing"), "No pack found")

	h.send(t, 4, "/register 1337 Asia/Tokyo")
	// 17:30 UTC + 10m grace is 02:40 Tuesday in Tokyo.
	mustContain(t, h.send(t, 4, "/schedule"), "Upcoming", "Asia/Tokyo", "Tue 02:40", "Show", "Other &lt;Show&gt;")
	// The weekday view shows announced times without grace.
	mustContain(t, h.send(t, 4, "/schedule mon"), "Monday", "02:30")
	mustContain(t, h.send(t, 4, "/schedule xx"), "Usage")
}

func TestHelpUnknownAndSources(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	mustContain(t, h.send(t, 5, "/help"), "/subscribe", "/forgetme", "/help")
	mustContain(t, h.send(t, 5, "/help sub"), "/subscribe &lt;quality&gt; &lt;title&gt;", "/sub")
	mustContain(t, h.send(t, 5, "/nope"), "Unknown command")
	mustContain(t, h.send(t, 5, "/sources"), "1337", "(default)", "A-480p")
}

func TestPanicAndTimeoutAreReported(t *testing.T) {
	t.Parallel()
	h := newHarness(t,
		Command{Name: "boom", Handle: func(context.Context, *Request) error { panic("kaboom") }},
		Command{Name: "slow", Timeout: 20 * time.Millisecond, Handle: func(ctx context.Context, _ *Request) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)
	mustContain(t, h.send(t, 6, "/boom"), "Something went wrong")
	mustContain(t, h.send(t, 6, "/slow"), "took too long")
	// Workers survive both.
	mustContain(t, h.send(t, 6, "/start"), "Hi!")
}
