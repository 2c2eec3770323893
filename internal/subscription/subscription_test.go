package subscription

import (
	"context"
	"errors"
	"testing"

	"airbot/internal/settings"
	"airbot/internal/storage"
	logx "airbot/pkg/logx"
)

type fakeRegistry map[int64]bool

func (f fakeRegistry) Get(_ context.Context, uid int64) (settings.UserSettings, error) {
	if !f[uid] {
		return settings.UserSettings{}, settings.ErrNotRegistered
	}
	return settings.UserSettings{UserID: uid, SourceID: settings.DefaultSource, Timezone: "UTC"}, nil
}

func newIndex(t *testing.T) (*Index, storage.Store) {
	t.Helper()
	b, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	st, _ := b.Store(Kind)
	return New(st, fakeRegistry{1: true, 2: true, 3: true}, logx.Nop()), st
}

func TestAddRequiresRegistrationAndQuality(t *testing.T) {
	t.Parallel()
	x, _ := newIndex(t)
	ctx := context.Background()
	if err := x.Add(ctx, "Show", 99, "720p"); !errors.Is(err, settings.ErrNotRegistered) {
		t.Fatalf("unregistered err=%v", err)
	}
	if err := x.Add(ctx, "Show", 1, "hd"); !errors.Is(err, ErrInvalidQuality) {
		t.Fatalf("bad quality err=%v", err)
	}
	if err := x.Add(ctx, " ", 1, "720p"); !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("empty title err=%v", err)
	}
}

func TestAddReplaceKeepsOrder(t *testing.T) {
	t.Parallel()
	x, st := newIndex(t)
	ctx := context.Background()
	for _, uid := range []int64{1, 2, 3} {
		if err := x.Add(ctx, "Show", uid, "720p"); err != nil {
			t.Fatalf("Add(%d): %v", uid, err)
		}
	}
	if err := x.Add(ctx, "Show", 2, "1080P"); err != nil {
		t.Fatalf("re-Add: %v", err)
	}
	subs := x.Subscribers("Show")
	if len(subs) != 3 || subs[1].SubscriberID != 2 || subs[1].Quality != "1080p" {
		t.Fatalf("subs=%+v", subs)
	}

	l, err := st.FindLineByKey(ctx, "Show")
	if err != nil {
		t.Fatalf("FindLineByKey: %v", err)
	}
	want := storage.Record{"Show", "1:720p", "2:1080p", "3:720p"}
	if len(l.Record) != len(want) {
		t.Fatalf("record=%v", l.Record)
	}
	for i := range want {
		if l.Record[i] != want[i] {
			t.Fatalf("record=%v want %v", l.Record, want)
		}
	}
}

func TestRemoveLastDeletesLine(t *testing.T) {
	t.Parallel()
	x, st := newIndex(t)
	ctx := context.Background()
	_ = x.Add(ctx, "A", 1, "720p")
	_ = x.Add(ctx, "A", 2, "480p")
	_ = x.Add(ctx, "B", 1, "1080p")

	if err := x.Remove(ctx, "A", 3); !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("unknown pair err=%v", err)
	}
	if err := x.Remove(ctx, "A", 1); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := x.Remove(ctx, "A", 2); err != nil {
		t.Fatalf("Remove last: %v", err)
	}
	if x.HasSubscribers("A") {
		t.Fatalf("title A should be gone from the index")
	}
	if _, err := st.FindLineByKey(ctx, "A"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("line for A should be deleted, err=%v", err)
	}
	if x.Titles() != 1 {
		t.Fatalf("Titles=%d want 1", x.Titles())
	}
}

func TestListRemoveAllAndLoad(t *testing.T) {
	t.Parallel()
	x, st := newIndex(t)
	ctx := context.Background()
	_ = x.Add(ctx, "Zeta, Part 2", 1, "720p")
	_ = x.Add(ctx, "Alpha", 1, "1080p")
	_ = x.Add(ctx, "Alpha", 2, "720p")

	list := x.List(1)
	if len(list) != 2 || list[0].Title != "Alpha" || list[1].Title != "Zeta, Part 2" {
		t.Fatalf("List=%+v", list)
	}

	reloaded := New(st, nil, logx.Nop())
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := reloaded.Subscribers("Zeta, Part 2"); len(got) != 1 || got[0].Quality != "720p" {
		t.Fatalf("reloaded subs=%+v", got)
	}

	n, err := x.RemoveAll(ctx, 1)
	if err != nil || n != 2 {
		t.Fatalf("RemoveAll = %d, %v", n, err)
	}
	if len(x.List(1)) != 0 || len(x.Subscribers("Alpha")) != 1 {
		t.Fatalf("unexpected state after RemoveAll")
	}
}

func TestDecodeSkipsMalformed(t *testing.T) {
	t.Parallel()
	subs, bad := decode(storage.Record{"T", "1:720p", "junk", "x:480p", "2:"})
	if len(subs) != 1 || bad != 3 {
		t.Fatalf("subs=%+v bad=%d", subs, bad)
	}
}
