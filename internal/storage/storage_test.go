package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	logx "airbot/pkg/logx"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	out := map[string]Backend{"none": NewMemory()}
	for _, driver := range []string{"file", "sqlite"} {
		b, err := Open(Config{Driver: driver, Path: t.TempDir()}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%s): %v", driver, err)
		}
		t.Cleanup(func() { _ = b.Close() })
		out[driver] = b
	}
	return out
}

func keys(lines []Line) string {
	var ks []string
	for _, l := range lines {
		ks = append(ks, l.Record.Key())
	}
	return strings.Join(ks, ",")
}

func TestStoreLineSemantics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, b := range backends(t) {
		name, b := name, b
		t.Run(name, func(t *testing.T) {
			s, err := b.Store("userinfo")
			if err != nil {
				t.Fatalf("Store: %v", err)
			}
			for _, k := range []string{"a", "b", "c"} {
				if err := s.Append(ctx, Record{k, "1337", "UTC"}); err != nil {
					t.Fatalf("Append(%s): %v", k, err)
				}
			}

			l, err := s.FindLineByKey(ctx, "b")
			if err != nil || l.Number != 2 || l.Record[1] != "1337" {
				t.Fatalf("FindLineByKey(b) = %+v, %v", l, err)
			}
			if _, err := s.FindLineByKey(ctx, "zz"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("missing key err=%v", err)
			}

			// Rewrite moves the record to the end.
			if err := s.RewriteLine(ctx, 1, Record{"a", "8331", "Asia/Tokyo"}); err != nil {
				t.Fatalf("RewriteLine: %v", err)
			}
			lines, _ := s.Lines(ctx)
			if got := keys(lines); got != "b,c,a" {
				t.Fatalf("after rewrite keys=%s", got)
			}
			if lines[2].Number != 3 || lines[2].Record[2] != "Asia/Tokyo" {
				t.Fatalf("rewritten line = %+v", lines[2])
			}

			if err := s.DeleteLine(ctx, 1); err != nil {
				t.Fatalf("DeleteLine: %v", err)
			}
			if err := s.DeleteLine(ctx, 9); !errors.Is(err, ErrNotFound) {
				t.Fatalf("out of range delete err=%v", err)
			}
			lines, _ = s.Lines(ctx)
			if got := keys(lines); got != "c,a" {
				t.Fatalf("after delete keys=%s", got)
			}
			if err := s.Append(ctx, Record{""}); !errors.Is(err, ErrEmptyKey) {
				t.Fatalf("empty key err=%v", err)
			}
		})
	}
}

func TestFileStoreQuotesCommas(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	b, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()
	s, _ := b.Store("subsinfo")
	ctx := context.Background()
	if err := s.Append(ctx, Record{"Hello, World", "1:720p"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "subsinfo.csv"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(raw) != "\"Hello, World\",1:720p\n" {
		t.Fatalf("raw=%q", raw)
	}
	l, err := s.FindLineByKey(ctx, "Hello, World")
	if err != nil || len(l.Record) != 2 {
		t.Fatalf("FindLineByKey = %+v, %v", l, err)
	}
}

func TestFileStoreConcurrentAppends(t *testing.T) {
	t.Parallel()
	b, err := Open(Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()
	s, _ := b.Store("subsinfo")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Append(ctx, Record{string(rune('a' + i))})
		}(i)
	}
	wg.Wait()
	lines, err := s.Lines(ctx)
	if err != nil || len(lines) != 20 {
		t.Fatalf("lines=%d err=%v", len(lines), err)
	}
}

func TestInvalidKindAndDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	b, _ := Open(Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	defer b.Close()
	if _, err := b.Store("../etc"); err == nil {
		t.Fatalf("expected invalid kind error")
	}
}
