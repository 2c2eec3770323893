package adapter

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	kit "airbot/internal/transport"
	logx "airbot/pkg/logx"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		limit int
		html  bool
		check func(t *testing.T, parts []string)
	}{
		{
			name:  "short",
			text:  "hello",
			limit: 10,
			check: func(t *testing.T, parts []string) {
				if len(parts) != 1 || parts[0] != "hello" {
					t.Fatalf("parts=%q", parts)
				}
			},
		},
		{
			name:  "prefers newline",
			text:  "aaaaaaa\nbbbbbbb\ncccc",
			limit: 10,
			check: func(t *testing.T, parts []string) {
				if parts[0] != "aaaaaaa" || parts[1] != "bbbbbbb" {
					t.Fatalf("parts=%q", parts)
				}
			},
		},
		{
			name:  "runes not bytes",
			text:  strings.Repeat("é", 25),
			limit: 10,
			check: func(t *testing.T, parts []string) {
				if len(parts) != 3 {
					t.Fatalf("len=%d want 3", len(parts))
				}
				for _, p := range parts {
					if !utf8.ValidString(p) || utf8.RuneCountInString(p) > 10 {
						t.Fatalf("bad chunk %q", p)
					}
				}
			},
		},
		{
			name:  "html tag kept whole",
			text:  "abcdef <b>bold</b>",
			limit: 9,
			html:  true,
			check: func(t *testing.T, parts []string) {
				if parts[0] != "abcdef " {
					t.Fatalf("first=%q", parts[0])
				}
				if !strings.HasPrefix(parts[1], "<b>") {
					t.Fatalf("second=%q", parts[1])
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts := splitTelegramText(tt.text, tt.limit, tt.html)
			tt.check(t, parts)
		})
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	if err := classify(tele.ErrBlockedByUser); !errors.Is(err, kit.ErrUnreachable) {
		t.Fatalf("blocked: %v", err)
	}
	if err := classify(fmt.Errorf("send: %w", tele.ErrChatNotFound)); !errors.Is(err, kit.ErrUnreachable) {
		t.Fatalf("chat not found: %v", err)
	}
	if err := classify(errors.New("timeout")); errors.Is(err, kit.ErrUnreachable) {
		t.Fatalf("transient error marked unreachable")
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: " "}, logx.Nop()); err == nil {
		t.Fatalf("expected error for empty token")
	}
}
