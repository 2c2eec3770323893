package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testListing = `#1  1x [700M] [SubsPlease] Show - 04 (720p) [AAAA].mkv
#2  1x [700M] [SubsPlease] Show - 05 (720p) [BBBB].mkv
#3  1x [1.4G] [SubsPlease] Show - 05 (1080p) [CCCC].mkv
`

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	days := []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
	var sched []string
	for _, d := range days {
		sched = append(sched, fmt.Sprintf(`%q:[{"title":"Show","time":"12:00"}]`, d))
	}
	calendar := `{"tz":"UTC","schedule":{` + strings.Join(sched, ",") + `}}`

	mux := http.NewServeMux()
	mux.HandleFunc("/txt", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(testListing)) })
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("f") == "schedule" {
			_, _ = w.Write([]byte(calendar))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, srvURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	body := fmt.Sprintf(`{
  "telegram": {"token": "test"},
  "storage": {"driver": "none"},
  "feeds": {
    "calendar_url": %q,
    "search_url": %q
  },
  "sources": [{"id": 7, "name": "TEST_BOT", "listing_url": %q}],
  "dispatch": {"default_source": 7}
}`, srvURL+"/api/?f=schedule&tz=UTC", srvURL+"/api/?f=search&tz=UTC", srvURL+"/txt")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env", filepath.Join(t.TempDir(), "missing.env")))
	err := cmd.Execute()
	return out.String(), err
}

func TestScheduleCommand(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t, newFeedServer(t).URL)

	out, err := runCLI(t, "schedule", "--config", cfg, "--tz", "Asia/Tokyo", "--limit", "3")
	if err != nil {
		t.Fatalf("schedule: %v\n%s", err, out)
	}
	// 12:00 UTC plus the default grace, shown in JST.
	if strings.Count(out, "Show") != 3 || !strings.Contains(out, "21:10") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	if _, err := runCLI(t, "schedule", "--config", cfg, "--tz", "Nowhere/Town"); err == nil {
		t.Fatalf("bad --tz accepted")
	}
}

func TestEpisodeCommand(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t, newFeedServer(t).URL)

	out, err := runCLI(t, "episode", "--config", cfg, "720P", "Show")
	if err != nil {
		t.Fatalf("episode: %v\n%s", err, out)
	}
	for _, want := range []string{"#2", "7 (TEST_BOT)", "Unknown", "/msg TEST-BOT|NEW xdcc send #2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}

	out, err = runCLI(t, "episode", "--config", cfg, "--html", "1080p", "Show")
	if err != nil || !strings.Contains(out, "Anime name: Show") || !strings.Contains(out, "#3") {
		t.Fatalf("html output: %v\n%s", err, out)
	}

	if _, err := runCLI(t, "episode", "--config", cfg, "480p", "Show"); err == nil || !strings.Contains(err.Error(), "no pack") {
		t.Fatalf("missing quality err = %v", err)
	}
	if _, err := runCLI(t, "episode", "--config", cfg, "--source", "99", "720p", "Show"); err == nil {
		t.Fatalf("unknown source accepted")
	}
}

func TestCheckConfigCommand(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t, "http://127.0.0.1:1")
	out, err := runCLI(t, "check-config", "--config", cfg)
	if err != nil || !strings.Contains(out, "Config OK") || !strings.Contains(out, "TEST_BOT") {
		t.Fatalf("check-config: %v\n%s", err, out)
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte(`{"storage":{"driver":"tape"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, "check-config", "--config", bad); err == nil {
		t.Fatalf("bad storage driver accepted")
	}
}
