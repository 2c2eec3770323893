package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

func counterWith(mf *dto.MetricFamily, label, value string) float64 {
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return -1
}

func TestObserveRefresh(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveRefresh(true, 50*time.Millisecond, 12)
	c.ObserveRefresh(false, time.Second, 0)

	mfs := gather(t, reg)
	if got := mfs["airbot_schedule_cache_titles"].GetMetric()[0].GetGauge().GetValue(); got != 12 {
		t.Fatalf("cache titles=%v want 12 (failed refresh must not reset it)", got)
	}
	rf := mfs["airbot_schedule_refresh_total"]
	if counterWith(rf, "result", "ok") != 1 || counterWith(rf, "result", "error") != 1 {
		t.Fatalf("refresh counters: %v", rf)
	}
	if n := mfs["airbot_schedule_refresh_seconds"].GetMetric()[0].GetHistogram().GetSampleCount(); n != 2 {
		t.Fatalf("histogram samples=%d want 2", n)
	}
}

func TestObserveTickAndNotifications(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveTick(3, 1, 2)
	c.ObserveTick(1, 0, 0)
	c.ObserveNotification(true)
	c.ObserveNotification(false)
	c.ObserveNotification(true)

	mfs := gather(t, reg)
	if got := mfs["airbot_dispatch_ticks_total"].GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Fatalf("ticks=%v want 2", got)
	}
	outcomes := mfs["airbot_dispatch_subscribers_total"]
	for label, want := range map[string]float64{"notified": 4, "failed": 1, "skipped": 2} {
		if got := counterWith(outcomes, "outcome", label); got != want {
			t.Fatalf("%s=%v want %v", label, got, want)
		}
	}
	if got := counterWith(mfs["airbot_notifications_total"], "result", "ok"); got != 2 {
		t.Fatalf("notifications ok=%v want 2", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.ObserveFetch("listing", true, time.Millisecond)
	c.ObserveTask("dispatch.tick", true)

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	body, _ := io.ReadAll(w.Result().Body)
	for _, want := range []string{"airbot_feed_fetch_total", `task="dispatch.tick"`} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("body missing %s", want)
		}
	}
}
