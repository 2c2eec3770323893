// Package metrics exposes Prometheus collectors for the bot's pipelines.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the metrics hooks of schedule, dispatch, notifier and feed.
type Collector struct {
	refreshes     *prometheus.CounterVec
	refreshTook   prometheus.Histogram
	cacheTitles   prometheus.Gauge
	ticks         prometheus.Counter
	tickOutcomes  *prometheus.CounterVec
	notifications *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	fetchTook     *prometheus.HistogramVec
	tasks         *prometheus.CounterVec
	subscriptions prometheus.Gauge
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airbot_schedule_refresh_total",
			Help: "Calendar refreshes by result.",
		}, []string{"result"}),
		refreshTook: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "airbot_schedule_refresh_seconds",
			Help:    "Calendar refresh latency.",
			Buckets: prometheus.DefBuckets,
		}),
		cacheTitles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airbot_schedule_cache_titles",
			Help: "Title slots in the current schedule cache.",
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "airbot_dispatch_ticks_total",
			Help: "Dispatcher ticks that hit a scheduled minute.",
		}),
		tickOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airbot_dispatch_subscribers_total",
			Help: "Per-subscriber dispatch outcomes.",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airbot_notifications_total",
			Help: "Delivered and failed notifications.",
		}, []string{"result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airbot_feed_fetch_total",
			Help: "Upstream fetches by kind and result.",
		}, []string{"kind", "result"}),
		fetchTook: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "airbot_feed_fetch_seconds",
			Help:    "Upstream fetch latency by kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airbot_tasks_total",
			Help: "Engine task runs by name and result.",
		}, []string{"task", "result"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airbot_subscribed_titles",
			Help: "Titles with at least one subscriber.",
		}),
	}

	reg.MustRegister(
		c.refreshes,
		c.refreshTook,
		c.cacheTitles,
		c.ticks,
		c.tickOutcomes,
		c.notifications,
		c.fetches,
		c.fetchTook,
		c.tasks,
		c.subscriptions,
	)
	return c
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// ObserveRefresh keeps the cache gauge on the last successful build.
func (c *Collector) ObserveRefresh(ok bool, took time.Duration, titles int) {
	c.refreshes.WithLabelValues(result(ok)).Inc()
	c.refreshTook.Observe(took.Seconds())
	if ok {
		c.cacheTitles.Set(float64(titles))
	}
}

func (c *Collector) ObserveTick(notified, failed, skipped int) {
	c.ticks.Inc()
	c.tickOutcomes.WithLabelValues("notified").Add(float64(notified))
	c.tickOutcomes.WithLabelValues("failed").Add(float64(failed))
	c.tickOutcomes.WithLabelValues("skipped").Add(float64(skipped))
}

func (c *Collector) ObserveNotification(ok bool) {
	c.notifications.WithLabelValues(result(ok)).Inc()
}

func (c *Collector) ObserveFetch(kind string, ok bool, took time.Duration) {
	c.fetches.WithLabelValues(kind, result(ok)).Inc()
	c.fetchTook.WithLabelValues(kind).Observe(took.Seconds())
}

func (c *Collector) ObserveTask(name string, ok bool) {
	c.tasks.WithLabelValues(name, result(ok)).Inc()
}

func (c *Collector) SetSubscribedTitles(n int) {
	c.subscriptions.Set(float64(n))
}

// Handler serves the Prometheus scrape endpoint.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
