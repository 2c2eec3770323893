// Package feed talks to the release calendar, the release search API and the
// XDCC pack listings, and parses what they return.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/doyensec/safeurl"

	logx "airbot/pkg/logx"
)

const maxBody = 4 << 20

// TransportError is any failure to obtain a 2xx body from a remote.
type TransportError struct {
	URL    string
	Status int // 0 when the request never completed
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("feed: GET %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("feed: GET %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

type Config struct {
	CalendarURL string
	SearchURL   string
	Timeout     time.Duration
	UserAgent   string

	// Guard blocks private, loopback and link-local destinations.
	Guard bool
	// AllowedPorts extends the guard's port allowlist beyond the calendar and
	// search URL ports (listing URLs use non-standard ports).
	AllowedPorts []int
}

// Metrics receives one observation per fetch. kind is calendar, search or listing.
type Metrics interface {
	ObserveFetch(kind string, ok bool, took time.Duration)
}

type Client struct {
	cfg     Config
	http    *http.Client
	log     logx.Logger
	metrics Metrics
}

// SetMetrics must be called before the client is shared.
func (c *Client) SetMetrics(m Metrics) { c.metrics = m }

func New(cfg Config, log logx.Logger) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{cfg: cfg, log: log.With(logx.String("comp", "feed"))}
	if !cfg.Guard {
		c.http = &http.Client{Timeout: cfg.Timeout}
		return c, nil
	}
	ports, err := guardPorts(cfg)
	if err != nil {
		return nil, err
	}
	sc := safeurl.GetConfigBuilder().
		SetTimeout(cfg.Timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(ports...).
		Build()
	c.http = safeurl.Client(sc).Client
	c.log.Debug("ssrf guard enabled", logx.Any("ports", ports))
	return c, nil
}

// NewWithHTTPClient is for tests that need a custom transport.
func NewWithHTTPClient(cfg Config, hc *http.Client, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, http: hc, log: log}
}

func guardPorts(cfg Config) ([]int, error) {
	set := map[int]bool{80: true, 443: true}
	for _, raw := range []string{cfg.CalendarURL, cfg.SearchURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("feed: bad url %q: %w", raw, err)
		}
		if p := u.Port(); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("feed: bad port in %q", raw)
			}
			set[n] = true
		}
	}
	for _, p := range cfg.AllowedPorts {
		set[p] = true
	}
	out := make([]int, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Ints(out)
	return out, nil
}

// PortOf returns the explicit port of raw, or 0.
func PortOf(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(u.Port())
	return n
}

func (c *Client) get(ctx context.Context, kind, rawURL string) (b []byte, err error) {
	start := time.Now()
	if c.metrics != nil {
		defer func() { c.metrics.ObserveFetch(kind, err == nil, time.Since(start)) }()
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: err}
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &TransportError{URL: rawURL, Status: resp.StatusCode}
	}
	b, err = io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: err}
	}
	c.log.Debug("fetched", logx.String("url", redact(rawURL)), logx.Int("bytes", len(b)), logx.Duration("took", time.Since(start)))
	return b, nil
}

// Listing fetches a plain-text pack listing.
func (c *Client) Listing(ctx context.Context, rawURL string) (string, error) {
	b, err := c.get(ctx, "listing", rawURL)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "?")
}
