// Package subscription keeps which users follow which titles, persisted as
// one storage line per title and mirrored in an in-memory index.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"airbot/internal/settings"
	"airbot/internal/storage"
	logx "airbot/pkg/logx"
)

// Kind is the storage kind holding subscription records.
const Kind = "subsinfo"

var (
	ErrInvalidQuality = errors.New("quality must look like 720p")
	ErrNotSubscribed  = errors.New("not subscribed to this title")
	ErrEmptyTitle     = errors.New("title is required")
)

var qualityRe = regexp.MustCompile(`(\d+)p`)

// NormalizeQuality extracts the "<n>p" tag from raw.
func NormalizeQuality(raw string) (string, error) {
	m := qualityRe.FindString(strings.ToLower(strings.TrimSpace(raw)))
	if m == "" {
		return "", ErrInvalidQuality
	}
	return m, nil
}

type Subscription struct {
	Title        string
	SubscriberID int64
	Quality      string
}

// Registry answers whether a user has settings.
type Registry interface {
	Get(ctx context.Context, uid int64) (settings.UserSettings, error)
}

// Index is the store plus its in-memory view. Readers only touch the map;
// writers hold wmu across the store write and the map update.
type Index struct {
	st  storage.Store
	reg Registry
	log logx.Logger

	wmu sync.Mutex

	mu     sync.RWMutex
	titles map[string][]Subscription
}

func New(st storage.Store, reg Registry, log logx.Logger) *Index {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Index{st: st, reg: reg, log: log.With(logx.String("comp", "subscription")), titles: map[string][]Subscription{}}
}

// Load rebuilds the index from the store. Malformed entries are skipped.
func (x *Index) Load(ctx context.Context) error {
	lines, err := x.st.Lines(ctx)
	if err != nil {
		return fmt.Errorf("subscription load: %w", err)
	}
	titles := make(map[string][]Subscription, len(lines))
	skipped := 0
	for _, l := range lines {
		subs, bad := decode(l.Record)
		skipped += bad
		if len(subs) > 0 {
			titles[subs[0].Title] = append(titles[subs[0].Title], subs...)
		}
	}
	x.mu.Lock()
	x.titles = titles
	x.mu.Unlock()
	x.log.Info("subscriptions loaded", logx.Int("titles", len(titles)), logx.Int("skipped", skipped))
	return nil
}

// Add subscribes uid to title. An existing entry for the pair keeps its
// position and takes the new quality.
func (x *Index) Add(ctx context.Context, title string, uid int64, quality string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	q, err := NormalizeQuality(quality)
	if err != nil {
		return err
	}
	if x.reg != nil {
		if _, err := x.reg.Get(ctx, uid); err != nil {
			return err
		}
	}

	x.wmu.Lock()
	defer x.wmu.Unlock()

	subs := x.Subscribers(title)
	replaced := false
	for i := range subs {
		if subs[i].SubscriberID == uid {
			subs[i].Quality = q
			replaced = true
		}
	}
	if !replaced {
		subs = append(subs, Subscription{Title: title, SubscriberID: uid, Quality: q})
	}
	if err := x.persist(ctx, title, subs); err != nil {
		return err
	}
	x.set(title, subs)
	x.log.Debug("subscription added", logx.String("title", title), logx.Int64("uid", uid), logx.String("quality", q))
	return nil
}

func (x *Index) Remove(ctx context.Context, title string, uid int64) error {
	title = strings.TrimSpace(title)
	x.wmu.Lock()
	defer x.wmu.Unlock()
	return x.removeLocked(ctx, title, uid)
}

// RemoveAll drops every subscription of uid and returns how many were removed.
func (x *Index) RemoveAll(ctx context.Context, uid int64) (int, error) {
	x.wmu.Lock()
	defer x.wmu.Unlock()
	n := 0
	for _, s := range x.List(uid) {
		if err := x.removeLocked(ctx, s.Title, uid); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (x *Index) removeLocked(ctx context.Context, title string, uid int64) error {
	subs := x.Subscribers(title)
	kept := subs[:0]
	for _, s := range subs {
		if s.SubscriberID != uid {
			kept = append(kept, s)
		}
	}
	if len(kept) == len(subs) {
		return ErrNotSubscribed
	}
	if err := x.persist(ctx, title, kept); err != nil {
		return err
	}
	x.set(title, kept)
	return nil
}

// persist writes the line for title, deleting it when subs is empty.
func (x *Index) persist(ctx context.Context, title string, subs []Subscription) error {
	line, err := x.st.FindLineByKey(ctx, title)
	found := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("subscription lookup: %w", err)
	}
	switch {
	case len(subs) == 0 && found:
		err = x.st.DeleteLine(ctx, line.Number)
	case len(subs) == 0:
		err = nil
	case found:
		err = x.st.RewriteLine(ctx, line.Number, encode(title, subs))
	default:
		err = x.st.Append(ctx, encode(title, subs))
	}
	if err != nil {
		return fmt.Errorf("subscription persist: %w", err)
	}
	return nil
}

func (x *Index) set(title string, subs []Subscription) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(subs) == 0 {
		delete(x.titles, title)
		return
	}
	x.titles[title] = append([]Subscription(nil), subs...)
}

// Subscribers returns a copy of the entries for title in registration order.
func (x *Index) Subscribers(title string) []Subscription {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]Subscription(nil), x.titles[title]...)
}

func (x *Index) HasSubscribers(title string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.titles[title]) > 0
}

// List returns the subscriptions of uid sorted by title.
func (x *Index) List(uid int64) []Subscription {
	x.mu.RLock()
	var out []Subscription
	for _, subs := range x.titles {
		for _, s := range subs {
			if s.SubscriberID == uid {
				out = append(out, s)
			}
		}
	}
	x.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

// Titles returns the number of titles with at least one subscriber.
func (x *Index) Titles() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.titles)
}

func encode(title string, subs []Subscription) storage.Record {
	rec := make(storage.Record, 0, len(subs)+1)
	rec = append(rec, title)
	for _, s := range subs {
		rec = append(rec, strconv.FormatInt(s.SubscriberID, 10)+":"+s.Quality)
	}
	return rec
}

func decode(rec storage.Record) (subs []Subscription, bad int) {
	title := rec.Key()
	if title == "" {
		return nil, len(rec)
	}
	for _, f := range rec[1:] {
		id, q, ok := strings.Cut(strings.TrimSpace(f), ":")
		uid, err := strconv.ParseInt(id, 10, 64)
		if !ok || err != nil || q == "" {
			bad++
			continue
		}
		subs = append(subs, Subscription{Title: title, SubscriberID: uid, Quality: q})
	}
	return subs, bad
}
