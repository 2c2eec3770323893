// Package settings persists per-user preferences: the XDCC source and the
// display timezone.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"airbot/internal/storage"
	logx "airbot/pkg/logx"
)

// Kind is the storage kind holding settings records.
const Kind = "userinfo"

var (
	ErrNotRegistered = errors.New("user is not registered")
	ErrUnknownSource = errors.New("unknown source")
	ErrBadTimezone   = errors.New("invalid timezone")
)

// UserSettings is persisted as userID,sourceID,timezone.
type UserSettings struct {
	UserID   int64
	SourceID int
	Timezone string
}

// Location resolves Timezone, falling back to UTC.
func (u UserSettings) Location() *time.Location {
	if loc, err := time.LoadLocation(u.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

type Store struct {
	st      storage.Store
	catalog *Catalog
	log     logx.Logger

	// mu makes find+rewrite atomic for a writer.
	mu sync.Mutex
}

func New(st storage.Store, catalog *Catalog, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{st: st, catalog: catalog, log: log.With(logx.String("comp", "settings"))}
}

func (s *Store) Catalog() *Catalog { return s.catalog }

func (s *Store) Get(ctx context.Context, uid int64) (UserSettings, error) {
	line, err := s.st.FindLineByKey(ctx, strconv.FormatInt(uid, 10))
	if errors.Is(err, storage.ErrNotFound) {
		return UserSettings{}, ErrNotRegistered
	}
	if err != nil {
		return UserSettings{}, fmt.Errorf("settings get: %w", err)
	}
	return decode(line.Record)
}

// Validate checks the source id against the catalog and loads the timezone.
func (s *Store) Validate(u UserSettings) error {
	if _, ok := s.catalog.Get(u.SourceID); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSource, u.SourceID)
	}
	tz := strings.TrimSpace(u.Timezone)
	if tz == "" {
		return fmt.Errorf("%w: empty", ErrBadTimezone)
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("%w: %q", ErrBadTimezone, tz)
	}
	return nil
}

// Save inserts or replaces the settings for u.UserID.
func (s *Store) Save(ctx context.Context, u UserSettings) error {
	u.Timezone = strings.TrimSpace(u.Timezone)
	if err := s.Validate(u); err != nil {
		return err
	}
	rec := encode(u)

	s.mu.Lock()
	defer s.mu.Unlock()
	line, err := s.st.FindLineByKey(ctx, rec.Key())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		err = s.st.Append(ctx, rec)
	case err == nil:
		err = s.st.RewriteLine(ctx, line.Number, rec)
	}
	if err != nil {
		return fmt.Errorf("settings save: %w", err)
	}
	s.log.Debug("settings saved", logx.Int64("uid", u.UserID), logx.Int("source", u.SourceID))
	return nil
}

func (s *Store) Delete(ctx context.Context, uid int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, err := s.st.FindLineByKey(ctx, strconv.FormatInt(uid, 10))
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotRegistered
	}
	if err != nil {
		return fmt.Errorf("settings delete: %w", err)
	}
	if err := s.st.DeleteLine(ctx, line.Number); err != nil {
		return fmt.Errorf("settings delete: %w", err)
	}
	return nil
}

// Count returns the number of registered users.
func (s *Store) Count(ctx context.Context) (int, error) {
	lines, err := s.st.Lines(ctx)
	return len(lines), err
}

func encode(u UserSettings) storage.Record {
	return storage.Record{strconv.FormatInt(u.UserID, 10), strconv.Itoa(u.SourceID), u.Timezone}
}

func decode(rec storage.Record) (UserSettings, error) {
	if len(rec) != 3 {
		return UserSettings{}, fmt.Errorf("settings: malformed record with %d fields", len(rec))
	}
	uid, err := strconv.ParseInt(rec[0], 10, 64)
	if err != nil {
		return UserSettings{}, fmt.Errorf("settings: bad user id %q", rec[0])
	}
	src, err := strconv.Atoi(rec[1])
	if err != nil {
		return UserSettings{}, fmt.Errorf("settings: bad source id %q", rec[1])
	}
	return UserSettings{UserID: uid, SourceID: src, Timezone: strings.TrimSpace(rec[2])}, nil
}
