package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: record not found")
	ErrClosed   = errors.New("storage: closed")
	ErrEmptyKey = errors.New("storage: record key is empty")
)

// Config selects a backend.
//
// Driver values:
//   - "file": one CSV file per kind under Path (default)
//   - "sqlite": a single database file at Path/airbot.db
//   - "none": in-memory, nothing survives a restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only
}

// Record is one line of fields. Record[0] is the key.
type Record []string

func (r Record) Key() string {
	if len(r) == 0 {
		return ""
	}
	return r[0]
}

type Line struct {
	Number int
	Record Record
}

// Store holds the records of one kind.
type Store interface {
	Append(ctx context.Context, rec Record) error
	// FindLineByKey returns the first line whose key equals key, or ErrNotFound.
	FindLineByKey(ctx context.Context, key string) (Line, error)
	DeleteLine(ctx context.Context, n int) error
	RewriteLine(ctx context.Context, n int, rec Record) error
	Lines(ctx context.Context) ([]Line, error)
}

// Backend hands out per-kind stores that share one driver.
type Backend interface {
	Store(kind string) (Store, error)
	Driver() string
	Close() error
}

func validRecord(rec Record) error {
	if rec.Key() == "" {
		return ErrEmptyKey
	}
	return nil
}
