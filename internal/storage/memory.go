package storage

import (
	"context"
	"sync"
)

type memBackend struct {
	mu     sync.Mutex
	stores map[string]*memStore
}

// NewMemory returns a backend that keeps everything in process memory.
func NewMemory() Backend {
	return &memBackend{stores: map[string]*memStore{}}
}

func (b *memBackend) Driver() string { return "none" }
func (b *memBackend) Close() error   { return nil }

func (b *memBackend) Store(kind string) (Store, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stores[kind]
	if s == nil {
		s = &memStore{}
		b.stores[kind] = s
	}
	return s, nil
}

type memStore struct {
	mu   sync.Mutex
	recs []Record
}

func (s *memStore) Append(_ context.Context, rec Record) error {
	if err := validRecord(rec); err != nil {
		return err
	}
	s.mu.Lock()
	s.recs = append(s.recs, append(Record(nil), rec...))
	s.mu.Unlock()
	return nil
}

func (s *memStore) FindLineByKey(_ context.Context, key string) (Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findLine(s.recs, key)
}

func (s *memStore) DeleteLine(_ context.Context, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := deleteLine(s.recs, n)
	if err != nil {
		return err
	}
	s.recs = recs
	return nil
}

func (s *memStore) RewriteLine(_ context.Context, n int, rec Record) error {
	if err := validRecord(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := deleteLine(s.recs, n)
	if err != nil {
		return err
	}
	s.recs = append(recs, append(Record(nil), rec...))
	return nil
}

func (s *memStore) Lines(_ context.Context) ([]Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return toLines(s.recs), nil
}

func findLine(recs []Record, key string) (Line, error) {
	for i, r := range recs {
		if r.Key() == key {
			return Line{Number: i + 1, Record: append(Record(nil), r...)}, nil
		}
	}
	return Line{}, ErrNotFound
}

func deleteLine(recs []Record, n int) ([]Record, error) {
	if n < 1 || n > len(recs) {
		return recs, ErrNotFound
	}
	out := make([]Record, 0, len(recs)-1)
	out = append(out, recs[:n-1]...)
	return append(out, recs[n:]...), nil
}

func toLines(recs []Record) []Line {
	out := make([]Line, len(recs))
	for i, r := range recs {
		out[i] = Line{Number: i + 1, Record: append(Record(nil), r...)}
	}
	return out
}
