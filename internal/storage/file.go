package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	logx "airbot/pkg/logx"
)

var kindRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// fileBackend keeps one <kind>.csv per record kind under a directory.
//
// Every operation takes the in-process mutex and then an advisory lock on
// <kind>.csv.lock, so concurrent writers (including a second process) never
// compute line numbers against a file that is being rewritten.
type fileBackend struct {
	dir string
	log logx.Logger

	mu     sync.Mutex
	stores map[string]*fileStore
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Backend, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileBackend{dir: dir, log: log, stores: map[string]*fileStore{}}, nil
}

func (b *fileBackend) Driver() string { return "file" }

func (b *fileBackend) Store(kind string) (Store, error) {
	if !kindRe.MatchString(kind) {
		return nil, fmt.Errorf("invalid record kind %q", kind)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if s := b.stores[kind]; s != nil {
		return s, nil
	}
	path := filepath.Join(b.dir, kind+".csv")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	_ = f.Close()
	s := &fileStore{path: path, lock: flock.New(path + ".lock"), log: b.log.With(logx.String("kind", kind))}
	b.stores[kind] = s
	return s, nil
}

func (b *fileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	var errs []error
	for _, s := range b.stores {
		errs = append(errs, s.close())
	}
	return errors.Join(errs...)
}

type fileStore struct {
	path string
	lock *flock.Flock
	log  logx.Logger

	mu     sync.Mutex
	closed bool
}

// with runs fn holding both locks.
func (s *fileStore) with(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", s.lock.Path(), err)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.log.Warn("file unlock failed", logx.Err(err))
		}
	}()
	return fn()
}

func (s *fileStore) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.lock.Close()
}

func (s *fileStore) Append(ctx context.Context, rec Record) error {
	if err := validRecord(rec); err != nil {
		return err
	}
	return s.with(ctx, func() error {
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}
		w := csv.NewWriter(f)
		if err := w.Write(rec); err != nil {
			_ = f.Close()
			return err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	})
}

func (s *fileStore) FindLineByKey(ctx context.Context, key string) (Line, error) {
	var out Line
	err := s.with(ctx, func() error {
		recs, err := s.read()
		if err != nil {
			return err
		}
		out, err = findLine(recs, key)
		return err
	})
	return out, err
}

func (s *fileStore) DeleteLine(ctx context.Context, n int) error {
	return s.with(ctx, func() error {
		recs, err := s.read()
		if err != nil {
			return err
		}
		recs, err = deleteLine(recs, n)
		if err != nil {
			return err
		}
		return s.replace(recs)
	})
}

func (s *fileStore) RewriteLine(ctx context.Context, n int, rec Record) error {
	if err := validRecord(rec); err != nil {
		return err
	}
	return s.with(ctx, func() error {
		recs, err := s.read()
		if err != nil {
			return err
		}
		recs, err = deleteLine(recs, n)
		if err != nil {
			return err
		}
		return s.replace(append(recs, rec))
	})
}

func (s *fileStore) Lines(ctx context.Context) ([]Line, error) {
	var out []Line
	err := s.with(ctx, func() error {
		recs, err := s.read()
		if err != nil {
			return err
		}
		out = toLines(recs)
		return nil
	})
	return out, err
}

func (s *fileStore) read() ([]Record, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	r := csv.NewReader(bytes.NewReader(b))
	r.FieldsPerRecord = -1
	var out []Record
	for {
		fields, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(s.path), err)
		}
		out = append(out, Record(fields))
	}
}

// replace writes recs to a temp file, fsyncs it and renames it over the store.
func (s *fileStore) replace(recs []Record) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	for _, r := range recs {
		if err := w.Write(r); err != nil {
			_ = tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
