package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	logx "airbot/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	kind    TEXT    NOT NULL,
	line_no INTEGER NOT NULL,
	key     TEXT    NOT NULL,
	fields  TEXT    NOT NULL,
	PRIMARY KEY (kind, line_no)
);
CREATE INDEX IF NOT EXISTS records_kind_key ON records(kind, key);
`

// sqliteBackend keeps all kinds in one records table. line_no is kept dense
// (1..n) per kind so line numbers match the file driver.
type sqliteBackend struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Backend, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	path := dir
	if !strings.HasSuffix(path, ".db") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "airbot.db")
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps line renumbering serialized.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteBackend{db: db, log: log}, nil
}

func (b *sqliteBackend) Driver() string { return "sqlite" }
func (b *sqliteBackend) Close() error   { return b.db.Close() }

func (b *sqliteBackend) Store(kind string) (Store, error) {
	if !kindRe.MatchString(kind) {
		return nil, fmt.Errorf("invalid record kind %q", kind)
	}
	return &sqliteStore{db: b.db, kind: kind}, nil
}

type sqliteStore struct {
	db   *sql.DB
	kind string
}

func encodeFields(rec Record) (string, error) {
	b, err := json.Marshal([]string(rec))
	return string(b), err
}

func decodeFields(s string) (Record, error) {
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return Record(out), nil
}

func (s *sqliteStore) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) appendTx(ctx context.Context, tx *sql.Tx, rec Record) error {
	fields, err := encodeFields(rec)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO records(kind, line_no, key, fields)
		 VALUES(?, (SELECT COALESCE(MAX(line_no), 0) + 1 FROM records WHERE kind = ?), ?, ?)`,
		s.kind, s.kind, rec.Key(), fields)
	return err
}

func (s *sqliteStore) deleteTx(ctx context.Context, tx *sql.Tx, n int) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM records WHERE kind = ? AND line_no = ?`, s.kind, n)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	// Shift in two steps so the primary key never collides mid-update.
	if _, err := tx.ExecContext(ctx, `UPDATE records SET line_no = -(line_no - 1) WHERE kind = ? AND line_no > ?`, s.kind, n); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE records SET line_no = -line_no WHERE kind = ? AND line_no < 0`, s.kind)
	return err
}

func (s *sqliteStore) Append(ctx context.Context, rec Record) error {
	if err := validRecord(rec); err != nil {
		return err
	}
	return s.tx(ctx, func(tx *sql.Tx) error { return s.appendTx(ctx, tx, rec) })
}

func (s *sqliteStore) FindLineByKey(ctx context.Context, key string) (Line, error) {
	var (
		n      int
		fields string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT line_no, fields FROM records WHERE kind = ? AND key = ? ORDER BY line_no LIMIT 1`,
		s.kind, key).Scan(&n, &fields)
	if errors.Is(err, sql.ErrNoRows) {
		return Line{}, ErrNotFound
	}
	if err != nil {
		return Line{}, err
	}
	rec, err := decodeFields(fields)
	if err != nil {
		return Line{}, err
	}
	return Line{Number: n, Record: rec}, nil
}

func (s *sqliteStore) DeleteLine(ctx context.Context, n int) error {
	return s.tx(ctx, func(tx *sql.Tx) error { return s.deleteTx(ctx, tx, n) })
}

func (s *sqliteStore) RewriteLine(ctx context.Context, n int, rec Record) error {
	if err := validRecord(rec); err != nil {
		return err
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		if err := s.deleteTx(ctx, tx, n); err != nil {
			return err
		}
		return s.appendTx(ctx, tx, rec)
	})
}

func (s *sqliteStore) Lines(ctx context.Context) ([]Line, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT line_no, fields FROM records WHERE kind = ? ORDER BY line_no`, s.kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		var (
			n      int
			fields string
		)
		if err := rows.Scan(&n, &fields); err != nil {
			return nil, err
		}
		rec, err := decodeFields(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, Line{Number: n, Record: rec})
	}
	return out, rows.Err()
}
