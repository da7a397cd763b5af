// Package store is the single-consumer writer: it drains entity.Record
// values from a channel, batches them into fixed-size transactions, and
// upserts them into an embedded SQLite database under well-defined
// conflict policies.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"geoingest/pkg/entity"
)

// bufferSize is the writer's FIFO buffer. When it reaches commitThreshold
// a transaction is opened, all buffered records applied, and committed.
const (
	bufferSize      = 128
	commitThreshold = 127
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS countries (
		id TEXT PRIMARY KEY,
		iso TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cities (
		id TEXT PRIMARY KEY,
		population INTEGER,
		lat REAL,
		lon REAL
	)`,
	`CREATE TABLE IF NOT EXISTS cities_countries (
		id TEXT NOT NULL,
		country TEXT NOT NULL,
		priority INTEGER NOT NULL,
		UNIQUE(id, country)
	)`,
	`CREATE TABLE IF NOT EXISTS territorial_entities (
		id TEXT PRIMARY KEY,
		is_2nd INTEGER NOT NULL,
		iso TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS territorial_entities_parents (
		id TEXT NOT NULL,
		parent TEXT NOT NULL,
		UNIQUE(id, parent)
	)`,
	`CREATE TABLE IF NOT EXISTS object_languages (
		id TEXT NOT NULL,
		lang_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		UNIQUE(id, lang_id)
	)`,
	`CREATE TABLE IF NOT EXISTS object_labels (
		id TEXT NOT NULL,
		lang TEXT NOT NULL,
		label TEXT NOT NULL,
		native_order INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS languages (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS missing_p17 (
		id TEXT PRIMARY KEY
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cities_countries_id ON cities_countries(id)`,
	`CREATE INDEX IF NOT EXISTS idx_territorial_entities_parents_id ON territorial_entities_parents(id)`,
	`CREATE INDEX IF NOT EXISTS idx_object_languages_id ON object_languages(id)`,
	`CREATE INDEX IF NOT EXISTS idx_object_labels_id ON object_labels(id)`,
}

// pragmas set "speed-oriented durability options" per spec: this store is
// rebuilt from the dump on every run, so crash-consistency of the output
// file itself is not a correctness requirement.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=OFF",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA cache_size=-64000",
}

// Store wraps the embedded database and applies the writer's DDL/pragmas
// once on Open.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the database file at path, applies pragmas, and
// idempotently creates the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	// SQLite allows exactly one writer at a time; serializing through a
	// single connection avoids SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: applying %q: %w", p, err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: applying schema statement: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle, e.g. for tests that inspect written
// rows. The post-processing phase opens its own connection to the file.
func (s *Store) DB() *sql.DB { return s.db }

// Run drains records until recs is closed, batching them into
// transactions of up to bufferSize records each (committing once the
// buffer reaches commitThreshold), and flushes any residual buffer in a
// final transaction on close. A write/commit error is fatal: the caller
// is expected to abort the process after logging.
func (s *Store) Run(ctx context.Context, recs <-chan entity.Record) error {
	buf := make([]entity.Record, 0, bufferSize)

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if err := s.applyBatch(buf); err != nil {
			return err
		}
		buf = buf[:0]
		return nil
	}

	for {
		select {
		case r, ok := <-recs:
			if !ok {
				return flush()
			}
			buf = append(buf, r)
			if len(buf) >= commitThreshold {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-ctx.Done():
			if err := flush(); err != nil {
				return err
			}
			return ctx.Err()
		}
	}
}

func (s *Store) applyBatch(batch []entity.Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: beginning transaction: %w", err)
	}

	for _, r := range batch {
		if err := applyRecord(tx, r); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: applying record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing transaction: %w", err)
	}
	slog.Debug("store: committed batch", "count", len(batch))
	return nil
}

func applyRecord(tx *sql.Tx, r entity.Record) error {
	switch v := r.(type) {
	case entity.Country:
		_, err := tx.Exec(`INSERT INTO countries (id, iso) VALUES (?, ?)`, v.Id, v.ISO)
		return err

	case entity.City:
		_, err := tx.Exec(`INSERT INTO cities (id, population, lat, lon) VALUES (?, ?, ?, ?)`,
			v.Id, nullableUint64(v.Population), nullableFloat64(v.Lat), nullableFloat64(v.Lon))
		return err

	case entity.CityCountry:
		_, err := tx.Exec(`INSERT INTO cities_countries (id, country, priority) VALUES (?, ?, ?)
			ON CONFLICT (id, country) DO NOTHING`, v.Id, v.Country, v.Priority)
		return err

	case entity.TerritorialEntity:
		_, err := tx.Exec(`INSERT INTO territorial_entities (id, is_2nd, iso) VALUES (?, ?, ?)`,
			v.Id, boolToInt(v.Is2nd), nullableString(v.ISO))
		return err

	case entity.TerritorialEntityParent:
		_, err := tx.Exec(`INSERT INTO territorial_entities_parents (id, parent) VALUES (?, ?)
			ON CONFLICT (id, parent) DO NOTHING`, v.Id, v.Parent)
		return err

	case entity.ObjectLanguage:
		_, err := tx.Exec(`INSERT INTO object_languages (id, lang_id, idx) VALUES (?, ?, ?)
			ON CONFLICT (id, lang_id) DO NOTHING`, v.Id, v.LangId, v.Index)
		return err

	case entity.ObjectLabel:
		_, err := tx.Exec(`INSERT INTO object_labels (id, lang, label, native_order) VALUES (?, ?, ?, ?)`,
			v.Id, v.Lang, v.Label, nullableUint64(v.NativeOrder))
		return err

	case entity.Language:
		_, err := tx.Exec(`INSERT INTO languages (id, code) VALUES (?, ?)`, v.Id, v.Code)
		return err

	case entity.MissingP17:
		_, err := tx.Exec(`INSERT INTO missing_p17 (id) VALUES (?)`, v.Id)
		return err

	default:
		return fmt.Errorf("store: unknown record type %T", r)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableFloat64(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullableUint64(u *uint64) any {
	if u == nil {
		return nil
	}
	return *u
}
