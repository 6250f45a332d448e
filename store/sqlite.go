package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLStore keeps programs in a SQLite database.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens or creates the database at dsn. ":memory:" works for
// throwaway stores.
func NewSQLStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// an in-memory database only lives as long as its connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		code BLOB NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Put(p *Program) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("put: program needs an id")
	}
	code := p.Code
	if code == nil {
		code = []byte{}
	}
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO programs (id, name, code, created_at) VALUES (?, ?, ?, ?)",
		p.ID, p.Name, code, p.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("saving program: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(id string) (*Program, error) {
	row := s.db.QueryRow("SELECT id, name, code, created_at FROM programs WHERE id = ?", id)
	p, err := scanProgram(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying program: %w", err)
	}
	return p, nil
}

func (s *SQLStore) List() ([]*Program, error) {
	rows, err := s.db.Query("SELECT id, name, code, created_at FROM programs ORDER BY created_at DESC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}
	defer rows.Close()

	var out []*Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, fmt.Errorf("listing programs: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProgram(sc scanner) (*Program, error) {
	var (
		p       Program
		created int64
	)
	if err := sc.Scan(&p.ID, &p.Name, &p.Code, &created); err != nil {
		return nil, err
	}
	p.CreatedAt = time.Unix(0, created).UTC()
	p.Digest = DigestOf(p.Code)
	return &p, nil
}
