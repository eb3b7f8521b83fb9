// Package ledger persists the dedup store (owner → group name → group ID) and
// the append-only invite log in a single sqlite database.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

// Service wraps the ledger database.
type Service struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the ledger at dbPath using the pure-Go
// sqlite driver.
func Open(dbPath string) (*Service, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger dir: %w", err)
	}
	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	return OpenDriver("sqlite", dsn)
}

// OpenDriver opens the ledger with an explicit database/sql driver name.
func OpenDriver(driver, dsn string) (*Service, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger db: %w", err)
	}
	// Single writer for all owner loops.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Service{db: db, now: time.Now}, nil
}

func (s *Service) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
