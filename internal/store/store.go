package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/araddon/dateparse"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/elonfeng/domainhunter/migrations"
)

// ErrNotFound is returned when a domain has no stored record.
var ErrNotFound = errors.New("domain not found")

const timeLayout = time.DateTime

// DomainRecord is the persisted outcome of checking one domain.
type DomainRecord struct {
	Domain       string    `json:"domain"`
	FirstSeenURL string    `json:"first_seen_url"`
	FirstSeenAt  string    `json:"first_seen_at"`
	Available    bool      `json:"available"`
	CheckedAt    time.Time `json:"checked_at"`
	Notified     bool      `json:"notified"`
}

type domainRow struct {
	Domain       string         `db:"domain"`
	FirstSeenURL sql.NullString `db:"first_seen_url"`
	FirstSeenAt  sql.NullString `db:"first_seen_at"`
	Available    sql.NullBool   `db:"available"`
	CheckedAt    sql.NullString `db:"checked_at"`
	Notified     sql.NullBool   `db:"notified"`
}

// record converts a row. Adopted databases may hold checked_at in other
// common layouts; an unreadable value is an error.
func (r domainRow) record() (*DomainRecord, error) {
	rec := &DomainRecord{
		Domain:       r.Domain,
		FirstSeenURL: r.FirstSeenURL.String,
		FirstSeenAt:  r.FirstSeenAt.String,
		Available:    r.Available.Bool,
		Notified:     r.Notified.Bool,
	}
	if !r.CheckedAt.Valid || r.CheckedAt.String == "" {
		return rec, nil
	}
	checkedAt, err := time.Parse(timeLayout, r.CheckedAt.String)
	if err != nil {
		checkedAt, err = dateparse.ParseIn(r.CheckedAt.String, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse checked_at %q: %w", r.CheckedAt.String, err)
		}
	}
	rec.CheckedAt = checkedAt.UTC()
	return rec, nil
}

// Store is the persistence interface.
type Store interface {
	Seen(ctx context.Context, domain string) (bool, error)
	Record(ctx context.Context, domain, sourceURL, foundAt string, available bool) error
	MarkNotified(ctx context.Context, domain string) error
	Get(ctx context.Context, domain string) (*DomainRecord, error)
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations. An existing file with
// a compatible domains table is adopted as-is.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := migrations.Run(db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Seen reports whether a record for domain exists.
func (s *SQLiteStore) Seen(ctx context.Context, domain string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(1) FROM domains WHERE domain = ?", domain)
	if err != nil {
		return false, fmt.Errorf("seen %s: %w", domain, err)
	}
	return n > 0, nil
}

// Record writes the check outcome for domain, replacing any previous record.
// Replacing resets the notified flag.
func (s *SQLiteStore) Record(ctx context.Context, domain, sourceURL, foundAt string, available bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO domains (domain, first_seen_url, first_seen_at, available, checked_at, notified)
		VALUES (?, ?, ?, ?, ?, 0)
	`, domain, sourceURL, foundAt, available, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("record %s: %w", domain, err)
	}
	return nil
}

// MarkNotified flags an existing record as notified. It never creates a row.
func (s *SQLiteStore) MarkNotified(ctx context.Context, domain string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE domains SET notified = 1 WHERE domain = ?", domain)
	if err != nil {
		return fmt.Errorf("mark notified %s: %w", domain, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notified %s: %w", domain, err)
	}
	if n == 0 {
		return fmt.Errorf("mark notified %s: %w", domain, ErrNotFound)
	}
	return nil
}

// Get returns the stored record for domain, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, domain string) (*DomainRecord, error) {
	var row domainRow
	err := s.db.GetContext(ctx, &row, `
		SELECT domain, first_seen_url, first_seen_at, available, checked_at, notified
		FROM domains WHERE domain = ?
	`, domain)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", domain, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", domain, err)
	}
	rec, err := row.record()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", domain, err)
	}
	return rec, nil
}
