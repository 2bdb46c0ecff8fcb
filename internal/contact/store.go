package contact

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/quantumportal/quantumportal/internal/quantum"
)

// timeLayout sorts lexically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Submission is a stored contact message.
type Submission struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Email     string           `json:"email"`
	Message   string           `json:"message"`
	Language  quantum.Language `json:"language"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Store persists contact submissions.
type Store interface {
	Save(ctx context.Context, s Submission) error
	List(ctx context.Context, limit int) ([]Submission, error)
	Close() error
}

// SQLStore keeps submissions in a SQLite or PostgreSQL table.
type SQLStore struct {
	db       *sql.DB
	postgres bool
	closed   atomic.Bool
}

const schema = `CREATE TABLE IF NOT EXISTS contact_messages (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL,
	message    TEXT NOT NULL,
	language   TEXT NOT NULL,
	created_at TEXT NOT NULL
)`

// OpenStore opens the database for driver ("sqlite" or "postgres") and
// creates the contact_messages table if needed.
func OpenStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("contact store: dsn is required for driver %q", driver)
	}

	var db *sql.DB
	var err error
	switch driver {
	case "sqlite":
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("contact store: failed to open sqlite database: %w", err)
		}
		// SQLite allows a single writer
		db.SetMaxOpenConns(1)
	case "postgres":
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("contact store: failed to open postgres database: %w", err)
		}
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	default:
		return nil, fmt.Errorf("contact store: unsupported driver %q", driver)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("contact store: failed to connect: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("contact store: failed to create table: %w", err)
	}

	return &SQLStore{db: db, postgres: driver == "postgres"}, nil
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Save inserts a submission.
func (s *SQLStore) Save(ctx context.Context, sub Submission) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO contact_messages (id, name, email, message, language, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		sub.ID, sub.Name, sub.Email, sub.Message, string(sub.Language), sub.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save contact message: %w", err)
	}
	return nil
}

// List returns up to limit submissions, newest first. A limit <= 0 returns
// all of them.
func (s *SQLStore) List(ctx context.Context, limit int) ([]Submission, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	query := `SELECT id, name, email, message, language, created_at FROM contact_messages ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contact messages: %w", err)
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		var sub Submission
		var lang, created string
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.Email, &sub.Message, &lang, &created); err != nil {
			return nil, fmt.Errorf("failed to scan contact message: %w", err)
		}
		sub.Language = quantum.Language(lang)
		sub.CreatedAt, err = time.Parse(timeLayout, created)
		if err != nil {
			return nil, fmt.Errorf("contact message %s: bad created_at %q: %w", sub.ID, created, err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// Close closes the database. Further calls return ErrStoreClosed.
func (s *SQLStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
