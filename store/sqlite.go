package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Timestamps are stored as unix seconds to keep scanning driver-agnostic.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL,
    credits INTEGER NOT NULL DEFAULT 0,
    slug TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS linked_emails (
    user_id TEXT NOT NULL,
    email TEXT NOT NULL,
    UNIQUE(user_id, email)
);

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tokens (
    id TEXT PRIMARY KEY,
    value TEXT NOT NULL UNIQUE,
    user_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pricing (
    service TEXT PRIMARY KEY,
    price INTEGER NOT NULL,
    active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS usage (
    id TEXT PRIMARY KEY,
    identifier TEXT NOT NULL,
    user_id TEXT NOT NULL,
    service TEXT NOT NULL,
    method TEXT NOT NULL,
    credits INTEGER NOT NULL,
    success INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_user_created ON usage(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_user_service ON usage(user_id, service, success, created_at);
`

// SQLite implements Store on a SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return NewSQLite(db)
}

// NewSQLite wraps an existing connection and applies the schema.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// DB exposes the underlying handle for lifecycle management.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Session(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.user_id, s.expires_at, u.credits
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.id = ?`, id)
	var session Session
	var expiresAt int64
	if err := row.Scan(&session.ID, &session.UserID, &expiresAt, &session.Credits); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	session.ExpiresAt = time.Unix(expiresAt, 0)
	return &session, nil
}

func (s *SQLite) TokenByValue(ctx context.Context, value string) (*Token, error) {
	return s.token(ctx, `SELECT id, value, user_id FROM tokens WHERE value = ?`, value)
}

func (s *SQLite) TokenByID(ctx context.Context, id string) (*Token, error) {
	return s.token(ctx, `SELECT id, value, user_id FROM tokens WHERE id = ?`, id)
}

func (s *SQLite) token(ctx context.Context, query, arg string) (*Token, error) {
	var token Token
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&token.ID, &token.Value, &token.UserID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &token, nil
}

func (s *SQLite) DeleteToken(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) User(ctx context.Context, id string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, credits, slug FROM users WHERE id = ?`, id).
		Scan(&user.ID, &user.Email, &user.Credits, &user.Slug)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *SQLite) LinkedEmails(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT email FROM linked_emails WHERE user_id = ? ORDER BY email`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

func (s *SQLite) Credits(ctx context.Context, userID string) (int64, error) {
	var credits int64
	err := s.db.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = ?`, userID).Scan(&credits)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return credits, nil
}

func (s *SQLite) Pricing(ctx context.Context, service string) (*Pricing, error) {
	var pricing Pricing
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT service, price, active FROM pricing WHERE service = ?`, service).
		Scan(&pricing.Service, &pricing.Price, &active)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	pricing.Active = active != 0
	return &pricing, nil
}

func (s *SQLite) SetPricing(ctx context.Context, pricing *Pricing) error {
	active := 0
	if pricing.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pricing(service, price, active) VALUES(?, ?, ?)
		ON CONFLICT(service) DO UPDATE SET price = excluded.price, active = excluded.active`,
		pricing.Service, pricing.Price, active)
	return err
}

// ChargeCredits is the guarded conditional decrement: a single UPDATE whose
// WHERE clause re-checks the balance, so interleaved charges against the same
// user can never drive the balance negative.
func (s *SQLite) ChargeCredits(ctx context.Context, userID string, amount int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET credits = credits - ? WHERE id = ? AND credits >= ?`,
		amount, userID, amount)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLite) AppendUsage(ctx context.Context, usage *Usage) error {
	success := 0
	if usage.Success {
		success = 1
	}
	createdAt := usage.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage(id, identifier, user_id, service, method, credits, success, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		usage.ID, usage.Identifier, usage.UserID, usage.Service, usage.Method,
		usage.Credits, success, createdAt.Unix())
	return err
}

func (s *SQLite) ListUsage(ctx context.Context, userID string, limit int) ([]*Usage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identifier, user_id, service, method, credits, success, created_at
		FROM usage WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []*Usage
	for rows.Next() {
		var usage Usage
		var success int
		var createdAt int64
		if err := rows.Scan(&usage.ID, &usage.Identifier, &usage.UserID, &usage.Service,
			&usage.Method, &usage.Credits, &success, &createdAt); err != nil {
			return nil, err
		}
		usage.Success = success != 0
		usage.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, &usage)
	}
	return records, rows.Err()
}

func (s *SQLite) LastSuccessfulUse(ctx context.Context, userID, service string) (*time.Time, error) {
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at FROM usage
		WHERE user_id = ? AND service = ? AND success = 1
		ORDER BY created_at DESC LIMIT 1`, userID, service).Scan(&createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	when := time.Unix(createdAt, 0)
	return &when, nil
}

// UpsertUser, AddLinkedEmail, InsertSession and InsertToken are provisioning
// helpers used by the seeding command and tests; the gateway request path
// never writes account rows.

func (s *SQLite) UpsertUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users(id, email, credits, slug) VALUES(?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET email = excluded.email, credits = excluded.credits, slug = excluded.slug`,
		user.ID, user.Email, user.Credits, user.Slug)
	return err
}

func (s *SQLite) AddLinkedEmail(ctx context.Context, userID, email string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO linked_emails(user_id, email) VALUES(?, ?)`, userID, email)
	return err
}

func (s *SQLite) InsertSession(ctx context.Context, session *Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, user_id, expires_at) VALUES(?, ?, ?)`,
		session.ID, session.UserID, session.ExpiresAt.Unix())
	return err
}

func (s *SQLite) InsertToken(ctx context.Context, token *Token) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens(id, value, user_id) VALUES(?, ?, ?)`,
		token.ID, token.Value, token.UserID)
	return err
}
