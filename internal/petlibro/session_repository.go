package petlibro

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteSessionStore implements SessionStore using the vendor_sessions table.
type SQLiteSessionStore struct {
	db *sql.DB
}

// NewSQLiteSessionStore creates a new SQLite-backed session store.
func NewSQLiteSessionStore(db *sql.DB) *SQLiteSessionStore {
	return &SQLiteSessionStore{db: db}
}

// Load returns the stored session for email, or ErrSessionNotFound.
func (r *SQLiteSessionStore) Load(ctx context.Context, email string) (Session, error) {
	var s Session
	var expiresAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT email, access_token, refresh_token, expires_at
		 FROM vendor_sessions WHERE email = ?`, email,
	).Scan(&s.Email, &s.AccessToken, &s.RefreshToken, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("querying session: %w", err)
	}

	s.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil {
		return Session{}, fmt.Errorf("parsing session expiry: %w", err)
	}
	return s, nil
}

// Save upserts the session keyed by its email.
func (r *SQLiteSessionStore) Save(ctx context.Context, s Session) error {
	if s.Email == "" {
		return fmt.Errorf("%w: session has no email", ErrState)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO vendor_sessions (email, access_token, refresh_token, expires_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(email) DO UPDATE SET
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		s.Email, s.AccessToken, s.RefreshToken,
		s.ExpiresAt.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Delete removes the stored session for email. Deleting a missing session
// is not an error.
func (r *SQLiteSessionStore) Delete(ctx context.Context, email string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM vendor_sessions WHERE email = ?`, email); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}
