package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// User is one persisted account record.
type User struct {
	ID                string
	Name              string
	Email             string
	PasswordHash      string
	APIKey            string
	WhatsAppConnected bool
	CreatedAt         time.Time
}

// CreateUser inserts a new account. Duplicate emails and API keys surface
// as sqlite constraint errors; callers map them to their own taxonomy.
func (s *Store) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, api_key, whatsapp_connected)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Name, user.Email, user.PasswordHash, user.APIKey, boolToInt(user.WhatsAppConnected),
	)
	if err != nil {
		return fmt.Errorf("store: create user: %w", err)
	}
	return nil
}

// UserByID fetches a user by primary key.
func (s *Store) UserByID(ctx context.Context, id string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		userSelect+` WHERE id = ?`, id), id)
}

// UserByEmail fetches a user by email (stored lowercase).
func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return s.scanUser(s.db.QueryRowContext(ctx,
		userSelect+` WHERE email = ?`, email), email)
}

// UserByAPIKey fetches the user owning the given API key.
func (s *Store) UserByAPIKey(ctx context.Context, apiKey string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		userSelect+` WHERE api_key = ?`, apiKey), "")
}

// APIKeyExists reports whether any user already holds the given key.
func (s *Store) APIKeyExists(ctx context.Context, apiKey string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM users WHERE api_key = ?`, apiKey).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: check api key: %w", err)
	}
	return true, nil
}

// SetWhatsAppConnected persists the user's connected flag.
func (s *Store) SetWhatsAppConnected(ctx context.Context, userID string, connected bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET whatsapp_connected = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		boolToInt(connected), userID,
	)
	if err != nil {
		return fmt.Errorf("store: update connected flag: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update connected flag: %w", err)
	}
	if affected == 0 {
		return NotFoundError{Entity: "user", Key: userID}
	}
	return nil
}

const userSelect = `SELECT id, name, email, password_hash, api_key, whatsapp_connected, created_at FROM users`

func (s *Store) scanUser(row *sql.Row, key string) (User, error) {
	var (
		user      User
		connected int
		createdAt string
	)
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.APIKey, &connected, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, NotFoundError{Entity: "user", Key: key}
	}
	if err != nil {
		return User{}, fmt.Errorf("store: scan user: %w", err)
	}
	user.WhatsAppConnected = connected != 0
	if ts, parseErr := time.Parse("2006-01-02 15:04:05", createdAt); parseErr == nil {
		user.CreatedAt = ts.UTC()
	}
	return user, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
