package users

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sadirul/whatsgate/internal/store"
)

const (
	minPasswordLength = 6
	apiKeyBytes       = 16 // 32 hex characters
	bcryptCost        = 10
)

var (
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials indicates a failed login attempt.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidInput indicates malformed registration input.
	ErrInvalidInput = errors.New("invalid input")
)

// Account is the public view of a user, safe to return to callers.
type Account struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	APIKey            string    `json:"api_key"`
	WhatsAppConnected bool      `json:"whatsapp_connected"`
	CreatedAt         time.Time `json:"created_at"`
}

// Service implements registration and authentication over the user store.
type Service struct {
	store *store.Store
}

// New creates a user service.
func New(st *store.Store) *Service {
	return &Service{store: st}
}

// Register creates a new account with a bcrypt password hash and a unique
// API key.
func (s *Service) Register(ctx context.Context, name, email, password string) (Account, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))

	if name == "" || email == "" {
		return Account{}, fmt.Errorf("%w: name and email are required", ErrInvalidInput)
	}
	if !strings.Contains(email, "@") {
		return Account{}, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	if len(password) < minPasswordLength {
		return Account{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	if _, err := s.store.UserByEmail(ctx, email); err == nil {
		return Account{}, ErrEmailTaken
	} else if !store.IsNotFound(err) {
		return Account{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return Account{}, fmt.Errorf("users: hash password: %w", err)
	}

	apiKey, err := s.uniqueAPIKey(ctx)
	if err != nil {
		return Account{}, err
	}

	user := store.User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		APIKey:       apiKey,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return Account{}, err
	}

	return toAccount(user), nil
}

// Authenticate verifies email/password and returns the account on success.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Account, error) {
	user, err := s.store.UserByEmail(ctx, email)
	if store.IsNotFound(err) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return Account{}, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return Account{}, ErrInvalidCredentials
	}

	return toAccount(user), nil
}

// ByAPIKey resolves the account owning an API key.
func (s *Service) ByAPIKey(ctx context.Context, apiKey string) (Account, error) {
	user, err := s.store.UserByAPIKey(ctx, apiKey)
	if err != nil {
		return Account{}, err
	}
	return toAccount(user), nil
}

// ByID resolves an account by user id.
func (s *Service) ByID(ctx context.Context, id string) (Account, error) {
	user, err := s.store.UserByID(ctx, id)
	if err != nil {
		return Account{}, err
	}
	return toAccount(user), nil
}

// uniqueAPIKey generates a random key and re-rolls on the unlikely collision.
func (s *Service) uniqueAPIKey(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		buf := make([]byte, apiKeyBytes)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("users: generate api key: %w", err)
		}
		key := hex.EncodeToString(buf)

		exists, err := s.store.APIKeyExists(ctx, key)
		if err != nil {
			return "", err
		}
		if !exists {
			return key, nil
		}
	}
	return "", fmt.Errorf("users: could not generate a unique api key")
}

func toAccount(user store.User) Account {
	return Account{
		ID:                user.ID,
		Name:              user.Name,
		Email:             user.Email,
		APIKey:            user.APIKey,
		WhatsAppConnected: user.WhatsAppConnected,
		CreatedAt:         user.CreatedAt,
	}
}
