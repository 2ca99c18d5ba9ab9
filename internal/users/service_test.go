package users

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sadirul/whatsgate/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.Open(store.Options{DBPath: filepath.Join(t.TempDir(), "users.db")})
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	account, err := svc.Register(ctx, "Alice", "Alice@Example.com", "secret123")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if account.Email != "alice@example.com" {
		t.Fatalf("expected lowercased email, got %q", account.Email)
	}
	if len(account.APIKey) != 32 {
		t.Fatalf("expected 32-hex api key, got %q", account.APIKey)
	}
	if account.ID == "" {
		t.Fatal("expected generated id")
	}

	logged, err := svc.Authenticate(ctx, "alice@example.com", "secret123")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if logged.ID != account.ID {
		t.Fatalf("expected same account, got %q vs %q", logged.ID, account.ID)
	}

	if _, err := svc.Authenticate(ctx, "alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@example.com", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name, email, password string
	}{
		{"", "a@example.com", "secret123"},
		{"Alice", "", "secret123"},
		{"Alice", "not-an-email", "secret123"},
		{"Alice", "a@example.com", "short"},
	}
	for _, tc := range cases {
		if _, err := svc.Register(ctx, tc.name, tc.email, tc.password); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Register(%q,%q,%q): expected ErrInvalidInput, got %v", tc.name, tc.email, tc.password, err)
		}
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "Alice", "a@example.com", "secret123"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := svc.Register(ctx, "Alice Again", "A@Example.com", "secret456"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestByAPIKey(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	account, err := svc.Register(ctx, "Alice", "a@example.com", "secret123")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	resolved, err := svc.ByAPIKey(ctx, account.APIKey)
	if err != nil {
		t.Fatalf("ByAPIKey failed: %v", err)
	}
	if resolved.ID != account.ID {
		t.Fatalf("expected %q, got %q", account.ID, resolved.ID)
	}

	if _, err := svc.ByAPIKey(ctx, "bogus"); !store.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
