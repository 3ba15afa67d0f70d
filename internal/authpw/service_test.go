package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"stackd/api/internal/store"
)

type mockAdminStore struct {
	byEmail map[string]store.AdminUser
	err     error
}

func newMockAdminStore() *mockAdminStore {
	return &mockAdminStore{byEmail: make(map[string]store.AdminUser)}
}

func (m *mockAdminStore) GetAdminByEmail(_ context.Context, email string) (store.AdminUser, error) {
	if m.err != nil {
		return store.AdminUser{}, m.err
	}
	user, ok := m.byEmail[email]
	if !ok {
		return store.AdminUser{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *mockAdminStore) UpsertAdmin(_ context.Context, user store.AdminUser) error {
	if existing, ok := m.byEmail[user.Email]; ok {
		existing.PasswordHash = user.PasswordHash
		existing.Role = user.Role
		m.byEmail[user.Email] = existing
		return nil
	}
	m.byEmail[user.Email] = user
	return nil
}

func newTestService(s AdminStore) *Service {
	svc := NewService(s)
	svc.cost = bcrypt.MinCost
	return svc
}

func TestEnsureAdminThenSignIn(t *testing.T) {
	s := newMockAdminStore()
	svc := newTestService(s)
	ctx := context.Background()

	admin, err := svc.EnsureAdmin(ctx, " Owner@Example.com ", "correct-horse")
	if err != nil {
		t.Fatalf("EnsureAdmin failed: %v", err)
	}
	if admin.Email != "owner@example.com" || admin.Role != "admin" || admin.DisplayName != "owner" {
		t.Fatalf("unexpected admin: %+v", admin)
	}

	user, err := svc.SignIn(ctx, "owner@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if user.ID != admin.ID {
		t.Fatalf("expected %s, got %s", admin.ID, user.ID)
	}
}

func TestEnsureAdminKeepsIDOnRerun(t *testing.T) {
	s := newMockAdminStore()
	svc := newTestService(s)
	ctx := context.Background()

	first, err := svc.EnsureAdmin(ctx, "owner@example.com", "password-one")
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.EnsureAdmin(ctx, "owner@example.com", "password-two")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected stable id, got %s then %s", first.ID, second.ID)
	}
	if _, err := svc.SignIn(ctx, "owner@example.com", "password-one"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password should fail, got %v", err)
	}
	if _, err := svc.SignIn(ctx, "owner@example.com", "password-two"); err != nil {
		t.Fatalf("new password should work: %v", err)
	}
}

func TestEnsureAdminValidation(t *testing.T) {
	svc := newTestService(newMockAdminStore())
	if _, err := svc.EnsureAdmin(context.Background(), "", "password"); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	if _, err := svc.EnsureAdmin(context.Background(), "a@b.c", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestSignInFailures(t *testing.T) {
	s := newMockAdminStore()
	svc := newTestService(s)
	ctx := context.Background()
	if _, err := svc.EnsureAdmin(ctx, "owner@example.com", "correct-horse"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"missing email", "", "x", ErrMissingCredentials},
		{"missing password", "owner@example.com", "", ErrMissingCredentials},
		{"unknown email", "nobody@example.com", "correct-horse", ErrInvalidCredentials},
		{"wrong password", "owner@example.com", "wrong-horse", ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.SignIn(ctx, tt.email, tt.password); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSignInStoreError(t *testing.T) {
	s := newMockAdminStore()
	s.err = errors.New("connection reset")
	_, err := newTestService(s).SignIn(context.Background(), "a@b.c", "password")
	if err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("store errors must surface, got %v", err)
	}
}
