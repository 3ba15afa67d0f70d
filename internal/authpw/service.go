// Package authpw provides email/password authentication for CMS admins.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"stackd/api/internal/store"
	"stackd/api/internal/util"
)

var (
	ErrMissingCredentials = errors.New("email and password are required")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

const minPasswordLength = 8

// AdminStore defines the storage interface for admin sign-in.
type AdminStore interface {
	GetAdminByEmail(ctx context.Context, email string) (store.AdminUser, error)
	UpsertAdmin(ctx context.Context, user store.AdminUser) error
}

type Service struct {
	store AdminStore
	cost  int
}

func NewService(store AdminStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

// SignIn returns the admin whose password matches. Unknown emails and wrong
// passwords are indistinguishable to the caller.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.AdminUser, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return store.AdminUser{}, ErrMissingCredentials
	}

	user, err := s.store.GetAdminByEmail(ctx, email)
	if err != nil {
		if store.IsNotFound(err) {
			return store.AdminUser{}, ErrInvalidCredentials
		}
		return store.AdminUser{}, fmt.Errorf("lookup admin: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.AdminUser{}, ErrInvalidCredentials
	}
	return user, nil
}

// EnsureAdmin creates the bootstrap admin, or resets its password when the
// account already exists.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (store.AdminUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return store.AdminUser{}, ErrMissingCredentials
	}
	if len(password) < minPasswordLength {
		return store.AdminUser{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return store.AdminUser{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.AdminUser{
		ID:           util.NewID("adm"),
		Email:        email,
		DisplayName:  displayNameFromEmail(email),
		PasswordHash: string(hash),
		Role:         "admin",
	}
	if err := s.store.UpsertAdmin(ctx, user); err != nil {
		return store.AdminUser{}, err
	}
	return s.store.GetAdminByEmail(ctx, email)
}

func displayNameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if local == "" {
		return email
	}
	return local
}
