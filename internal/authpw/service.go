// Package authpw provides email/password sign-in for admin accounts.
package authpw

import (
	"context"
	"errors"
	"strings"

	"sidequest/api/internal/store"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

// Service verifies admin credentials against the user store.
type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// SignIn verifies the password and returns the account. It never reveals
// whether the email or the password was wrong.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// CreateAccount hashes the password and stores a new admin account.
func (s *Service) CreateAccount(ctx context.Context, user store.User, password string) error {
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.PasswordHash = string(hash)
	return s.store.CreateUser(ctx, user)
}
