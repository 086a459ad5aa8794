// Package authpw provides email/password authentication.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"shopfloor/api/internal/backend"
	"shopfloor/api/internal/store"
)

const MinPasswordLength = 6

var ErrInvalidInput = errors.New("invalid input")

// Service provides email/password authentication
type Service struct {
	store UserStore
	cost  int
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
}

func NewService(users UserStore) *Service {
	return &Service{store: users, cost: bcrypt.DefaultCost}
}

// WithCost is used by tests to keep hashing fast.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

// SignUp creates a new account. Profile keys display_name, company and role
// are copied onto the user.
func (s *Service) SignUp(ctx context.Context, creds backend.Credentials, profile backend.Profile) (store.User, error) {
	email := strings.TrimSpace(creds.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return store.User{}, fmt.Errorf("%w: email address is not valid", ErrInvalidInput)
	}
	if len(creds.Password) < MinPasswordLength {
		return store.User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, backend.ErrAlreadyRegistered
	} else if !errors.Is(err, store.ErrUserNotFound) {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	displayName := strings.TrimSpace(profile["display_name"])
	if displayName == "" {
		displayName = email
	}
	user, err := s.store.CreateUser(ctx, store.User{
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Company:      profile["company"],
		Role:         profile["role"],
	})
	if errors.Is(err, store.ErrEmailTaken) {
		return store.User{}, backend.ErrAlreadyRegistered
	}
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn authenticates a user. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *Service) SignIn(ctx context.Context, creds backend.Credentials) (store.User, error) {
	if strings.TrimSpace(creds.Email) == "" || creds.Password == "" {
		return store.User{}, backend.ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, creds.Email)
	if errors.Is(err, store.ErrUserNotFound) {
		return store.User{}, backend.ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		return store.User{}, backend.ErrInvalidCredentials
	}
	return user, nil
}

func (s *Service) User(ctx context.Context, id string) (store.User, error) {
	return s.store.GetUserByID(ctx, id)
}
