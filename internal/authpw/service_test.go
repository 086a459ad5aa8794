package authpw

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"shopfloor/api/internal/backend"
	"shopfloor/api/internal/store"
)

type mockUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		emailIndex: make(map[string]string),
	}
}

func (m *mockUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	if id, ok := m.emailIndex[strings.ToLower(email)]; ok {
		return m.users[id], nil
	}
	return store.User{}, store.ErrUserNotFound
}

func (m *mockUserStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, store.ErrUserNotFound
}

func (m *mockUserStore) CreateUser(_ context.Context, user store.User) (store.User, error) {
	if _, ok := m.emailIndex[strings.ToLower(user.Email)]; ok {
		return store.User{}, store.ErrEmailTaken
	}
	user.ID = uuid.NewString()
	m.users[user.ID] = user
	m.emailIndex[strings.ToLower(user.Email)] = user.ID
	return user, nil
}

func newTestService() (*Service, *mockUserStore) {
	users := newMockUserStore()
	return NewService(users).WithCost(bcrypt.MinCost), users
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestService()

	t.Run("successful sign up", func(t *testing.T) {
		user, err := svc.SignUp(ctx, backend.Credentials{Email: "test@example.com", Password: "password123"},
			backend.Profile{"display_name": "Test User", "company": "ACME"})
		if err != nil {
			t.Fatalf("SignUp failed: %v", err)
		}
		if user.ID == "" || user.DisplayName != "Test User" || user.Company != "ACME" {
			t.Fatalf("unexpected user %+v", user)
		}
		if users.users[user.ID].PasswordHash == "password123" {
			t.Fatal("password must be hashed")
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := svc.SignUp(ctx, backend.Credentials{Email: "TEST@example.com", Password: "password123"}, nil)
		if !errors.Is(err, backend.ErrAlreadyRegistered) {
			t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
		}
	})

	tests := []struct {
		name  string
		creds backend.Credentials
	}{
		{"invalid email", backend.Credentials{Email: "not-an-email", Password: "password123"}},
		{"short password", backend.Credentials{Email: "short@example.com", Password: "abc"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.SignUp(ctx, tc.creds, nil); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestSignUpDefaultsDisplayNameToEmail(t *testing.T) {
	svc, _ := newTestService()
	user, err := svc.SignUp(context.Background(), backend.Credentials{Email: "demo@mes-system.com", Password: "demo123456"}, backend.Profile{"role": "demo"})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if user.DisplayName != "demo@mes-system.com" || user.Role != "demo" {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	created, err := svc.SignUp(ctx, backend.Credentials{Email: "anna@factory.de", Password: "secret123"}, nil)
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	tests := []struct {
		name    string
		creds   backend.Credentials
		wantErr error
	}{
		{"correct password", backend.Credentials{Email: "anna@factory.de", Password: "secret123"}, nil},
		{"wrong password", backend.Credentials{Email: "anna@factory.de", Password: "wrong"}, backend.ErrInvalidCredentials},
		{"unknown email", backend.Credentials{Email: "nobody@factory.de", Password: "secret123"}, backend.ErrInvalidCredentials},
		{"empty", backend.Credentials{}, backend.ErrInvalidCredentials},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			user, err := svc.SignIn(ctx, tc.creds)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SignIn failed: %v", err)
			}
			if user.ID != created.ID {
				t.Fatalf("expected user %s, got %s", created.ID, user.ID)
			}
		})
	}
}
