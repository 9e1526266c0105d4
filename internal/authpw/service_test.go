package authpw

import (
	"context"
	"errors"
	"testing"

	"sidequest/api/internal/store"
)

type mockUserStore struct {
	users map[string]store.User
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[string]store.User)}
}

func (m *mockUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	if user, ok := m.users[email]; ok {
		return user, nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) CreateUser(_ context.Context, user store.User) error {
	m.users[user.Email] = user
	return nil
}

func TestCreateAccountAndSignIn(t *testing.T) {
	mock := newMockUserStore()
	service := NewService(mock)
	ctx := context.Background()

	err := service.CreateAccount(ctx, store.User{
		ID:          "usr_1",
		Email:       "  Admin@SideQuest.local ",
		DisplayName: "Admin",
		Admin:       true,
	}, "correct-horse")
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	user, err := service.SignIn(ctx, "admin@sidequest.local", "correct-horse")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if user.ID != "usr_1" || !user.Admin {
		t.Fatalf("unexpected user: %+v", user)
	}

	// Mixed case and surrounding whitespace still resolve the account.
	if _, err := service.SignIn(ctx, " ADMIN@sidequest.LOCAL ", "correct-horse"); err != nil {
		t.Fatalf("SignIn with unnormalized email failed: %v", err)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	mock := newMockUserStore()
	service := NewService(mock)
	ctx := context.Background()

	if err := service.CreateAccount(ctx, store.User{ID: "usr_1", Email: "a@b.local"}, "correct-horse"); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if _, err := service.SignIn(ctx, "a@b.local", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("SignIn error = %v, want ErrInvalidCredentials", err)
	}
}

func TestSignInUnknownEmail(t *testing.T) {
	service := NewService(newMockUserStore())
	if _, err := service.SignIn(context.Background(), "ghost@b.local", "anything"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("SignIn error = %v, want ErrInvalidCredentials", err)
	}
}

func TestCreateAccountShortPassword(t *testing.T) {
	service := NewService(newMockUserStore())
	err := service.CreateAccount(context.Background(), store.User{ID: "usr_1", Email: "a@b.local"}, "short")
	if err == nil {
		t.Fatal("expected error for short password")
	}
}
