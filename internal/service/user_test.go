package service

import (
	"errors"
	"testing"

	"chathub/internal/config"
	"chathub/internal/models"
)

func testUserService(t *testing.T) (*UserService, *chatFixture) {
	t.Helper()
	f := &chatFixture{gdb: testDB(t)}
	cfg := config.Config{JWTSecret: "test-secret", AccessTokenTTLMinutes: 15, RefreshTokenTTLDays: 7}
	return NewUserService(f.gdb, cfg), f
}

func TestRegister_Discriminators(t *testing.T) {
	svc, _ := testUserService(t)

	first, err := svc.Register("bob", "password123")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if first.FullName != "bob#00" {
		t.Errorf("first full name = %q, want bob#00", first.FullName)
	}
	second, err := svc.Register("bob", "password123")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if second.FullName != "bob#01" {
		t.Errorf("second full name = %q, want bob#01", second.FullName)
	}
}

func TestRegister_ReusesFreedTag(t *testing.T) {
	svc, f := testUserService(t)

	for i := 0; i < 3; i++ {
		if _, err := svc.Register("bob", "password123"); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	// drop bob#01, the gap must be refilled first
	if err := f.gdb.Where("username = ? AND username_id = ?", "bob", 1).Delete(&models.User{}).Error; err != nil {
		t.Fatalf("delete user: %v", err)
	}
	result, err := svc.Register("bob", "password123")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if result.FullName != "bob#01" {
		t.Errorf("refilled full name = %q, want bob#01", result.FullName)
	}
}

func TestRegister_NamespaceFull(t *testing.T) {
	svc, f := testUserService(t)

	users := make([]models.User, 0, 100)
	for i := 0; i < 100; i++ {
		users = append(users, models.User{Username: "bob", UsernameID: i, PasswordHash: "x"})
	}
	if err := f.gdb.Create(&users).Error; err != nil {
		t.Fatalf("seed users: %v", err)
	}
	if _, err := svc.Register("bob", "password123"); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("Register(full namespace) error = %v, want ErrUsernameTaken", err)
	}
}

func TestLoginAndResolve(t *testing.T) {
	svc, _ := testUserService(t)

	if _, err := svc.Register("bob", "hunter22"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := svc.Register("bob", "hunter33"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tests := []struct {
		name     string
		identity string
		password string
		wantErr  error
	}{
		{"full identity", "bob#01", "hunter33", nil},
		{"bare name picks lowest tag", "bob", "hunter22", nil},
		{"wrong password", "bob#00", "hunter33", ErrInvalidCredentials},
		{"unknown identity", "carol#00", "hunter22", ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := svc.Login(tt.identity, tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Login() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && (result.AccessToken == "" || result.RefreshToken == "") {
				t.Error("Login() returned empty tokens")
			}
		})
	}
}

func TestRefreshTokens_Rotation(t *testing.T) {
	svc, _ := testUserService(t)

	if _, err := svc.Register("bob", "hunter22"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	login, err := svc.Login("bob#00", "hunter22")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	rotated, err := svc.RefreshTokens(login.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshTokens() error = %v", err)
	}
	if rotated.RefreshToken == login.RefreshToken {
		t.Error("refresh token not rotated")
	}
	// the old token is revoked on rotation
	if _, err := svc.RefreshTokens(login.RefreshToken); err == nil {
		t.Error("RefreshTokens() accepted a revoked token")
	}
}
