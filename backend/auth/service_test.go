package auth

import (
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestNewService(t *testing.T) {
	service := NewService("", "test-jwt-secret-for-testing-only")

	if service == nil {
		t.Fatal("NewService() returned nil")
	}
	if service.adminHash == nil {
		t.Error("adminHash not initialized")
	}
	if err := bcrypt.CompareHashAndPassword(service.adminHash, []byte("password")); err != nil {
		t.Error("default admin hash should validate 'password'")
	}
}

func TestNewServiceWithConfiguredHash(t *testing.T) {
	hashed, _ := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.DefaultCost)
	service := NewService(string(hashed), "test-jwt-secret-for-testing-only")

	if err := bcrypt.CompareHashAndPassword(service.adminHash, []byte("correct-horse")); err != nil {
		t.Error("configured admin hash should validate its own password")
	}
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		wantErr  bool
	}{
		{"valid admin login", "admin", "password", false},
		{"wrong password", "admin", "wrongpassword", true},
		{"empty password", "admin", "", true},
		{"unknown username", "trader1", "password", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := NewService("", "test-jwt-secret-for-testing-only")
			token, user, err := service.Login(tt.username, tt.password)

			if (err != nil) != tt.wantErr {
				t.Fatalf("Login() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if token != "" || user != nil {
					t.Error("failed login should not return a token or user")
				}
				return
			}
			if user == nil {
				t.Fatal("expected a user, got nil")
			}
			if user.Role != "ADMIN" || user.ID != "0" || user.Username != "admin" {
				t.Errorf("unexpected user = %+v", user)
			}
			if token == "" {
				t.Error("expected a non-empty token")
			}
		})
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	service := NewService("", "test-jwt-secret-for-testing-only")
	user := &User{ID: "0", Username: "admin", Role: "ADMIN"}

	token, err := service.GenerateToken(user)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := service.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.UserID != user.ID || claims.Username != user.Username || claims.Role != user.Role {
		t.Errorf("claims = %+v, want to match user %+v", claims, user)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	serviceA := NewService("", "secret-a")
	serviceB := NewService("", "secret-b")

	token, err := serviceA.GenerateToken(&User{ID: "0", Username: "admin", Role: "ADMIN"})
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	if _, err := serviceB.ValidateToken(token); err == nil {
		t.Error("expected validation to fail against a different secret")
	}
}

func TestConcurrentAdminLogins(t *testing.T) {
	service := NewService("", "test-jwt-secret-for-testing-only")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := service.Login("admin", "password"); err != nil {
				t.Errorf("concurrent login failed: %v", err)
			}
		}()
	}
	wg.Wait()
}
