package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/quantwell/optioncore/backend/logging"
)

// User identifies the operator driving the (out-of-scope) REST/UI surface
// that issues commands into the execution core — kill switch, subscription
// changes, replay control. There is exactly one operator role: ADMIN.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Service authenticates the single operator account against a bcrypt hash
// and issues/validates the JWTs the REST surface checks on every request.
type Service struct {
	adminHash []byte
	jwtSecret []byte
}

// NewService builds the auth service. adminPasswordHash and jwtSecret must
// both be non-empty in production (config.Validate does not check them); a
// missing value here falls back to an insecure development default.
func NewService(adminPasswordHash string, jwtSecret string) *Service {
	hash := []byte(adminPasswordHash)
	if len(hash) == 0 {
		logging.Warn("auth: no admin password hash configured, using insecure development default")
		hash, _ = bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	}

	secret := []byte(jwtSecret)
	if len(secret) == 0 {
		logging.Warn("auth: no JWT secret configured, using insecure development default")
		secret = []byte("dev_only_secret_do_not_use_in_production")
	}

	return &Service{adminHash: hash, jwtSecret: secret}
}

// Login validates the operator's password and returns a signed JWT.
func (s *Service) Login(username, password string) (string, *User, error) {
	if username != "admin" {
		return "", nil, errors.New("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword(s.adminHash, []byte(password)); err != nil {
		logging.Warn("auth: login failed, invalid password")
		return "", nil, errors.New("invalid credentials")
	}

	user := &User{ID: "0", Username: "admin", Role: "ADMIN"}
	token, err := s.GenerateToken(user)
	if err != nil {
		logging.Error("auth: jwt generation failed", err)
		return "", nil, errors.New("system error")
	}
	return token, user, nil
}

// GenerateToken creates a JWT for user using the service's secret.
func (s *Service) GenerateToken(user *User) (string, error) {
	return GenerateJWTWithSecret(user, s.jwtSecret)
}

// ValidateToken validates a JWT using the service's secret.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(tokenString, s.jwtSecret)
}
