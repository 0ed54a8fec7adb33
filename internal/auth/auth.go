// Package auth issues and checks officer API tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid officer name or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrNoSecret           = errors.New("auth.jwt_secret is not configured")
	ErrEmptyPassword      = errors.New("password must not be empty")
)

const (
	issuer = "raidkeeper"

	DefaultTokenTTL = 24 * time.Hour
)

// PasswordCost is the bcrypt cost for new officer passwords
var PasswordCost = bcrypt.DefaultCost

// Claims identify the officer a token was issued to
type Claims struct {
	Officer string `json:"officer"`
	jwt.RegisteredClaims
}

// Service signs and verifies officer tokens with one HMAC key
type Service struct {
	key   []byte
	ttl   time.Duration
	clock func() time.Time
}

func NewService(secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{key: []byte(secret), ttl: ttl, clock: time.Now}
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches a stored bcrypt hash
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GenerateToken signs a token that lasts the configured token duration
func (s *Service) GenerateToken(officer string) (string, error) {
	return s.GenerateTokenTTL(officer, s.ttl)
}

// GenerateTokenTTL signs a token for officer that expires after ttl
func (s *Service) GenerateTokenTTL(officer string, ttl time.Duration) (string, error) {
	if len(s.key) == 0 {
		return "", ErrNoSecret
	}
	if officer == "" {
		return "", errors.New("officer name is required")
	}

	issued := s.clock()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Officer: officer,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   officer,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
		},
	}).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ValidateToken returns the claims of a live HS256 token issued by this
// service. Every failure is reported as ErrInvalidToken.
func (s *Service) ValidateToken(raw string) (*Claims, error) {
	if len(s.key) == 0 {
		return nil, ErrNoSecret
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil || claims.Officer == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
