// Package auth implements the AuthService: credential verification and
// opaque session tokens. Per the Token/session state open question, tokens
// are stateless and signed (a JWT), validated locally on whichever node
// receives the request, so Validate never needs to consult the cluster.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Principal is the authenticated identity carried by a validated token.
type Principal struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type credential struct {
	passwordHash string
	role         string
}

// Service implements Authenticate/Validate against a fixed, in-memory
// credential set seeded at startup. It holds no session state of its own:
// every fact needed to validate a token is embedded in the token.
type Service struct {
	secret    []byte
	ttl       time.Duration
	issuer    string
	users     map[string]credential
	logger    *zap.Logger
}

// Option configures a Service at construction time.
type Option func(*Service)

// WithTTL overrides the default token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithIssuer overrides the default token issuer claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) { s.issuer = issuer }
}

const defaultTTL = time.Hour

// NewService builds an AuthService around secret and seeds the demo user
// set (user1, user2, admin) matching the reference deployment's fixtures.
// A production deployment would source users from an external identity
// store; the spec scopes that integration out.
func NewService(secret string, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		secret: []byte(secret),
		ttl:    defaultTTL,
		issuer: "raftbooking",
		users:  make(map[string]credential),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.seedUsers()
	return s
}

func (s *Service) seedUsers() {
	fixtures := []struct{ username, plain, role string }{
		{"user1", "password123", "user"},
		{"user2", "password123", "user"},
		{"admin", "admin123", "admin"},
	}
	for _, f := range fixtures {
		hash, err := s.HashPassword(f.plain)
		if err != nil {
			s.logger.Error("failed to seed user", zap.String("username", f.username), zap.Error(err))
			continue
		}
		s.users[f.username] = credential{passwordHash: hash, role: f.role}
	}
}

// HashPassword hashes a plaintext password with bcrypt.
func (s *Service) HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(bytes), nil
}

// Authenticate verifies username/password against the seeded credential
// set and, on success, mints a signed session token. Returns an error on
// any failure; the router translates that to apierr.AuthRejected without
// distinguishing "no such user" from "bad password".
func (s *Service) Authenticate(username, password string) (string, error) {
	cred, ok := s.users[username]
	if !ok {
		return "", errors.New("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.passwordHash), []byte(password)); err != nil {
		s.logger.Warn("authentication failed", zap.String("username", username))
		return "", errors.New("invalid credentials")
	}

	now := time.Now()
	c := &claims{
		Username: username,
		Role:     cred.role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies token, returning the embedded Principal.
// It is node-local and stateless: no lookup against any session set, so
// a token minted on one replica validates identically on every other.
func (s *Service) Validate(token string) (*Principal, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}

	return &Principal{Username: c.Username, Role: c.Role}, nil
}
