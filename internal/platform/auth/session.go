package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const (
	sessionTokenPrefix = "sess_"
	defaultSessionTTL  = 30 * 24 * time.Hour
	defaultIssuer      = "commerce"
)

var (
	// ErrSessionInvalid signals that a guest session token failed signature or claim checks.
	ErrSessionInvalid = errors.New("auth: session token invalid")
	// ErrSessionExpired signals that a guest session token is past its expiry.
	ErrSessionExpired = errors.New("auth: session token expired")
)

// GuestSession is a freshly issued anonymous session.
type GuestSession struct {
	Token     string    `json:"token"`
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type sessionClaims struct {
	jwt.RegisteredClaims
}

// SessionIssuer signs and verifies guest session tokens (HS256).
// The opaque session id lives in the subject claim and becomes the cart owner key.
type SessionIssuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	clock  func() time.Time
	newID  func() string
}

// SessionOption customises SessionIssuer.
type SessionOption func(*SessionIssuer)

// WithSessionTTL overrides the session lifetime.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(s *SessionIssuer) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSessionIssuer overrides the iss claim.
func WithSessionIssuer(issuer string) SessionOption {
	return func(s *SessionIssuer) {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
	}
}

// WithSessionClock injects a clock for tests.
func WithSessionClock(clock func() time.Time) SessionOption {
	return func(s *SessionIssuer) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewSessionIssuer constructs an issuer using the shared signing key.
func NewSessionIssuer(signingKey string, opts ...SessionOption) (*SessionIssuer, error) {
	key := strings.TrimSpace(signingKey)
	if len(key) < 16 {
		return nil, errors.New("auth: session signing key must be at least 16 characters")
	}
	issuer := &SessionIssuer{
		key:    []byte(key),
		issuer: defaultIssuer,
		ttl:    defaultSessionTTL,
		clock:  time.Now,
		newID: func() string {
			return sessionTokenPrefix + uuid.NewString()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(issuer)
		}
	}
	return issuer, nil
}

// Issue mints a new guest session.
func (s *SessionIssuer) Issue() (GuestSession, error) {
	now := s.clock().UTC()
	id := s.newID()
	expires := now.Add(s.ttl)
	claims := sessionClaims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   id,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return GuestSession{}, fmt.Errorf("sign session token: %w", err)
	}
	return GuestSession{Token: signed, SessionID: id, ExpiresAt: expires}, nil
}

// Verify validates the signed token and returns the session id it carries.
func (s *SessionIssuer) Verify(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrSessionInvalid
	}
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}}
	var claims sessionClaims
	// jwt/v4 validates time claims against time.Now; check them against the injected clock instead.
	parser.SkipClaimsValidation = true
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}

	now := s.clock()
	if !claims.VerifyIssuer(s.issuer, true) {
		return "", fmt.Errorf("%w: unexpected issuer", ErrSessionInvalid)
	}
	if !claims.VerifyExpiresAt(now, true) {
		return "", ErrSessionExpired
	}
	if !claims.VerifyNotBefore(now, false) {
		return "", fmt.Errorf("%w: not yet valid", ErrSessionInvalid)
	}
	if !strings.HasPrefix(claims.Subject, sessionTokenPrefix) {
		return "", fmt.Errorf("%w: malformed subject", ErrSessionInvalid)
	}
	return claims.Subject, nil
}
