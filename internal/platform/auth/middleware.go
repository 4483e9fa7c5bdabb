package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/platform/requestctx"
)

const (
	// SessionHeader carries the signed guest session token.
	SessionHeader = "X-Session-Token"

	defaultRoleClaim     = "role"
	defaultFallbackRole  = RoleUser
	defaultVerifyTimeout = 5 * time.Second
)

var (
	// ErrTokenExpired signals that the provided Firebase ID token has expired.
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	// ErrTokenInvalid signals that the provided Firebase ID token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
	// ErrNoCredentials signals that the request carried neither a bearer token nor a session token.
	ErrNoCredentials = errors.New("auth: no credentials")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// SessionVerifier validates guest session tokens and returns the session id.
type SessionVerifier interface {
	Verify(token string) (string, error)
}

// Resolver turns request credentials into a domain principal: a Firebase bearer token
// yields an account, a signed session token yields an anonymous session.
type Resolver struct {
	verifier TokenVerifier
	sessions SessionVerifier

	roleClaim    string
	fallbackRole string
	timeout      time.Duration
}

// Option customises Resolver behaviour.
type Option func(*Resolver)

// WithRoleClaim overrides the custom claim used for role extraction.
func WithRoleClaim(claim string) Option {
	return func(r *Resolver) {
		claim = strings.TrimSpace(claim)
		if claim != "" {
			r.roleClaim = claim
		}
	}
}

// WithFallbackRole sets the default role when no custom claim is present.
func WithFallbackRole(role string) Option {
	return func(r *Resolver) {
		role = normaliseRole(role)
		if role != "" {
			r.fallbackRole = role
		}
	}
}

// WithVerificationTimeout sets the timeout used when verifying tokens.
func WithVerificationTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewResolver constructs a Resolver. Either verifier may be nil, in which case the
// corresponding credential type is rejected.
func NewResolver(verifier TokenVerifier, sessions SessionVerifier, opts ...Option) *Resolver {
	r := &Resolver{
		verifier:     verifier,
		sessions:     sessions,
		roleClaim:    defaultRoleClaim,
		fallbackRole: defaultFallbackRole,
		timeout:      defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve extracts the principal from the request. A bearer token takes precedence
// over a session token.
func (r *Resolver) Resolve(req *http.Request) (domain.Principal, error) {
	if raw, ok := extractBearerToken(req.Header.Get("Authorization")); ok {
		return r.resolveAccount(req.Context(), raw)
	}
	if raw := strings.TrimSpace(req.Header.Get(SessionHeader)); raw != "" {
		return r.resolveSession(raw)
	}
	return domain.Principal{}, ErrNoCredentials
}

// VerifySession validates a guest session token outside the request flow (cart merge).
func (r *Resolver) VerifySession(token string) (string, error) {
	if r == nil || r.sessions == nil {
		return "", ErrSessionInvalid
	}
	return r.sessions.Verify(token)
}

func (r *Resolver) resolveAccount(ctx context.Context, raw string) (domain.Principal, error) {
	if r == nil || r.verifier == nil {
		return domain.Principal{}, ErrTokenInvalid
	}
	ctx, cancel := r.contextWithTimeout(ctx)
	if cancel != nil {
		defer cancel()
	}
	token, err := r.verifier.VerifyIDToken(ctx, raw)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
			return domain.Principal{}, ErrTokenExpired
		default:
			return domain.Principal{}, ErrTokenInvalid
		}
	}
	roles := rolesFromClaims(token.Claims, r.roleClaim)
	if len(roles) == 0 && r.fallbackRole != "" {
		roles = []string{r.fallbackRole}
	}
	return domain.AccountPrincipal(token.UID, roles...), nil
}

func (r *Resolver) resolveSession(raw string) (domain.Principal, error) {
	id, err := r.VerifySession(raw)
	if err != nil {
		return domain.Principal{}, err
	}
	return domain.SessionPrincipal(id), nil
}

// Middleware resolves credentials when present and stores the principal on the context.
// Requests without credentials pass through; invalid credentials are rejected.
func (r *Resolver) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			principal, err := r.Resolve(req)
			switch {
			case errors.Is(err, ErrNoCredentials):
				next.ServeHTTP(w, req)
				return
			case err != nil:
				respondVerificationError(w, req, err)
				return
			}

			actor := PrincipalLogKey(principal)
			ctx := WithPrincipal(req.Context(), principal)
			ctx = requestctx.WithActor(ctx, actor)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

// RequirePrincipal rejects requests that resolved to no principal.
func RequirePrincipal() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if _, ok := PrincipalFromContext(req.Context()); !ok {
				respondAuthError(w, req, http.StatusUnauthorized, "unauthenticated", "session or account credentials required")
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

// RequireAccount rejects anonymous sessions and, when roles are given, accounts
// that hold none of them.
func RequireAccount(roles ...string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(roles))
	for _, role := range roles {
		if role = normaliseRole(role); role != "" {
			allowed = append(allowed, role)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			principal, ok := PrincipalFromContext(req.Context())
			if !ok || !principal.IsAccount() {
				respondAuthError(w, req, http.StatusUnauthorized, "unauthenticated", "account sign-in required")
				return
			}
			if len(allowed) > 0 && !hasAnyRole(principal, allowed) {
				respondAuthError(w, req, http.StatusForbidden, "insufficient_role", "account does not have required role")
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

// PrincipalLogKey renders a principal for logs without exposing raw session tokens.
func PrincipalLogKey(p domain.Principal) string {
	if p.IsSession() {
		sum := sha256.Sum256([]byte(p.ID))
		return "session:" + hex.EncodeToString(sum[:8])
	}
	return string(p.Kind) + ":" + p.ID
}

func (r *Resolver) contextWithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r == nil || r.timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, r.timeout)
}

func hasAnyRole(principal domain.Principal, allowed []string) bool {
	for _, role := range allowed {
		if principal.HasRole(role) {
			return true
		}
	}
	return false
}

func rolesFromClaims(claims map[string]interface{}, key string) []string {
	raw, ok := claims[key]
	if !ok {
		return nil
	}

	var values []string
	switch v := raw.(type) {
	case string:
		values = []string{v}
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}
	case []string:
		values = v
	case map[string]interface{}:
		for role, enabled := range v {
			if b, ok := enabled.(bool); ok && b {
				values = append(values, role)
			}
		}
	}

	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		role := normaliseRole(value)
		if role == "" {
			continue
		}
		if _, exists := seen[role]; exists {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func respondAuthError(w http.ResponseWriter, req *http.Request, status int, code, message string) {
	httpx.WriteError(req.Context(), w, httpx.NewError(code, message, status))
}

func respondVerificationError(w http.ResponseWriter, req *http.Request, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		respondAuthError(w, req, http.StatusUnauthorized, "token_expired", "firebase id token expired")
	case errors.Is(err, ErrSessionExpired):
		respondAuthError(w, req, http.StatusUnauthorized, "session_expired", "session token expired")
	case errors.Is(err, ErrSessionInvalid):
		respondAuthError(w, req, http.StatusUnauthorized, "invalid_session", "session token invalid")
	default:
		respondAuthError(w, req, http.StatusUnauthorized, "invalid_token", "firebase id token invalid")
	}
}
