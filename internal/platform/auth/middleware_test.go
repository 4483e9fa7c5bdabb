package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/hanko-field/commerce/internal/domain"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func newTestIssuer(t *testing.T, now time.Time) *SessionIssuer {
	t.Helper()
	issuer, err := NewSessionIssuer("0123456789abcdef0123", WithSessionClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewSessionIssuer: %v", err)
	}
	return issuer
}

func serve(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestResolverMiddlewareResolvesAccount(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID:    "acct-1",
		Claims: map[string]interface{}{"role": []interface{}{"Staff", "staff", "admin"}},
	}}
	resolver := NewResolver(verifier, nil)

	var got domain.Principal
	handler := resolver.Middleware()(RequireAccount(RoleStaff)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest(http.MethodGet, "/admin/returns", nil)
	req.Header.Set("Authorization", "Bearer id-token")
	rec := serve(handler, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if verifier.received != "id-token" {
		t.Fatalf("expected token forwarded, got %q", verifier.received)
	}
	if !got.IsAccount() || got.ID != "acct-1" || len(got.Roles) != 2 {
		t.Fatalf("unexpected principal %+v", got)
	}
}

func TestResolverMiddlewareResolvesSession(t *testing.T) {
	issuer := newTestIssuer(t, time.Now())
	session, err := issuer.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	resolver := NewResolver(nil, issuer)

	var got domain.Principal
	handler := resolver.Middleware()(RequirePrincipal()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFromContext(r.Context())
	})))

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set(SessionHeader, session.Token)
	rec := serve(handler, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !got.IsSession() || got.ID != session.SessionID {
		t.Fatalf("unexpected principal %+v", got)
	}
}

func TestRequireAccountRejectsSessionsAndMissingRoles(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	sessionReq := httptest.NewRequest(http.MethodPost, "/checkout/orders", nil)
	sessionReq = sessionReq.WithContext(WithPrincipal(sessionReq.Context(), domain.SessionPrincipal("sess_1")))
	if rec := serve(RequireAccount()(ok), sessionReq); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for session, got %d", rec.Code)
	}

	userReq := httptest.NewRequest(http.MethodPost, "/admin/orders/1:cancel", nil)
	userReq = userReq.WithContext(WithPrincipal(userReq.Context(), domain.AccountPrincipal("acct-1", RoleUser)))
	rec := serve(RequireAccount(RoleStaff, RoleAdmin)(ok), userReq)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing role, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "insufficient_role" || body["success"] != false {
		t.Fatalf("unexpected body %v", body)
	}

	anonymous := httptest.NewRequest(http.MethodGet, "/cart", nil)
	if rec := serve(RequirePrincipal()(ok), anonymous); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without principal, got %d", rec.Code)
	}
}

func TestResolverMiddlewareRejectsInvalidCredentials(t *testing.T) {
	verifier := &stubTokenVerifier{err: ErrTokenExpired}
	issuer := newTestIssuer(t, time.Now())
	resolver := NewResolver(verifier, issuer)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set("Authorization", "Bearer expired")
	rec := serve(resolver.Middleware()(next), req)
	if rec.Code != http.StatusUnauthorized || !jsonHasCode(t, rec, "token_expired") {
		t.Fatalf("expected token_expired, got %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set(SessionHeader, "not-a-jwt")
	rec = serve(resolver.Middleware()(next), req)
	if rec.Code != http.StatusUnauthorized || !jsonHasCode(t, rec, "invalid_session") {
		t.Fatalf("expected invalid_session, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestResolverMiddlewarePassesAnonymousThrough(t *testing.T) {
	called := false
	handler := NewResolver(nil, nil).Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := PrincipalFromContext(r.Context()); ok {
			t.Fatalf("expected no principal")
		}
	}))
	serve(handler, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if !called {
		t.Fatalf("expected handler to run")
	}
}

func TestPrincipalLogKeyHashesSessions(t *testing.T) {
	key := PrincipalLogKey(domain.SessionPrincipal("sess_secret"))
	if key == "session:sess_secret" || len(key) != len("session:")+16 {
		t.Fatalf("expected hashed session key, got %q", key)
	}
	if got := PrincipalLogKey(domain.AccountPrincipal("acct-1")); got != "account:acct-1" {
		t.Fatalf("unexpected account key %q", got)
	}
}

func TestRolesFromClaimsShapes(t *testing.T) {
	cases := map[string]interface{}{
		"string": "Admin",
		"list":   []string{"admin", " ADMIN "},
		"map":    map[string]interface{}{"admin": true, "staff": false},
	}
	for name, raw := range cases {
		roles := rolesFromClaims(map[string]interface{}{"role": raw}, "role")
		if len(roles) != 1 || roles[0] != RoleAdmin {
			t.Fatalf("%s: unexpected roles %v", name, roles)
		}
	}
	if roles := rolesFromClaims(map[string]interface{}{}, "role"); roles != nil {
		t.Fatalf("expected nil roles, got %v", roles)
	}
}

func jsonHasCode(t *testing.T, rec *httptest.ResponseRecorder, code string) bool {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body["error"] == code
}
