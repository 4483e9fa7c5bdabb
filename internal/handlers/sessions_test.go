package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/services"
)

type stubVerifier map[string]string

func (s stubVerifier) VerifySession(token string) (string, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	if token == "expired" {
		return "", auth.ErrSessionExpired
	}
	return "", auth.ErrSessionInvalid
}

func TestSessionHandlersIssueGuest(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	issuer, err := auth.NewSessionIssuer("0123456789abcdef0123",
		auth.WithSessionTTL(time.Hour),
		auth.WithSessionClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewSessionIssuer: %v", err)
	}
	handler := mountRoutes(NewSessionHandlers(issuer, nil, nil).Routes)

	rr, env := serve(t, handler, nil, http.MethodPost, "/guest", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rr.Code, rr.Body.String())
	}
	session := decodeData[guestSessionResponse](t, env)
	if !strings.HasPrefix(session.SessionID, "sess_") || session.ExpiresAt != "2025-05-01T13:00:00Z" {
		t.Fatalf("unexpected session %+v", session)
	}
	if id, err := issuer.Verify(session.Token); err != nil || id != session.SessionID {
		t.Fatalf("issued token does not verify: %q %v", id, err)
	}
}

func TestSessionHandlersMergeFoldsGuestCart(t *testing.T) {
	var captured services.MergeCartCommand
	carts := &stubCartService{
		mergeFn: func(_ context.Context, cmd services.MergeCartCommand) (services.MergeCartResult, error) {
			captured = cmd
			return services.MergeCartResult{Moved: 1, Merged: 2, Truncated: 1}, nil
		},
		getFn: func(context.Context, services.Principal) (services.CartView, error) {
			return services.CartView{Subtotal: 900, Currency: "JPY", ItemCount: 3}, nil
		},
	}
	handler := mountRoutes(NewSessionHandlers(nil, stubVerifier{"guest-token": "sess_abc"}, carts).Routes)

	req := httptest.NewRequest(http.MethodPost, "/merge", nil)
	req.Header.Set(auth.SessionHeader, "guest-token")
	req = req.WithContext(auth.WithPrincipal(req.Context(), shopper))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	if captured.SessionToken != "sess_abc" || captured.AccountID != "user-1" {
		t.Fatalf("unexpected merge command %+v", captured)
	}
	if !strings.Contains(rr.Body.String(), `"truncated":1`) || !strings.Contains(rr.Body.String(), `"item_count":3`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestSessionHandlersMergeValidation(t *testing.T) {
	handler := mountRoutes(NewSessionHandlers(nil, stubVerifier{}, &stubCartService{}).Routes)

	cases := []struct {
		name      string
		principal *services.Principal
		token     string
		status    int
		code      string
	}{
		{name: "guest principal", principal: &guest, token: "x", status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "missing header", principal: &shopper, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "expired token", principal: &shopper, token: "expired", status: http.StatusBadRequest, code: "session_expired"},
		{name: "forged token", principal: &shopper, token: "forged", status: http.StatusBadRequest, code: "invalid_session"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/merge", nil)
			if tc.token != "" {
				req.Header.Set(auth.SessionHeader, tc.token)
			}
			req = req.WithContext(auth.WithPrincipal(req.Context(), *tc.principal))
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tc.status || !strings.Contains(rr.Body.String(), `"error":"`+tc.code+`"`) {
				t.Fatalf("expected %d %s, got %d %s", tc.status, tc.code, rr.Code, rr.Body.String())
			}
		})
	}
}
