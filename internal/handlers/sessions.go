package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/services"
)

// GuestSessionIssuer mints signed guest session tokens.
type GuestSessionIssuer interface {
	Issue() (auth.GuestSession, error)
}

// SessionTokenVerifier checks a guest token presented outside the identity middleware.
type SessionTokenVerifier interface {
	VerifySession(token string) (string, error)
}

// SessionHandlers issues guest sessions and folds them into accounts at login.
type SessionHandlers struct {
	issuer   GuestSessionIssuer
	verifier SessionTokenVerifier
	carts    services.CartService
}

func NewSessionHandlers(issuer GuestSessionIssuer, verifier SessionTokenVerifier, carts services.CartService) *SessionHandlers {
	return &SessionHandlers{issuer: issuer, verifier: verifier, carts: carts}
}

// Routes registers /sessions.
func (h *SessionHandlers) Routes(r chi.Router) {
	r.Post("/guest", h.issueGuest)
	r.With(auth.RequireAccount()).Post("/merge", h.merge)
}

type guestSessionResponse struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	ExpiresAt string `json:"expires_at"`
}

func (h *SessionHandlers) issueGuest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.issuer == nil {
		serviceUnavailable(ctx, w, "session")
		return
	}
	session, err := h.issuer.Issue()
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("session_issue_failed", "unable to issue session", http.StatusInternalServerError))
		return
	}
	httpx.WriteResult(w, http.StatusCreated, guestSessionResponse{
		Token:     session.Token,
		SessionID: session.SessionID,
		ExpiresAt: formatTime(session.ExpiresAt),
	})
}

type mergeResponse struct {
	Moved     int         `json:"moved"`
	Merged    int         `json:"merged"`
	Truncated int         `json:"truncated"`
	Cart      cartPayload `json:"cart"`
}

// merge expects the account bearer token plus the previous guest token in the
// session header.
func (h *SessionHandlers) merge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil || h.verifier == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	raw := strings.TrimSpace(r.Header.Get(auth.SessionHeader))
	if raw == "" {
		invalidRequest(ctx, w, auth.SessionHeader+" header is required")
		return
	}
	sessionID, err := h.verifier.VerifySession(raw)
	if err != nil {
		code := "invalid_session"
		if errors.Is(err, auth.ErrSessionExpired) {
			code = "session_expired"
		}
		httpx.WriteError(ctx, w, httpx.NewError(code, "guest session token is not valid", http.StatusBadRequest))
		return
	}

	result, err := h.carts.MergeOnLogin(ctx, services.MergeCartCommand{SessionToken: sessionID, AccountID: principal.ID})
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	view, err := h.carts.GetLines(ctx, principal)
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusOK, mergeResponse{
		Moved:     result.Moved,
		Merged:    result.Merged,
		Truncated: result.Truncated,
		Cart:      buildCartPayload(view),
	})
}
