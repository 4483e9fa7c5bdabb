package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/services"
)

// ReturnHandlers lists the signed-in user's return and cancellation requests.
type ReturnHandlers struct {
	returns services.ReturnService
}

func NewReturnHandlers(returns services.ReturnService) *ReturnHandlers {
	return &ReturnHandlers{returns: returns}
}

// Routes registers /returns.
func (h *ReturnHandlers) Routes(r chi.Router) {
	r.Use(auth.RequireAccount())
	r.Get("/", h.listReturns)
	r.Get("/{requestID}", h.getReturn)
}

func (h *ReturnHandlers) listReturns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		serviceUnavailable(ctx, w, "return")
		return
	}
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	params, ok := pageParams(w, r, nil)
	if !ok {
		return
	}
	page, err := h.returns.ListForUser(ctx, principal, domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken})
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusOK, buildList(page, buildReturnPayload))
}

func (h *ReturnHandlers) getReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		serviceUnavailable(ctx, w, "return")
		return
	}
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	request, err := h.returns.GetRequest(ctx, principal, strings.TrimSpace(chi.URLParam(r, "requestID")))
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusOK, buildReturnPayload(request))
}
