package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/commerce/internal/platform/requestctx"
	"github.com/hanko-field/commerce/internal/services"
)

const (
	maxCodeLen    = 80
	maxMessageLen = 512
	maxIDLen      = 80
)

// Shortage names one product whose stock could not cover the request.
type Shortage struct {
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// Error is the failure envelope returned by every endpoint.
type Error struct {
	Code      string
	Message   string
	Status    int
	Kind      services.ErrorKind
	Shortages []Shortage
}

type errorEnvelope struct {
	Success   bool               `json:"success"`
	Code      string             `json:"error"`
	Message   string             `json:"message"`
	Status    int                `json:"status"`
	Kind      services.ErrorKind `json:"errorKind,omitempty"`
	RequestID string             `json:"request_id,omitempty"`
	TraceID   string             `json:"trace_id,omitempty"`
	Shortages []Shortage         `json:"shortages,omitempty"`
}

// NewError builds an error envelope; a zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    singleLine(code, maxCodeLen),
		Message: singleLine(message, maxMessageLen),
		Status:  status,
	}
}

func (e Error) WithKind(kind services.ErrorKind) Error {
	e.Kind = kind
	return e
}

func (e Error) WithShortages(items []Shortage) Error {
	e.Shortages = items
	return e
}

// WriteError renders err, stamping the chi request id and accepted trace id.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, errorEnvelope{
		Code:      err.Code,
		Message:   err.Message,
		Status:    status,
		Kind:      err.Kind,
		RequestID: singleLine(middleware.GetReqID(ctx), maxIDLen),
		TraceID:   singleLine(requestctx.TraceID(ctx), maxIDLen),
		Shortages: err.Shortages,
	})
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func singleLine(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
