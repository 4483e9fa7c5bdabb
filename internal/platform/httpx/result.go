package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/hanko-field/commerce/internal/repositories"
	"github.com/hanko-field/commerce/internal/services"
)

var kindStatus = map[services.ErrorKind]int{
	services.KindNotFound:          http.StatusNotFound,
	services.KindInvalidArgument:   http.StatusBadRequest,
	services.KindInsufficientStock: http.StatusUnprocessableEntity,
	services.KindExpired:           http.StatusUnprocessableEntity,
	services.KindUsageLimitReached: http.StatusUnprocessableEntity,
	services.KindMinimumNotMet:     http.StatusUnprocessableEntity,
	services.KindEmptyCart:         http.StatusUnprocessableEntity,
	services.KindInvalidTransition: http.StatusConflict,
	services.KindUnauthorized:      http.StatusForbidden,
	services.KindConflict:          http.StatusConflict,
	services.KindInternal:          http.StatusInternalServerError,
}

// StatusForKind maps a domain error kind onto an HTTP status code.
func StatusForKind(kind services.ErrorKind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteServiceError renders a service failure with its error kind. Internal faults
// keep their detail out of the response.
func WriteServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := services.KindOf(err)
	status := StatusForKind(kind)
	message := "internal error"
	if kind != services.KindInternal {
		message = err.Error()
	}
	WriteError(ctx, w, NewError(codeForKind(kind), message, status).WithKind(kind).WithShortages(shortagesOf(err)))
}

func shortagesOf(err error) []Shortage {
	var shortage *repositories.StockShortage
	var single *repositories.StockError
	switch {
	case errors.As(err, &shortage):
		items := make([]Shortage, 0, len(shortage.Items))
		for _, item := range shortage.Items {
			items = append(items, shortageOf(item))
		}
		return items
	case errors.As(err, &single):
		return []Shortage{shortageOf(single)}
	default:
		return nil
	}
}

func shortageOf(e *repositories.StockError) Shortage {
	return Shortage{ProductID: e.ProductID, Requested: e.Requested, Available: e.Available}
}

// WriteResult renders a successful `{success, data}` envelope.
func WriteResult[T any](w http.ResponseWriter, status int, data T) {
	if status == 0 {
		status = http.StatusOK
	}
	WriteJSON(w, status, services.ResultOf(data, nil))
}

func codeForKind(kind services.ErrorKind) string {
	var b strings.Builder
	for i, r := range string(kind) {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
