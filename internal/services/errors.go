package services

import (
	"errors"
)

// ErrorKind is the caller-facing taxonomy of expected business failures.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "NotFound"
	KindInvalidArgument   ErrorKind = "InvalidArgument"
	KindInsufficientStock ErrorKind = "InsufficientStock"
	KindExpired           ErrorKind = "Expired"
	KindUsageLimitReached ErrorKind = "UsageLimitReached"
	KindMinimumNotMet     ErrorKind = "MinimumNotMet"
	KindEmptyCart         ErrorKind = "EmptyCart"
	KindInvalidTransition ErrorKind = "InvalidTransition"
	KindUnauthorized      ErrorKind = "Unauthorized"
	KindConflict          ErrorKind = "Conflict"
	// KindInternal covers unexpected faults such as storage outages.
	KindInternal ErrorKind = "Internal"
)

var (
	ErrCartInvalidInput      = errors.New("cart: invalid input")
	ErrCartNotFound          = errors.New("cart: line not found")
	ErrCartProductNotFound   = errors.New("cart: product not found")
	ErrCartInsufficientStock = errors.New("cart: insufficient stock")
	ErrCartUnauthorized      = errors.New("cart: principal required")
	ErrCartConflict          = errors.New("cart: conflict")

	ErrCouponInvalidInput      = errors.New("coupon: invalid input")
	ErrCouponNotFound          = errors.New("coupon: not found")
	ErrCouponExpired           = errors.New("coupon: expired")
	ErrCouponUsageLimitReached = errors.New("coupon: usage limit reached")
	ErrCouponMinimumNotMet     = errors.New("coupon: minimum purchase not met")

	ErrOrderInvalidInput      = errors.New("order: invalid input")
	ErrOrderNotFound          = errors.New("order: not found")
	ErrOrderEmptyCart         = errors.New("order: cart is empty")
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
	ErrOrderInvalidState      = errors.New("order: invalid status transition")
	ErrOrderUnauthorized      = errors.New("order: account required")
	ErrOrderConflict          = errors.New("order: conflict")

	ErrReturnInvalidInput = errors.New("return: invalid input")
	ErrReturnNotFound     = errors.New("return: not found")
	ErrReturnInvalidState = errors.New("return: invalid status transition")
	ErrReturnUnauthorized = errors.New("return: not permitted")
	ErrReturnConflict     = errors.New("return: conflict")

	ErrAuditInvalidInput = errors.New("audit: invalid input")
)

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrCartInvalidInput, KindInvalidArgument},
	{ErrCartNotFound, KindNotFound},
	{ErrCartProductNotFound, KindNotFound},
	{ErrCartInsufficientStock, KindInsufficientStock},
	{ErrCartUnauthorized, KindUnauthorized},
	{ErrCartConflict, KindConflict},

	{ErrCouponInvalidInput, KindInvalidArgument},
	{ErrCouponNotFound, KindNotFound},
	{ErrCouponExpired, KindExpired},
	{ErrCouponUsageLimitReached, KindUsageLimitReached},
	{ErrCouponMinimumNotMet, KindMinimumNotMet},

	{ErrOrderInvalidInput, KindInvalidArgument},
	{ErrOrderNotFound, KindNotFound},
	{ErrOrderEmptyCart, KindEmptyCart},
	{ErrOrderInsufficientStock, KindInsufficientStock},
	{ErrOrderInvalidState, KindInvalidTransition},
	{ErrOrderUnauthorized, KindUnauthorized},
	{ErrOrderConflict, KindConflict},

	{ErrReturnInvalidInput, KindInvalidArgument},
	{ErrReturnNotFound, KindNotFound},
	{ErrReturnInvalidState, KindInvalidTransition},
	{ErrReturnUnauthorized, KindUnauthorized},
	{ErrReturnConflict, KindConflict},
	{ErrAuditInvalidInput, KindInvalidArgument},
}

// KindOf classifies err. Errors outside the taxonomy are Internal; nil has no kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, entry := range errorKinds {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindInternal
}

// Result is the discriminated outcome of a public operation.
type Result[T any] struct {
	Success   bool      `json:"success"`
	Data      T         `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"errorKind,omitempty"`
}

// ResultOf folds a (value, error) pair into a Result. Internal faults carry a generic message.
func ResultOf[T any](data T, err error) Result[T] {
	if err == nil {
		return Result[T]{Success: true, Data: data}
	}
	kind := KindOf(err)
	msg := err.Error()
	if kind == KindInternal {
		msg = "internal error"
	}
	return Result[T]{Success: false, Error: msg, ErrorKind: kind}
}
