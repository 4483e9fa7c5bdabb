package repositories

import (
	"fmt"
	"strings"
)

// StockError reports a failed conditional stock decrement.
type StockError struct {
	Op        string
	ProductID string
	Requested int
	Available int
	Err       error
}

// NewStockError constructs a stock error for the product. Available is -1 when unknown.
func NewStockError(productID string, requested, available int) *StockError {
	return &StockError{ProductID: productID, Requested: requested, Available: available}
}

func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("insufficient stock for product %s: requested %d", e.ProductID, e.Requested)
	if e.Available >= 0 {
		msg = fmt.Sprintf("%s, available %d", msg, e.Available)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StockShortage collects per-product stock failures found during a checkout pre-check.
type StockShortage struct {
	Items []*StockError
}

func (e *StockShortage) Error() string {
	if e == nil || len(e.Items) == 0 {
		return "insufficient stock"
	}
	ids := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		ids = append(ids, item.ProductID)
	}
	return "insufficient stock for products: " + strings.Join(ids, ", ")
}

// ProductIDs lists the offending products in check order.
func (e *StockShortage) ProductIDs() []string {
	if e == nil {
		return nil
	}
	ids := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

// CouponUsageError reports a guarded usage increment that found the limit exhausted.
type CouponUsageError struct {
	Op       string
	CouponID string
	Err      error
}

// NewCouponUsageError constructs a usage-limit error for the coupon.
func NewCouponUsageError(couponID string) *CouponUsageError {
	return &CouponUsageError{CouponID: couponID}
}

func (e *CouponUsageError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("coupon %s usage limit reached", e.CouponID)
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *CouponUsageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
