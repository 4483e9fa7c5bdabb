package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Error implements repositories.RepositoryError for postgres backed repositories.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
	retryable   bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports a missing row or a dangling foreign key.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports unique, check or serialization violations.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable reports connection level failures.
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

// Retryable reports whether the transaction may be re-run as a whole.
func (e *Error) Retryable() bool { return e != nil && e.retryable }

func newError(op string, err error) *Error {
	e := &Error{op: op, err: err}
	if errors.Is(err, sql.ErrNoRows) {
		e.notFound = true
		return e
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		e.unavailable = true
		return e
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return e
	}
	code := string(pqErr.Code)
	switch {
	case code == "23505", code == "23514":
		e.conflict = true
	case code == "23503":
		e.notFound = true
	case code == "40001", code == "40P01":
		e.conflict = true
		e.retryable = true
	case strings.HasPrefix(code, "08"), code == "57P01", code == "57P03", code == "53300":
		e.unavailable = true
	}
	return e
}

// WrapError annotates driver errors with repository semantics. Context errors pass through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr *Error
	if errors.As(err, &repoErr) {
		if op != "" && repoErr.op == "" {
			repoErr.op = op
		}
		return repoErr
	}
	return newError(op, err)
}

func notFoundError(op, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf(format, args...), notFound: true}
}

func conflictError(op, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf(format, args...), conflict: true}
}
