package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const (
	defaultTxAttempts = 3
	defaultTxTimeout  = 15 * time.Second
)

type txKey struct{}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxOption customises transaction behaviour.
type TxOption func(*Client)

// WithTxAttempts sets how often a transaction failing with a serialization error is re-run.
func WithTxAttempts(attempts int) TxOption {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
	}
}

// WithTxTimeout bounds every transaction unless the caller's deadline is sooner.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// Client runs statements either directly on the pool or on the transaction carried by ctx.
type Client struct {
	db       *sql.DB
	attempts int
	timeout  time.Duration
}

// NewClient wraps db.
func NewClient(db *sql.DB, opts ...TxOption) *Client {
	c := &Client{db: db, attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// DB exposes the underlying pool.
func (c *Client) DB() *sql.DB { return c.db }

func (c *Client) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok && tx != nil {
		return tx
	}
	return c.db
}

// RunInTx executes fn inside one transaction. Calls nested in an existing transaction join it.
func (c *Client) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return WrapError("transaction", errors.New("postgres: transaction function is nil"))
	}
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	txCtx := ctx
	if c.timeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.timeout {
			var cancel context.CancelFunc
			txCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
	}

	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		err = c.runOnce(txCtx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
	}
	return err
}

func (c *Client) runOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return WrapError("transaction.begin", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return WrapError("transaction.commit", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pgErr *Error
	return errors.As(err, &pgErr) && pgErr.Retryable()
}
