package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const maxTxRetries = 3

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Conn runs dialect-neutral queries against either the pool or an open
// transaction. All store operations take a *Conn so they compose inside
// a caller's transaction.
type Conn struct {
	q       querier
	dialect Dialect
}

// Conn returns a Conn that runs each statement on the pool.
func (db *DB) Conn() *Conn {
	return &Conn{q: db.DB, dialect: db.dialect}
}

func (c *Conn) Dialect() Dialect {
	return c.dialect
}

func (c *Conn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.dialect.Rebind(query), args...)
}

func (c *Conn) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.dialect.Rebind(query), args...)
}

func (c *Conn) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.dialect.Rebind(query), args...)
}

// RunTx executes fn inside a transaction, retrying the whole transaction
// when the database reports it is busy. fn must only use the Conn it is
// given; the pool may have a single connection.
func (db *DB) RunTx(ctx context.Context, fn func(*Conn) error) error {
	for i := range maxTxRetries {
		err := db.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsBusy(err) || i == maxTxRetries-1 {
			return err
		}
		if err := sleepCtx(ctx, time.Duration(100*(i+1))*time.Millisecond); err != nil {
			return fmt.Errorf("context cancelled during retry: %w", err)
		}
	}
	return fmt.Errorf("transaction: max retries exceeded")
}

func (db *DB) runOnce(ctx context.Context, fn func(*Conn) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&Conn{q: tx, dialect: db.dialect}); err != nil {
		_ = tx.Rollback() // Rollback error less important than fn error
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NewNullString returns a NullString that is invalid for empty input
func NewNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// NewNullTime returns a NullTime that is invalid for the zero time
func NewNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
