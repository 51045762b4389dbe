package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestTxFromContext_Nil(t *testing.T) {
	tx := TxFromContext(context.Background())
	if tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	tx := TxFromContext(ctx)
	if tx != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestWithinTx_NoConnection(t *testing.T) {
	tr := NewTransactor(nil)
	called := false
	err := tr.WithinTx(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("expected error when no pool configured")
	}
	if called {
		t.Error("fn must not run without a transaction")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "invoice_test_request_id_key"}
	wrapped := fmt.Errorf("insert invoice: %w", pgErr)

	if !IsUniqueViolation(wrapped, "invoice_test_request_id_key") {
		t.Error("expected match on named constraint")
	}
	if !IsUniqueViolation(wrapped, "") {
		t.Error("expected match on any constraint")
	}
	if IsUniqueViolation(wrapped, "invoice_invoice_no_key") {
		t.Error("expected no match on other constraint")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}, "") {
		t.Error("foreign key violation is not a unique violation")
	}
	if IsUniqueViolation(errors.New("boom"), "") {
		t.Error("plain error is not a unique violation")
	}
}

func TestIsNoRows(t *testing.T) {
	if !IsNoRows(fmt.Errorf("get sample: %w", pgx.ErrNoRows)) {
		t.Error("expected wrapped ErrNoRows to match")
	}
	if IsNoRows(errors.New("other")) {
		t.Error("unexpected match")
	}
}

type countingTransactor struct{ calls int }

func (c *countingTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	c.calls++
	return fn(ctx)
}

func TestRetryTx(t *testing.T) {
	errTaken := errors.New("taken")
	errOther := errors.New("other")

	t.Run("retries until success", func(t *testing.T) {
		tr := &countingTransactor{}
		n := 0
		err := RetryTx(context.Background(), tr, 3, func(ctx context.Context) error {
			n++
			if n < 3 {
				return fmt.Errorf("insert: %w", errTaken)
			}
			return nil
		}, errTaken)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tr.calls != 3 {
			t.Errorf("expected 3 attempts, got %d", tr.calls)
		}
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		tr := &countingTransactor{}
		err := RetryTx(context.Background(), tr, 3, func(ctx context.Context) error { return errTaken }, errTaken)
		if !errors.Is(err, errTaken) {
			t.Fatalf("expected errTaken, got %v", err)
		}
		if tr.calls != 3 {
			t.Errorf("expected 3 attempts, got %d", tr.calls)
		}
	})

	t.Run("other errors are returned at once", func(t *testing.T) {
		tr := &countingTransactor{}
		err := RetryTx(context.Background(), tr, 3, func(ctx context.Context) error { return errOther }, errTaken)
		if !errors.Is(err, errOther) {
			t.Fatalf("expected errOther, got %v", err)
		}
		if tr.calls != 1 {
			t.Errorf("expected 1 attempt, got %d", tr.calls)
		}
	})
}
