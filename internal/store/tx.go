package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrDuplicate reports an id collision on insert, detected inside the
	// same transaction as the write.
	ErrDuplicate = errors.New("duplicate id")

	// ErrTxConflict reports a transaction that could not serialize after the
	// configured number of retries. Callers may retry the whole operation.
	ErrTxConflict = errors.New("transaction conflict")

	ErrVariantNotDraft = errors.New("variant is not a draft")
	ErrVariantActive   = errors.New("variant is the active header variant")
)

// TxOptions tunes the retry loop for transactional read-modify-write. The
// retry policy is deliberately explicit rather than inherited from driver
// defaults.
type TxOptions struct {
	MaxAttempts int
	Backoff     time.Duration
}

func (o TxOptions) withDefaults() TxOptions {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 25 * time.Millisecond
	}
	return o
}

// runTx executes fn inside a transaction, retrying serialization failures
// and deadlocks before giving up with ErrTxConflict.
func (s *PostgresStore) runTx(ctx context.Context, fn func(*sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.txOpts.MaxAttempts; attempt++ {
		err = s.tryTx(ctx, fn)
		if err == nil || !retryableTxError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * s.txOpts.Backoff):
		}
	}
	return fmt.Errorf("%w: %v", ErrTxConflict, err)
}

func (s *PostgresStore) tryTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func retryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 40001 serialization_failure, 40P01 deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
