package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/forgemedia/genjobs/shared/postgresql"
)

// Ledger reason tags recorded on every entry
const (
	ReasonReserve           = "reserve"
	ReasonRefund            = "refund"
	ReasonGrant             = "grant"
	ReasonAdmissionRollback = "admission_rollback"
)

var (
	ErrAccountNotFound = errors.New("account not found")
)

// InsufficientBalanceError is returned when a reserve would push the balance
// below zero. The balance is left untouched.
type InsufficientBalanceError struct {
	Required int64
	Current  int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %d, current %d", e.Required, e.Current)
}

// Entry is an immutable ledger entry. Balances are only ever changed by
// writing one of these inside the same transaction.
type Entry struct {
	EntryID       string         `db:"entry_id"`
	OwnerID       string         `db:"owner_id"`
	Delta         int64          `db:"delta"`
	Reason        string         `db:"reason"`
	BalanceBefore int64          `db:"balance_before"`
	BalanceAfter  int64          `db:"balance_after"`
	JobID         sql.NullString `db:"job_id"`
	CreatedAt     time.Time      `db:"created_at"`
}

// Ledger provides atomic credit operations against the accounts and
// ledger_entries tables
type Ledger struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewLedger creates a new Ledger backed by PostgreSQL
func NewLedger(db *sqlx.DB, logger *slog.Logger) *Ledger {
	return &Ledger{
		db:     db,
		logger: logger,
	}
}

// Reserve atomically debits amount from the owner's balance and records a
// ledger entry linked to jobID. Fails with InsufficientBalanceError if the
// balance cannot cover the amount, leaving it untouched.
func (l *Ledger) Reserve(ctx context.Context, ownerID string, amount int64, jobID string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("reserve amount must be positive, got %d", amount)
	}

	var balanceAfter int64

	err := postgresql.WithTx(ctx, l.db, func(tx *sqlx.Tx) error {
		// Conditional debit; the WHERE clause is the no-negative-balance
		// guard and the row lock serializes concurrent reserves per account
		query := `
			UPDATE accounts
			SET balance = balance - $2,
			    updated_at = NOW()
			WHERE owner_id = $1
			  AND balance >= $2
			RETURNING balance
		`

		err := tx.QueryRowxContext(ctx, query, ownerID, amount).Scan(&balanceAfter)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				current, balErr := balanceInTx(ctx, tx, ownerID)
				if balErr != nil {
					return balErr
				}
				return &InsufficientBalanceError{Required: amount, Current: current}
			}
			return fmt.Errorf("failed to reserve credits: %w", err)
		}

		return insertEntryInTx(ctx, tx, ownerID, -amount, ReasonReserve, balanceAfter+amount, balanceAfter, jobID)
	})

	if err != nil {
		return 0, err
	}

	l.logger.Info("Credits reserved",
		slog.String("owner_id", ownerID),
		slog.Int64("amount", amount),
		slog.Int64("balance", balanceAfter),
		slog.String("job_id", jobID),
	)

	return balanceAfter, nil
}

// Credit atomically adds amount back to the owner's balance with the given
// reason. Used for admission rollback when the job row could not be
// persisted; execution-time refunds go through the settlement protocol
// instead so they stay coupled to the job's terminal transition.
func (l *Ledger) Credit(ctx context.Context, ownerID string, amount int64, reason, jobID string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	var balanceAfter int64

	err := postgresql.WithTx(ctx, l.db, func(tx *sqlx.Tx) error {
		var txErr error
		balanceAfter, txErr = CreditInTx(ctx, tx, ownerID, amount, reason, jobID)
		return txErr
	})

	if err != nil {
		return 0, err
	}

	l.logger.Info("Credits credited",
		slog.String("owner_id", ownerID),
		slog.Int64("amount", amount),
		slog.Int64("balance", balanceAfter),
		slog.String("reason", reason),
	)

	return balanceAfter, nil
}

// Grant creates the account if needed and credits amount. Operator path,
// used by creditctl. An empty reason is recorded as ReasonGrant.
func (l *Ledger) Grant(ctx context.Context, ownerID string, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	if reason == "" {
		reason = ReasonGrant
	}

	var balanceAfter int64

	err := postgresql.WithTx(ctx, l.db, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO accounts (owner_id, balance, created_at, updated_at)
			VALUES ($1, 0, NOW(), NOW())
			ON CONFLICT (owner_id) DO NOTHING
		`
		if _, err := tx.ExecContext(ctx, query, ownerID); err != nil {
			return fmt.Errorf("failed to ensure account: %w", err)
		}

		var txErr error
		balanceAfter, txErr = CreditInTx(ctx, tx, ownerID, amount, reason, "")
		return txErr
	})

	if err != nil {
		return 0, err
	}

	return balanceAfter, nil
}

// Balance returns the owner's current balance
func (l *Ledger) Balance(ctx context.Context, ownerID string) (int64, error) {
	var balance int64

	query := `SELECT balance FROM accounts WHERE owner_id = $1`

	err := l.db.GetContext(ctx, &balance, query, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}

	return balance, nil
}

// EntryFilter selects ledger entries for listing
type EntryFilter struct {
	OwnerID  string
	PageSize int
	Cursor   *EntryCursor
}

// EntryCursor is an opaque pagination position over (created_at, entry_id)
type EntryCursor struct {
	CreatedAt time.Time
	EntryID   string
}

// ListEntries returns the owner's ledger entries, newest first, fetching one
// extra row so the caller can detect whether more pages exist
func (l *Ledger) ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	query := `
		SELECT entry_id, owner_id, delta, reason, balance_before, balance_after, job_id, created_at
		FROM ledger_entries
		WHERE owner_id = $1
	`
	args := []interface{}{filter.OwnerID}
	argIdx := 2

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, entry_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.EntryID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, entry_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var entries []Entry
	if err := l.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}

	return entries, nil
}

// CreditInTx credits amount to the owner's balance inside an existing
// transaction and records the matching ledger entry. The settlement protocol
// composes this into its job-row transaction so refund and terminal status
// commit or roll back together.
func CreditInTx(ctx context.Context, tx *sqlx.Tx, ownerID string, amount int64, reason, jobID string) (int64, error) {
	query := `
		UPDATE accounts
		SET balance = balance + $2,
		    updated_at = NOW()
		WHERE owner_id = $1
		RETURNING balance
	`

	var balanceAfter int64
	err := tx.QueryRowxContext(ctx, query, ownerID, amount).Scan(&balanceAfter)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("failed to credit account: %w", err)
	}

	if err := insertEntryInTx(ctx, tx, ownerID, amount, reason, balanceAfter-amount, balanceAfter, jobID); err != nil {
		return 0, err
	}

	return balanceAfter, nil
}

// insertEntryInTx appends an immutable ledger entry
func insertEntryInTx(ctx context.Context, tx *sqlx.Tx, ownerID string, delta int64, reason string, balanceBefore, balanceAfter int64, jobID string) error {
	query := `
		INSERT INTO ledger_entries (
			entry_id, owner_id, delta, reason,
			balance_before, balance_after, job_id, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, NOW()
		)
	`

	var jobRef interface{}
	if jobID != "" {
		jobRef = jobID
	}

	if _, err := tx.ExecContext(ctx, query, uuid.New().String(), ownerID, delta, reason, balanceBefore, balanceAfter, jobRef); err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	return nil
}

// balanceInTx reads the current balance inside a transaction; a missing
// account reads as zero so reserve failures report a sensible current value
func balanceInTx(ctx context.Context, tx *sqlx.Tx, ownerID string) (int64, error) {
	var balance int64

	err := tx.GetContext(ctx, &balance, `SELECT balance FROM accounts WHERE owner_id = $1`, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}

	return balance, nil
}
