package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLedger() *Ledger {
	// Nil DB: only paths that reject before touching the database run here
	return NewLedger(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestReserve_RejectsNonPositiveAmount(t *testing.T) {
	l := testLedger()

	_, err := l.Reserve(context.Background(), "user-1", 0, "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be positive")

	_, err = l.Reserve(context.Background(), "user-1", -20, "job-1")
	require.Error(t, err)
}

func TestCredit_RejectsNonPositiveAmount(t *testing.T) {
	l := testLedger()

	_, err := l.Credit(context.Background(), "user-1", 0, ReasonRefund, "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be positive")
}

func TestGrant_RejectsNonPositiveAmount(t *testing.T) {
	l := testLedger()

	_, err := l.Grant(context.Background(), "user-1", -5, "promo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be positive")
}

func TestInsufficientBalanceError(t *testing.T) {
	err := &InsufficientBalanceError{Required: 20, Current: 5}

	assert.Equal(t, "insufficient balance: required 20, current 5", err.Error())

	var target *InsufficientBalanceError
	assert.True(t, errors.As(error(err), &target))
}

func TestReasonTags(t *testing.T) {
	// The reason tags are part of the ledger's durable format
	assert.Equal(t, "reserve", ReasonReserve)
	assert.Equal(t, "refund", ReasonRefund)
	assert.Equal(t, "grant", ReasonGrant)
	assert.Equal(t, "admission_rollback", ReasonAdmissionRollback)
}
