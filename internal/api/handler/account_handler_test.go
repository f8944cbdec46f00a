package handler

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgemedia/genjobs/internal/billing"
)

func TestGetBalance(t *testing.T) {
	t.Run("returns current balance", func(t *testing.T) {
		ledger := &fakeLedgerReader{balance: 80}
		h := newTestHandler(&fakeAdmitter{}, &fakeStatusStore{}, ledger)

		w := performRequest(h, http.MethodGet, "/api/v1/account", nil, true)

		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "user-1", resp["owner_id"])
		assert.Equal(t, float64(80), resp["balance"])
	})

	t.Run("unknown account reads as zero", func(t *testing.T) {
		ledger := &fakeLedgerReader{balanceErr: billing.ErrAccountNotFound}
		h := newTestHandler(&fakeAdmitter{}, &fakeStatusStore{}, ledger)

		w := performRequest(h, http.MethodGet, "/api/v1/account", nil, true)

		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, float64(0), resp["balance"])
	})

	t.Run("missing identity header", func(t *testing.T) {
		h := newTestHandler(&fakeAdmitter{}, &fakeStatusStore{}, &fakeLedgerReader{})

		w := performRequest(h, http.MethodGet, "/api/v1/account", nil, false)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func ledgerEntries(n int) []billing.Entry {
	entries := make([]billing.Entry, n)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := range entries {
		entries[i] = billing.Entry{
			EntryID:       fmt.Sprintf("entry-%d", i),
			OwnerID:       "user-1",
			Delta:         -20,
			Reason:        billing.ReasonReserve,
			BalanceBefore: 100 - int64(i)*20,
			BalanceAfter:  80 - int64(i)*20,
			JobID:         sql.NullString{String: testJobID, Valid: true},
			CreatedAt:     base.Add(-time.Duration(i) * time.Minute),
		}
	}
	return entries
}

func TestListLedger(t *testing.T) {
	t.Run("returns entries newest first", func(t *testing.T) {
		ledger := &fakeLedgerReader{entries: ledgerEntries(2)}
		h := newTestHandler(&fakeAdmitter{}, &fakeStatusStore{}, ledger)

		w := performRequest(h, http.MethodGet, "/api/v1/account/ledger", nil, true)

		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Entries []map[string]interface{} `json:"entries"`
			Next    string                   `json:"next_cursor"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Entries, 2)
		assert.Equal(t, "entry-0", resp.Entries[0]["entry_id"])
		assert.Equal(t, float64(-20), resp.Entries[0]["delta"])
		assert.Equal(t, billing.ReasonReserve, resp.Entries[0]["reason"])
		assert.Equal(t, testJobID, resp.Entries[0]["job_id"])
		assert.Empty(t, resp.Next)

		// Default page size was applied
		assert.Equal(t, 20, ledger.lastFilter.PageSize)
	})

	t.Run("extra row produces a next cursor", func(t *testing.T) {
		// The store fetches page_size+1 rows; 3 rows for a page of 2 means
		// another page exists
		ledger := &fakeLedgerReader{entries: ledgerEntries(3)}
		h := newTestHandler(&fakeAdmitter{}, &fakeStatusStore{}, ledger)

		w := performRequest(h, http.MethodGet, "/api/v1/account/ledger?page_size=2", nil, true)

		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Entries []map[string]interface{} `json:"entries"`
			Next    string                   `json:"next_cursor"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Entries, 2)
		require.NotEmpty(t, resp.Next)

		cursor, err := DecodeLedgerCursor(resp.Next)
		require.NoError(t, err)
		assert.Equal(t, "entry-1", cursor.EntryID)
	})

	t.Run("page size is capped", func(t *testing.T) {
		ledger := &fakeLedgerReader{}
		h := newTestHandler(&fakeAdmitter{}, &fakeStatusStore{}, ledger)

		w := performRequest(h, http.MethodGet, "/api/v1/account/ledger?page_size=500", nil, true)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 100, ledger.lastFilter.PageSize)
	})

	t.Run("invalid cursor", func(t *testing.T) {
		h := newTestHandler(&fakeAdmitter{}, &fakeStatusStore{}, &fakeLedgerReader{})

		w := performRequest(h, http.MethodGet, "/api/v1/account/ledger?cursor=%21%21not-base64", nil, true)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestLedgerCursorRoundTrip(t *testing.T) {
	t.Run("encode then decode", func(t *testing.T) {
		original := &billing.EntryCursor{
			CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 123456789, time.UTC),
			EntryID:   "entry-42",
		}

		decoded, err := DecodeLedgerCursor(EncodeLedgerCursor(original))
		require.NoError(t, err)
		require.NotNil(t, decoded)

		assert.True(t, original.CreatedAt.Equal(decoded.CreatedAt))
		assert.Equal(t, original.EntryID, decoded.EntryID)
	})

	t.Run("empty cursor means first page", func(t *testing.T) {
		cursor, err := DecodeLedgerCursor("")
		require.NoError(t, err)
		assert.Nil(t, cursor)
	})

	t.Run("garbage cursor", func(t *testing.T) {
		_, err := DecodeLedgerCursor("!!definitely not base64!!")
		assert.Error(t, err)
	})
}
