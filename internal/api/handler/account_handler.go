package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forgemedia/genjobs/internal/api/dto"
	"github.com/forgemedia/genjobs/internal/billing"
)

// GetBalance handles GET /api/v1/account
// Returns the caller's current credit balance. An owner who never received a
// grant reads as zero.
func (h *JobHandler) GetBalance(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	balance, err := h.ledger.Balance(c.Request.Context(), owner)
	if err != nil {
		if !errors.Is(err, billing.ErrAccountNotFound) {
			h.logger.Error("Failed to get balance",
				slog.String("owner_id", owner),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to get balance",
			})
			return
		}
		balance = 0
	}

	c.JSON(http.StatusOK, dto.BalanceResponse{
		OwnerID: owner,
		Balance: balance,
	})
}

// ListLedger handles GET /api/v1/account/ledger
// Pages through the caller's ledger entries, newest first
func (h *JobHandler) ListLedger(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	var req dto.ListLedgerRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeLedgerCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	entries, err := h.ledger.ListEntries(c.Request.Context(), billing.EntryFilter{
		OwnerID:  owner,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list ledger entries", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list ledger entries",
		})
		return
	}

	hasMore := len(entries) > req.PageSize
	if hasMore {
		entries = entries[:req.PageSize]
	}

	entryResponse := make([]dto.LedgerEntryDTO, len(entries))
	for i, entry := range entries {
		entryResponse[i] = dto.LedgerEntryDTO{
			EntryID:       entry.EntryID,
			Delta:         entry.Delta,
			Reason:        entry.Reason,
			BalanceBefore: entry.BalanceBefore,
			BalanceAfter:  entry.BalanceAfter,
			CreatedAt:     entry.CreatedAt.Format(time.RFC3339),
		}
		if entry.JobID.Valid {
			entryResponse[i].JobID = entry.JobID.String
		}
	}

	var nextCursor string
	if hasMore {
		last := entries[len(entries)-1]
		nextCursor = EncodeLedgerCursor(&billing.EntryCursor{
			CreatedAt: last.CreatedAt,
			EntryID:   last.EntryID,
		})
	}

	c.JSON(http.StatusOK, dto.ListLedgerResponse{
		Entries:    entryResponse,
		NextCursor: nextCursor,
	})
}
