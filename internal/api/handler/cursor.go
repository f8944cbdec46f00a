package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/forgemedia/genjobs/internal/billing"
)

// DecodeLedgerCursor parses an opaque pagination cursor. An empty cursor
// means the first page.
func DecodeLedgerCursor(cursorStr string) (*billing.EntryCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	decodedParts := strings.Split(string(decoded), "|")
	if len(decodedParts) != 2 {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt int64
	_, err = fmt.Sscanf(decodedParts[0], "%d", &createdAt)
	if err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}

	return &billing.EntryCursor{
		CreatedAt: time.Unix(0, createdAt),
		EntryID:   decodedParts[1],
	}, nil
}

// EncodeLedgerCursor renders a cursor as an opaque base64 token
func EncodeLedgerCursor(cursor *billing.EntryCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.CreatedAt.UnixNano(), cursor.EntryID)
	return base64.StdEncoding.EncodeToString([]byte(cs))
}
