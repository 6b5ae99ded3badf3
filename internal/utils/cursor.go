// Package utils holds small shared helpers, currently just the opaque
// keyset-pagination cursor used by the admin inspection surface.
package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

// MessageLogCursor encodes the (updated_at, id) keyset position for
// admin/message-logs pagination (SPEC_FULL.md §9), generalizing the
// teacher's JobCursor onto the message_logs (status, updated_at) index.
type MessageLogCursor struct {
	UpdatedAt time.Time `json:"updatedAt"`
	ID        string    `json:"id"`
}

func EncodeMessageLogCursor(updatedAt time.Time, id string) (string, error) {
	b, err := json.Marshal(MessageLogCursor{UpdatedAt: updatedAt, ID: id})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeMessageLogCursor(cursor string) (MessageLogCursor, error) {
	if cursor == "" {
		return MessageLogCursor{}, errors.New("empty cursor")
	}

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return MessageLogCursor{}, err
	}

	var c MessageLogCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return MessageLogCursor{}, err
	}
	if c.ID == "" || c.UpdatedAt.IsZero() {
		return MessageLogCursor{}, errors.New("invalid cursor payload")
	}
	return c, nil
}
