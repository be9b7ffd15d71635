// Package pagination implements keyset paging over (timestamp, id) pairs.
// Payments page on escrow_started_at and payouts on created_at; both sort
// newest first with the row id as tie breaker.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100

	separator = "~"
)

var ErrMalformedCursor = errors.New("malformed cursor")

// Cursor is the position of the last row the caller has seen.
type Cursor struct {
	At time.Time
	ID uuid.UUID
}

// Page is the response envelope for list endpoints.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// NormalizeLimit clamps limit into [1, MaxLimit], treating zero as DefaultLimit.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// Keyset returns a gorm scope that orders by column DESC, id DESC, resumes
// after cursor when set, and fetches one extra row so BuildPage can tell
// whether another page exists.
func Keyset(column string, cursor *Cursor, limit int) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		if cursor != nil {
			at := cursor.At.UTC()
			tx = tx.Where(
				fmt.Sprintf("(%[1]s < ?) OR (%[1]s = ? AND id < ?)", column),
				at, at, cursor.ID,
			)
		}
		return tx.
			Order(column + " DESC").
			Order("id DESC").
			Limit(NormalizeLimit(limit) + 1)
	}
}

// BuildPage trims the look-ahead row and derives the next cursor from the
// last kept row.
func BuildPage[T any](rows []T, limit int, key func(T) Cursor) Page[T] {
	limit = NormalizeLimit(limit)
	if len(rows) <= limit {
		return Page[T]{Items: rows}
	}
	kept := rows[:limit]
	return Page[T]{Items: kept, NextCursor: key(kept[len(kept)-1]).Encode()}
}

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() string {
	raw := c.At.UTC().Format(time.RFC3339Nano) + separator + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor decodes a token produced by Encode. An empty token yields nil.
func ParseCursor(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCursor, err)
	}
	at, id, ok := strings.Cut(string(raw), separator)
	if !ok {
		return nil, ErrMalformedCursor
	}
	ts, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp: %v", ErrMalformedCursor, err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: id: %v", ErrMalformedCursor, err)
	}
	return &Cursor{At: ts, ID: parsed}, nil
}
