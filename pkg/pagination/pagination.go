// Package pagination implements keyset paging over (created_at DESC, id DESC).
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
)

// Params is what list endpoints accept.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor is the last row of the previous page.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

var errCursor = errors.New("malformed cursor")

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

// LimitWithBuffer is one past the page size; the extra row signals a next page.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

func EncodeCursor(c Cursor) string {
	raw := c.ID.String() + "@" + c.CreatedAt.UTC().Format(time.RFC3339Nano)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor decodes a cursor; blank input means the first page.
func ParseCursor(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCursor, err)
	}
	idPart, atPart, ok := strings.Cut(string(raw), "@")
	if !ok {
		return nil, errCursor
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return nil, fmt.Errorf("%w: id: %v", errCursor, err)
	}
	at, err := time.Parse(time.RFC3339Nano, atPart)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp: %v", errCursor, err)
	}
	return &Cursor{CreatedAt: at, ID: id}, nil
}

// Keyset is a gorm scope that orders newest first, resumes after cursor and
// fetches LimitWithBuffer(limit) rows.
func Keyset(cursor *Cursor, limit int) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if cursor != nil {
			q = q.Where("created_at < ? OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
		}
		return q.Order("created_at DESC").Order("id DESC").Limit(LimitWithBuffer(limit))
	}
}

// Page cuts a Keyset result to the page size and returns the next cursor, or
// "" on the last page.
func Page[T any](rows []T, limit int, cursorOf func(T) Cursor) ([]T, string) {
	size := NormalizeLimit(limit)
	if len(rows) <= size {
		return rows, ""
	}
	rows = rows[:size]
	return rows, EncodeCursor(cursorOf(rows[size-1]))
}
