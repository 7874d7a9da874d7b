// Package history serves cursor-paginated message history. Cursors are
// opaque tokens derived from the snowflake id of a boundary message; pages
// always come back newest first.
package history

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/yuthstyle88/api-108jobs-sub001/pkg/errs"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/model"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100

	cursorPrefix = "M:"
)

type Direction int

const (
	// Back pages toward older messages. This is the default.
	Back Direction = iota
	// Forward pages toward newer messages.
	Forward
)

func ParseDirection(s string) Direction {
	if strings.EqualFold(s, "forward") {
		return Forward
	}
	return Back
}

// Page is one slice of history. NextCursor continues in the requested
// direction and is set only when the page filled; PrevCursor points the
// other way and is set only when the request itself carried a cursor.
type Page struct {
	Messages   []model.Message `json:"messages"`
	NextCursor string          `json:"nextCursor,omitempty"`
	PrevCursor string          `json:"prevCursor,omitempty"`
}

// Source is the storage read path. Both methods return rows newest first.
type Source interface {
	// MessagesBefore returns up to limit messages with id < beforeID.
	MessagesBefore(ctx context.Context, roomID string, beforeID int64, limit int) ([]model.Message, error)
	// MessagesAfter returns up to limit messages with id > afterID.
	MessagesAfter(ctx context.Context, roomID string, afterID int64, limit int) ([]model.Message, error)
}

func EncodeCursor(id int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.FormatInt(id, 10)))
}

func DecodeCursor(cursor string) (int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, errs.Protocol("cursor is not valid base64")
	}
	body, ok := strings.CutPrefix(string(raw), cursorPrefix)
	if !ok {
		return 0, errs.Protocol("cursor has unknown format")
	}
	id, err := strconv.ParseInt(body, 10, 64)
	if err != nil {
		return 0, errs.Protocol("cursor id is not numeric")
	}
	return id, nil
}

type Service struct {
	source Source
}

func NewService(source Source) *Service {
	return &Service{source: source}
}

// Fetch returns one page of a room's history. An empty cursor starts from
// the newest message regardless of direction.
func (s *Service) Fetch(ctx context.Context, roomID, cursor string, limit int, dir Direction) (Page, error) {
	limit = clampLimit(limit)

	boundary := int64(math.MaxInt64)
	hasCursor := cursor != ""
	if hasCursor {
		id, err := DecodeCursor(cursor)
		if err != nil {
			return Page{}, err
		}
		boundary = id
	}

	var (
		rows []model.Message
		err  error
	)
	if dir == Forward && hasCursor {
		rows, err = s.source.MessagesAfter(ctx, roomID, boundary, limit)
	} else {
		rows, err = s.source.MessagesBefore(ctx, roomID, boundary, limit)
	}
	if err != nil {
		return Page{}, fmt.Errorf("fetch history for %s: %w", roomID, err)
	}

	page := Page{Messages: rows}
	if len(rows) == limit {
		// Rows are newest first: the continuation boundary in the requested
		// direction comes from the last row when paging back and the first
		// row when paging forward.
		if dir == Forward && hasCursor {
			page.NextCursor = EncodeCursor(rows[0].ID)
		} else {
			page.NextCursor = EncodeCursor(rows[len(rows)-1].ID)
		}
	}
	if hasCursor && len(rows) > 0 {
		if dir == Forward {
			page.PrevCursor = EncodeCursor(rows[len(rows)-1].ID)
		} else {
			page.PrevCursor = EncodeCursor(rows[0].ID)
		}
	}
	return page, nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > MaxLimit:
		return MaxLimit
	default:
		return n
	}
}
