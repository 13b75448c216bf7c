package query

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadCursor marks an unparseable pagination token.
var ErrBadCursor = errors.New("invalid cursor")

// Cursors are opaque to callers: a base64 "v1:<position>" token. Position
// is a message seq for timelines and a row offset for pair listings.
func encodeCursor(pos int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte("v1:" + strconv.FormatInt(pos, 10)))
}

func decodeCursor(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	text := string(raw)
	if !strings.HasPrefix(text, "v1:") {
		return 0, fmt.Errorf("%w: unknown version", ErrBadCursor)
	}
	pos, err := strconv.ParseInt(text[3:], 10, 64)
	if err != nil || pos < 0 {
		return 0, fmt.Errorf("%w: bad position", ErrBadCursor)
	}
	return pos, nil
}
