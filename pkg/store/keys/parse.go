package keys

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type ConversationIxParts struct {
	ConversationID string
	CreatedAt      time.Time
	Seq            uint64
}

func parsePadded(s string, width int) (uint64, error) {
	if len(s) != width {
		return 0, fmt.Errorf("length invalid: %q", s)
	}
	return strconv.ParseUint(s, 10, 64)
}

// ParseConversationIx splits a conversation index key.
func ParseConversationIx(key string) (ConversationIxParts, error) {
	rest, ok := strings.CutPrefix(key, "c:")
	if !ok {
		return ConversationIxParts{}, fmt.Errorf("not a conversation index key: %q", key)
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 3 {
		return ConversationIxParts{}, fmt.Errorf("malformed conversation index key: %q", key)
	}
	ts, err := parsePadded(parts[1], TSPadWidth)
	if err != nil {
		return ConversationIxParts{}, fmt.Errorf("bad timestamp in %q: %w", key, err)
	}
	seq, err := parsePadded(parts[2], SeqPadWidth)
	if err != nil {
		return ConversationIxParts{}, fmt.Errorf("bad seq in %q: %w", key, err)
	}
	return ConversationIxParts{
		ConversationID: parts[0],
		CreatedAt:      time.Unix(0, int64(ts)).UTC(),
		Seq:            seq,
	}, nil
}

// ParseMessageKey returns the message id of an m: key.
func ParseMessageKey(key string) (string, error) {
	id, ok := strings.CutPrefix(key, MessagePrefix)
	if !ok || id == "" {
		return "", fmt.Errorf("not a message key: %q", key)
	}
	return id, nil
}
