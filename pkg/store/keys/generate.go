package keys

import (
	"fmt"
	"time"
)

func GenMessageKey(id string) []byte {
	return []byte(fmt.Sprintf(MessageKey, id))
}

func GenConversationIx(conversationID string, createdAt time.Time, seq uint64) []byte {
	return []byte(fmt.Sprintf(ConversationIx, conversationID, PadTS(createdAt), PadSeq(seq)))
}

func GenConversationPrefix(conversationID string) []byte {
	return []byte(fmt.Sprintf(ConversationPrefix, conversationID))
}

func GenOutboxIx(createdAt time.Time, seq uint64) []byte {
	return []byte(fmt.Sprintf(OutboxIx, PadTS(createdAt), PadSeq(seq)))
}

func GenClientKeyIx(clientKey string) []byte {
	return []byte(fmt.Sprintf(ClientKeyIx, clientKey))
}

func GenReadMarkerKey(conversationID, userID string) []byte {
	return []byte(fmt.Sprintf(ReadMarkerKey, conversationID, userID))
}

func GenFeedWatermarkKey(conversationID string) []byte {
	return []byte(fmt.Sprintf(FeedWatermarkKey, conversationID))
}

// PadTS renders t as zero padded unix nanoseconds; times before the epoch
// sort first.
func PadTS(t time.Time) string {
	ns := t.UnixNano()
	if ns < 0 {
		ns = 0
	}
	return fmt.Sprintf("%0*d", TSPadWidth, ns)
}

func PadSeq(seq uint64) string {
	return fmt.Sprintf("%0*d", SeqPadWidth, seq)
}

// UpperBound returns the smallest key greater than every key with prefix.
func UpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
