package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
)

const randomBytes = 3 // six hex characters

// NewLocal generates a local message id of the form
// "<origin>-<unix millis>-<6 hex chars>", e.g. "user-1718000000000-ab12cd".
func NewLocal(origin models.Origin, now time.Time) string {
	b := make([]byte, randomBytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand does not fail on supported platforms; fall back to
		// the clock so the id stays unique within this process
		return fmt.Sprintf("%s-%d-%06x", origin, now.UnixMilli(), now.UnixNano()&0xffffff)
	}
	return fmt.Sprintf("%s-%d-%s", origin, now.UnixMilli(), hex.EncodeToString(b))
}

// ParseLocal splits a local id into its origin and timestamp.
func ParseLocal(id string) (models.Origin, time.Time, bool) {
	parts := strings.Split(id, "-")
	if len(parts) != 3 {
		return "", time.Time{}, false
	}
	origin := models.Origin(parts[0])
	if !origin.Valid() {
		return "", time.Time{}, false
	}
	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || ms < 0 {
		return "", time.Time{}, false
	}
	if len(parts[2]) != randomBytes*2 {
		return "", time.Time{}, false
	}
	if _, err := hex.DecodeString(parts[2]); err != nil {
		return "", time.Time{}, false
	}
	return origin, time.UnixMilli(ms).UTC(), true
}

// IsLocal reports whether id was generated on this device.
func IsLocal(id string) bool {
	_, _, ok := ParseLocal(id)
	return ok
}

// OriginOf returns the origin tag of a local id, or "" for remote ids.
func OriginOf(id string) models.Origin {
	o, _, _ := ParseLocal(id)
	return o
}

// NewClientKey returns a fresh idempotency key for a remote insert.
func NewClientKey() string {
	return uuid.NewString()
}

// NewRunID identifies a sync pass or admin run in logs.
func NewRunID() string {
	return "run-" + uuid.NewString()[:8]
}
