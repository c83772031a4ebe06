package tracer

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampFormat is the UTC layout shared by audit records and responses.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// NewTraceID returns an ID for one workflow run ("t-" + 12 hex chars).
func NewTraceID() string {
	return prefixedID("t", 12)
}

// NewSpanID returns an ID for one dispatch ("s-" + 8 hex chars).
// The SELECTED event and its completion event share a span ID.
func NewSpanID() string {
	return prefixedID("s", 8)
}

// UTCNowISO returns the current UTC time in TimestampFormat.
func UTCNowISO() string {
	return time.Now().UTC().Format(TimestampFormat)
}

func prefixedID(prefix string, hexLen int) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "-" + id[:hexLen]
}
