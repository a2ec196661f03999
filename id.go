package shelly

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a time-sortable UUIDv7 string. Used for archive rows and
// per-request log correlation.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowUnix returns the current time as Unix seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}
