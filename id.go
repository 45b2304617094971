package bridge

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// newRequestID returns an id that tags every log line of one bridge call.
// Format: req_{YYYYMMDDTHHmmss}_{16 hex chars}, e.g. "req_20260208T150405_a1b2c3d4e5f6a7b8".
func newRequestID() string {
	ts := time.Now().UTC().Format("20060102T150405")
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "req_" + ts + "_" + hex[:16]
}
