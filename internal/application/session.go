package application

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewSessionID returns an identifier of the form sess-YYYY-MM-DD-xxxxxxxx,
// where the suffix is eight random hex characters.
func NewSessionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "sess-" + now.Format(time.DateOnly) + "-" + suffix
}
