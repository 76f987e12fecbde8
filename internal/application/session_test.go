package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewSessionID(t *testing.T) {
	now := time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC)

	seen := make(map[string]struct{})
	for range 100 {
		id := NewSessionID(now)
		assert.Regexp(t, `^sess-2026-03-09-[0-9a-f]{8}$`, id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 100)
}
