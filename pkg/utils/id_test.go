package utils

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateRoomTokenShape(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z][a-z]+[A-Z][a-z]+\d{4}$`)
	for i := 0; i < 20; i++ {
		token := GenerateRoomToken()
		assert.Regexp(t, pattern, token)
	}
}

func TestGeneratePeerIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GeneratePeerID()
		assert.Contains(t, id, "peer_")
		assert.False(t, seen[id], "duplicate peer id %s", id)
		seen[id] = true
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", FormatDuration(250*time.Millisecond))
	assert.Equal(t, "1.50s", FormatDuration(1500*time.Millisecond))
	assert.Equal(t, "2m30s", FormatDuration(150*time.Second))
	assert.Equal(t, "1h30m", FormatDuration(90*time.Minute))
}

func TestFormatClock(t *testing.T) {
	at := time.Date(2026, 9, 1, 14, 3, 27, 0, time.UTC)
	assert.Equal(t, "14:03:27", FormatClock(at))
}
