package processor

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain name untouched", "recording-01.wav", "recording-01.wav"},
		{"spaces kept", "front door 2.mp3", "front door 2.mp3"},
		{"shell metacharacters stripped", "call$(rm)*?.wav", "callrm.wav"},
		{"path separators stripped", "../../etc/passwd", "....etcpasswd"},
		{"empty stays empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeFilename(tt.in))
		})
	}

	t.Run("capped at 255 bytes", func(t *testing.T) {
		long := strings.Repeat("a", 300) + ".wav"
		got := sanitizeFilename(long)
		assert.Len(t, got, 255)
	})
}

func TestParseFilenameDate(t *testing.T) {
	t.Run("converts submit timezone to UTC", func(t *testing.T) {
		got := parseFilenameDate("2024-01-15_09-30-00_site.wav", "America/Chicago")
		require.NotNil(t, got)
		// 09:30 CST is 15:30 UTC.
		assert.Equal(t, time.Date(2024, 1, 15, 15, 30, 0, 0, time.UTC), *got)
	})

	t.Run("defaults to UTC without timezone", func(t *testing.T) {
		got := parseFilenameDate("2024-06-01_12-00-00.wav", "")
		require.NotNil(t, got)
		assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), *got)
	})

	t.Run("unknown timezone falls back to UTC", func(t *testing.T) {
		got := parseFilenameDate("2024-06-01_12-00-00.wav", "Mars/Olympus")
		require.NotNil(t, got)
		assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), *got)
	})

	t.Run("timestamp embedded mid-name", func(t *testing.T) {
		got := parseFilenameDate("cam3_2025-02-17_14-25-13_motion.mp3", "")
		require.NotNil(t, got)
		assert.Equal(t, time.Date(2025, 2, 17, 14, 25, 13, 0, time.UTC), *got)
	})

	t.Run("no pattern", func(t *testing.T) {
		assert.Nil(t, parseFilenameDate("recording.wav", "UTC"))
	})

	t.Run("impossible clock values", func(t *testing.T) {
		assert.Nil(t, parseFilenameDate("2024-13-45_99-99-99.wav", "UTC"))
	})

	t.Run("too far in the past", func(t *testing.T) {
		assert.Nil(t, parseFilenameDate("1999-01-01_00-00-00.wav", "UTC"))
	})

	t.Run("too far in the future", func(t *testing.T) {
		future := time.Now().AddDate(3, 0, 0).Format("2006-01-02_15-04-05")
		assert.Nil(t, parseFilenameDate(future+".wav", "UTC"))
	})
}
