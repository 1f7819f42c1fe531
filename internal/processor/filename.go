package processor

import (
	"regexp"
	"strings"
	"time"
)

var (
	unsafeChars = regexp.MustCompile(`[^\w\-.\s]`)
	// Strict skimmer-recorder format: 2025-02-17_14-25-13
	filenameDate = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})_(\d{2}-\d{2}-\d{2})`)
)

// sanitizeFilename strips everything outside word chars, '-', '.' and
// whitespace, capped at 255 bytes.
func sanitizeFilename(name string) string {
	clean := unsafeChars.ReplaceAllString(name, "")
	if len(clean) > 255 {
		clean = clean[:255]
	}
	return clean
}

// parseFilenameDate pulls a recording timestamp out of the filename,
// interprets it in the given timezone and converts to UTC. Anything that does
// not parse, or lands more than 5 years in the past or 1 year in the future,
// yields nil rather than an error.
func parseFilenameDate(filename, timezone string) *time.Time {
	m := filenameDate.FindStringSubmatch(filename)
	if m == nil {
		return nil
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil || timezone == "" {
		loc = time.UTC
	}

	clock := strings.ReplaceAll(m[2], "-", ":")
	t, err := time.ParseInLocation("2006-01-02 15:04:05", m[1]+" "+clock, loc)
	if err != nil {
		return nil
	}

	utc := t.UTC()
	now := time.Now()
	if utc.Before(now.AddDate(-5, 0, 0)) || utc.After(now.AddDate(1, 0, 0)) {
		return nil
	}
	return &utc
}
