// Package errreport forwards unit failures to an external error tracker when
// one is configured.
package errreport

import (
	"time"

	"github.com/getsentry/sentry-go"

	"audio-search-go/internal/logger"
)

// Sink receives exceptions from abandoned processing units.
type Sink interface {
	Capture(err error)
}

// NewFromEnv returns a Sentry-backed sink when dsn is non-empty, otherwise a
// sink that logs at warning level.
func NewFromEnv(dsn string, log *logger.Logger) (Sink, error) {
	if dsn == "" {
		return &logSink{log: log}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
		return nil, err
	}
	return &sentrySink{}, nil
}

type sentrySink struct{}

func (s *sentrySink) Capture(err error) {
	sentry.CaptureException(err)
	sentry.Flush(2 * time.Second)
}

type logSink struct {
	log *logger.Logger
}

func (s *logSink) Capture(err error) {
	s.log.WithError(err).Warn("error sink not configured")
}
