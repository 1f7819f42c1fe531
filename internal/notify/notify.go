// Package notify delivers the one completion message a finished search owes
// its owner.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"audio-search-go/internal/logger"
)

// Summary is what the completion message reports.
type Summary struct {
	Query      string
	QueryTotal int
	FileCount  int
	ResultURL  string
}

type Notifier interface {
	Send(ctx context.Context, recipient string, s Summary) error
}

// SMTP sends the completion mail through a plain SMTP relay.
type SMTP struct {
	addr string
	auth smtp.Auth
	from string
}

func NewSMTP(host, port, username, password, from string) *SMTP {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTP{addr: host + ":" + port, auth: auth, from: from}
}

// NewFromEnv picks SMTP when a host is configured, else a log-only notifier.
func NewFromEnv(host, port, username, password, from string, log *logger.Logger) Notifier {
	if host == "" {
		return &Log{log: log}
	}
	return NewSMTP(host, port, username, password, from)
}

func (n *SMTP) Send(_ context.Context, recipient string, s Summary) error {
	msg := buildMessage(n.from, recipient, s)
	if err := smtp.SendMail(n.addr, n.auth, n.from, []string{recipient}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func buildMessage(from, to string, s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	b.WriteString("Subject: Audio Search Finished\r\n")
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&b, "Your search for \"%s\" has finished.\r\n\r\n", s.Query)
	fmt.Fprintf(&b, "Matches found: %d across %d file(s).\r\n", s.QueryTotal, s.FileCount)
	fmt.Fprintf(&b, "View the results: %s\r\n", s.ResultURL)
	return b.String()
}

// Log records the notification instead of sending it. Used when SMTP is not
// configured and in tests.
type Log struct {
	log *logger.Logger
}

func NewLog(log *logger.Logger) *Log {
	return &Log{log: log}
}

func (n *Log) Send(_ context.Context, recipient string, s Summary) error {
	n.log.WithComponent("notify").
		WithField("recipient", recipient).
		WithField("query", s.Query).
		WithField("query_total", s.QueryTotal).
		Info("search finished notification")
	return nil
}
