// Package notify delivers the run log to a list of recipients.
package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// InputRunner runs a command with stdin. *system.Executor satisfies it.
type InputRunner interface {
	RunInput(ctx context.Context, r io.Reader, name string, args ...string) (string, error)
}

// Mailer sends messages through the system mail(1) utility
type Mailer struct {
	runner  InputRunner
	subject string
}

// NewMailer creates a mailer using subject for every message
func NewMailer(runner InputRunner, subject string) *Mailer {
	return &Mailer{runner: runner, subject: subject}
}

// Send mails logText to recipients. An empty recipient list is a no-op.
func (m *Mailer) Send(ctx context.Context, logText string, recipients []string) error {
	var rcpts []string
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			rcpts = append(rcpts, r)
		}
	}
	if len(rcpts) == 0 {
		return nil
	}

	args := append([]string{"-s", m.subject}, rcpts...)
	if _, err := m.runner.RunInput(ctx, strings.NewReader(logText), "mail", args...); err != nil {
		return fmt.Errorf("failed to mail %d recipient(s): %w", len(rcpts), err)
	}
	return nil
}
