// Package notify delivers operator notifications. Delivery is best effort:
// a failed notification never fails the workflow transition that triggered it.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Email is one notification message.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Notifier sends notifications to operators.
type Notifier interface {
	SendEmail(ctx context.Context, email Email) error
}

// LogNotifier writes notifications to the log instead of delivering them.
// It stands in until a real mail provider is wired up.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

// SendEmail implements Notifier.
func (n *LogNotifier) SendEmail(_ context.Context, email Email) error {
	n.logger.Info().
		Str("to", email.To).
		Str("subject", email.Subject).
		Msg("notification")
	return nil
}
