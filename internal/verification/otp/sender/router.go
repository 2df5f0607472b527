package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"tipline/pkg/email"
)

// ErrNoChannel is returned when no sender is configured for a destination kind.
var ErrNoChannel = errors.New("no delivery channel for destination")

type Sender interface {
	Send(ctx context.Context, destination, code string) error
}

// Router sends to email addresses through Email and to everything else
// through SMS.
type Router struct {
	Email  Sender
	SMS    Sender
	Logger *slog.Logger
}

func (r *Router) Send(ctx context.Context, destination, code string) error {
	target, channel := r.SMS, "sms"
	if email.IsAddress(destination) {
		target, channel = r.Email, "email"
	}
	if target == nil {
		return fmt.Errorf("%s: %w", channel, ErrNoChannel)
	}
	if err := target.Send(ctx, destination, code); err != nil {
		return err
	}
	if r.Logger != nil {
		r.Logger.InfoContext(ctx, "otp dispatched",
			"channel", channel,
			"destination", email.Mask(destination),
		)
	}
	return nil
}

// ConsoleSender writes codes to w. It exists for local development without
// SMTP or SNS and must not be wired in production.
type ConsoleSender struct {
	W io.Writer
}

func (c ConsoleSender) Send(_ context.Context, destination, code string) error {
	_, err := fmt.Fprintf(c.W, "[dev otp] %s -> %s\n", email.Mask(destination), code)
	return err
}
