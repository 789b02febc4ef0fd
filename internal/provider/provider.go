// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"
	"errors"

	"github.com/shineum/smtp-mailmerge/internal/email"
)

// ErrAuthFailed is returned by Authenticate when the server rejected the
// credentials. Any other Authenticate error ends the run.
var ErrAuthFailed = errors.New("authentication failed")

// Provider is the interface that email delivery backends must implement.
// A provider is connected once, sends every message of a run, and is
// closed once at the end (e.g., SMTP over TLS, Amazon SES, Resend, stdout).
type Provider interface {
	// Connect opens the session with the delivery service.
	Connect(ctx context.Context) error

	// Send delivers a single message. Errors for which runerr.IsFatal is
	// false only affect this message.
	Send(ctx context.Context, msg *email.Email) error

	// Close ends the session.
	Close() error

	// Name returns the human-readable name of this provider.
	Name() string
}

// Authenticator is implemented by providers that need the sender's password
// after connecting.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) error
}
