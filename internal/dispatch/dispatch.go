// Package dispatch delivers composed messages over one provider session:
// connect, authenticate, send each message, close, and report.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/shineum/smtp-mailmerge/internal/email"
	"github.com/shineum/smtp-mailmerge/internal/prompt"
	"github.com/shineum/smtp-mailmerge/internal/provider"
	"github.com/shineum/smtp-mailmerge/internal/runerr"
)

// DefaultMaxAuthAttempts is the number of password prompts before giving up.
const DefaultMaxAuthAttempts = 3

// State is the lifecycle stage of a Dispatcher.
type State int

const (
	// Disconnected is the initial state, before Connect.
	Disconnected State = iota
	// Connected means the provider is connected but not authenticated.
	Connected
	// Authenticated means the sender's credentials were accepted.
	Authenticated
	// Sending means messages are being delivered.
	Sending
	// Closed means every message was attempted and the provider closed.
	Closed
	// Terminated means a fatal error ended the run.
	Terminated
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Authenticated:
		return "authenticated"
	case Sending:
		return "sending"
	case Closed:
		return "closed"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome lists recipients, in "Name <address>" form, by delivery result.
type Outcome struct {
	Successful   []string
	Unsuccessful []string
}

// Dispatcher runs one delivery session. It is not safe for concurrent use
// and is meant to be used for a single Run.
type Dispatcher struct {
	provider    provider.Provider
	prompter    prompt.Prompter
	out         io.Writer
	logger      *slog.Logger
	maxAttempts int
	state       State
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithOutput sets where status lines and the final report are written.
func WithOutput(w io.Writer) Option {
	return func(d *Dispatcher) { d.out = w }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMaxAuthAttempts sets the number of password prompts. Values below one
// are ignored.
func WithMaxAuthAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// New creates a Dispatcher for p. The prompter is only used when p
// implements provider.Authenticator.
func New(p provider.Provider, pr prompt.Prompter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		provider:    p,
		prompter:    pr,
		out:         os.Stdout,
		logger:      slog.Default(),
		maxAttempts: DefaultMaxAuthAttempts,
		state:       Disconnected,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current lifecycle stage.
func (d *Dispatcher) State() State {
	return d.state
}

// Run delivers msgs as sender. Per-message failures are collected in the
// Outcome; a fatal error stops the run and is returned with the partial
// Outcome. The session is closed after the send pass, even when nothing
// was sent, but not after a connection-level failure.
func (d *Dispatcher) Run(ctx context.Context, sender string, msgs []*email.Email) (*Outcome, error) {
	outcome := &Outcome{}

	if err := d.connect(ctx); err != nil {
		return outcome, err
	}

	if err := d.authenticate(ctx, sender); err != nil {
		return outcome, err
	}

	if len(msgs) == 0 {
		fmt.Fprintln(d.out, "\nThere are no emails to send.")
		d.close()
		return outcome, nil
	}

	d.state = Sending
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			d.close()
			d.report(outcome)
			return outcome, runerr.FromContext(err, "sending interrupted")
		}

		err := d.provider.Send(ctx, msg)
		switch {
		case err == nil:
			outcome.Successful = append(outcome.Successful, msg.Display())
			fmt.Fprintf(d.out, "Email sent to %s\n", msg.Display())
		case !runerr.IsFatal(err):
			outcome.Unsuccessful = append(outcome.Unsuccessful, msg.Display())
			fmt.Fprintf(d.out, "Unable to send email to %s\n", msg.Display())
			d.logger.Warn("delivery failed", "to", msg.To, "error", err)
		default:
			d.state = Terminated
			return outcome, asFatal(err, runerr.KindDisconnected)
		}
	}

	d.close()
	d.report(outcome)
	return outcome, nil
}

func (d *Dispatcher) connect(ctx context.Context) error {
	if err := d.provider.Connect(ctx); err != nil {
		d.state = Terminated
		return asFatal(err, runerr.KindConnect)
	}
	d.state = Connected

	target := d.provider.Name()
	if a, ok := d.provider.(interface{ Address() string }); ok {
		target = a.Address()
	}
	fmt.Fprintf(d.out, "\nConnection established to %s\n", target)
	return nil
}

// authenticate prompts for the sender's password until the provider accepts
// it or the attempts run out.
func (d *Dispatcher) authenticate(ctx context.Context, sender string) error {
	auth, ok := d.provider.(provider.Authenticator)
	if !ok {
		d.state = Authenticated
		return nil
	}

	fmt.Fprintf(d.out, "\nYou have %d attempts to enter the password for %s before the program terminates.\n\n",
		d.maxAttempts, sender)

	for remaining := d.maxAttempts; remaining > 0; {
		password, err := d.prompter.AskSecret(ctx, fmt.Sprintf("Enter password for %s: ", sender))
		if err != nil {
			d.close()
			if cerr := runerr.FromContext(err, "password prompt interrupted"); cerr != nil {
				return cerr
			}
			return runerr.Fatalf(runerr.KindInput, err, "failed to read password")
		}

		err = auth.Authenticate(ctx, sender, password)
		if err == nil {
			d.state = Authenticated
			fmt.Fprintf(d.out, "Successfully logged into %s\n\n", sender)
			return nil
		}
		if !errors.Is(err, provider.ErrAuthFailed) {
			d.state = Terminated
			return asFatal(err, runerr.KindConnect)
		}

		remaining--
		d.logger.Debug("authentication failed", "sender", sender, "remaining", remaining)
		fmt.Fprintf(d.out, "\nUnable to log into %s\n", sender)
		fmt.Fprintln(d.out, "Please verify that the password is correct, and then re-enter it.")
		fmt.Fprintf(d.out, "You have %d attempts left.\n\n", remaining)
	}

	fmt.Fprintln(d.out, "\nYou have exceeded the number of attempts for entering the password.")
	d.close()
	return runerr.Fatalf(runerr.KindAuth, provider.ErrAuthFailed,
		"unable to log into %s after %d attempts", sender, d.maxAttempts)
}

func (d *Dispatcher) close() {
	if err := d.provider.Close(); err != nil {
		d.logger.Warn("failed to close session", "provider", d.provider.Name(), "error", err)
	}
	d.state = Closed
}

func (d *Dispatcher) report(o *Outcome) {
	fmt.Fprintf(d.out, "\nEmails sent to %d recipients.\n", len(o.Successful))
	for _, r := range o.Successful {
		fmt.Fprintf(d.out, "\t- %s\n", r)
	}

	if len(o.Unsuccessful) > 0 {
		fmt.Fprintf(d.out, "\nEmails were NOT sent to %d recipients.\n", len(o.Unsuccessful))
		for _, r := range o.Unsuccessful {
			fmt.Fprintf(d.out, "\t- %s\n", r)
		}
	}
}

// asFatal returns err unchanged if it already carries a kind, otherwise it
// wraps it as a fatal error of the given kind.
func asFatal(err error, kind runerr.Kind) error {
	if runerr.KindOf(err) != 0 {
		return err
	}
	return &runerr.Error{Kind: kind, Severity: runerr.Fatal, Err: err}
}
