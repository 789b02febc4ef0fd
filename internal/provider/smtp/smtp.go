// Package smtp implements a Provider that delivers emails to an SMTP server
// over implicit TLS, authenticating with AUTH PLAIN.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/shineum/smtp-mailmerge/internal/email"
	"github.com/shineum/smtp-mailmerge/internal/provider"
	"github.com/shineum/smtp-mailmerge/internal/runerr"
)

// DefaultPort is the implicit-TLS submission port.
const DefaultPort = 465

// DefaultTimeout bounds dialing and each SMTP command.
const DefaultTimeout = 30 * time.Second

// Config holds the configuration for creating a Provider.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration

	// LocalName is sent in EHLO. Defaults to "localhost".
	LocalName string

	// TLSConfig is used for the handshake. If nil, the server certificate
	// is verified against the system roots for Host.
	TLSConfig *tls.Config
}

// Provider sends each message in its own mail transaction over a single
// authenticated connection.
type Provider struct {
	cfg    Config
	client *smtp.Client
	logger *slog.Logger
}

var (
	_ provider.Provider      = (*Provider)(nil)
	_ provider.Authenticator = (*Provider)(nil)
)

// New creates a Provider. Zero Port and Timeout take their defaults.
func New(cfg Config, logger *slog.Logger) *Provider {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.LocalName == "" {
		cfg.LocalName = "localhost"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{cfg: cfg, logger: logger}
}

// Address returns host:port.
func (p *Provider) Address() string {
	return net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
}

// Connect dials the server, completes the TLS handshake and reads the
// greeting.
func (p *Provider) Connect(ctx context.Context) error {
	tlsConfig := p.cfg.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: p.cfg.Host, MinVersion: tls.VersionTLS12}
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: p.cfg.Timeout},
		Config:    tlsConfig,
	}

	p.logger.Info("connecting to SMTP server", "addr", p.Address())

	conn, err := dialer.DialContext(ctx, "tcp", p.Address())
	if err != nil {
		return classify(err, "failed to connect to %s", p.Address())
	}

	client := smtp.NewClient(conn)
	client.CommandTimeout = p.cfg.Timeout
	client.SubmissionTimeout = p.cfg.Timeout

	if err := client.Hello(p.cfg.LocalName); err != nil {
		_ = client.Close()
		return classify(err, "SMTP greeting from %s failed", p.Address())
	}

	p.client = client
	p.logger.Debug("connected to SMTP server", "addr", p.Address())
	return nil
}

// Authenticate implements provider.Authenticator. A rejected credential
// returns provider.ErrAuthFailed; the connection stays usable for another
// attempt.
func (p *Provider) Authenticate(ctx context.Context, username, password string) error {
	if p.client == nil {
		return runerr.Fatalf(runerr.KindDisconnected, nil, "not connected to %s", p.Address())
	}

	stop := p.closeOnCancel(ctx)
	err := p.client.Auth(sasl.NewPlainClient("", username, password))
	stop()
	if err == nil {
		return nil
	}
	if cerr := p.interrupted(ctx, "authentication with %s interrupted", p.Address()); cerr != nil {
		return cerr
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) && smtpErr.Code/100 == 5 {
		p.logger.Debug("authentication rejected", "code", smtpErr.Code, "message", smtpErr.Message)
		return fmt.Errorf("%w: %s", provider.ErrAuthFailed, smtpErr.Message)
	}
	return classify(err, "authentication with %s failed", p.Address())
}

// Send delivers msg to its single recipient. A reply error from the server
// only fails this message; any other failure means the connection is gone.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	if p.client == nil {
		return runerr.Fatalf(runerr.KindDisconnected, nil, "not connected to %s", p.Address())
	}

	raw, err := msg.Bytes()
	if err != nil {
		return runerr.Recoverablef(runerr.KindDelivery, err, "failed to build message for %s", msg.To)
	}

	stop := p.closeOnCancel(ctx)
	err = p.client.SendMail(msg.From, []string{msg.To}, bytes.NewReader(raw))
	stop()
	if err == nil {
		return nil
	}
	if cerr := p.interrupted(ctx, "sending to %s interrupted", msg.To); cerr != nil {
		return cerr
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) && smtpErr.Code != 421 {
		// Leave the server ready for the next transaction.
		if rerr := p.client.Reset(); rerr != nil {
			return classify(rerr, "connection to %s lost", p.Address())
		}
		return runerr.Recoverablef(runerr.KindDelivery, err, "server refused message to %s", msg.To)
	}
	return classify(err, "connection to %s lost", p.Address())
}

// closeOnCancel closes the connection if ctx is done before the returned
// stop is called, unblocking any command in flight.
func (p *Provider) closeOnCancel(ctx context.Context) (stop func() bool) {
	client := p.client
	return context.AfterFunc(ctx, func() { _ = client.Close() })
}

// interrupted reports a failed command as KindInterrupted or KindTimeout
// when ctx is done, dropping the closed connection. It returns nil otherwise.
func (p *Provider) interrupted(ctx context.Context, format string, args ...any) error {
	if ctx.Err() == nil {
		return nil
	}
	if p.client != nil {
		_ = p.client.Close()
		p.client = nil
	}
	return runerr.FromContext(ctx.Err(), format, args...)
}

// Close sends QUIT and closes the connection.
func (p *Provider) Close() error {
	if p.client == nil {
		return nil
	}
	client := p.client
	p.client = nil

	if err := client.Quit(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to quit SMTP session: %w", err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

// classify maps a transport failure to its fatal error kind.
func classify(err error, format string, args ...any) error {
	if cerr := runerr.FromContext(err, format, args...); cerr != nil {
		return cerr
	}

	var (
		dnsErr  *net.DNSError
		netErr  net.Error
		smtpErr *smtp.SMTPError
	)

	kind := runerr.KindConnect
	switch {
	case errors.As(err, &dnsErr):
		kind = runerr.KindNoNetwork
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = runerr.KindTimeout
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		kind = runerr.KindDisconnected
	case errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTUNREACH):
		kind = runerr.KindNoNetwork
	case errors.As(err, &smtpErr) && smtpErr.Code == 421:
		kind = runerr.KindDisconnected
	}
	return runerr.Fatalf(kind, err, format, args...)
}
