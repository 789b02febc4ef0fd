// Package app runs one mail merge: resolve the sender, load recipients,
// compose the messages and hand them to the dispatcher.
package app

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/shineum/smtp-mailmerge/internal/compose"
	"github.com/shineum/smtp-mailmerge/internal/config"
	"github.com/shineum/smtp-mailmerge/internal/dispatch"
	"github.com/shineum/smtp-mailmerge/internal/identity"
	"github.com/shineum/smtp-mailmerge/internal/prompt"
	"github.com/shineum/smtp-mailmerge/internal/provider"
	"github.com/shineum/smtp-mailmerge/internal/provider/graph"
	"github.com/shineum/smtp-mailmerge/internal/provider/resend"
	"github.com/shineum/smtp-mailmerge/internal/provider/ses"
	"github.com/shineum/smtp-mailmerge/internal/provider/smtp"
	"github.com/shineum/smtp-mailmerge/internal/provider/stdout"
	"github.com/shineum/smtp-mailmerge/internal/recipient"
	"github.com/shineum/smtp-mailmerge/internal/runerr"
	mmtls "github.com/shineum/smtp-mailmerge/internal/tls"
)

// App holds everything a run needs besides the configuration.
type App struct {
	cfg      *config.Config
	prompter prompt.Prompter
	out      io.Writer
	logger   *slog.Logger
	dryRun   bool
}

// Option configures an App.
type Option func(*App)

// WithPrompter sets where interactive answers come from.
func WithPrompter(p prompt.Prompter) Option {
	return func(a *App) { a.prompter = p }
}

// WithOutput sets where status text and the delivery report are written.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithDryRun prints the composed messages instead of delivering them.
func WithDryRun(dryRun bool) Option {
	return func(a *App) { a.dryRun = dryRun }
}

// New creates an App for cfg. Without options it prompts on the terminal
// and writes to stdout.
func New(cfg *config.Config, opts ...Option) *App {
	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.out == nil {
		a.out = os.Stdout
	}
	if a.prompter == nil {
		a.prompter = prompt.NewTerminalWith(os.Stdin, a.out)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Run performs the merge. The returned outcome is nil when the run stopped
// before reaching the dispatcher.
func (a *App) Run(ctx context.Context) (*dispatch.Outcome, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}

	resolver := identity.NewResolver(a.prompter, a.logger)

	sender, err := resolver.Sender(ctx, a.cfg.Sender.Address, a.cfg.Sender.Domains)
	if err != nil {
		return nil, err
	}

	result, err := recipient.NewLoader(a.logger).Load(a.cfg.Recipients.File)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("recipients loaded",
		"file", a.cfg.Recipients.File,
		"records", len(result.Records),
		"skipped", len(result.Skipped),
	)

	msgs := compose.Compose(sender, result.Records)
	if _, err := compose.Attach(msgs, a.cfg.Attachments.Dir, a.logger); err != nil {
		return nil, err
	}

	prov, err := a.selectProvider(ctx, resolver, sender)
	if err != nil {
		return nil, err
	}

	d := dispatch.New(prov, a.prompter,
		dispatch.WithOutput(a.out),
		dispatch.WithLogger(a.logger),
		dispatch.WithMaxAuthAttempts(a.cfg.SMTP.MaxAuthAttempts),
	)
	return d.Run(ctx, sender, msgs)
}

// selectProvider builds the delivery backend named by the configuration.
func (a *App) selectProvider(ctx context.Context, resolver *identity.Resolver, sender string) (provider.Provider, error) {
	if a.dryRun {
		a.logger.Info("dry run, printing messages instead of sending them")
		return stdout.NewWithWriter(a.out), nil
	}

	switch a.cfg.Provider {
	case config.ProviderSES:
		a.logger.Info("using AWS SES provider", "region", a.cfg.SES.Region)
		return ses.New(ctx, ses.SESProviderConfig{
			Region:          a.cfg.SES.Region,
			AccessKeyID:     a.cfg.SES.AccessKeyID,
			SecretAccessKey: a.cfg.SES.SecretAccessKey,
		}, a.logger)

	case config.ProviderResend:
		a.logger.Info("using Resend provider")
		return resend.New(resend.Config{APIKey: a.cfg.Resend.APIKey}, a.logger), nil

	case config.ProviderGraph:
		a.logger.Info("using Microsoft Graph provider", "tenant", a.cfg.Graph.TenantID)
		return graph.New(graph.Config{
			TenantID:     a.cfg.Graph.TenantID,
			ClientID:     a.cfg.Graph.ClientID,
			ClientSecret: a.cfg.Graph.ClientSecret,
			Timeout:      a.cfg.SMTP.Timeout,
		}, a.logger), nil

	case config.ProviderStdout:
		a.logger.Info("using stdout provider")
		return stdout.NewWithWriter(a.out), nil

	case config.ProviderSMTP:
		host, err := resolver.Host(ctx, sender, a.cfg.SMTP.Host, a.cfg.SMTP.Hosts)
		if err != nil {
			return nil, err
		}

		tlsConfig, err := mmtls.ClientConfig(host, a.cfg.SMTP.CAFile, a.cfg.SMTP.InsecureSkipVerify)
		if err != nil {
			return nil, runerr.Fatalf(runerr.KindConfig, err, "failed to set up TLS for %s", host)
		}
		if a.cfg.SMTP.InsecureSkipVerify {
			a.logger.Warn("TLS certificate verification is disabled", "host", host)
		}

		a.logger.Debug("using SMTP provider", "host", host, "port", a.cfg.SMTP.Port)
		return smtp.New(smtp.Config{
			Host:      host,
			Port:      a.cfg.SMTP.Port,
			Timeout:   a.cfg.SMTP.Timeout,
			TLSConfig: tlsConfig,
		}, a.logger), nil

	default:
		return nil, runerr.Fatalf(runerr.KindConfig, nil, "unknown provider %q", a.cfg.Provider)
	}
}
