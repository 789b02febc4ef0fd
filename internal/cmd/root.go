/*
Package cmd provides the CLI for the mail merge.
*/
package cmd

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/shineum/smtp-mailmerge/internal/app"
	"github.com/shineum/smtp-mailmerge/internal/config"
	"github.com/shineum/smtp-mailmerge/internal/runerr"
)

type options struct {
	configFile  string
	recipients  string
	attachments string
	sender      string
	provider    string
	logLevel    string
	dryRun      bool
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "mailmerge",
		Short: "Send a personalized email to every recipient in a CSV file",
		Long: `mailmerge reads name, email, subject and body columns from a CSV file,
attaches every file in the attachments directory and sends one message per
recipient over an authenticated SMTP-over-TLS connection.

Example:
  mailmerge                                  # email_list.csv, attachments/
  mailmerge -f people.csv -a files/          # other input locations
  mailmerge --sender john@gmail.com --dry-run`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "YAML configuration file (optional)")
	flags.StringVarP(&opts.recipients, "file", "f", "", "recipient CSV file (default email_list.csv)")
	flags.StringVarP(&opts.attachments, "attachments", "a", "", "attachments directory (default attachments)")
	flags.StringVar(&opts.sender, "sender", "", "sender address; prompted for when empty")
	flags.StringVar(&opts.provider, "provider", "", "delivery provider: smtp, ses, resend, graph or stdout")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "print the messages instead of sending them")

	return cmd
}

// Execute runs the root command until it finishes or the process is
// interrupted. The returned error carries the exit status, see runerr.ExitCode.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err != nil {
		reportError(slog.Default(), err)
	}
	return err
}

// reportError logs a run-ending error with a diagnostic specific to its kind.
func reportError(logger *slog.Logger, err error) {
	logger.Error(runerr.Summary(err), "kind", runerr.KindOf(err), "error", err)
}

func run(cmd *cobra.Command, opts options) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return runerr.Fatalf(runerr.KindConfig, err, "failed to load .env")
	}

	cfg, err := loadConfig(opts.configFile)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg, opts)

	out := cmd.OutOrStdout()
	logger, err := newLogger(out, cfg.Logging.Level)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	logger.Debug("configuration loaded", "config", cfg.String())

	_, err = app.New(cfg,
		app.WithOutput(out),
		app.WithLogger(logger),
		app.WithDryRun(opts.dryRun),
	).Run(cmd.Context())
	return err
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// applyFlags gives explicitly set flags the last word.
func applyFlags(cmd *cobra.Command, cfg *config.Config, opts options) {
	flags := cmd.Flags()
	if flags.Changed("file") {
		cfg.Recipients.File = opts.recipients
	}
	if flags.Changed("attachments") {
		cfg.Attachments.Dir = opts.attachments
	}
	if flags.Changed("sender") {
		cfg.Sender.Address = opts.sender
	}
	if flags.Changed("provider") {
		cfg.Provider = opts.provider
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
}

// newLogger returns a slog logger writing human-readable lines to w.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, runerr.Fatalf(runerr.KindConfig, err, "invalid log level %q", level)
	}
	handler := log.NewWithOptions(w, log.Options{Level: lvl})
	return slog.New(handler), nil
}
