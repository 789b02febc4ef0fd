// Package stdout implements a Provider that prints emails to standard output.
// It backs the --dry-run mode.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/smtp-mailmerge/internal/email"
	"github.com/shineum/smtp-mailmerge/internal/provider"
)

// Provider prints email messages to stdout in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

var _ provider.Provider = (*Provider)(nil)

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Connect is a no-op.
func (p *Provider) Connect(_ context.Context) error {
	return nil
}

// Send prints the email message in a readable format.
// It always returns nil (success).
func (p *Provider) Send(_ context.Context, msg *email.Email) error {
	var b strings.Builder

	b.WriteString("========================================\n")
	b.WriteString(fmt.Sprintf("From: %s\n", msg.From))
	b.WriteString(fmt.Sprintf("To: %s\n", msg.Display()))
	b.WriteString(fmt.Sprintf("Subject: %s\n", msg.Subject))
	if msg.MessageID != "" {
		b.WriteString(fmt.Sprintf("Message-ID: %s\n", msg.MessageID))
	}
	b.WriteString("Body:\n")
	b.WriteString(msg.TextBody + "\n")

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s, %s)", att.Filename, att.ContentType, formatSize(len(att.Content))))
		}
		b.WriteString(fmt.Sprintf("Attachments: %s\n", strings.Join(attachments, ", ")))
	}

	b.WriteString("========================================\n")

	// A dry run has nothing to deliver, so write errors are ignored.
	_, _ = fmt.Fprint(p.writer, b.String())
	return nil
}

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
