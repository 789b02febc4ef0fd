// Package identity resolves who the mail merge sends as and which SMTP host
// serves that sender.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shineum/smtp-mailmerge/internal/prompt"
	"github.com/shineum/smtp-mailmerge/internal/runerr"
	"github.com/shineum/smtp-mailmerge/internal/validate"
)

// Resolver obtains the sender address and SMTP host, prompting when needed.
type Resolver struct {
	prompter prompt.Prompter
	logger   *slog.Logger
}

// NewResolver creates a Resolver. A nil logger falls back to slog.Default().
func NewResolver(p prompt.Prompter, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{prompter: p, logger: logger}
}

// ValidateDomains checks that every allowed sender domain is well formed.
func ValidateDomains(domains []string) error {
	if len(domains) == 0 {
		return runerr.Fatalf(runerr.KindConfig, nil, "no sender email domain configured")
	}
	for _, d := range domains {
		if !validate.IsValidDomain(d) {
			return runerr.Fatalf(runerr.KindConfig, nil, "the email domain %q is not in the correct format", d)
		}
	}
	return nil
}

// CheckSender reports whether address is well formed and belongs to one of domains.
func CheckSender(address string, domains []string) bool {
	if !validate.IsValidEmailAddress(address) {
		return false
	}
	for _, d := range domains {
		if strings.HasSuffix(address, d) {
			return true
		}
	}
	return false
}

// Sender returns preset if it is non-empty and acceptable; otherwise it asks
// for the address twice until both entries match. Rejected or mismatched
// entries are reported and asked again; only a prompt failure ends the loop.
func (r *Resolver) Sender(ctx context.Context, preset string, domains []string) (string, error) {
	if err := ValidateDomains(domains); err != nil {
		return "", err
	}

	if preset != "" {
		if !CheckSender(preset, domains) {
			return "", runerr.Fatalf(runerr.KindConfig, nil,
				"configured sender %q is not a(n) %s address", preset, describe(domains))
		}
		return preset, nil
	}

	label := describe(domains)
	for {
		address, err := r.prompter.Ask(ctx, fmt.Sprintf("Enter sender %s email address: ", label))
		if err != nil {
			return "", promptFailed(err, "failed to read sender address")
		}

		if !CheckSender(address, domains) {
			r.logger.Warn(fmt.Sprintf("%s is not a(n) %s address", address, label))
			continue
		}

		confirm, err := r.prompter.Ask(ctx, fmt.Sprintf("Confirm sender %s email address: ", label))
		if err != nil {
			return "", promptFailed(err, "failed to read sender address confirmation")
		}
		if address != confirm {
			r.logger.Warn(fmt.Sprintf("%q and %q do not match", address, confirm))
			continue
		}

		r.logger.Debug("sender confirmed", "sender", address)
		return address, nil
	}
}

// describe names the provider(s) behind domains, e.g. "gmail" or
// "gmail/outlook".
func describe(domains []string) string {
	names := make([]string, 0, len(domains))
	for _, d := range domains {
		name, _, _ := strings.Cut(d, ".")
		names = append(names, name)
	}
	return strings.Join(names, "/")
}

// promptFailed reports a prompt error as fatal: an interrupt when the
// context ended, otherwise an input error.
func promptFailed(err error, msg string) error {
	if cerr := runerr.FromContext(err, "%s", msg); cerr != nil {
		return cerr
	}
	return runerr.Fatalf(runerr.KindInput, err, "%s", msg)
}
