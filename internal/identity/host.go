package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/shineum/smtp-mailmerge/internal/validate"
)

// DefaultHosts maps well-known sender domains to their SMTP submission host.
var DefaultHosts = map[string]string{
	"gmail.com":    "smtp.gmail.com",
	"outlook.com":  "smtp-mail.outlook.com",
	"yahoo.com":    "smtp.mail.yahoo.com",
	"zohomail.com": "smtp.zoho.com",
}

// DefaultDomains returns the domains of DefaultHosts in a stable order.
func DefaultDomains() []string {
	return []string{"gmail.com", "outlook.com", "yahoo.com", "zohomail.com"}
}

// LookupHost returns the SMTP host for sender from hosts, matching on the
// address suffix.
func LookupHost(sender string, hosts map[string]string) (string, bool) {
	best := ""
	for domain := range hosts {
		// Longest suffix wins so "mail.example.com" beats "example.com".
		if strings.HasSuffix(sender, domain) && len(domain) > len(best) {
			best = domain
		}
	}
	if best == "" {
		return "", false
	}
	return hosts[best], true
}

// Host resolves the SMTP host for sender. A configured override wins, then
// the lookup table; otherwise the operator is asked until a well-formed
// hostname is entered. Table entries and overrides are not pattern-checked.
func (r *Resolver) Host(ctx context.Context, sender, override string, hosts map[string]string) (string, error) {
	if override = strings.TrimSpace(override); override != "" {
		return override, nil
	}

	if host, ok := LookupHost(sender, hosts); ok {
		r.logger.Debug("smtp host resolved from table", "sender", sender, "host", host)
		return host, nil
	}

	for {
		host, err := r.prompter.Ask(ctx, fmt.Sprintf("Enter SMTP Server Address for %s to connect to: ", sender))
		if err != nil {
			return "", promptFailed(err, "failed to read SMTP server address")
		}
		if validate.IsValidSMTPHostname(host) {
			return host, nil
		}
		r.logger.Warn(fmt.Sprintf("%s is not in the correct format for an SMTP Server Address", host))
	}
}
