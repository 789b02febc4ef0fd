// Package validate holds the address and hostname syntax checks shared by the
// recipient loader and the interactive prompts.
package validate

import "regexp"

// Only lowercase ASCII letters and digits are accepted. The local part is one
// or two alphanumeric runs joined by a single '.', '-' or '_'.
var (
	emailPattern    = regexp.MustCompile(`^[a-z0-9]+[._-]?[a-z0-9]+[._-]?[a-z0-9]*@[a-z0-9]+\.[a-z0-9]+(\.[a-z0-9]+)?$`)
	hostnamePattern = regexp.MustCompile(`^[a-z0-9]+\.[a-z0-9]+(\.[a-z0-9]*)?$`)
)

// IsValidEmailAddress reports whether s looks like local@host with two or
// three dotted host labels.
func IsValidEmailAddress(s string) bool {
	return emailPattern.MatchString(s)
}

// IsValidSMTPHostname reports whether s is a two- or three-label dotted hostname.
func IsValidSMTPHostname(s string) bool {
	return hostnamePattern.MatchString(s)
}

// IsValidDomain reports whether s is usable as a sender domain such as
// "gmail.com". Domains follow the hostname rules.
func IsValidDomain(s string) bool {
	return hostnamePattern.MatchString(s)
}
