// Package email defines the composed message model handed from the composer
// to the delivery providers.
package email

import (
	"fmt"
	"strings"
)

// Email is one personalized, ready-to-send message.
type Email struct {
	From          string
	To            string
	RecipientName string
	Subject       string
	TextBody      string
	MessageID     string
	Attachments   []Attachment
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Display returns the recipient in "Name <address>" form.
func (e *Email) Display() string {
	return Recipient(e.RecipientName, e.To)
}

// HasAttachment reports whether a file with the given name is already attached.
func (e *Email) HasAttachment(filename string) bool {
	for _, att := range e.Attachments {
		if att.Filename == filename {
			return true
		}
	}
	return false
}

// Recipient formats a name and address as "Name <address>".
// Returns just the address if name is empty.
func Recipient(name, address string) string {
	if strings.TrimSpace(name) == "" {
		return address
	}
	return fmt.Sprintf("%s <%s>", name, address)
}

// Domain returns the part of address after the last '@', or "" if there is none.
func Domain(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return ""
	}
	return address[at+1:]
}
