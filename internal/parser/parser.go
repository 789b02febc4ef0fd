// Package parser decodes RFC 5322 messages back into the email model. The test
// SMTP server uses it to expose what a client actually transmitted.
package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/shineum/smtp-mailmerge/internal/email"
)

var wordDecoder = new(mime.WordDecoder)

// Parse parses a raw RFC 5322 message into an Email. It handles plain text
// messages and multipart messages with attachments; HTML parts are skipped.
func Parse(raw []byte) (*email.Email, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	result := &email.Email{
		From:      msg.Header.Get("From"),
		Subject:   decodeHeader(msg.Header.Get("Subject")),
		MessageID: msg.Header.Get("Message-Id"),
	}
	result.RecipientName, result.To = parseRecipient(msg.Header.Get("To"))

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		if err := parseMultipart(msg.Body, boundary, result); err != nil {
			return nil, fmt.Errorf("failed to parse multipart message: %w", err)
		}
		return result, nil
	}

	body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	if mediaType != "text/plain" {
		slog.Warn("unrecognized top-level content type", "content_type", mediaType)
	}
	result.TextBody = string(body)

	return result, nil
}

// parseMultipart processes a multipart MIME body, extracting the first
// text/plain part and every attachment.
func parseMultipart(body io.Reader, boundary string, result *email.Email) error {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partContentType := part.Header.Get("Content-Type")
		if partContentType == "" {
			partContentType = "text/plain"
		}

		mediaType, params, err := mime.ParseMediaType(partContentType)
		if err != nil {
			slog.Warn("failed to parse part content type, skipping",
				"content_type", partContentType,
				"error", err,
			)
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			nestedBoundary := params["boundary"]
			if nestedBoundary == "" {
				slog.Warn("nested multipart missing boundary, skipping")
				continue
			}
			if err := parseMultipart(part, nestedBoundary, result); err != nil {
				slog.Warn("failed to parse nested multipart", "error", err)
			}
			continue
		}

		// multipart.Reader strips and decodes quoted-printable transparently.
		content, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			slog.Warn("failed to read part content",
				"content_type", mediaType,
				"error", err,
			)
			continue
		}

		disposition := part.Header.Get("Content-Disposition")
		if strings.HasPrefix(disposition, "attachment") || part.FileName() != "" {
			result.Attachments = append(result.Attachments, email.Attachment{
				Filename:    extractFilename(part, params),
				ContentType: mediaType,
				Content:     content,
			})
			continue
		}

		switch mediaType {
		case "text/plain":
			if result.TextBody == "" {
				result.TextBody = string(content)
			}
		default:
			slog.Warn("unrecognized MIME part, skipping",
				"content_type", mediaType,
				"disposition", disposition,
			)
		}
	}

	return nil
}

// decodeBody reads r fully and reverses its Content-Transfer-Encoding.
func decodeBody(r io.Reader, encoding string) ([]byte, error) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))

	if encoding == "quoted-printable" {
		return io.ReadAll(quotedprintable.NewReader(r))
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if encoding != "base64" {
		return raw, nil
	}

	cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 content: %w", err)
		}
	}
	return decoded, nil
}

// extractFilename extracts the filename from a MIME part, checking both
// Content-Disposition and Content-Type parameters.
func extractFilename(part *multipart.Part, params map[string]string) string {
	if fn := part.FileName(); fn != "" {
		return fn
	}
	if name, ok := params["name"]; ok && name != "" {
		return name
	}
	return "attachment"
}

// parseRecipient splits a To header into display name and address. Unparseable
// values are returned verbatim as the address.
func parseRecipient(raw string) (string, string) {
	if raw == "" {
		return "", ""
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return "", strings.TrimSpace(raw)
	}
	return addr.Name, addr.Address
}

func decodeHeader(v string) string {
	decoded, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}
