package email

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"
)

// Bytes serializes the message as RFC 5322 text. Messages without attachments
// are a single text/plain part; otherwise multipart/mixed.
func (e *Email) Bytes() ([]byte, error) {
	return e.render(time.Now())
}

func (e *Email) render(now time.Time) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", e.From)
	fmt.Fprintf(&buf, "To: %s\r\n", (&mail.Address{Name: e.RecipientName, Address: e.To}).String())
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", e.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", now.Format(time.RFC1123Z))
	if e.MessageID != "" {
		fmt.Fprintf(&buf, "Message-ID: %s\r\n", e.MessageID)
	}
	buf.WriteString("MIME-Version: 1.0\r\n")

	if len(e.Attachments) == 0 {
		buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
		buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
		if err := writeQuotedPrintable(&buf, e.TextBody); err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}
		return buf.Bytes(), nil
	}

	writer := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", writer.Boundary())

	bodyHeader := make(textproto.MIMEHeader)
	bodyHeader.Set("Content-Type", "text/plain; charset=UTF-8")
	bodyHeader.Set("Content-Transfer-Encoding", "quoted-printable")
	part, err := writer.CreatePart(bodyHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create body part: %w", err)
	}
	if err := writeQuotedPrintable(part, e.TextBody); err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}

	for _, att := range e.Attachments {
		attHeader := make(textproto.MIMEHeader)
		attHeader.Set("Content-Type", att.ContentType)
		attHeader.Set("Content-Transfer-Encoding", "base64")
		attHeader.Set("Content-Disposition",
			mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename}))

		part, err := writer.CreatePart(attHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part for %s: %w", att.Filename, err)
		}
		if _, err := part.Write([]byte(encodeBase64WithLineBreaks(att.Content))); err != nil {
			return nil, fmt.Errorf("failed to write attachment %s: %w", att.Filename, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writeQuotedPrintable(w io.Writer, body string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(body)); err != nil {
		return err
	}
	return qp.Close()
}

// encodeBase64WithLineBreaks encodes bytes to base64 with 76-character line breaks per RFC 2045.
func encodeBase64WithLineBreaks(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for i := 0; i < len(encoded); i += 76 {
		end := min(i+76, len(encoded))
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, "\r\n")
}
