package smtptest

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/shineum/smtp-mailmerge/internal/parser"
)

type backend struct {
	server *Server
}

// NewSession implements smtp.Backend.
func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &session{
		server: b.server,
		conn:   c,
		creds:  credentials{username: b.server.cfg.Username, password: b.server.cfg.Password},
	}, nil
}

// session holds one client transaction at a time.
type session struct {
	server        *Server
	conn          *smtp.Conn
	creds         credentials
	authenticated bool

	from string
	to   []string
}

var _ smtp.AuthSession = (*session)(nil)

// AuthMechanisms implements smtp.AuthSession.
func (s *session) AuthMechanisms() []string {
	if !s.creds.enabled() {
		return nil
	}
	return []string{sasl.Plain}
}

// Auth implements smtp.AuthSession.
func (s *session) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, smtp.ErrAuthUnknownMechanism
	}
	return s.creds.plainServer(s), nil
}

// Mail implements smtp.Session.
func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.creds.enabled() && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	if n := s.server.cfg.HangupAfter; n > 0 && s.server.delivered() >= n {
		slog.Debug("test smtp server hanging up", "delivered", n)
		_ = s.conn.Conn().Close()
		return &smtp.SMTPError{Code: 421, EnhancedCode: smtp.EnhancedCode{4, 4, 2}, Message: "Connection dropped"}
	}
	s.from = from
	s.to = nil
	return nil
}

// Rcpt implements smtp.Session.
func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.server.rejects(to) {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      fmt.Sprintf("Mailbox %s unavailable", to),
		}
	}
	s.to = append(s.to, to)
	return nil
}

// Data implements smtp.Session.
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if s.server.cfg.StallData {
		<-s.server.done
		return &smtp.SMTPError{Code: 421, EnhancedCode: smtp.EnhancedCode{4, 3, 0}, Message: "Server shutting down"}
	}

	msg, err := parser.Parse(raw)
	if err != nil {
		slog.Error("failed to parse message", "error", err)
		return &smtp.SMTPError{Code: 554, EnhancedCode: smtp.EnhancedCode{5, 6, 0}, Message: "Failed to process message"}
	}

	s.server.deliver(Delivery{
		From:    s.from,
		To:      append([]string(nil), s.to...),
		Raw:     bytes.Clone(raw),
		Message: msg,
	})
	return nil
}

// Reset implements smtp.Session.
func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

// Logout implements smtp.Session.
func (s *session) Logout() error {
	return nil
}
