// Package smtptest runs an in-process SMTP server over implicit TLS for
// exercising SMTP clients in tests. Accepted messages are parsed and kept in
// an inbox.
package smtptest

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/shineum/smtp-mailmerge/internal/email"
	mmtls "github.com/shineum/smtp-mailmerge/internal/tls"
)

// Config configures a test server.
type Config struct {
	// Hostname is announced in the greeting. Defaults to "localhost".
	Hostname string

	// Username and Password are the accepted AUTH PLAIN credentials.
	// If both are empty, any MAIL is accepted without authentication.
	Username string
	Password string

	// Reject lists recipient addresses answered with 550.
	Reject []string

	// HangupAfter closes the connection when the client starts the
	// transaction after this many accepted messages. Zero disables it.
	HangupAfter int

	// StallData makes the server read the message body and then never
	// reply until Close.
	StallData bool
}

// Server is a running test server.
type Server struct {
	cfg      Config
	srv      *smtp.Server
	listener net.Listener
	cert     *tls.Certificate

	mu        sync.Mutex
	inbox     []Delivery
	authFails int

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// Delivery is a message accepted by the server.
type Delivery struct {
	From    string
	To      []string
	Raw     []byte
	Message *email.Email
}

// NewServer starts a server on a random loopback port with a fresh
// self-signed certificate. Call Close when done.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}

	tlsConfig, err := mmtls.ServerConfig("", "")
	if err != nil {
		return nil, fmt.Errorf("failed to build server TLS config: %w", err)
	}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		listener: ln,
		cert:     &tlsConfig.Certificates[0],
		done:     make(chan struct{}),
	}

	srv := smtp.NewServer(&backend{server: s})
	srv.Domain = cfg.Hostname
	srv.TLSConfig = tlsConfig
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.MaxMessageBytes = 10 * 1024 * 1024
	srv.MaxRecipients = 50
	s.srv = srv

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
			slog.Debug("test smtp server stopped", "error", err)
		}
	}()

	return s, nil
}

// Close stops the server and waits for the accept loop to exit. It is safe
// to call before the accept loop has started.
func (s *Server) Close() error {
	s.closeOnce.Do(func() { close(s.done) })

	err := s.srv.Close()
	// Serve may not have registered the listener yet.
	if lerr := s.listener.Close(); lerr != nil && !errors.Is(lerr, net.ErrClosed) && err == nil {
		err = lerr
	}
	s.wg.Wait()
	if errors.Is(err, smtp.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the listener host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listener port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// CertPool returns a pool that trusts the server certificate.
func (s *Server) CertPool() *x509.CertPool {
	pool, err := mmtls.CertPool(s.cert)
	if err != nil {
		return x509.NewCertPool()
	}
	return pool
}

// CertPEM returns the server certificate in PEM form, suitable for a CA file.
func (s *Server) CertPEM() []byte {
	return mmtls.EncodeCertPEM(s.cert)
}

// ClientTLSConfig returns a client configuration that verifies the server.
func (s *Server) ClientTLSConfig() *tls.Config {
	return &tls.Config{
		ServerName: s.Host(),
		RootCAs:    s.CertPool(),
		MinVersion: tls.VersionTLS12,
	}
}

// Inbox returns a copy of the accepted messages in arrival order.
func (s *Server) Inbox() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Delivery, len(s.inbox))
	copy(out, s.inbox)
	return out
}

// AuthFailures returns the number of rejected AUTH attempts.
func (s *Server) AuthFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authFails
}

func (s *Server) deliver(d Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox = append(s.inbox, d)
}

func (s *Server) delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inbox)
}

func (s *Server) authFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authFails++
}

func (s *Server) rejects(rcpt string) bool {
	for _, r := range s.cfg.Reject {
		if r == rcpt {
			return true
		}
	}
	return false
}
