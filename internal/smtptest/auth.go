package smtptest

import (
	"crypto/subtle"
	"errors"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// credentials checks AUTH attempts against the configured account.
type credentials struct {
	username string
	password string
}

// enabled returns true if credentials are configured.
func (c credentials) enabled() bool {
	return c.username != "" || c.password != ""
}

// verify compares username and password in constant time.
func (c credentials) verify(username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(c.password)) == 1
	if !userOK || !passOK {
		return errors.New("authentication failed")
	}
	return nil
}

// plainServer returns a SASL PLAIN server that marks sess authenticated on
// success and answers 535 otherwise.
func (c credentials) plainServer(sess *session) sasl.Server {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if identity != "" && identity != username {
			sess.server.authFailed()
			return smtp.ErrAuthFailed
		}
		if err := c.verify(username, password); err != nil {
			sess.server.authFailed()
			return smtp.ErrAuthFailed
		}
		sess.authenticated = true
		return nil
	})
}
