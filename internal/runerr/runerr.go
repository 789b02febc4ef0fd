// Package runerr classifies mail-merge errors as fatal (run-terminating) or
// recoverable (scoped to one row or recipient) and maps them to exit codes.
package runerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies the category of a failure.
type Kind uint8

const (
	KindConfig Kind = iota + 1
	KindInput
	KindAttachment
	KindConnect
	KindDisconnected
	KindNoNetwork
	KindTimeout
	KindAuth
	KindDelivery
	KindInterrupted
)

var kindNames = map[Kind]string{
	KindConfig:       "config",
	KindInput:        "input",
	KindAttachment:   "attachment",
	KindConnect:      "connect",
	KindDisconnected: "disconnected",
	KindNoNetwork:    "no_network",
	KindTimeout:      "timeout",
	KindAuth:         "auth",
	KindDelivery:     "delivery",
	KindInterrupted:  "interrupted",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Severity tells whether the run can continue after an error.
type Severity uint8

const (
	Recoverable Severity = iota
	Fatal
)

// Exit codes returned by the mailmerge binary.
const (
	ExitOK         = 0
	ExitConfig     = 1
	ExitInput      = 2
	ExitAttachment = 3
	ExitConnection = 4
	ExitAuth       = 5

	// ExitInterrupted follows the shell convention for SIGINT.
	ExitInterrupted = 130
)

// Error is the single error type propagated through the pipeline.
type Error struct {
	Kind     Kind
	Severity Severity
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Fatal reports whether the error terminates the run.
func (e *Error) Fatal() bool { return e.Severity == Fatal }

// Fatalf builds a run-terminating error.
func Fatalf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Severity: Fatal, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Recoverablef builds an error scoped to a single row or recipient.
func Recoverablef(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Severity: Recoverable, Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsFatal reports whether err carries a fatal *Error anywhere in its chain.
// Errors that are not *Error are treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Fatal()
	}
	return true
}

// KindOf returns the kind of the first *Error in err's chain, or zero.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}

// ExitCode maps an error returned from the pipeline to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case KindInput:
		return ExitInput
	case KindAttachment:
		return ExitAttachment
	case KindConnect, KindDisconnected, KindNoNetwork, KindTimeout:
		return ExitConnection
	case KindAuth:
		return ExitAuth
	case KindInterrupted:
		return ExitInterrupted
	default:
		return ExitConfig
	}
}

var summaries = map[Kind]string{
	KindConfig:       "invalid configuration",
	KindInput:        "invalid input",
	KindAttachment:   "failed to read attachments",
	KindConnect:      "unable to connect to the mail server",
	KindDisconnected: "the mail server unexpectedly disconnected",
	KindNoNetwork:    "you are not connected to the internet",
	KindTimeout:      "connection timed out",
	KindAuth:         "authentication failed",
	KindInterrupted:  "interrupted",
}

// Summary returns a one-line operator diagnostic for err's kind.
func Summary(err error) string {
	if s, ok := summaries[KindOf(err)]; ok {
		return s
	}
	return "mail merge failed"
}

// FromContext converts a context error into a fatal one: cancellation is
// KindInterrupted and an expired deadline is KindTimeout. It returns nil if
// err is neither.
func FromContext(err error, format string, args ...any) error {
	switch {
	case errors.Is(err, context.Canceled):
		return Fatalf(KindInterrupted, err, format, args...)
	case errors.Is(err, context.DeadlineExceeded):
		return Fatalf(KindTimeout, err, format, args...)
	default:
		return nil
	}
}
