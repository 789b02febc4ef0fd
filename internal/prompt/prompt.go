// Package prompt reads interactive answers from the terminal.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter asks the operator for input.
type Prompter interface {
	// Ask prints label and returns the line typed by the user, without the
	// trailing newline.
	Ask(ctx context.Context, label string) (string, error)

	// AskSecret is like Ask but does not echo the input.
	AskSecret(ctx context.Context, label string) (string, error)
}

// Terminal is a Prompter backed by a reader and a writer, normally stdin and
// stdout. Secret input is masked when the reader is a terminal.
//
// A read abandoned because ctx was cancelled keeps running in the
// background; its answer goes to the next Ask. A Terminal is not safe for
// concurrent use.
type Terminal struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
	tty bool

	pending chan answer
}

type answer struct {
	line string
	err  error
}

// NewTerminalWith creates a Terminal over arbitrary streams. Masking is only
// enabled when in is an *os.File attached to a terminal.
func NewTerminalWith(in io.Reader, out io.Writer) *Terminal {
	t := &Terminal{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		t.fd = int(f.Fd())
		t.tty = true
	}
	return t
}

// Ask implements Prompter.
func (t *Terminal) Ask(ctx context.Context, label string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprint(t.out, label)
	return t.wait(ctx, t.readLine, nil)
}

// AskSecret implements Prompter. On cancellation the terminal echo state is
// restored.
func (t *Terminal) AskSecret(ctx context.Context, label string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprint(t.out, label)
	if !t.tty {
		return t.wait(ctx, t.readLine, nil)
	}

	state, err := term.GetState(t.fd)
	if err != nil {
		return "", fmt.Errorf("failed to read terminal state: %w", err)
	}
	restore := func() {
		_ = term.Restore(t.fd, state)
		fmt.Fprintln(t.out)
	}
	return t.wait(ctx, t.readSecret, restore)
}

// wait runs read in the background, or picks up a read left over from a
// cancelled prompt, and returns its answer or ctx.Err() if ctx is done
// first. onCancel runs before returning on cancellation.
func (t *Terminal) wait(ctx context.Context, read func() (string, error), onCancel func()) (string, error) {
	if t.pending == nil {
		ch := make(chan answer, 1)
		go func() {
			line, err := read()
			ch <- answer{line: line, err: err}
		}()
		t.pending = ch
	}

	select {
	case a := <-t.pending:
		t.pending = nil
		return a.line, a.err
	case <-ctx.Done():
		if onCancel != nil {
			onCancel()
		}
		return "", ctx.Err()
	}
}

func (t *Terminal) readSecret() (string, error) {
	secret, err := term.ReadPassword(t.fd)
	fmt.Fprintln(t.out)
	if err != nil {
		return "", fmt.Errorf("failed to read secret input: %w", err)
	}
	return string(secret), nil
}

func (t *Terminal) readLine() (string, error) {
	line, err := t.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Scripted is a Prompter that replays canned answers, for tests and
// non-interactive runs. It returns io.EOF once the answers run out.
type Scripted struct {
	Answers []string
	Labels  []string
}

// NewScripted creates a Scripted prompter with the given answers.
func NewScripted(answers ...string) *Scripted {
	return &Scripted{Answers: answers}
}

// Ask implements Prompter.
func (s *Scripted) Ask(ctx context.Context, label string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.Labels = append(s.Labels, label)
	if len(s.Answers) == 0 {
		return "", io.EOF
	}
	answer := s.Answers[0]
	s.Answers = s.Answers[1:]
	return answer, nil
}

// AskSecret implements Prompter.
func (s *Scripted) AskSecret(ctx context.Context, label string) (string, error) {
	return s.Ask(ctx, label)
}
