package prompt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminal_Ask(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	term := NewTerminalWith(strings.NewReader("john@gmail.com\r\nsecond\n"), &out)

	got, err := term.Ask(context.Background(), "Enter sender gmail email address: ")
	require.NoError(t, err)
	assert.Equal(t, "john@gmail.com", got)
	assert.Equal(t, "Enter sender gmail email address: ", out.String())

	got, err = term.Ask(context.Background(), "again: ")
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	_, err = term.Ask(context.Background(), "eof: ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestTerminal_AskSecretWithoutTTY(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	term := NewTerminalWith(strings.NewReader("hunter2"), &out)

	got, err := term.AskSecret(context.Background(), "Password: ")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}

func TestTerminal_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	term := NewTerminalWith(strings.NewReader("ignored\n"), io.Discard)
	_, err := term.Ask(ctx, "label")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTerminal_CancelWhileWaiting(t *testing.T) {
	t.Parallel()

	r, w := io.Pipe()
	t.Cleanup(func() { _ = w.Close() })
	term := NewTerminalWith(r, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() {
		_, err := term.Ask(ctx, "Enter sender gmail email address: ")
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Ask still blocked after cancel")
	}

	// The abandoned read delivers its line to the next prompt.
	go func() { _, _ = w.Write([]byte("late@gmail.com\n")) }()
	got, err := term.Ask(context.Background(), "again: ")
	require.NoError(t, err)
	assert.Equal(t, "late@gmail.com", got)
}

func TestTerminal_CancelSecretWithoutTTY(t *testing.T) {
	t.Parallel()

	r, w := io.Pipe()
	t.Cleanup(func() { _ = w.Close() })
	term := NewTerminalWith(r, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := term.AskSecret(ctx, "Password: ")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScripted(t *testing.T) {
	t.Parallel()

	s := NewScripted("a", "b")
	ctx := context.Background()

	got, err := s.Ask(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, "a", got)

	got, err = s.AskSecret(ctx, "second")
	require.NoError(t, err)
	assert.Equal(t, "b", got)

	_, err = s.Ask(ctx, "third")
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"first", "second", "third"}, s.Labels)
}
