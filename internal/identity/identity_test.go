package identity

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/smtp-mailmerge/internal/prompt"
	"github.com/shineum/smtp-mailmerge/internal/runerr"
)

func newResolver(answers ...string) (*Resolver, *prompt.Scripted, *bytes.Buffer) {
	var logs bytes.Buffer
	p := prompt.NewScripted(answers...)
	return NewResolver(p, slog.New(slog.NewTextHandler(&logs, nil))), p, &logs
}

func TestSender_ConfirmedOnFirstTry(t *testing.T) {
	t.Parallel()

	r, p, _ := newResolver("john@gmail.com", "john@gmail.com")
	got, err := r.Sender(context.Background(), "", []string{"gmail.com"})
	require.NoError(t, err)
	assert.Equal(t, "john@gmail.com", got)
	assert.Equal(t, []string{
		"Enter sender gmail email address: ",
		"Confirm sender gmail email address: ",
	}, p.Labels)
}

func TestSender_RepromptsOnInvalidAndMismatch(t *testing.T) {
	t.Parallel()

	r, p, logs := newResolver(
		"John@gmail.com", // uppercase rejected
		"john@yahoo.com", // wrong domain
		"john@gmail.com", // valid
		"jon@gmail.com",  // mismatch restarts the loop
		"john@gmail.com", // valid
		"john@gmail.com", // confirmed
	)

	got, err := r.Sender(context.Background(), "", []string{"gmail.com"})
	require.NoError(t, err)
	assert.Equal(t, "john@gmail.com", got)
	assert.Len(t, p.Labels, 6)
	assert.Contains(t, logs.String(), "is not a(n) gmail address")
	assert.Contains(t, logs.String(), "do not match")
}

func TestSender_AnyOfSeveralDomains(t *testing.T) {
	t.Parallel()

	r, _, _ := newResolver("jane@outlook.com", "jane@outlook.com")
	got, err := r.Sender(context.Background(), "", DefaultDomains())
	require.NoError(t, err)
	assert.Equal(t, "jane@outlook.com", got)
}

func TestSender_PromptFailureIsFatal(t *testing.T) {
	t.Parallel()

	r, _, _ := newResolver("john@gmail.com")
	_, err := r.Sender(context.Background(), "", []string{"gmail.com"})
	require.Error(t, err)
	assert.True(t, runerr.IsFatal(err))
	assert.Equal(t, runerr.KindInput, runerr.KindOf(err))
}

func TestSender_CancelledPromptIsInterrupt(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, _, _ := newResolver("john@gmail.com", "john@gmail.com")
	_, err := r.Sender(ctx, "", []string{"gmail.com"})
	require.Error(t, err)
	assert.Equal(t, runerr.KindInterrupted, runerr.KindOf(err))
}

func TestSender_Preset(t *testing.T) {
	t.Parallel()

	r, p, _ := newResolver()
	got, err := r.Sender(context.Background(), "john@gmail.com", []string{"gmail.com"})
	require.NoError(t, err)
	assert.Equal(t, "john@gmail.com", got)
	assert.Empty(t, p.Labels)

	_, err = r.Sender(context.Background(), "john@example.com", []string{"gmail.com"})
	require.Error(t, err)
	assert.Equal(t, runerr.KindConfig, runerr.KindOf(err))
}

func TestValidateDomains(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateDomains([]string{"gmail.com", "example1.example2.com"}))

	err := ValidateDomains([]string{"example"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the correct format")
	assert.Equal(t, runerr.KindConfig, runerr.KindOf(err))

	assert.Error(t, ValidateDomains(nil))
}

func TestLookupHost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sender string
		want   string
		ok     bool
	}{
		{sender: "john@gmail.com", want: "smtp.gmail.com", ok: true},
		{sender: "john@outlook.com", want: "smtp-mail.outlook.com", ok: true},
		{sender: "john@yahoo.com", want: "smtp.mail.yahoo.com", ok: true},
		{sender: "john@zohomail.com", want: "smtp.zoho.com", ok: true},
		{sender: "john@example.com", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.sender, func(t *testing.T) {
			t.Parallel()
			got, ok := LookupHost(tt.sender, DefaultHosts)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLookupHost_LongestSuffixWins(t *testing.T) {
	t.Parallel()

	hosts := map[string]string{
		"example.com":      "smtp.example.com",
		"mail.example.com": "smtp.mail.example.com",
	}
	got, ok := LookupHost("jo@mail.example.com", hosts)
	require.True(t, ok)
	assert.Equal(t, "smtp.mail.example.com", got)
}

func TestHost(t *testing.T) {
	t.Parallel()

	t.Run("table", func(t *testing.T) {
		t.Parallel()
		r, p, _ := newResolver()
		got, err := r.Host(context.Background(), "john@gmail.com", "", DefaultHosts)
		require.NoError(t, err)
		assert.Equal(t, "smtp.gmail.com", got)
		assert.Empty(t, p.Labels)
	})

	t.Run("override", func(t *testing.T) {
		t.Parallel()
		r, _, _ := newResolver()
		got, err := r.Host(context.Background(), "john@gmail.com", "smtp.relay.example.com", DefaultHosts)
		require.NoError(t, err)
		assert.Equal(t, "smtp.relay.example.com", got)
	})

	t.Run("prompted until valid", func(t *testing.T) {
		t.Parallel()
		r, p, logs := newResolver("smtp_example_com", "smtp.example.com")
		got, err := r.Host(context.Background(), "jo@example.com", "", DefaultHosts)
		require.NoError(t, err)
		assert.Equal(t, "smtp.example.com", got)
		assert.Len(t, p.Labels, 2)
		assert.Contains(t, logs.String(), "smtp_example_com is not in the correct format")
	})

	t.Run("prompt failure", func(t *testing.T) {
		t.Parallel()
		r, _, _ := newResolver()
		_, err := r.Host(context.Background(), "jo@example.com", "", DefaultHosts)
		require.Error(t, err)
		assert.True(t, runerr.IsFatal(err))
	})
}
