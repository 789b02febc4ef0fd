// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the mail merge.
package config

import (
	"fmt"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/shineum/smtp-mailmerge/internal/identity"
	"github.com/shineum/smtp-mailmerge/internal/runerr"
)

// Provider names accepted by the provider setting.
const (
	ProviderSMTP   = "smtp"
	ProviderSES    = "ses"
	ProviderResend = "resend"
	ProviderGraph  = "graph"
	ProviderStdout = "stdout"
)

// Config holds the complete application configuration.
type Config struct {
	Provider    string            `yaml:"provider"`
	Sender      SenderConfig      `yaml:"sender"`
	Recipients  RecipientsConfig  `yaml:"recipients"`
	Attachments AttachmentsConfig `yaml:"attachments"`
	SMTP        SMTPConfig        `yaml:"smtp"`
	SES         SESConfig         `yaml:"ses"`
	Resend      ResendConfig      `yaml:"resend"`
	Graph       GraphConfig       `yaml:"graph"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// SenderConfig holds the sender identity. An empty Address is prompted for.
type SenderConfig struct {
	Address string   `yaml:"address"`
	Domains []string `yaml:"domains"`
}

// RecipientsConfig holds the recipient list location.
type RecipientsConfig struct {
	File string `yaml:"file"`
}

// AttachmentsConfig holds the attachments directory.
type AttachmentsConfig struct {
	Dir string `yaml:"dir"`
}

// SMTPConfig holds SMTP client configuration.
type SMTPConfig struct {
	Host               string            `yaml:"host"`
	Port               int               `yaml:"port"`
	Timeout            time.Duration     `yaml:"timeout"`
	MaxAuthAttempts    int               `yaml:"max_auth_attempts"`
	Hosts              map[string]string `yaml:"hosts"`
	CAFile             string            `yaml:"ca_file"`
	InsecureSkipVerify bool              `yaml:"insecure_skip_verify"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// ResendConfig holds Resend API configuration.
type ResendConfig struct {
	APIKey string `yaml:"api_key"`
}

// GraphConfig holds Microsoft Graph app registration credentials.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Provider: ProviderSMTP,
		Sender: SenderConfig{
			Domains: identity.DefaultDomains(),
		},
		Recipients:  RecipientsConfig{File: "email_list.csv"},
		Attachments: AttachmentsConfig{Dir: "attachments"},
		SMTP: SMTPConfig{
			Port:            465,
			Timeout:         30 * time.Second,
			MaxAuthAttempts: 3,
			Hosts:           maps.Clone(identity.DefaultHosts),
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := Default()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// fills unset fields from the defaults, then overrides with environment
// variables. Returns an error if the specified file path does not exist.
// Hosts listed in the file are added to the built-in table.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, runerr.Fatalf(runerr.KindConfig, err, "failed to read config file")
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, runerr.Fatalf(runerr.KindConfig, err, "failed to parse config file")
	}

	if err := mergo.Merge(cfg, Default()); err != nil {
		return nil, runerr.Fatalf(runerr.KindConfig, err, "failed to apply config defaults")
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// Validate checks settings that would otherwise fail late in the run.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderSMTP, ProviderStdout:
	case ProviderSES:
		if !c.SESConfigured() {
			return runerr.Fatalf(runerr.KindConfig, nil, "provider %q requires ses.region (SES_REGION)", c.Provider)
		}
	case ProviderResend:
		if !c.ResendConfigured() {
			return runerr.Fatalf(runerr.KindConfig, nil, "provider %q requires resend.api_key (RESEND_API_KEY)", c.Provider)
		}
	case ProviderGraph:
		if !c.GraphConfigured() {
			return runerr.Fatalf(runerr.KindConfig, nil,
				"provider %q requires GRAPH_TENANT_ID, GRAPH_CLIENT_ID and GRAPH_CLIENT_SECRET", c.Provider)
		}
	default:
		return runerr.Fatalf(runerr.KindConfig, nil,
			"unknown provider %q (want smtp, ses, resend, graph or stdout)", c.Provider)
	}

	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		return runerr.Fatalf(runerr.KindConfig, nil, "smtp port %d is out of range", c.SMTP.Port)
	}
	if c.SMTP.MaxAuthAttempts < 1 {
		return runerr.Fatalf(runerr.KindConfig, nil, "smtp max_auth_attempts must be at least 1")
	}
	return identity.ValidateDomains(c.Sender.Domains)
}

// SESConfigured returns true if an SES region is set. Credentials may come
// from the default AWS chain.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// ResendConfigured returns true if a Resend API key is set.
func (c *Config) ResendConfigured() bool {
	return c.Resend.APIKey != ""
}

// GraphConfigured returns true if all Graph credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" && c.Graph.ClientID != "" && c.Graph.ClientSecret != ""
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	if v := os.Getenv("SENDER_ADDRESS"); v != "" {
		c.Sender.Address = strings.TrimSpace(v)
	}
	if v := os.Getenv("SENDER_DOMAINS"); v != "" {
		c.Sender.Domains = splitList(v)
	}

	if v := os.Getenv("RECIPIENTS_FILE"); v != "" {
		c.Recipients.File = v
	}
	if v := os.Getenv("ATTACHMENTS_DIR"); v != "" {
		c.Attachments.Dir = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = port
		}
	}
	if v := os.Getenv("SMTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SMTP.Timeout = d
		}
	}
	if v := os.Getenv("SMTP_CA_FILE"); v != "" {
		c.SMTP.CAFile = v
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}

	if v := os.Getenv("RESEND_API_KEY"); v != "" {
		c.Resend.APIKey = v
	}

	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		c.Graph.TenantID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		c.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		c.Graph.ClientSecret = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// String renders the configuration with secrets masked, for debug logs.
func (c *Config) String() string {
	masked := *c
	masked.SES.SecretAccessKey = mask(c.SES.SecretAccessKey)
	masked.Resend.APIKey = mask(c.Resend.APIKey)
	masked.Graph.ClientSecret = mask(c.Graph.ClientSecret)
	out, err := yaml.Marshal(&masked)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}
