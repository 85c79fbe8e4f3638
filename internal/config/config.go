// Package config binds the regconsole command-line flags and REGCONSOLE_*
// environment variables into a validated Config.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmcleod/regconsole/internal/util"
)

const (
	EnvPrefix          = "REGCONSOLE"
	DefaultRegistryURL = "https://api.gbif.org/v1/"
	credentialDBName   = "session.db"
)

// Config holds the settings shared by every regconsole command.
type Config struct {
	RegistryURL string `mapstructure:"registry-url"`
	DataDir     string `mapstructure:"data-dir"`
	SealSecret  string `mapstructure:"seal-secret"`
	AuthStatus  int    `mapstructure:"auth-status"`
	LogLevel    string `mapstructure:"log-level"`
	LogFormat   string `mapstructure:"log-format"`
}

// SetupFlags registers the shared persistent flags on cmd.
func SetupFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("registry-url", DefaultRegistryURL, "Base URL of the registry API")
	flags.String("data-dir", "./data", "Directory holding the persisted credential")
	flags.String("seal-secret", "", "Secret used to encrypt the persisted credential (or set REGCONSOLE_SEAL_SECRET)")
	flags.Int("auth-status", http.StatusForbidden, "HTTP status that suspends a request until login")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-format", "json", "Log format: json or text")
}

// Bind wires cmd's persistent flags and the environment into v.
func Bind(v *viper.Viper, cmd *cobra.Command) error {
	if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return nil
}

// Load reads and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and valid.
func (c *Config) Validate() error {
	u, err := url.Parse(c.RegistryURL)
	if err != nil {
		return fmt.Errorf("invalid registry-url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("registry-url must be an absolute http(s) URL, got %q", c.RegistryURL)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data-dir is required")
	}
	if c.AuthStatus < 400 || c.AuthStatus > 599 {
		return fmt.Errorf("auth-status must be an HTTP error status, got %d", c.AuthStatus)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("log-format must be json or text, got %q", c.LogFormat)
	}
	return nil
}

// Registry returns the parsed registry base URL. Call Validate first.
func (c *Config) Registry() *url.URL {
	u, _ := url.Parse(c.RegistryURL)
	return u
}

// CredentialDBPath is the BBolt file holding the persisted credential.
func (c *Config) CredentialDBPath() string {
	return filepath.Join(c.DataDir, credentialDBName)
}

// SealingKey derives the credential sealing key. It returns nil when no
// seal secret is configured, in which case credentials are stored unsealed.
func (c *Config) SealingKey() ([]byte, error) {
	if c.SealSecret == "" {
		return nil, nil
	}
	return util.DeriveSealingKey(c.SealSecret)
}

// Logger builds the slog.Logger described by the log settings.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log-level %q: %w", s, err)
	}
	return level, nil
}
