// Package config loads casesign configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Common errors
var (
	ErrConfigurationError = errors.New("configuration error")
	ErrInvalidValue       = errors.New("invalid value")
)

// Defaults
const (
	DefaultBytesReserved  = 16 * 1024
	MinBytesReserved      = 1024
	DefaultToolkit        = "openssl"
	DefaultToolkitTimeout = 10 * time.Second
)

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is makes every ConfigError match ErrConfigurationError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfigurationError
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// SigningConfig selects and parameterises the signing strategy. Without both
// a certificate path and a password, documents get a visual stamp only.
type SigningConfig struct {
	// CertificatePath is the PKCS#12 container.
	CertificatePath string `yaml:"certificate-path" json:"certificate_path,omitempty"`

	// CertificatePassword unlocks the container.
	CertificatePassword string `yaml:"certificate-password" json:"-"`

	// ChainDir holds CA certificate files; defaults to the container's directory.
	ChainDir string `yaml:"chain-dir" json:"chain_dir,omitempty"`

	// SignerName, Location, ContactInfo and Reason are the display metadata.
	SignerName  string `yaml:"signer-name" json:"signer_name,omitempty"`
	Location    string `yaml:"location" json:"location,omitempty"`
	ContactInfo string `yaml:"contact-info" json:"contact_info,omitempty"`
	Reason      string `yaml:"reason" json:"reason,omitempty"`

	// Toolkit is the signing executable.
	Toolkit string `yaml:"toolkit" json:"toolkit,omitempty"`

	// ToolkitTimeout bounds each toolkit run.
	ToolkitTimeout time.Duration `yaml:"toolkit-timeout" json:"toolkit_timeout,omitempty"`

	// BytesReserved is the DER capacity of the signature placeholder.
	BytesReserved int `yaml:"bytes-reserved" json:"bytes_reserved,omitempty"`

	// TempDir is where per-call working directories are created.
	TempDir string `yaml:"temp-dir" json:"temp_dir,omitempty"`

	// VerifyAfterSign checks each signature before returning it. Defaults to true.
	VerifyAfterSign *bool `yaml:"verify-after-sign" json:"verify_after_sign,omitempty"`
}

// CryptoEnabled reports whether both credentials are present.
func (c *SigningConfig) CryptoEnabled() bool {
	return c.CertificatePath != "" && c.CertificatePassword != ""
}

// SetDefaults fills unset fields.
func (c *SigningConfig) SetDefaults() {
	if c.BytesReserved == 0 {
		c.BytesReserved = DefaultBytesReserved
	}
	if c.Toolkit == "" {
		c.Toolkit = DefaultToolkit
	}
	if c.ToolkitTimeout == 0 {
		c.ToolkitTimeout = DefaultToolkitTimeout
	}
	if c.ChainDir == "" && c.CertificatePath != "" {
		c.ChainDir = filepath.Dir(c.CertificatePath)
	}
	if c.VerifyAfterSign == nil {
		verify := true
		c.VerifyAfterSign = &verify
	}
}

// Validate validates the signing configuration.
func (c *SigningConfig) Validate() error {
	if c.BytesReserved < MinBytesReserved {
		return &ConfigError{
			Field:   "bytes-reserved",
			Message: fmt.Sprintf("must be at least %d, got %d", MinBytesReserved, c.BytesReserved),
			Err:     ErrInvalidValue,
		}
	}
	if c.ToolkitTimeout <= 0 {
		return &ConfigError{Field: "toolkit-timeout", Message: "must be positive", Err: ErrInvalidValue}
	}
	if c.Toolkit == "" {
		return NewConfigError("toolkit", "required field is missing")
	}
	return nil
}

// ShouldVerify returns the effective verify-after-sign setting.
func (c *SigningConfig) ShouldVerify() bool {
	return c.VerifyAfterSign == nil || *c.VerifyAfterSign
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level,omitempty"`

	// Format is the log format (console, json).
	Format string `yaml:"format" json:"format,omitempty"`

	// Output is the log output (stdout, stderr, or file path).
	Output string `yaml:"output" json:"output,omitempty"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// Config contains the complete application configuration.
type Config struct {
	Signing *SigningConfig `yaml:"signing" json:"signing,omitempty"`
	Logging *LoggingConfig `yaml:"logging" json:"logging,omitempty"`
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	if c.Signing == nil {
		c.Signing = &SigningConfig{}
	}
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Signing.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate validates every section.
func (c *Config) Validate() error {
	if c.Signing == nil {
		return NewConfigError("signing", "section is missing")
	}
	return c.Signing.Validate()
}

// Parse parses configuration from YAML data without applying defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Message: "failed to parse config", Err: err}
	}
	return &cfg, nil
}

// Load reads filename (optional), fills defaults and validates. Command line
// flags, which also carry the CASESIGN_* environment bindings, are applied
// by the caller before the configuration is used.
func Load(filename string) (*Config, error) {
	cfg := &Config{}
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, &ConfigError{Message: "failed to read config file", Err: err}
		}
		if cfg, err = Parse(data); err != nil {
			return nil, err
		}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
