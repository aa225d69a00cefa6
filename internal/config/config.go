package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Credential source names accepted in credential.sources.
const (
	SourceEnvToken           = "env_token"
	SourceEnvironment        = "environment"
	SourceWorkloadIdentity   = "workload_identity"
	SourceManagedIdentity    = "managed_identity"
	SourceAzureCLI           = "azure_cli"
	SourceAzureDeveloperCLI  = "azure_developer_cli"
	SourceInteractiveBrowser = "interactive_browser"
)

// DefaultSources is the resolution order used when credential.sources is empty.
var DefaultSources = []string{
	SourceEnvironment,
	SourceWorkloadIdentity,
	SourceManagedIdentity,
	SourceAzureCLI,
	SourceAzureDeveloperCLI,
}

var validSources = map[string]bool{
	SourceEnvToken:           true,
	SourceEnvironment:        true,
	SourceWorkloadIdentity:   true,
	SourceManagedIdentity:    true,
	SourceAzureCLI:           true,
	SourceAzureDeveloperCLI:  true,
	SourceInteractiveBrowser: true,
}

var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Key Vault names: 3-24 characters, alphanumerics and hyphens, starting with
// a letter and not ending with a hyphen.
var vaultNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]{1,22}[a-zA-Z0-9]$`)

// DefaultRoute mirrors the route the Functions host assigns to an HTTP
// trigger named IdentityHttpFunction.
const DefaultRoute = "/api/IdentityHttpFunction"

// Config is the root configuration structure.
type Config struct {
	Vault      VaultConfig      `yaml:"vault"`
	Credential CredentialConfig `yaml:"credential"`
	Server     ServerConfig     `yaml:"server"`
	Keys       []KeyConfig      `yaml:"keys,omitempty"`
	Log        LogConfig        `yaml:"log"`
	Tracing    TracingConfig    `yaml:"tracing,omitempty"`

	timeout time.Duration
}

// VaultConfig identifies the secret to fetch.
type VaultConfig struct {
	Name    string `yaml:"name,omitempty"`    // Builds https://{name}.vault.azure.net/
	URL     string `yaml:"url,omitempty"`     // Full vault URL, takes precedence over name
	Secret  string `yaml:"secret"`            // Secret name
	Version string `yaml:"version,omitempty"` // Empty means latest
	Timeout string `yaml:"timeout,omitempty"` // Bound for a single fetch (e.g., "10s"), none by default
}

// CredentialConfig controls the credential chain.
type CredentialConfig struct {
	Sources                 []string `yaml:"sources,omitempty"`
	TenantID                string   `yaml:"tenant_id,omitempty"`
	ManagedIdentityClientID string   `yaml:"managed_identity_client_id,omitempty"` // User-assigned identity
	TokenEnv                string   `yaml:"token_env,omitempty"`                  // Env var holding a pre-issued access token
	Interactive             bool     `yaml:"interactive,omitempty"`                // Append interactive_browser to the chain
}

// ServerConfig holds function host settings.
type ServerConfig struct {
	Listen      string `yaml:"listen"`
	Route       string `yaml:"route,omitempty"`
	MetricsPath string `yaml:"metrics_path,omitempty"`
	Anonymous   bool   `yaml:"anonymous,omitempty"` // Serve the route without function keys
}

// KeyConfig defines a function key a caller may present.
type KeyConfig struct {
	Name   string `yaml:"name"`
	KeyEnv string `yaml:"key_env"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // "json" or "console"
}

// TracingConfig holds OTLP export settings. Tracing is off without an endpoint.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint,omitempty"` // e.g., "localhost:4318"
	Insecure    bool    `yaml:"insecure,omitempty"`
	SampleRate  float64 `yaml:"sample_rate,omitempty"`
	Environment string  `yaml:"environment,omitempty"`
}

// Override adjusts a loaded configuration before defaults and validation,
// e.g. to apply command-line flags.
type Override func(*Config)

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and then the given overrides, then defaults and
// validation.
func Load(path string, overrides ...Override) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config file: %w", err)
		}
		defer f.Close()
		if err := decode(f, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv(os.Getenv)
	for _, o := range overrides {
		o(cfg)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader loads configuration from an io.Reader without consulting
// the environment.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

// applyEnv overrides file values with VAULTFETCH_* variables. The Functions
// host port wins over any configured listen address.
func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	set(&c.Vault.Name, "VAULTFETCH_VAULT_NAME")
	set(&c.Vault.URL, "VAULTFETCH_VAULT_URL")
	set(&c.Vault.Secret, "VAULTFETCH_SECRET_NAME")
	set(&c.Vault.Version, "VAULTFETCH_SECRET_VERSION")
	set(&c.Server.Listen, "VAULTFETCH_LISTEN")
	set(&c.Log.Level, "VAULTFETCH_LOG_LEVEL")
	set(&c.Log.Format, "VAULTFETCH_LOG_FORMAT")
	set(&c.Tracing.Endpoint, "VAULTFETCH_OTLP_ENDPOINT")

	if port := strings.TrimSpace(getenv("FUNCTIONS_CUSTOMHANDLER_PORT")); port != "" {
		c.Server.Listen = ":" + port
	}
}

func (c *Config) finalize() error {
	c.applyDefaults()
	return c.validate()
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.Route == "" {
		c.Server.Route = DefaultRoute
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = "/metrics"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1.0
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Vault.Secret) == "" {
		return errors.New("vault: missing secret name")
	}

	if c.Vault.URL != "" {
		u, err := url.Parse(c.Vault.URL)
		if err != nil {
			return fmt.Errorf("vault: invalid url %q: %w", c.Vault.URL, err)
		}
		if u.Scheme != "https" || u.Host == "" {
			return fmt.Errorf("vault: url %q must be an absolute https url", c.Vault.URL)
		}
	} else {
		if c.Vault.Name == "" {
			return errors.New("vault: missing name or url")
		}
		if !vaultNamePattern.MatchString(c.Vault.Name) {
			return fmt.Errorf("vault: invalid name %q", c.Vault.Name)
		}
	}

	if c.Vault.Timeout != "" {
		d, err := time.ParseDuration(c.Vault.Timeout)
		if err != nil {
			return fmt.Errorf("vault: invalid timeout %q: %w", c.Vault.Timeout, err)
		}
		if d < 0 {
			return fmt.Errorf("vault: negative timeout %q", c.Vault.Timeout)
		}
		c.timeout = d
	}

	for i, name := range c.Credential.Sources {
		if !validSources[name] {
			return fmt.Errorf("credential source %d: unknown source %q", i, name)
		}
		if name == SourceEnvToken && c.Credential.TokenEnv == "" {
			return fmt.Errorf("credential source %d: %s requires token_env", i, name)
		}
	}

	if !strings.HasPrefix(c.Server.Route, "/") {
		return fmt.Errorf("server: route %q must start with /", c.Server.Route)
	}
	if c.Server.Route == c.Server.MetricsPath {
		return fmt.Errorf("server: route and metrics_path both %q", c.Server.Route)
	}
	if _, port, err := net.SplitHostPort(c.Server.Listen); err != nil {
		return fmt.Errorf("server: invalid listen address %q: %w", c.Server.Listen, err)
	} else if _, err := strconv.Atoi(port); err != nil {
		return fmt.Errorf("server: invalid listen port %q", port)
	}

	names := make(map[string]bool)
	for i, k := range c.Keys {
		if k.Name == "" {
			return fmt.Errorf("key %d: missing name", i)
		}
		if k.KeyEnv == "" {
			return fmt.Errorf("key %q: missing key_env", k.Name)
		}
		if names[k.Name] {
			return fmt.Errorf("key %q: duplicate name", k.Name)
		}
		names[k.Name] = true
	}

	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("log: invalid level %q", c.Log.Level)
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("log: invalid format %q", c.Log.Format)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing: sample_rate %v out of range", c.Tracing.SampleRate)
	}

	return nil
}

// VaultURL returns the configured vault URL, or the public-cloud URL built
// from the vault name.
func (c *Config) VaultURL() string {
	if c.Vault.URL != "" {
		return c.Vault.URL
	}
	return fmt.Sprintf("https://%s.vault.azure.net/", c.Vault.Name)
}

// Timeout returns the per-fetch bound, zero when none is configured.
func (c *Config) Timeout() time.Duration {
	return c.timeout
}

// CredentialSources returns the ordered source names for the chain.
func (c *Config) CredentialSources() []string {
	var sources []string
	if len(c.Credential.Sources) > 0 {
		sources = append(sources, c.Credential.Sources...)
	} else {
		if c.Credential.TokenEnv != "" {
			sources = append(sources, SourceEnvToken)
		}
		sources = append(sources, DefaultSources...)
	}
	if c.Credential.Interactive && !contains(sources, SourceInteractiveBrowser) {
		sources = append(sources, SourceInteractiveBrowser)
	}
	return sources
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
