package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_ValidYAML(t *testing.T) {
	yaml := `
vault:
  name: azureidentityvault
  secret: mylittlesecret
  timeout: 15s

credential:
  tenant_id: 00000000-0000-0000-0000-000000000000
  sources: [managed_identity, azure_cli]

server:
  listen: ":7071"

keys:
  - name: default
    key_env: VAULTFETCH_FUNCTION_KEY

log:
  level: DEBUG
  format: console
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.VaultURL() != "https://azureidentityvault.vault.azure.net/" {
		t.Errorf("unexpected vault url: %s", cfg.VaultURL())
	}
	if cfg.Vault.Secret != "mylittlesecret" {
		t.Errorf("expected secret 'mylittlesecret', got %s", cfg.Vault.Secret)
	}
	if cfg.Timeout() != 15*time.Second {
		t.Errorf("expected timeout 15s, got %v", cfg.Timeout())
	}
	if cfg.Server.Listen != ":7071" {
		t.Errorf("expected listen :7071, got %s", cfg.Server.Listen)
	}
	if cfg.Server.Route != DefaultRoute {
		t.Errorf("expected default route, got %s", cfg.Server.Route)
	}
	if len(cfg.Keys) != 1 || cfg.Keys[0].KeyEnv != "VAULTFETCH_FUNCTION_KEY" {
		t.Errorf("unexpected keys: %+v", cfg.Keys)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected level to be lowercased, got %s", cfg.Log.Level)
	}
	sources := cfg.CredentialSources()
	if len(sources) != 2 || sources[0] != SourceManagedIdentity || sources[1] != SourceAzureCLI {
		t.Errorf("unexpected sources: %v", sources)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("vault:\n  name: kv1\n  secret: s\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Listen != ":8080" {
		t.Errorf("expected default listen :8080, got %s", cfg.Server.Listen)
	}
	if cfg.Server.MetricsPath != "/metrics" {
		t.Errorf("expected default metrics path, got %s", cfg.Server.MetricsPath)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
	if cfg.Timeout() != 0 {
		t.Errorf("expected no timeout, got %v", cfg.Timeout())
	}
	if cfg.Tracing.SampleRate != 1.0 {
		t.Errorf("expected sample rate 1.0, got %v", cfg.Tracing.SampleRate)
	}
}

func TestLoadConfig_URLTakesPrecedence(t *testing.T) {
	yaml := `
vault:
  name: ignored
  url: https://kv.vault.azure.cn/
  secret: s
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.VaultURL() != "https://kv.vault.azure.cn/" {
		t.Errorf("unexpected vault url: %s", cfg.VaultURL())
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing secret", "vault:\n  name: kv1\n", "missing secret"},
		{"missing vault", "vault:\n  secret: s\n", "missing name or url"},
		{"bad vault name", "vault:\n  name: 1-bad_name\n  secret: s\n", "invalid name"},
		{"http url", "vault:\n  url: http://kv.vault.azure.net/\n  secret: s\n", "https"},
		{"bad timeout", "vault:\n  name: kv1\n  secret: s\n  timeout: soon\n", "invalid timeout"},
		{"unknown source", "vault:\n  name: kv1\n  secret: s\ncredential:\n  sources: [magic]\n", "unknown source"},
		{"env_token without env", "vault:\n  name: kv1\n  secret: s\ncredential:\n  sources: [env_token]\n", "requires token_env"},
		{"key without env", "vault:\n  name: kv1\n  secret: s\nkeys:\n  - name: a\n", "missing key_env"},
		{"duplicate key", "vault:\n  name: kv1\n  secret: s\nkeys:\n  - {name: a, key_env: A}\n  - {name: a, key_env: B}\n", "duplicate"},
		{"bad route", "vault:\n  name: kv1\n  secret: s\nserver:\n  route: api\n", "must start with /"},
		{"bad listen", "vault:\n  name: kv1\n  secret: s\nserver:\n  listen: localhost\n", "listen"},
		{"bad log format", "vault:\n  name: kv1\n  secret: s\nlog:\n  format: xml\n", "invalid format"},
		{"unknown field", "vault:\n  name: kv1\n  secret: s\n  colour: blue\n", "parse yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("vault:\n  name: fromfile\n  secret: filesecret\n"), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("VAULTFETCH_VAULT_NAME", "fromenv")
	t.Setenv("VAULTFETCH_SECRET_NAME", "mylittlesecret")
	t.Setenv("VAULTFETCH_LISTEN", ":9000")
	t.Setenv("FUNCTIONS_CUSTOMHANDLER_PORT", "7071")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Vault.Name != "fromenv" {
		t.Errorf("expected env vault name, got %s", cfg.Vault.Name)
	}
	if cfg.Vault.Secret != "mylittlesecret" {
		t.Errorf("expected env secret name, got %s", cfg.Vault.Secret)
	}
	if cfg.Server.Listen != ":7071" {
		t.Errorf("expected Functions host port to win, got %s", cfg.Server.Listen)
	}
}

func TestLoad_NoFileUsesEnvAndOverrides(t *testing.T) {
	t.Setenv("VAULTFETCH_VAULT_NAME", "fromenv")

	cfg, err := Load("", func(c *Config) {
		c.Vault.Secret = "flagsecret"
		c.Credential.Interactive = true
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Vault.Secret != "flagsecret" {
		t.Errorf("expected override secret, got %s", cfg.Vault.Secret)
	}
	sources := cfg.CredentialSources()
	if sources[len(sources)-1] != SourceInteractiveBrowser {
		t.Errorf("expected interactive_browser last, got %v", sources)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestCredentialSources_DefaultOrder(t *testing.T) {
	cfg := &Config{Credential: CredentialConfig{TokenEnv: "VAULTFETCH_ACCESS_TOKEN"}}
	sources := cfg.CredentialSources()

	want := append([]string{SourceEnvToken}, DefaultSources...)
	if len(sources) != len(want) {
		t.Fatalf("expected %v, got %v", want, sources)
	}
	for i := range want {
		if sources[i] != want[i] {
			t.Errorf("source %d: expected %s, got %s", i, want[i], sources[i])
		}
	}
}
