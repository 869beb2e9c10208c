package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jkaninda/vaultchat/internal/failure"
)

func writeSettings(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return dir
}

// noEnv keeps the real process environment out of Load.
var noEnv = WithEnviron(nil)

func TestLoad_DefaultsApplied(t *testing.T) {
	dir := writeSettings(t, "appsettings.json", `{
		"AzureOpenAI": {
			"Endpoint": "https://example.openai.azure.com/",
			"KeyVault": { "VaultUri": "https://kv.vault.azure.net/" }
		}
	}`)

	cfg, err := Load(dir, noEnv)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AzureOpenAI.Endpoint != "https://example.openai.azure.com/" {
		t.Errorf("got endpoint=%q", cfg.AzureOpenAI.Endpoint)
	}
	if cfg.AzureOpenAI.KeyVault.SecretName != "AzureOpenAI--ApiKey" {
		t.Errorf("got secretName=%q, want AzureOpenAI--ApiKey", cfg.AzureOpenAI.KeyVault.SecretName)
	}
	if cfg.AzureOpenAI.DeploymentName != "gpt-4o-mini" {
		t.Errorf("got deploymentName=%q, want gpt-4o-mini", cfg.AzureOpenAI.DeploymentName)
	}
	if cfg.AzureOpenAI.APIVersion != DefaultAPIVersion {
		t.Errorf("got apiVersion=%q, want %q", cfg.AzureOpenAI.APIVersion, DefaultAPIVersion)
	}
	if cfg.Agent.Name != "Joker" {
		t.Errorf("got agent name=%q, want Joker", cfg.Agent.Name)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("got logging=%+v", cfg.Logging)
	}
	if cfg.Observability.Metrics.Enabled || cfg.Observability.Tracing.Enabled || cfg.Audit.Enabled {
		t.Error("optional subsystems should default to disabled")
	}
	if filepath.Base(cfg.Source) != "appsettings.json" {
		t.Errorf("got source=%q", cfg.Source)
	}
}

func TestLoad_MissingRequiredKey(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantKey string
	}{
		{
			name:    "no endpoint",
			content: `{"AzureOpenAI": {"KeyVault": {"VaultUri": "https://kv.vault.azure.net/"}}}`,
			wantKey: KeyEndpoint,
		},
		{
			name:    "no vault uri",
			content: `{"AzureOpenAI": {"Endpoint": "https://example.openai.azure.com/"}}`,
			wantKey: KeyVaultURI,
		},
		{
			name:    "blank endpoint",
			content: `{"AzureOpenAI": {"Endpoint": "  ", "KeyVault": {"VaultUri": "https://kv.vault.azure.net/"}}}`,
			wantKey: KeyEndpoint,
		},
		{
			name:    "null vault uri",
			content: `{"AzureOpenAI": {"Endpoint": "https://e/", "KeyVault": {"VaultUri": null}}}`,
			wantKey: KeyVaultURI,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeSettings(t, "appsettings.json", tt.content)
			_, err := Load(dir, noEnv)
			if !errors.Is(err, failure.ErrConfigurationMissing) {
				t.Fatalf("got err=%v, want ConfigurationMissing", err)
			}
			var fe *failure.Error
			if !errors.As(err, &fe) || fe.Key != tt.wantKey {
				t.Errorf("got key=%q, want %q", fe.Key, tt.wantKey)
			}
		})
	}
}

func TestLoad_NoSettingsFile(t *testing.T) {
	_, err := Load(t.TempDir(), noEnv)
	if !errors.Is(err, failure.ErrConfigurationMissing) {
		t.Fatalf("got err=%v, want ConfigurationMissing", err)
	}
}

func TestLoad_YAML(t *testing.T) {
	dir := writeSettings(t, "appsettings.yaml", `
azureopenai:
  endpoint: https://example.openai.azure.com/
  deploymentName: gpt-4o
  keyVault:
    vaultUri: https://kv.vault.azure.net/
    secretName: Custom--Key
agent:
  maxTokens: 256
`)
	cfg, err := Load(dir, noEnv)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AzureOpenAI.DeploymentName != "gpt-4o" {
		t.Errorf("got deploymentName=%q, want gpt-4o", cfg.AzureOpenAI.DeploymentName)
	}
	if cfg.AzureOpenAI.KeyVault.SecretName != "Custom--Key" {
		t.Errorf("got secretName=%q, want Custom--Key", cfg.AzureOpenAI.KeyVault.SecretName)
	}
	if cfg.Agent.MaxTokens != 256 {
		t.Errorf("got maxTokens=%d, want 256", cfg.Agent.MaxTokens)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := writeSettings(t, "appsettings.json", `{
		"AzureOpenAI": {"Endpoint": "https://file.openai.azure.com/"}
	}`)
	cfg, err := Load(dir, WithEnviron([]string{
		"VAULTCHAT_AzureOpenAI__Endpoint=https://env.openai.azure.com/",
		"VAULTCHAT_AzureOpenAI__KeyVault__VaultUri=https://kv.vault.azure.net/",
		"VAULTCHAT_Logging__Level=DEBUG",
		"UNRELATED=1",
	}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AzureOpenAI.Endpoint != "https://env.openai.azure.com/" {
		t.Errorf("got endpoint=%q, want env override", cfg.AzureOpenAI.Endpoint)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("got level=%q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	base := `"AzureOpenAI": {"Endpoint": "https://e/", "KeyVault": {"VaultUri": "https://kv/"}}`
	tests := []struct {
		name    string
		content string
	}{
		{"bad level", `{` + base + `, "Logging": {"Level": "loud"}}`},
		{"bad max tokens", `{` + base + `, "Agent": {"MaxTokens": "lots"}}`},
		{"negative timeout", `{` + base + `, "Request": {"TimeoutSeconds": -1}}`},
		{"bad audit driver", `{` + base + `, "Audit": {"Enabled": true, "Driver": "mysql"}}`},
		{"bad sample rate", `{` + base + `, "Observability": {"Tracing": {"Enabled": true, "SampleRate": 2}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeSettings(t, "appsettings.json", tt.content)
			if _, err := Load(dir, noEnv); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoad_PostgresAuditNeedsDSN(t *testing.T) {
	dir := writeSettings(t, "appsettings.json", `{
		"AzureOpenAI": {"Endpoint": "https://e/", "KeyVault": {"VaultUri": "https://kv/"}},
		"Audit": {"Enabled": true, "Driver": "postgres"}
	}`)
	_, err := Load(dir, noEnv)
	var fe *failure.Error
	if !errors.As(err, &fe) || fe.Key != KeyAuditDSN {
		t.Fatalf("got err=%v, want ConfigurationMissing(%s)", err, KeyAuditDSN)
	}
}

func TestValues_FlattenAndLookup(t *testing.T) {
	v := newValues()
	v.flatten("", map[string]any{
		"A": map[string]any{
			"B":    "x",
			"List": []any{"first", "second"},
			"Num":  float64(3),
			"Flag": true,
			"Nil":  nil,
		},
	})

	if got, _ := v.Lookup("a:b"); got != "x" {
		t.Errorf("got a:b=%q, want x", got)
	}
	if got, _ := v.Lookup("A:List:1"); got != "second" {
		t.Errorf("got A:List:1=%q, want second", got)
	}
	if got, _ := v.Lookup("A:Num"); got != "3" {
		t.Errorf("got A:Num=%q, want 3", got)
	}
	if got, _ := v.Lookup("A:Flag"); got != "true" {
		t.Errorf("got A:Flag=%q, want true", got)
	}
	if _, ok := v.Lookup("A:Nil"); ok {
		t.Error("null should be skipped")
	}
	if v.Len() != 5 {
		t.Errorf("got len=%d, want 5", v.Len())
	}
	want := []string{"A:B", "A:Flag", "A:List:0", "A:List:1", "A:Num"}
	if got := v.Keys(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got keys=%v, want %v", got, want)
	}
}
