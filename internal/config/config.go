// Package config handles loading and validating vaultchat configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jkaninda/vaultchat/internal/failure"
)

// Configuration keys. Lookups are case-insensitive.
const (
	KeyEndpoint       = "AzureOpenAI:Endpoint"
	KeyDeploymentName = "AzureOpenAI:DeploymentName"
	KeyAPIVersion     = "AzureOpenAI:ApiVersion"
	KeyVaultURI       = "AzureOpenAI:KeyVault:VaultUri"
	KeySecretName     = "AzureOpenAI:KeyVault:SecretName"

	KeyAgentName         = "Agent:Name"
	KeyAgentInstructions = "Agent:Instructions"
	KeyAgentMaxTokens    = "Agent:MaxTokens"

	KeyRequestTimeoutSeconds = "Request:TimeoutSeconds"

	KeyLogLevel  = "Logging:Level"
	KeyLogFormat = "Logging:Format"

	KeyMetricsEnabled        = "Observability:Metrics:Enabled"
	KeyMetricsTextfilePath   = "Observability:Metrics:TextfilePath"
	KeyMetricsPushgatewayURL = "Observability:Metrics:PushgatewayUrl"
	KeyMetricsJob            = "Observability:Metrics:Job"

	KeyTracingEnabled     = "Observability:Tracing:Enabled"
	KeyTracingEndpoint    = "Observability:Tracing:Endpoint"
	KeyTracingProtocol    = "Observability:Tracing:Protocol"
	KeyTracingServiceName = "Observability:Tracing:ServiceName"
	KeyTracingSampleRate  = "Observability:Tracing:SampleRate"
	KeyTracingInsecure    = "Observability:Tracing:Insecure"

	KeyAuditEnabled = "Audit:Enabled"
	KeyAuditDriver  = "Audit:Driver"
	KeyAuditPath    = "Audit:Path"
	KeyAuditDSN     = "Audit:Dsn"
)

// Defaults for optional keys.
const (
	DefaultDeploymentName    = "gpt-4o-mini"
	DefaultSecretName        = "AzureOpenAI--ApiKey"
	DefaultAPIVersion        = "2024-10-21"
	DefaultAgentName         = "Joker"
	DefaultAgentInstructions = "You are good at telling jokes."
)

// EnvPrefix marks environment variables that override file values.
// VAULTCHAT_AzureOpenAI__Endpoint overrides AzureOpenAI:Endpoint.
const EnvPrefix = "VAULTCHAT_"

// FileNames are the settings files probed in basePath, in order.
var FileNames = []string{"appsettings.json", "appsettings.yaml", "appsettings.yml"}

// Config is the root configuration for vaultchat.
type Config struct {
	Source        string // Settings file that was loaded.
	Values        *Values
	AzureOpenAI   AzureOpenAIConfig
	Agent         AgentConfig
	Request       RequestConfig
	Logging       LoggingConfig
	Observability ObservabilityConfig
	Audit         AuditConfig
}

// AzureOpenAIConfig locates the model deployment and the vault holding its key.
type AzureOpenAIConfig struct {
	Endpoint       string
	DeploymentName string // Default: gpt-4o-mini
	APIVersion     string // Default: 2024-10-21
	KeyVault       KeyVaultConfig
}

// KeyVaultConfig names the vault and the secret holding the API key.
type KeyVaultConfig struct {
	VaultURI   string
	SecretName string // Default: AzureOpenAI--ApiKey
}

// AgentConfig shapes the chat agent.
type AgentConfig struct {
	Name         string
	Instructions string
	MaxTokens    int // 0 = service default.
}

// RequestConfig bounds each remote call.
type RequestConfig struct {
	TimeoutSeconds int // 0 = wait indefinitely.
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string // debug|info|warn|error. Default: info.
	Format string // json|text. Default: json.
}

// ObservabilityConfig configures metrics and tracing. Both are off by default.
type ObservabilityConfig struct {
	Metrics MetricsConfig
	Tracing TracingConfig
}

// MetricsConfig configures Prometheus metrics, written to a textfile and/or
// pushed to a Pushgateway at exit.
type MetricsConfig struct {
	Enabled        bool
	TextfilePath   string // node_exporter textfile collector target.
	PushgatewayURL string
	Job            string // Pushgateway job label. Default: vaultchat.
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string  // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  // "grpc" or "http". Default: "grpc"
	ServiceName string  // Default: "vaultchat"
	SampleRate  float64 // 0.0 to 1.0. Default: 1.0
	Insecure    bool
}

// AuditConfig configures the run audit store.
type AuditConfig struct {
	Enabled bool
	Driver  string // "sqlite" (default) or "postgres".
	Path    string // SQLite file. Default: vaultchat-audit.db in basePath.
	DSN     string // PostgreSQL DSN.
}

// Option customizes Load.
type Option func(*loadOptions)

type loadOptions struct {
	environ func() []string
}

// WithEnviron replaces the process environment used for overrides.
func WithEnviron(environ []string) Option {
	return func(o *loadOptions) {
		o.environ = func() []string { return environ }
	}
}

// Load reads the settings file from basePath, applies environment overrides
// and returns a validated Config. It performs no network calls. A missing
// required key fails with failure.ConfigurationMissing.
func Load(basePath string, opts ...Option) (*Config, error) {
	o := &loadOptions{environ: os.Environ}
	for _, opt := range opts {
		opt(o)
	}

	resolved, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolving config directory %s: %w", basePath, err)
	}

	path, data, err := readSettings(resolved)
	if err != nil {
		return nil, err
	}

	values := newValues()
	var tree map[string]any
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", path, err)
		}
	}
	values.flatten("", tree)

	// Environment overrides take precedence over file values.
	for _, kv := range o.environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		key := strings.ReplaceAll(strings.TrimPrefix(name, EnvPrefix), "__", ":")
		if key != "" {
			values.set(key, value)
		}
	}

	cfg, err := fromValues(values, resolved)
	if err != nil {
		return nil, err
	}
	cfg.Source = path
	return cfg, nil
}

func readSettings(dir string) (string, []byte, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err == nil {
			return path, data, nil
		}
		if !os.IsNotExist(err) {
			return "", nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	missing := failure.ConfigurationMissing(FileNames[0])
	missing.Err = fmt.Errorf("no settings file in %s", dir)
	return "", nil, missing
}

func fromValues(v *Values, baseDir string) (*Config, error) {
	cfg := &Config{
		Values: v,
		AzureOpenAI: AzureOpenAIConfig{
			Endpoint:       v.String(KeyEndpoint, ""),
			DeploymentName: v.String(KeyDeploymentName, DefaultDeploymentName),
			APIVersion:     v.String(KeyAPIVersion, DefaultAPIVersion),
			KeyVault: KeyVaultConfig{
				VaultURI:   v.String(KeyVaultURI, ""),
				SecretName: v.String(KeySecretName, DefaultSecretName),
			},
		},
		Agent: AgentConfig{
			Name:         v.String(KeyAgentName, DefaultAgentName),
			Instructions: v.String(KeyAgentInstructions, DefaultAgentInstructions),
		},
		Logging: LoggingConfig{
			Level:  strings.ToLower(v.String(KeyLogLevel, "info")),
			Format: strings.ToLower(v.String(KeyLogFormat, "json")),
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				TextfilePath:   v.String(KeyMetricsTextfilePath, ""),
				PushgatewayURL: v.String(KeyMetricsPushgatewayURL, ""),
				Job:            v.String(KeyMetricsJob, "vaultchat"),
			},
			Tracing: TracingConfig{
				Endpoint:    v.String(KeyTracingEndpoint, ""),
				Protocol:    strings.ToLower(v.String(KeyTracingProtocol, "grpc")),
				ServiceName: v.String(KeyTracingServiceName, "vaultchat"),
			},
		},
		Audit: AuditConfig{
			Driver: strings.ToLower(v.String(KeyAuditDriver, "sqlite")),
			Path:   v.String(KeyAuditPath, filepath.Join(baseDir, "vaultchat-audit.db")),
			DSN:    v.String(KeyAuditDSN, ""),
		},
	}

	var err error
	if cfg.Agent.MaxTokens, err = v.Int(KeyAgentMaxTokens, 0); err != nil {
		return nil, err
	}
	if cfg.Request.TimeoutSeconds, err = v.Int(KeyRequestTimeoutSeconds, 0); err != nil {
		return nil, err
	}
	if cfg.Observability.Metrics.Enabled, err = v.Bool(KeyMetricsEnabled, false); err != nil {
		return nil, err
	}
	if cfg.Observability.Tracing.Enabled, err = v.Bool(KeyTracingEnabled, false); err != nil {
		return nil, err
	}
	if cfg.Observability.Tracing.Insecure, err = v.Bool(KeyTracingInsecure, false); err != nil {
		return nil, err
	}
	if cfg.Observability.Tracing.SampleRate, err = v.Float(KeyTracingSampleRate, 1.0); err != nil {
		return nil, err
	}
	if cfg.Audit.Enabled, err = v.Bool(KeyAuditEnabled, false); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	// Required keys first: these are the only failures that must happen
	// before any network call.
	if c.AzureOpenAI.Endpoint == "" {
		return failure.ConfigurationMissing(KeyEndpoint)
	}
	if c.AzureOpenAI.KeyVault.VaultURI == "" {
		return failure.ConfigurationMissing(KeyVaultURI)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid config: %s %q (use debug, info, warn or error)", KeyLogLevel, c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid config: %s %q (use json or text)", KeyLogFormat, c.Logging.Format)
	}
	if c.Agent.MaxTokens < 0 {
		return fmt.Errorf("invalid config: %s must not be negative", KeyAgentMaxTokens)
	}
	if c.Request.TimeoutSeconds < 0 {
		return fmt.Errorf("invalid config: %s must not be negative", KeyRequestTimeoutSeconds)
	}
	if t := c.Observability.Tracing; t.Enabled {
		if t.Protocol != "grpc" && t.Protocol != "http" {
			return fmt.Errorf("invalid config: %s %q (use grpc or http)", KeyTracingProtocol, t.Protocol)
		}
		if t.SampleRate < 0 || t.SampleRate > 1 {
			return fmt.Errorf("invalid config: %s must be between 0.0 and 1.0", KeyTracingSampleRate)
		}
	}
	if c.Audit.Enabled {
		switch c.Audit.Driver {
		case "sqlite":
		case "postgres":
			if c.Audit.DSN == "" {
				return failure.ConfigurationMissing(KeyAuditDSN)
			}
		default:
			return fmt.Errorf("invalid config: %s %q is not supported (use sqlite or postgres)", KeyAuditDriver, c.Audit.Driver)
		}
	}
	return nil
}
