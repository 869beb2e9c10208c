// Package secrets resolves named secrets from a vault.
// Secret material is resolved once at bootstrap and handed straight to the
// LLM client; it is never logged, printed or persisted.
package secrets

import (
	"context"
	"log/slog"
)

// Secret holds resolved credential material.
// This type MUST NOT be serialized or logged with its value.
type Secret struct {
	Value    string            // The raw secret value (API key).
	Metadata map[string]string // Backend metadata: source, vault, name, version.
}

// Metadata keys set by providers.
const (
	MetaSource  = "source"
	MetaVault   = "vault"
	MetaName    = "name"
	MetaVersion = "version"
)

// Provider resolves a secret by name.
type Provider interface {
	// Resolve performs one point read of the named secret. It never lists
	// or enumerates the backend.
	Resolve(ctx context.Context, name string) (*Secret, error)

	// Name returns the provider identifier for logging (never includes secrets).
	Name() string
}

const redacted = "[REDACTED]"

// String renders the secret without its value.
func (s Secret) String() string {
	return "secret(" + s.Metadata[MetaName] + "@" + s.Metadata[MetaVersion] + ")=" + redacted
}

// GoString keeps %#v from dumping the value.
func (s Secret) GoString() string { return s.String() }

// LogValue renders the secret's metadata for slog, never its value.
func (s Secret) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("value", redacted)}
	for _, k := range []string{MetaSource, MetaVault, MetaName, MetaVersion} {
		if v, ok := s.Metadata[k]; ok && v != "" {
			attrs = append(attrs, slog.String(k, v))
		}
	}
	return slog.GroupValue(attrs...)
}

// Version returns the resolved version, or "".
func (s *Secret) Version() string {
	if s == nil {
		return ""
	}
	return s.Metadata[MetaVersion]
}
