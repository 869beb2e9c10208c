// Package credential selects how the process authenticates to Azure.
// Selection is a pure function of an injected environment lookup so tests
// never touch the real process environment.
package credential

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/jkaninda/vaultchat/internal/failure"
)

// Environment variables that activate explicit-secret mode. All three are
// required together.
const (
	EnvTenantID     = "AZURE_TENANT_ID"
	EnvClientID     = "AZURE_CLIENT_ID"
	EnvClientSecret = "AZURE_CLIENT_SECRET"
)

// LookupFunc reads one environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Kind identifies the credential variant.
type Kind int

const (
	KindAmbient Kind = iota
	KindExplicitSecret
)

func (k Kind) String() string {
	if k == KindExplicitSecret {
		return "explicit_secret"
	}
	return "ambient"
}

// Choice is the resolved credential variant. Tenant, client and secret are
// only set for KindExplicitSecret.
type Choice struct {
	Kind         Kind
	TenantID     string
	ClientID     string
	ClientSecret string

	// Missing lists the explicit-mode variables that were absent when a
	// partial set fell through to ambient resolution.
	Missing []string
}

// Label is the operator-facing name of the chosen credential.
func (c Choice) Label() string {
	if c.Kind == KindExplicitSecret {
		return "ClientSecretCredential (env)"
	}
	return "DefaultAzureCredential"
}

// LogValue keeps the client secret out of logs.
func (c Choice) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("kind", c.Kind.String()),
		slog.String("label", c.Label()),
	}
	if c.Kind == KindExplicitSecret {
		attrs = append(attrs,
			slog.String("tenant_id", c.TenantID),
			slog.String("client_id", c.ClientID),
		)
	}
	return slog.GroupValue(attrs...)
}

// Resolve selects explicit-secret mode when tenant id, client id and client
// secret are all present and non-blank; anything less selects ambient mode.
// Resolve cannot fail.
func Resolve(lookup LookupFunc) Choice {
	values := make(map[string]string, 3)
	var missing []string
	for _, key := range []string{EnvTenantID, EnvClientID, EnvClientSecret} {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			missing = append(missing, key)
			continue
		}
		values[key] = v
	}

	if len(missing) == 0 {
		return Choice{
			Kind:         KindExplicitSecret,
			TenantID:     values[EnvTenantID],
			ClientID:     values[EnvClientID],
			ClientSecret: values[EnvClientSecret],
		}
	}

	choice := Choice{Kind: KindAmbient}
	if len(missing) < 3 {
		choice.Missing = missing
	}
	return choice
}

// Partial reports whether some but not all explicit-mode variables were set.
func (c Choice) Partial() bool {
	return c.Kind == KindAmbient && len(c.Missing) > 0
}

// TokenCredential builds the azidentity credential for the choice.
// Construction errors surface as AuthenticationFailure.
func (c Choice) TokenCredential() (azcore.TokenCredential, error) {
	switch c.Kind {
	case KindExplicitSecret:
		cred, err := azidentity.NewClientSecretCredential(c.TenantID, c.ClientID, c.ClientSecret, nil)
		if err != nil {
			return nil, failure.AuthenticationFailure("credential.resolve",
				fmt.Errorf("creating client secret credential: %w", err))
		}
		return cred, nil
	default:
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, failure.AuthenticationFailure("credential.resolve",
				fmt.Errorf("creating default credential: %w", err))
		}
		return cred, nil
	}
}
