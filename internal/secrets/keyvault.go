package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/jkaninda/vaultchat/internal/failure"
)

const opFetch = "secret.fetch"

// secretGetter is the only Key Vault operation this package uses.
// *azsecrets.Client satisfies it. There is no list method.
type secretGetter interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// KeyVaultProvider resolves secrets from Azure Key Vault with a point read.
// Safe for concurrent use.
type KeyVaultProvider struct {
	vaultURI string
	client   secretGetter
	logger   *slog.Logger
}

// NewKeyVaultProvider creates a provider for the vault at vaultURI,
// authenticating with cred. No network call is made until Resolve.
func NewKeyVaultProvider(vaultURI string, cred azcore.TokenCredential, logger *slog.Logger) (*KeyVaultProvider, error) {
	if strings.TrimSpace(vaultURI) == "" {
		return nil, failure.ConfigurationMissing("AzureOpenAI:KeyVault:VaultUri")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := azsecrets.NewClient(vaultURI, authTagged{cred}, nil)
	if err != nil {
		return nil, failure.ServiceError(opFetch, 0, fmt.Errorf("creating key vault client for %s: %w", vaultURI, err))
	}
	return newKeyVaultProvider(vaultURI, client, logger), nil
}

func newKeyVaultProvider(vaultURI string, client secretGetter, logger *slog.Logger) *KeyVaultProvider {
	return &KeyVaultProvider{vaultURI: vaultURI, client: client, logger: logger}
}

// Name returns the provider identifier.
func (p *KeyVaultProvider) Name() string { return "keyvault" }

// Resolve reads the latest version of the named secret.
func (p *KeyVaultProvider) Resolve(ctx context.Context, name string) (*Secret, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, failure.ConfigurationMissing("AzureOpenAI:KeyVault:SecretName")
	}

	p.logger.Debug("fetching secret",
		slog.String("vault", p.vaultURI),
		slog.String("secret", name),
	)

	resp, err := p.client.GetSecret(ctx, name, "", nil)
	if err != nil {
		return nil, classify(ctx, name, err)
	}
	if resp.Value == nil || *resp.Value == "" {
		return nil, failure.EmptySecret(name)
	}

	secret := &Secret{
		Value: *resp.Value,
		Metadata: map[string]string{
			MetaSource: p.Name(),
			MetaVault:  p.vaultURI,
			MetaName:   name,
		},
	}
	if resp.ID != nil {
		secret.Metadata[MetaVersion] = resp.ID.Version()
	}

	p.logger.Info("secret fetched",
		slog.String("vault", p.vaultURI),
		slog.String("secret", name),
		slog.String("version", secret.Metadata[MetaVersion]),
	)
	return secret, nil
}

// classify maps a GetSecret error onto the failure taxonomy.
func classify(ctx context.Context, name string, err error) error {
	// Cancellation propagates unclassified.
	if ctxErr := ctx.Err(); ctxErr != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return fmt.Errorf("fetching secret %q: %w", name, ctxErr)
	}

	if errors.Is(err, failure.ErrAuthenticationFailure) {
		return err
	}
	var authErr *azidentity.AuthenticationFailedError
	if errors.As(err, &authErr) {
		return failure.AuthenticationFailure(opFetch, err)
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusUnauthorized:
			return failure.AuthenticationFailure(opFetch, err)
		case http.StatusForbidden:
			return failure.AccessDenied(opFetch, respErr.StatusCode, err)
		default:
			return failure.ServiceError(opFetch, respErr.StatusCode, err)
		}
	}
	return failure.ServiceError(opFetch, 0, err)
}

// authTagged marks every token acquisition error as an authentication
// failure, so the ambient chain's unexported error types classify correctly.
type authTagged struct {
	cred azcore.TokenCredential
}

func (a authTagged) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	tok, err := a.cred.GetToken(ctx, opts)
	if err != nil && ctx.Err() == nil {
		return tok, failure.AuthenticationFailure(opFetch, err)
	}
	return tok, err
}
