package secrets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/jkaninda/vaultchat/internal/failure"
)

const testVault = "https://kv.vault.azure.net/"

// fakeVault records every GetSecret call and returns a canned response.
type fakeVault struct {
	resp  azsecrets.GetSecretResponse
	err   error
	calls []string
}

func (f *fakeVault) GetSecret(_ context.Context, name, version string, _ *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	f.calls = append(f.calls, name+"@"+version)
	return f.resp, f.err
}

func valueResponse(name, value, version string) azsecrets.GetSecretResponse {
	id := azsecrets.ID(testVault + "secrets/" + name + "/" + version)
	return azsecrets.GetSecretResponse{Secret: azsecrets.Secret{Value: &value, ID: &id}}
}

func responseError(status int) error {
	return &azcore.ResponseError{
		StatusCode: status,
		ErrorCode:  http.StatusText(status),
		RawResponse: &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader("")),
			Request:    httptest.NewRequest(http.MethodGet, testVault+"secrets/x", nil),
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestKeyVaultProvider_ResolveReturnsValueUnmodified(t *testing.T) {
	const value = "  sk-abc123\n"
	fake := &fakeVault{resp: valueResponse("AzureOpenAI--ApiKey", value, "v42")}
	p := newKeyVaultProvider(testVault, fake, discardLogger())

	secret, err := p.Resolve(context.Background(), "AzureOpenAI--ApiKey")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if secret.Value != value {
		t.Errorf("got value=%q, want %q", secret.Value, value)
	}
	if secret.Version() != "v42" {
		t.Errorf("got version=%q, want v42", secret.Version())
	}
	if secret.Metadata[MetaSource] != "keyvault" || secret.Metadata[MetaName] != "AzureOpenAI--ApiKey" {
		t.Errorf("unexpected metadata: %v", secret.Metadata)
	}
	if len(fake.calls) != 1 || fake.calls[0] != "AzureOpenAI--ApiKey@" {
		t.Errorf("got calls=%v, want one latest-version read", fake.calls)
	}
}

func TestKeyVaultProvider_EmptySecret(t *testing.T) {
	tests := []struct {
		name string
		resp azsecrets.GetSecretResponse
	}{
		{"empty value", valueResponse("k", "", "v1")},
		{"nil value", azsecrets.GetSecretResponse{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newKeyVaultProvider(testVault, &fakeVault{resp: tt.resp}, discardLogger())
			_, err := p.Resolve(context.Background(), "k")
			if !errors.Is(err, failure.ErrEmptySecret) {
				t.Fatalf("got err=%v, want EmptySecret", err)
			}
			if errors.Is(err, failure.ErrAuthenticationFailure) || errors.Is(err, failure.ErrServiceError) {
				t.Error("EmptySecret must be distinguishable from auth and service errors")
			}
		})
	}
}

func TestKeyVaultProvider_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantKind   failure.Kind
		wantStatus int
	}{
		{"401", responseError(http.StatusUnauthorized), failure.KindAuthenticationFailure, 0},
		{"403", responseError(http.StatusForbidden), failure.KindAccessDenied, http.StatusForbidden},
		{"404", responseError(http.StatusNotFound), failure.KindServiceError, http.StatusNotFound},
		{"503", responseError(http.StatusServiceUnavailable), failure.KindServiceError, http.StatusServiceUnavailable},
		{"identity", &azidentity.AuthenticationFailedError{}, failure.KindAuthenticationFailure, 0},
		{"tagged token error", failure.AuthenticationFailure(opFetch, errors.New("no identity")), failure.KindAuthenticationFailure, 0},
		{"transport", errors.New("dial tcp: no such host"), failure.KindServiceError, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newKeyVaultProvider(testVault, &fakeVault{err: tt.err}, discardLogger())
			_, err := p.Resolve(context.Background(), "k")
			kind, ok := failure.KindOf(err)
			if !ok || kind != tt.wantKind {
				t.Fatalf("got kind=%q, want %q", kind, tt.wantKind)
			}
			if got := failure.StatusOf(err); got != tt.wantStatus {
				t.Errorf("got status=%d, want %d", got, tt.wantStatus)
			}
			if got := failure.OpOf(err); got != opFetch {
				t.Errorf("got op=%q, want %q", got, opFetch)
			}
		})
	}
}

func TestKeyVaultProvider_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newKeyVaultProvider(testVault, &fakeVault{err: fmt.Errorf("send: %w", context.Canceled)}, discardLogger())
	_, err := p.Resolve(ctx, "k")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got err=%v, want context.Canceled", err)
	}
	if _, ok := failure.KindOf(err); ok {
		t.Error("cancellation should not be classified")
	}
}

func TestKeyVaultProvider_BlankName(t *testing.T) {
	fake := &fakeVault{}
	p := newKeyVaultProvider(testVault, fake, discardLogger())
	_, err := p.Resolve(context.Background(), "  ")
	if !errors.Is(err, failure.ErrConfigurationMissing) {
		t.Fatalf("got err=%v, want ConfigurationMissing", err)
	}
	if len(fake.calls) != 0 {
		t.Error("blank name must not reach the vault")
	}
}

func TestKeyVaultProvider_NeverLogsValue(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	p := newKeyVaultProvider(testVault, &fakeVault{resp: valueResponse("k", "sk-topsecret", "v1")}, logger)

	secret, err := p.Resolve(context.Background(), "k")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	logger.Info("resolved", slog.Any("secret", secret))
	logger.Info("resolved by value", slog.Any("secret", *secret))

	if strings.Contains(buf.String(), "sk-topsecret") {
		t.Fatalf("log output leaked secret: %s", buf.String())
	}
}

func TestSecret_FormattingRedacts(t *testing.T) {
	s := &Secret{Value: "sk-topsecret", Metadata: map[string]string{MetaName: "k", MetaVersion: "v1"}}
	for _, out := range []string{
		fmt.Sprint(s),
		fmt.Sprintf("%v", *s),
		fmt.Sprintf("%+v", s),
		fmt.Sprintf("%#v", s),
		s.String(),
	} {
		if strings.Contains(out, "sk-topsecret") {
			t.Errorf("formatted secret leaked value: %s", out)
		}
	}
}

type stubCredential struct{ err error }

func (s stubCredential) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: "t"}, s.err
}

func TestAuthTagged(t *testing.T) {
	cause := errors.New("managed identity unavailable")
	_, err := authTagged{stubCredential{err: cause}}.GetToken(context.Background(), policy.TokenRequestOptions{})
	if !errors.Is(err, failure.ErrAuthenticationFailure) {
		t.Errorf("got err=%v, want AuthenticationFailure", err)
	}
	if !errors.Is(err, cause) {
		t.Error("cause should remain reachable")
	}

	tok, err := authTagged{stubCredential{}}.GetToken(context.Background(), policy.TokenRequestOptions{})
	if err != nil || tok.Token != "t" {
		t.Errorf("got token=%q err=%v", tok.Token, err)
	}
}

func TestNewKeyVaultProvider_RequiresURI(t *testing.T) {
	_, err := NewKeyVaultProvider(" ", stubCredential{}, nil)
	if !errors.Is(err, failure.ErrConfigurationMissing) {
		t.Fatalf("got err=%v, want ConfigurationMissing", err)
	}
}
