package failure

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", AccessDenied("secret.fetch", 403, errors.New("forbidden")))

	if !errors.Is(err, ErrAccessDenied) {
		t.Error("expected errors.Is(err, ErrAccessDenied)")
	}
	if errors.Is(err, ErrServiceError) {
		t.Error("access denied should not match ErrServiceError")
	}
	if errors.Is(err, ErrAuthenticationFailure) {
		t.Error("access denied should not match ErrAuthenticationFailure")
	}
}

func TestError_IsWithOp(t *testing.T) {
	err := ServiceError("agent.run_once", 500, nil)

	if !errors.Is(err, &Error{Op: "agent.run_once", Kind: KindServiceError}) {
		t.Error("expected match on same op and kind")
	}
	if errors.Is(err, &Error{Op: "secret.fetch", Kind: KindServiceError}) {
		t.Error("expected no match on different op")
	}
}

func TestError_UnwrapReachesCause(t *testing.T) {
	cause := errors.New("boom")
	err := AuthenticationFailure("secret.fetch", cause)
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}
}

func TestError_Message(t *testing.T) {
	err := ServiceError("secret.fetch", 503, errors.New("unavailable"))
	got := err.Error()
	for _, want := range []string{"secret.fetch", "service_error", "status 503", "unavailable"} {
		if !strings.Contains(got, want) {
			t.Errorf("message %q missing %q", got, want)
		}
	}

	missing := ConfigurationMissing("AzureOpenAI:Endpoint").Error()
	if !strings.Contains(missing, `"AzureOpenAI:Endpoint"`) {
		t.Errorf("message %q missing key", missing)
	}
}

func TestKindOfAndStatusOf(t *testing.T) {
	err := fmt.Errorf("ctx: %w", AccessDenied("secret.fetch", 403, nil))
	kind, ok := KindOf(err)
	if !ok || kind != KindAccessDenied {
		t.Errorf("got kind=%q ok=%v, want %q", kind, ok, KindAccessDenied)
	}
	if got := StatusOf(err); got != 403 {
		t.Errorf("got status=%d, want 403", got)
	}
	if got := OpOf(err); got != "secret.fetch" {
		t.Errorf("got op=%q, want secret.fetch", got)
	}

	if _, ok := KindOf(errors.New("plain")); ok {
		t.Error("plain error should have no kind")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("x"), ExitFailure},
		{"config", ConfigurationMissing("k"), ExitConfigurationMissing},
		{"auth", AuthenticationFailure("op", nil), ExitAuthenticationFailure},
		{"denied", AccessDenied("op", 403, nil), ExitAccessDenied},
		{"service", ServiceError("op", 500, nil), ExitServiceError},
		{"empty", EmptySecret("s"), ExitEmptySecret},
		{"canceled", fmt.Errorf("run: %w", context.Canceled), ExitInterrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGuidance(t *testing.T) {
	if g := Guidance(AuthenticationFailure("secret.fetch", nil)); !strings.Contains(g, "not expired") {
		t.Errorf("auth guidance = %q", g)
	}
	if g := Guidance(AccessDenied("secret.fetch", 403, nil)); !strings.Contains(g, "Secret GET permission") {
		t.Errorf("access guidance = %q", g)
	}
	if g := Guidance(ConfigurationMissing("AzureOpenAI:KeyVault:VaultUri")); !strings.Contains(g, "AzureOpenAI:KeyVault:VaultUri") {
		t.Errorf("config guidance = %q", g)
	}
	if g := Guidance(errors.New("plain")); g != "" {
		t.Errorf("plain guidance = %q, want empty", g)
	}
}
