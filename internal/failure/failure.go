// Package failure defines the error taxonomy shared by every stage of the
// bootstrap flow. Each stage returns a *Error carrying one Kind; callers
// match with errors.Is against the Err* sentinels or use KindOf.
package failure

import (
	"context"
	"errors"
	"fmt"
)

// Kind categorizes a terminal failure.
type Kind string

const (
	KindConfigurationMissing  Kind = "configuration_missing"
	KindAuthenticationFailure Kind = "authentication_failure"
	KindAccessDenied          Kind = "access_denied"
	KindServiceError          Kind = "service_error"
	KindEmptySecret           Kind = "empty_secret"
)

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrConfigurationMissing  = &Error{Kind: KindConfigurationMissing}
	ErrAuthenticationFailure = &Error{Kind: KindAuthenticationFailure}
	ErrAccessDenied          = &Error{Kind: KindAccessDenied}
	ErrServiceError          = &Error{Kind: KindServiceError}
	ErrEmptySecret           = &Error{Kind: KindEmptySecret}
)

// Error is a classified failure from one stage of the flow.
type Error struct {
	Op     string // Stage that failed, e.g. "secret.fetch".
	Kind   Kind
	Key    string // Config key for ConfigurationMissing, secret name for EmptySecret.
	Status int    // Provider HTTP status. 0 when no response was received.
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Key != "" {
		msg += fmt.Sprintf(" %q", e.Key)
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind. A target with
// a non-empty Op must also match Op.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Kind == "" {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// ConfigurationMissing reports a required configuration key that is absent or blank.
func ConfigurationMissing(key string) *Error {
	return &Error{Op: "config.load", Kind: KindConfigurationMissing, Key: key}
}

// AuthenticationFailure reports a credential that could not produce a usable token.
func AuthenticationFailure(op string, err error) *Error {
	return &Error{Op: op, Kind: KindAuthenticationFailure, Err: err}
}

// AccessDenied reports an identity lacking permission on the target resource.
func AccessDenied(op string, status int, err error) *Error {
	return &Error{Op: op, Kind: KindAccessDenied, Status: status, Err: err}
}

// ServiceError reports any other remote failure.
func ServiceError(op string, status int, err error) *Error {
	return &Error{Op: op, Kind: KindServiceError, Status: status, Err: err}
}

// EmptySecret reports a secret that exists but carries no value.
func EmptySecret(name string) *Error {
	return &Error{Op: "secret.fetch", Kind: KindEmptySecret, Key: name}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// StatusOf returns the provider status carried by err, or 0.
func StatusOf(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Status
	}
	return 0
}

// OpOf returns the stage recorded on err, or "".
func OpOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Op
	}
	return ""
}

// Guidance returns an actionable hint for err. Never includes secret material.
func Guidance(err error) string {
	if errors.Is(err, context.Canceled) {
		return "Interrupted before completion."
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "A remote call did not finish before the deadline; raise --timeout or Request:TimeoutSeconds."
	}
	var fe *Error
	if !errors.As(err, &fe) {
		return ""
	}
	switch fe.Kind {
	case KindConfigurationMissing:
		return fmt.Sprintf("Set %q in appsettings.json or the matching VAULTCHAT_ environment override.", fe.Key)
	case KindAuthenticationFailure:
		return "If using ClientSecretCredential, ensure the client secret is valid and not expired."
	case KindAccessDenied:
		return "Ensure this identity has at least Secret GET permission (RBAC role or access policy)."
	case KindEmptySecret:
		return fmt.Sprintf("Secret %q exists but has no value; store the API key in it.", fe.Key)
	case KindServiceError:
		if fe.Op == "secret.fetch" {
			return "Check the vault URI and that the Key Vault service is reachable."
		}
		return "Check the endpoint, deployment name and that the service is reachable."
	}
	return ""
}

// Process exit codes.
const (
	ExitFailure               = 1
	ExitConfigurationMissing  = 2
	ExitAuthenticationFailure = 3
	ExitAccessDenied          = 4
	ExitServiceError          = 5
	ExitEmptySecret           = 6
	ExitInterrupted           = 130
)

// ExitCode maps err to a process exit code. nil maps to 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	kind, ok := KindOf(err)
	if !ok {
		return ExitFailure
	}
	switch kind {
	case KindConfigurationMissing:
		return ExitConfigurationMissing
	case KindAuthenticationFailure:
		return ExitAuthenticationFailure
	case KindAccessDenied:
		return ExitAccessDenied
	case KindServiceError:
		return ExitServiceError
	case KindEmptySecret:
		return ExitEmptySecret
	}
	return ExitFailure
}
