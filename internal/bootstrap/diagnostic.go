package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jkaninda/vaultchat/internal/failure"
)

// Diagnose writes a one-line description of err and, when available, a
// guidance line. The secret value never reaches err, so nothing here can
// print it.
func Diagnose(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(w, headline(err))
	if g := failure.Guidance(err); g != "" {
		fmt.Fprintln(w, g)
	}
}

func headline(err error) string {
	if errors.Is(err, context.Canceled) {
		return fmt.Sprintf("Interrupted: %v", err)
	}
	kind, _ := failure.KindOf(err)
	op := failure.OpOf(err)
	status := failure.StatusOf(err)

	switch {
	case kind == failure.KindAuthenticationFailure:
		return fmt.Sprintf("Authentication failed: %v", err)
	case kind == failure.KindConfigurationMissing:
		return fmt.Sprintf("Configuration error: %v", err)
	case op == stageSecretFetch:
		return withStatus("Key Vault error", status, err)
	case strings.HasPrefix(op, "chat."):
		return withStatus("Azure OpenAI error", status, err)
	}
	return fmt.Sprintf("Error: %v", err)
}

func withStatus(prefix string, status int, err error) string {
	if status == 0 {
		return fmt.Sprintf("%s: %v", prefix, err)
	}
	return fmt.Sprintf("%s (%d): %v", prefix, status, err)
}
