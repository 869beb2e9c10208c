// Package audit keeps an append-only record of vaultchat runs: which
// identity read which secret version from which vault, and how the run
// ended. Secret values are never part of a record.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeCanceled = "canceled"
)

// Record describes one run.
type Record struct {
	ID            uuid.UUID
	StartedAt     time.Time
	FinishedAt    time.Time
	Credential    string // Credential label, e.g. "DefaultAzureCredential".
	VaultURI      string
	SecretName    string
	SecretVersion string
	Endpoint      string
	Deployment    string
	Outcome       string
	FailureKind   string // failure.Kind, empty on success.
	FailureStage  string // Stage that failed, e.g. "secret.fetch".
	StatusCode    int    // Provider HTTP status, 0 if none.
	StreamChunks  int
}

// Duration returns the wall time of the run.
func (r *Record) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Recorder persists run records.
// Append-only: there is no update or delete.
type Recorder interface {
	Append(ctx context.Context, rec *Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// Nop discards records. Used when auditing is disabled.
type Nop struct{}

func (Nop) Append(context.Context, *Record) error { return nil }

func (Nop) Recent(context.Context, int) ([]Record, error) { return nil, nil }

func (Nop) Close() error { return nil }
