// Package bootstrap owns the vaultchat flow: load configuration, resolve a
// credential, fetch the API key from Key Vault, build the agent and issue
// the two chat requests. Each stage's failure aborts all later stages.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/google/uuid"

	"github.com/jkaninda/vaultchat/internal/agent"
	"github.com/jkaninda/vaultchat/internal/audit"
	"github.com/jkaninda/vaultchat/internal/config"
	"github.com/jkaninda/vaultchat/internal/credential"
	"github.com/jkaninda/vaultchat/internal/failure"
	"github.com/jkaninda/vaultchat/internal/llm"
	"github.com/jkaninda/vaultchat/internal/llm/azureopenai"
	"github.com/jkaninda/vaultchat/internal/observability"
	"github.com/jkaninda/vaultchat/internal/secrets"
)

// Stage names, used for spans, metrics and audit records.
const (
	stageConfigLoad        = "config.load"
	stageCredentialResolve = "credential.resolve"
	stageSecretFetch       = "secret.fetch"
	stageAgentBuild        = "agent.build"
	stageChatRequest       = "chat.request"
)

// Deps are the external collaborators of a Runner. Tests replace them with
// fakes; DefaultDeps wires the real Azure clients.
type Deps struct {
	LookupEnv     credential.LookupFunc
	Environ       func() []string
	NewCredential func(credential.Choice) (azcore.TokenCredential, error)
	NewSecrets    func(vaultURI string, cred azcore.TokenCredential, logger *slog.Logger) (secrets.Provider, error)
	OpenAudit     func(cfg config.AuditConfig, logger *slog.Logger) (audit.Recorder, error)
	HTTPClient    *http.Client // Azure OpenAI transport. nil uses the client default.
}

// DefaultDeps returns the production dependencies.
func DefaultDeps() Deps {
	return Deps{
		LookupEnv:     os.LookupEnv,
		Environ:       os.Environ,
		NewCredential: credential.Choice.TokenCredential,
		NewSecrets:    newKeyVault,
		OpenAudit:     openAudit,
	}
}

func newKeyVault(vaultURI string, cred azcore.TokenCredential, logger *slog.Logger) (secrets.Provider, error) {
	p, err := secrets.NewKeyVaultProvider(vaultURI, cred, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func openAudit(cfg config.AuditConfig, logger *slog.Logger) (audit.Recorder, error) {
	s, err := audit.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Options are per-invocation settings from the command line.
type Options struct {
	ConfigDir string
	Prompts   agent.Prompts
	LogLevel  string        // Overrides Logging:Level when set.
	Timeout   time.Duration // Bounds the whole run. 0 = no bound.
}

// Runner executes the flow once per Run call.
type Runner struct {
	deps    Deps
	stdout  io.Writer
	stderr  io.Writer
	version string
}

// NewRunner creates a Runner writing model output to stdout and logs and
// diagnostics to stderr.
func NewRunner(stdout, stderr io.Writer, version string, deps Deps) *Runner {
	if deps.LookupEnv == nil {
		deps.LookupEnv = os.LookupEnv
	}
	if deps.NewCredential == nil {
		deps.NewCredential = credential.Choice.TokenCredential
	}
	if deps.NewSecrets == nil {
		deps.NewSecrets = newKeyVault
	}
	return &Runner{deps: deps, stdout: stdout, stderr: stderr, version: version}
}

// run carries the state of one invocation.
type run struct {
	*Runner
	id     uuid.UUID
	cfg    *config.Config
	logger *slog.Logger
	obs    *observability.Observability
	record *audit.Record
	stage  string
}

// Run executes the flow. On failure it writes a diagnostic to stderr and
// returns the original error unchanged.
func (r *Runner) Run(ctx context.Context, opts Options) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if opts.Prompts.Once == "" {
		opts.Prompts.Once = agent.DefaultPrompts.Once
	}
	if opts.Prompts.Streaming == "" {
		opts.Prompts.Streaming = agent.DefaultPrompts.Streaming
	}

	rn := &run{
		Runner: r,
		id:     uuid.New(),
		record: &audit.Record{StartedAt: time.Now().UTC()},
	}
	rn.record.ID = rn.id
	rn.logger = NewLogger(r.stderr, opts.LogLevel, "json").With(slog.String("run_id", rn.id.String()))

	err := rn.execute(ctx, opts)
	if err != nil {
		Diagnose(r.stderr, err)
	}
	rn.finish(ctx, err)
	return err
}

func (rn *run) execute(ctx context.Context, opts Options) error {
	rn.stage = stageConfigLoad
	var loadOpts []config.Option
	if rn.deps.Environ != nil {
		loadOpts = append(loadOpts, config.WithEnviron(rn.deps.Environ()))
	}
	cfg, err := config.Load(opts.ConfigDir, loadOpts...)
	if err != nil {
		return err
	}
	rn.cfg = cfg

	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	rn.logger = NewLogger(rn.stderr, level, cfg.Logging.Format).With(slog.String("run_id", rn.id.String()))
	rn.logger.Debug("config loaded", slog.String("path", cfg.Source))

	rn.record.VaultURI = cfg.AzureOpenAI.KeyVault.VaultURI
	rn.record.SecretName = cfg.AzureOpenAI.KeyVault.SecretName
	rn.record.Endpoint = cfg.AzureOpenAI.Endpoint
	rn.record.Deployment = cfg.AzureOpenAI.DeploymentName

	obs, err := observability.New(ctx, &cfg.Observability, rn.version, rn.logger)
	if err != nil {
		rn.logger.Warn("observability disabled", slog.String("error", err.Error()))
	}
	rn.obs = obs
	if obs != nil {
		rn.logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
		)
	}

	ctx, endRun := rn.obs.StartRun(ctx, rn.id.String())
	err = rn.stages(ctx, opts)
	endRun(err)
	return err
}

func (rn *run) stages(ctx context.Context, opts Options) error {
	cfg := rn.cfg
	perCall := time.Duration(cfg.Request.TimeoutSeconds) * time.Second

	// Credential.
	var cred azcore.TokenCredential
	rn.stage = stageCredentialResolve
	err := rn.obs.Stage(ctx, rn.stage, func(ctx context.Context) error {
		choice := credential.Resolve(rn.deps.LookupEnv)
		if choice.Partial() {
			rn.logger.Warn("incomplete service principal environment, using default credential chain",
				slog.Any("missing", choice.Missing),
			)
		}
		rn.record.Credential = choice.Label()
		fmt.Fprintf(rn.stdout, "[Auth] Using: %s\n", choice.Label())
		rn.logger.Info("credential selected", slog.Any("credential", choice))

		var err error
		cred, err = rn.deps.NewCredential(choice)
		return err
	})
	if err != nil {
		return err
	}

	// Secret.
	var secret *secrets.Secret
	rn.stage = stageSecretFetch
	err = rn.obs.Stage(ctx, rn.stage, func(ctx context.Context) error {
		provider, err := rn.deps.NewSecrets(cfg.AzureOpenAI.KeyVault.VaultURI, cred, rn.logger)
		if err != nil {
			return err
		}
		instrumented := observability.NewInstrumentedSecrets(provider, rn.obs.MetricsOrNil(), rn.obs.TracerOrNil())

		callCtx, cancel := callTimeout(ctx, perCall)
		defer cancel()
		secret, err = instrumented.Resolve(callCtx, cfg.AzureOpenAI.KeyVault.SecretName)
		return err
	})
	if err != nil {
		return err
	}
	rn.record.SecretVersion = secret.Version()

	// Agent.
	var a *agent.Agent
	rn.stage = stageAgentBuild
	err = rn.obs.Stage(ctx, rn.stage, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		clientOpts := []azureopenai.Option{azureopenai.WithAPIVersion(cfg.AzureOpenAI.APIVersion)}
		if rn.deps.HTTPClient != nil {
			clientOpts = append(clientOpts, azureopenai.WithHTTPClient(rn.deps.HTTPClient))
		}
		a = agent.Build(cfg.AzureOpenAI.Endpoint, secret.Value, cfg.AzureOpenAI.DeploymentName, rn.logger, clientOpts...).
			WithName(cfg.Agent.Name).
			WithInstructions(cfg.Agent.Instructions).
			WithMaxTokens(cfg.Agent.MaxTokens).
			Wrap(func(p llm.StreamingProvider) llm.StreamingProvider {
				return observability.NewInstrumentedProvider(p, rn.obs.MetricsOrNil(), rn.obs.TracerOrNil())
			})
		return nil
	})
	if err != nil {
		return err
	}
	rn.logger.Debug("agent ready",
		slog.String("agent", a.Name()),
		slog.String("deployment", cfg.AzureOpenAI.DeploymentName),
	)

	// Requests.
	rn.stage = stageChatRequest
	return rn.obs.Stage(ctx, rn.stage, func(ctx context.Context) error {
		driver := agent.NewDriver(rn.stdout, rn.logger)
		driver.OnChunk = func(int, string) { rn.record.StreamChunks++ }
		return driver.Drive(ctx, timeoutRunner{inner: a, d: perCall}, opts.Prompts)
	})
}

// finish records the outcome: metrics, audit record and exporter shutdown.
// It runs even when ctx is cancelled.
func (rn *run) finish(ctx context.Context, err error) {
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	rn.record.FinishedAt = time.Now().UTC()
	switch {
	case err == nil:
		rn.record.Outcome = audit.OutcomeSuccess
	case errors.Is(err, context.Canceled):
		rn.record.Outcome = audit.OutcomeCanceled
		rn.record.FailureStage = rn.stage
	default:
		rn.record.Outcome = audit.OutcomeFailure
		rn.record.FailureStage = rn.stage
		if kind, ok := failure.KindOf(err); ok {
			rn.record.FailureKind = string(kind)
		}
		rn.record.StatusCode = failure.StatusOf(err)
	}

	if err == nil {
		rn.logger.Info("run complete",
			slog.Int("stream_chunks", rn.record.StreamChunks),
			slog.Duration("duration", rn.record.Duration()),
		)
	} else {
		rn.logger.Error("run failed",
			slog.String("stage", rn.stage),
			slog.String("error", err.Error()),
		)
	}

	// Nothing to record when the config could not be read.
	if rn.cfg == nil {
		return
	}

	rn.obs.RecordRun(err)
	rn.obs.Shutdown(bg)

	rec := rn.recorder()
	defer rec.Close()
	if appendErr := rec.Append(bg, rn.record); appendErr != nil {
		rn.logger.Warn("audit record not written", slog.String("error", appendErr.Error()))
	}
}

// recorder opens the audit store, or returns audit.Nop when auditing is
// disabled or the store cannot be opened.
func (rn *run) recorder() audit.Recorder {
	if !rn.cfg.Audit.Enabled || rn.deps.OpenAudit == nil {
		return audit.Nop{}
	}
	rec, err := rn.deps.OpenAudit(rn.cfg.Audit, rn.logger)
	if err != nil {
		rn.logger.Warn("audit store unavailable", slog.String("error", err.Error()))
		return audit.Nop{}
	}
	return rec
}
