// Package agent wraps a chat-completion provider with a name and standing
// instructions, and drives the request sequence against it.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/vaultchat/internal/llm"
	"github.com/jkaninda/vaultchat/internal/llm/azureopenai"
)

const (
	DefaultName         = "Joker"
	DefaultInstructions = "You are good at telling jokes."
)

// Runner is the request surface of an agent.
type Runner interface {
	// RunOnce blocks until the full response is available.
	RunOnce(ctx context.Context, prompt string) (string, error)
	// RunStreaming issues a new request and returns its chunks lazily.
	RunStreaming(ctx context.Context, prompt string) (*llm.Stream, error)
}

// Agent is a named chat agent over one provider. It holds no conversation
// state; every call is a single-turn request.
type Agent struct {
	name         string
	instructions string
	maxTokens    int // 0 = provider default
	provider     llm.StreamingProvider
	logger       *slog.Logger
}

// New creates an agent backed by provider.
func New(provider llm.StreamingProvider, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		name:         DefaultName,
		instructions: DefaultInstructions,
		provider:     provider,
		logger:       logger,
	}
}

// Build creates an agent for an Azure OpenAI deployment authenticated with
// apiKey. Pure construction: no network call is made.
func Build(endpoint, apiKey, deployment string, logger *slog.Logger, opts ...azureopenai.Option) *Agent {
	return New(azureopenai.NewClient(endpoint, apiKey, deployment, logger, opts...), logger)
}

// WithName sets the agent name.
func (a *Agent) WithName(name string) *Agent {
	if name != "" {
		a.name = name
	}
	return a
}

// WithInstructions sets the system instructions sent with every request.
func (a *Agent) WithInstructions(instructions string) *Agent {
	a.instructions = instructions
	return a
}

// WithMaxTokens caps completion length.
func (a *Agent) WithMaxTokens(n int) *Agent {
	a.maxTokens = n
	return a
}

// Wrap decorates the provider, e.g. with instrumentation.
func (a *Agent) Wrap(mw func(llm.StreamingProvider) llm.StreamingProvider) *Agent {
	if mw != nil {
		a.provider = mw(a.provider)
	}
	return a
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

func (a *Agent) request(prompt string) *llm.Request {
	return llm.UserPrompt(a.instructions, prompt, a.maxTokens)
}

// RunOnce sends prompt and returns the complete response text.
func (a *Agent) RunOnce(ctx context.Context, prompt string) (string, error) {
	resp, err := a.provider.SendMessage(ctx, a.request(prompt))
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", a.name, err)
	}
	a.logger.DebugContext(ctx, "agent response",
		slog.String("agent", a.name),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
		slog.String("stop_reason", resp.StopReason),
	)
	return resp.Content, nil
}

// RunStreaming sends prompt and returns a stream of response chunks.
// Each call issues a new request.
func (a *Agent) RunStreaming(ctx context.Context, prompt string) (*llm.Stream, error) {
	stream, err := a.provider.StreamMessage(ctx, a.request(prompt))
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.name, err)
	}
	return stream, nil
}
