package bootstrap

import (
	"context"
	"io"
	"time"

	"github.com/jkaninda/vaultchat/internal/agent"
	"github.com/jkaninda/vaultchat/internal/llm"
)

// callTimeout bounds each remote call by d. A zero d waits indefinitely.
func callTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// timeoutRunner applies a per-request deadline to an agent.Runner. For
// streaming requests the deadline covers the whole stream and is released
// when the stream closes.
type timeoutRunner struct {
	inner agent.Runner
	d     time.Duration
}

func (t timeoutRunner) RunOnce(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := callTimeout(ctx, t.d)
	defer cancel()
	return t.inner.RunOnce(ctx, prompt)
}

func (t timeoutRunner) RunStreaming(ctx context.Context, prompt string) (*llm.Stream, error) {
	ctx, cancel := callTimeout(ctx, t.d)
	inner, err := t.inner.RunStreaming(ctx, prompt)
	if err != nil {
		cancel()
		return nil, err
	}
	next := func() (string, error) {
		if inner.Next() {
			return inner.Current(), nil
		}
		if err := inner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return llm.NewStream(next, closerFunc(func() error {
		defer cancel()
		return inner.Close()
	})), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
