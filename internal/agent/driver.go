package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// Prompts are the two requests issued by a Driver.
type Prompts struct {
	Once      string
	Streaming string
}

// DefaultPrompts are used when none are given on the command line.
var DefaultPrompts = Prompts{
	Once:      "Tell me a joke about a pirate.",
	Streaming: "Another pirate joke, please.",
}

// Driver issues one synchronous and one streaming request and writes the
// results to out.
type Driver struct {
	out    io.Writer
	logger *slog.Logger

	// OnChunk, if set, is called after each streamed chunk is written.
	OnChunk func(index int, chunk string)
}

// NewDriver creates a Driver writing to out.
func NewDriver(out io.Writer, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{out: out, logger: logger}
}

// Drive runs the synchronous request, prints its response on one line, then
// runs the streaming request and prints each chunk as it is pulled. The
// streaming request is not issued if the synchronous one fails.
func (d *Driver) Drive(ctx context.Context, r Runner, p Prompts) error {
	text, err := r.RunOnce(ctx, p.Once)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(d.out, text); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}

	stream, err := r.RunStreaming(ctx, p.Streaming)
	if err != nil {
		return err
	}
	defer stream.Close()

	n := 0
	for stream.Next() {
		chunk := stream.Current()
		if _, err := io.WriteString(d.out, chunk); err != nil {
			return fmt.Errorf("writing chunk: %w", err)
		}
		if d.OnChunk != nil {
			d.OnChunk(n, chunk)
		}
		n++
	}
	if err := stream.Err(); err != nil {
		// Terminate the partial line before the caller reports the error.
		fmt.Fprintln(d.out)
		return err
	}
	if _, err := fmt.Fprintln(d.out); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}

	d.logger.DebugContext(ctx, "streaming response complete", slog.Int("chunks", n))
	return nil
}
