package ollama

import (
	"context"
	"fmt"
	"io"
	"time"
)

const warmUpTimeout = 30 * time.Second

// EnsureReady checks that Ollama is running and model is installed, pulling it
// with progress written to w when missing. The model is then warmed up so the
// first voice memo does not pay the cold-load penalty; a failed warm-up is
// reported but not fatal.
func EnsureReady(ctx context.Context, c *Client, model string, w io.Writer) error {
	conn := c.Probe(ctx, model)
	if !conn.Available {
		return fmt.Errorf("Ollama is not running at %s. Start it with: ollama serve", conn.Host)
	}

	if !conn.ModelAvailable {
		fmt.Fprintf(w, "model %s: pulling (installed: %d other model(s))...\n", model, len(conn.Models))
		last := ""
		err := c.PullModel(ctx, model, func(p PullProgress) {
			line := p.Status
			if pct := p.Percent(); pct >= 0 {
				line = fmt.Sprintf("%s %.0f%%", p.Status, pct)
			}
			if line != last {
				fmt.Fprintf(w, "  %s\n", line)
				last = line
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
	}
	fmt.Fprintf(w, "model %s: ready\n", model)

	warmCtx, cancel := context.WithTimeout(ctx, warmUpTimeout)
	defer cancel()
	if _, err := c.Chat(warmCtx, model, []Message{{Role: "user", Content: "ping"}}, nil, nil); err != nil {
		fmt.Fprintf(w, "model %s: warm-up failed (non-fatal): %v\n", model, err)
		return nil
	}
	fmt.Fprintf(w, "model %s: warm\n", model)
	return nil
}
