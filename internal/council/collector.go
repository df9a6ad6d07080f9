package council

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Dicklesworthstone/council/internal/invoker"
)

// Collector runs Stage 1: it fans the query out to every configured
// member in parallel and collects their answers. Individual member
// failure is recorded, not fatal; the quorum decision belongs to the
// engine.
type Collector struct {
	// Invoker reaches the members.
	Invoker invoker.Invoker

	// Timeout bounds each individual member call.
	Timeout time.Duration

	// Logger receives per-member failure logs. Defaults to slog.Default.
	Logger *slog.Logger
}

// NewCollector creates a Stage-1 collector.
func NewCollector(inv invoker.Invoker, timeout time.Duration) *Collector {
	return &Collector{Invoker: inv, Timeout: timeout}
}

func (c *Collector) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Collect invokes every member concurrently and returns one response per
// member, in the configured member order. Each task writes only its own
// slot; the caller owns the merged slice after the join, so no locking is
// needed. Collect returns once every task has settled (success, failure,
// or timeout) — later stages depend on the complete set, never a partial
// one.
func (c *Collector) Collect(ctx context.Context, query string, members []string) []MemberResponse {
	responses := make([]MemberResponse, len(members))

	var wg sync.WaitGroup
	for i, member := range members {
		wg.Add(1)
		go func(i int, member string) {
			defer wg.Done()
			responses[i] = c.collectOne(ctx, query, member)
		}(i, member)
	}
	wg.Wait()

	return responses
}

// collectOne runs a single bounded member invocation.
func (c *Collector) collectOne(ctx context.Context, query, member string) MemberResponse {
	callCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	start := time.Now()
	answer, err := c.Invoker.Invoke(callCtx, member, query)
	elapsed := time.Since(start)

	if err != nil {
		c.logger().Warn("council member failed",
			"stage", StateCollecting.String(),
			"member", member,
			"elapsed", elapsed,
			"error", err)
		return MemberResponse{
			Member:    member,
			Succeeded: false,
			Error:     err.Error(),
			Elapsed:   elapsed,
		}
	}

	if strings.TrimSpace(answer) == "" {
		c.logger().Warn("council member returned empty answer",
			"stage", StateCollecting.String(),
			"member", member)
		return MemberResponse{
			Member:    member,
			Succeeded: false,
			Error:     "empty answer",
			Elapsed:   elapsed,
		}
	}

	return MemberResponse{
		Member:    member,
		Answer:    answer,
		Succeeded: true,
		Elapsed:   elapsed,
	}
}
