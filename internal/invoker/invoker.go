// Package invoker defines the contract the council engine uses to reach
// its members, plus the concrete implementations: an OpenRouter HTTP
// client for production and scripted fakes for tests and dry runs.
//
// The engine never defines the wire protocol to a member; it only
// requires Invoke and respects context cancellation and deadlines.
package invoker

import "context"

// Invoker invokes a single council member with a prompt and returns its
// answer text. Implementations must honor ctx cancellation and deadlines;
// latency and availability are outside the engine's control.
type Invoker interface {
	Invoke(ctx context.Context, member, prompt string) (string, error)
}

// Func adapts an ordinary function to the Invoker interface.
type Func func(ctx context.Context, member, prompt string) (string, error)

// Invoke calls the wrapped function.
func (f Func) Invoke(ctx context.Context, member, prompt string) (string, error) {
	return f(ctx, member, prompt)
}
