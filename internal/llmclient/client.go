// Package llmclient defines the core's view of the language-model client:
// a single synchronous-appearing call. The engine supplies concurrency by
// running many invocations in parallel goroutines; this package does not
// itself manage concurrency, streaming, or tool-use protocols — those are
// the collaborator's internals, out of scope per the core's design.
package llmclient

import "context"

// Invoker is the single capability the core depends on from a language
// model client.
type Invoker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// InvokerFunc adapts a plain function to an Invoker.
type InvokerFunc func(ctx context.Context, prompt string) (string, error)

func (f InvokerFunc) Invoke(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
