package plume

import "context"

// Provider generates text through an LLM backend. When registered via
// WithProvider it is keyed by Name(), replacing the built-in adapter
// for that provider; names must match the catalog ("openai",
// "anthropic"). Used by tests to stub generations and by embedders to
// route through gateways the built-in adapters cannot reach.
type Provider interface {
	// Name returns the catalog provider this backend serves.
	Name() string
	// ValidateCredentials makes the cheapest authenticated call the
	// backend offers. Called once at startup, non-fatally.
	ValidateCredentials(ctx context.Context) error
	Generate(ctx context.Context, req GenerationRequest) (Generation, error)
	// GenerateBatch produces one Generation per request, in order.
	// Backends without a native batch endpoint may loop Generate.
	GenerateBatch(ctx context.Context, reqs []GenerationRequest) ([]Generation, error)
}

// ExecutionHook receives async notifications when an agent execution
// reaches a terminal state, including watchdog expiries and runs whose
// credit compensation failed. Hook methods run in goroutines and must
// not block indefinitely; failures are logged and never fail the
// originating request. Multiple hooks may be registered via multiple
// WithExecutionHook calls.
type ExecutionHook interface {
	OnExecutionFinished(ctx context.Context, event ExecutionEvent) error
}
