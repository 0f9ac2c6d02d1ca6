// Package llm adapts upstream model APIs behind a uniform provider
// interface. Adapters are stateless and never retry; transient
// failures surface as provider errors and the settlement layer decides
// what to do with them.
package llm

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/plumelit/plume/internal/model"
)

// GenerateRequest is one completion call. MaxTokens of 0 lets the
// adapter apply its default; Temperature of 0 omits the parameter.
type GenerateRequest struct {
	Model       string
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int64
}

// Generation is the normalized result of a completion call. Token
// counts are the provider-reported actuals used for settlement.
type Generation struct {
	Text             string
	PromptTokens     int64
	CompletionTokens int64
}

// Empty reports whether this generation is the zero placeholder a
// batch leaves behind for a failed item.
func (g Generation) Empty() bool {
	return g.Text == "" && g.PromptTokens == 0 && g.CompletionTokens == 0
}

// Provider is one upstream adapter. GenerateBatch preserves input
// order and leaves a zero-value Generation for items that failed, so
// callers can settle the successes without aborting the whole batch.
type Provider interface {
	Name() model.Provider
	ValidateCredentials(ctx context.Context) error
	Generate(ctx context.Context, req GenerateRequest) (Generation, error)
	GenerateBatch(ctx context.Context, reqs []GenerateRequest) ([]Generation, error)
}

// Registry maps provider names to configured adapters.
type Registry struct {
	mu        sync.RWMutex
	providers map[model.Provider]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[model.Provider]Provider, len(providers))}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces the adapter for its provider name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Provider resolves the adapter for a provider name. A missing adapter
// means the process was started without credentials for it.
func (r *Registry) Provider(name model.Provider) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, model.E(model.KindProviderError, "no %s adapter configured", name)
	}
	return p, nil
}

// Names lists the configured providers.
func (r *Registry) Names() []model.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Provider, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	return out
}

// generateConcurrently fans single calls out with bounded parallelism,
// keeping input order. Per-item failures leave the zero placeholder;
// only context cancellation fails the batch as a whole.
func generateConcurrently(
	ctx context.Context,
	limit int,
	reqs []GenerateRequest,
	generate func(context.Context, GenerateRequest) (Generation, error),
) ([]Generation, error) {
	if limit < 1 {
		limit = 1
	}
	out := make([]Generation, len(reqs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range reqs {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
			}
			gen, err := generate(gCtx, reqs[i])
			if err != nil {
				return nil
			}
			out[i] = gen
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, model.Wrap(model.KindProviderError, "batch generation canceled", err)
	}
	return out, nil
}
