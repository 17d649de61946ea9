package unifiedllm

import "context"

// ProviderAdapter is the interface every provider backend must implement.
// One call to Complete is one model round; adapters never retry on their own.
type ProviderAdapter interface {
	// Name returns the provider identifier (e.g. "kimi", "openai", "anthropic").
	Name() string

	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Optional adapter capabilities.

// ModelLister is implemented by adapters that can enumerate the models
// their endpoint serves.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}
