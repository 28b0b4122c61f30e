// Package adapter defines the bidirectional translation contract between the
// canonical OpenAI chat-completions shape and each provider's native shape
// (§4.4), plus a registry so the provider is selected by name rather than
// runtime type lookup (§9).
package adapter

import "github.com/modelgate/modelgate/internal/domain"

// Adapter translates canonical requests/responses to and from one upstream
// provider's native wire shape.
type Adapter interface {
	// AdaptRequest converts a canonical request into the provider-native
	// request body, overriding the model field with targetModel.
	AdaptRequest(req domain.ChatRequest, targetModel string) (any, error)

	// AdaptResponse converts a provider-native unary response body into the
	// canonical envelope.
	AdaptResponse(native []byte) (*domain.ChatResponse, error)

	// AdaptStreamChunk converts one provider-native SSE payload into a
	// canonical delta chunk. A nil response with a nil error means the chunk
	// carried no content worth emitting (e.g. a pure keepalive).
	AdaptStreamChunk(native []byte) (*domain.ChatResponse, error)

	// SupportsMultimodal reports whether this provider accepts image content
	// natively (all four adapters in this proxy do).
	SupportsMultimodal() bool
}

// Registry maps a provider name to its Adapter implementation.
type Registry struct {
	adapters map[domain.Provider]Adapter
}

// NewRegistry builds a Registry from the given provider->adapter bindings.
func NewRegistry(bindings map[domain.Provider]Adapter) *Registry {
	return &Registry{adapters: bindings}
}

// Get returns the adapter bound to provider, or false if none is registered.
func (r *Registry) Get(provider domain.Provider) (Adapter, bool) {
	a, ok := r.adapters[provider]
	return a, ok
}
