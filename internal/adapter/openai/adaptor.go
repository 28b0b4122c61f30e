// Package openai implements the pass-through adapter (§4.4): the canonical
// shape already IS OpenAI's shape, so translation is limited to overriding
// the model field. Response and stream chunks are returned unchanged.
package openai

import (
	"encoding/json"

	"github.com/Laisky/errors/v2"

	"github.com/modelgate/modelgate/internal/apperrors"
	"github.com/modelgate/modelgate/internal/domain"
)

// Adaptor is the OpenAI provider adaptor.
type Adaptor struct{}

// New constructs an OpenAI Adaptor.
func New() *Adaptor { return &Adaptor{} }

// AdaptRequest overrides Model and returns the canonical request as-is
// otherwise; multimodal normalization already happened in the shared
// preprocessing stage before any adapter runs.
func (a *Adaptor) AdaptRequest(req domain.ChatRequest, targetModel string) (any, error) {
	req.Model = targetModel
	return req, nil
}

// AdaptResponse decodes the upstream body directly into the canonical shape,
// since OpenAI's response IS the canonical shape.
func (a *Adaptor) AdaptResponse(native []byte) (*domain.ChatResponse, error) {
	var resp domain.ChatResponse
	if err := json.Unmarshal(native, &resp); err != nil {
		return nil, apperrors.AdapterError("openai", "decode response", errors.Wrap(err, "unmarshal openai response"))
	}
	return &resp, nil
}

// AdaptStreamChunk decodes one SSE payload directly into the canonical chunk shape.
func (a *Adaptor) AdaptStreamChunk(native []byte) (*domain.ChatResponse, error) {
	var chunk domain.ChatResponse
	if err := json.Unmarshal(native, &chunk); err != nil {
		return nil, apperrors.AdapterError("openai", "decode stream chunk", errors.Wrap(err, "unmarshal openai chunk"))
	}
	return &chunk, nil
}

// SupportsMultimodal always returns true for OpenAI.
func (a *Adaptor) SupportsMultimodal() bool { return true }
