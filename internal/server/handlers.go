package server

import (
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/modelgate/modelgate/internal/adapter/anthropic"
	"github.com/modelgate/modelgate/internal/apperrors"
	"github.com/modelgate/modelgate/internal/domain"
)

// handleChatCompletions serves POST /v1/chat/completions: canonical OpenAI
// shape in, canonical OpenAI shape out (§6).
func handleChatCompletions(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req domain.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, apperrors.ValidationError("malformed request body: %s", err))
			return
		}
		serve(c, deps, "openai", req, "", nil)
	}
}

// handleMessages serves POST /v1/messages: Anthropic-style in, Anthropic-
// style out. Whichever provider the resolver picks, the upstream response is
// first adapted into the canonical shape and then re-encoded into Anthropic
// shape; an Anthropic upstream body is not passed through as-is (§6).
func handleMessages(deps *Deps) gin.HandlerFunc {
	anthropicAdapter := anthropic.New()

	encFor := func(provider domain.Provider) *outboundEncoder {
		return &outboundEncoder{
			response: anthropicAdapter.EncodeOutbound,
			chunk:    anthropicAdapter.EncodeOutboundStreamChunk,
		}
	}

	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			writeError(c, apperrors.ValidationError("failed to read request body"))
			return
		}
		req, err := anthropicAdapter.CanonicalizeInbound(body)
		if err != nil {
			writeError(c, err)
			return
		}
		serve(c, deps, "anthropic", req, "", encFor)
	}
}

// handleProviderCompletions serves POST /v1/provider/{provider}/completions:
// forces the resolver to stage 1 within the named provider (§6).
func handleProviderCompletions(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		providerParam := domain.Provider(c.Param("provider"))
		if !domain.Providers[providerParam] {
			writeError(c, apperrors.ValidationError("unknown provider: %s", c.Param("provider")))
			return
		}
		var req domain.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, apperrors.ValidationError("malformed request body: %s", err))
			return
		}
		serve(c, deps, "provider:"+string(providerParam), req, providerParam, nil)
	}
}

// handleListModels serves GET /v1/models: the distinct enabled route keys,
// in OpenAI list shape (§6).
func handleListModels(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := deps.Store.ListEnabledModelConfigs()
		if err != nil {
			writeError(c, apperrors.Internal(requestIDFrom(c), err))
			return
		}

		seen := make(map[string]bool, len(rows))
		var routeKeys []string
		for _, row := range rows {
			if seen[row.RouteKey] {
				continue
			}
			seen[row.RouteKey] = true
			routeKeys = append(routeKeys, row.RouteKey)
		}
		sort.Strings(routeKeys)

		data := make([]gin.H, 0, len(routeKeys))
		now := time.Now().Unix()
		for _, key := range routeKeys {
			data = append(data, gin.H{
				"id":       key,
				"object":   "model",
				"created":  now,
				"owned_by": "modelgate",
			})
		}

		c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
	}
}
