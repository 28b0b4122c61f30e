package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelgate/modelgate/internal/domain"
)

func TestAdaptRequestRenamesAndMapsRoles(t *testing.T) {
	a := New()
	req := domain.ChatRequest{Messages: []domain.Message{
		{Role: "system", Content: "be nice"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}}
	out, err := a.AdaptRequest(req, "gemini-1.5-pro")
	require.NoError(t, err)
	native := out.(nativeRequest)
	require.Len(t, native.Contents, 2)
	assert.Equal(t, "user", native.Contents[0].Role)
	assert.Equal(t, "model", native.Contents[1].Role)
	assert.Equal(t, "hi", native.Contents[0].Parts[0].Text)
}

func TestAdaptRequestMovesGenerationConfig(t *testing.T) {
	a := New()
	temp := 0.5
	maxTok := 100
	req := domain.ChatRequest{
		Temperature: &temp,
		MaxTokens:   &maxTok,
		Messages:    []domain.Message{{Role: "user", Content: "hi"}},
	}
	out, err := a.AdaptRequest(req, "gemini-1.5-pro")
	require.NoError(t, err)
	native := out.(nativeRequest)
	require.NotNil(t, native.GenerationConfig)
	assert.Equal(t, 0.5, *native.GenerationConfig.Temperature)
	assert.Equal(t, 100, *native.GenerationConfig.MaxOutputTokens)
}

func TestAdaptRequestInlineDataImage(t *testing.T) {
	a := New()
	req := domain.ChatRequest{Messages: []domain.Message{
		{Role: "user", Content: []domain.ContentPart{
			{Type: "image_url", ImageURL: &domain.ImageURL{URL: "data:image/png;base64,QUFB"}},
		}},
	}}
	out, err := a.AdaptRequest(req, "gemini-1.5-pro")
	require.NoError(t, err)
	native := out.(nativeRequest)
	part := native.Contents[0].Parts[0]
	require.NotNil(t, part.InlineData)
	assert.Equal(t, "image/png", part.InlineData.MimeType)
	assert.Equal(t, "QUFB", part.InlineData.Data)
}

func TestAdaptRequestNonDataURLBecomesTextPlaceholder(t *testing.T) {
	a := New()
	req := domain.ChatRequest{Messages: []domain.Message{
		{Role: "user", Content: []domain.ContentPart{
			{Type: "image_url", ImageURL: &domain.ImageURL{URL: "https://example.com/a.png"}},
		}},
	}}
	out, err := a.AdaptRequest(req, "gemini-1.5-pro")
	require.NoError(t, err)
	native := out.(nativeRequest)
	part := native.Contents[0].Parts[0]
	assert.Nil(t, part.InlineData)
	assert.Equal(t, "https://example.com/a.png", part.Text)
}

func TestAdaptResponseConcatenatesPartsAndMapsFinish(t *testing.T) {
	a := New()
	body := []byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"hel"},{"text":"lo"}]},"finishReason":"MAX_TOKENS"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2,"totalTokenCount":5}}`)
	resp, err := a.AdaptResponse(body)
	require.NoError(t, err)
	assert.Equal(t, hardcodedModel, resp.Model)
	assert.Equal(t, "hello", resp.Choices[0].Message.Content)
	assert.Equal(t, "length", *resp.Choices[0].FinishReason)
	assert.Equal(t, 3, resp.Usage.PromptTokens)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestAdaptStreamChunkUsesDeltaNotMessage(t *testing.T) {
	a := New()
	body := []byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"hi"}]},"finishReason":"STOP"}]}`)
	chunk, err := a.AdaptStreamChunk(body)
	require.NoError(t, err)
	assert.Equal(t, "chat.completion.chunk", chunk.Object)
	assert.Nil(t, chunk.Choices[0].Message)
	require.NotNil(t, chunk.Choices[0].Delta)
	assert.Equal(t, "hi", chunk.Choices[0].Delta.Content)
}
