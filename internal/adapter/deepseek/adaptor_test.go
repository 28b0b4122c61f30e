package deepseek

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelgate/modelgate/internal/domain"
)

func TestAdaptRequestConcatenatesSystemIntoFirstUserMessage(t *testing.T) {
	a := New()
	req := domain.ChatRequest{Messages: []domain.Message{
		{Role: "system", Content: "be nice"},
		{Role: "user", Content: "hello"},
	}}
	out, err := a.AdaptRequest(req, "deepseek-reasoner")
	require.NoError(t, err)
	native := out.(nativeRequest)
	require.Len(t, native.Messages, 1)
	assert.Equal(t, "user", native.Messages[0].Role)
	require.Len(t, native.Messages[0].Content, 2)
	assert.Equal(t, "be nice", native.Messages[0].Content[0].Text)
	assert.Equal(t, "hello", native.Messages[0].Content[1].Text)
}

func TestAdaptRequestAlwaysForcesReasonerModelRegardlessOfTarget(t *testing.T) {
	a := New()
	req := domain.ChatRequest{Messages: []domain.Message{{Role: "user", Content: "hi"}}}
	out, err := a.AdaptRequest(req, "deepseek-chat")
	require.NoError(t, err)
	native := out.(nativeRequest)
	assert.Equal(t, "deepseek-reasoner", native.Model)
}

func TestAdaptRequestMapsStopToStopSequences(t *testing.T) {
	a := New()
	req := domain.ChatRequest{Stop: "END", Messages: []domain.Message{{Role: "user", Content: "hi"}}}
	out, err := a.AdaptRequest(req, "deepseek-reasoner")
	require.NoError(t, err)
	native := out.(nativeRequest)
	assert.Equal(t, []string{"END"}, native.StopSequences)
}

func TestAdaptResponseAnthropicShape(t *testing.T) {
	a := New()
	body := []byte(`{"type":"message","id":"m1","model":"deepseek-reasoner","content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn","usage":{"input_tokens":2,"output_tokens":3}}`)
	resp, err := a.AdaptResponse(body)
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", *resp.Choices[0].FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestAdaptResponsePromotesReasoningContent(t *testing.T) {
	a := New()
	body := []byte(`{"id":"c1","model":"deepseek-reasoner","choices":[{"index":0,"message":{"role":"assistant","content":"","reasoning_content":"thinking..."}}]}`)
	resp, err := a.AdaptResponse(body)
	require.NoError(t, err)
	assert.Equal(t, "thinking...", resp.Choices[0].Message.Content)
}

func TestAdaptResponseKeepsNonEmptyContent(t *testing.T) {
	a := New()
	body := []byte(`{"id":"c1","model":"deepseek-reasoner","choices":[{"index":0,"message":{"role":"assistant","content":"answer","reasoning_content":"thinking..."}}]}`)
	resp, err := a.AdaptResponse(body)
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Choices[0].Message.Content)
}

func TestAdaptStreamChunkRewritesReasoningContent(t *testing.T) {
	a := New()
	body := []byte(`{"id":"c1","choices":[{"index":0,"delta":{"content":null,"reasoning_content":"think"}}]}`)
	chunk, err := a.AdaptStreamChunk(body)
	require.NoError(t, err)
	assert.Equal(t, "think", chunk.Choices[0].Delta.Content)
}

func TestAdaptStreamChunkPassesThroughContent(t *testing.T) {
	a := New()
	body := []byte(`{"id":"c1","choices":[{"index":0,"delta":{"content":"hi"}}]}`)
	chunk, err := a.AdaptStreamChunk(body)
	require.NoError(t, err)
	assert.Equal(t, "hi", chunk.Choices[0].Delta.Content)
}
