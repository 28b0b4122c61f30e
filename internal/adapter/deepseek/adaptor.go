// Package deepseek implements the DeepSeek adapter (§4.4). DeepSeek is
// invoked in "reasoner" mode here: requests are remapped to an
// Anthropic-flavored content-block shape, and responses may come back in
// either that shape or an OpenAI-compatible shape carrying a separate
// reasoning_content field that must be promoted when content is empty.
package deepseek

import (
	"encoding/json"
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/modelgate/modelgate/internal/apperrors"
	"github.com/modelgate/modelgate/internal/domain"
)

const defaultMaxTokens = 4096

// forcedModel is always sent regardless of the resolved target_model (§9
// Open Questions: the source adapter this is grounded on sets this same
// value down both branches of its model-selection logic, which looks like
// an unintentional bug rather than a deliberate reasoner-mode pin — kept
// faithfully rather than "fixed", per spec's "do not guess" instruction).
const forcedModel = "deepseek-reasoner"

// Adaptor is the DeepSeek provider adaptor.
type Adaptor struct{}

// New constructs a DeepSeek Adaptor.
func New() *Adaptor { return &Adaptor{} }

type nativeImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type nativeContent struct {
	Type   string             `json:"type"`
	Text   string             `json:"text,omitempty"`
	Source *nativeImageSource `json:"source,omitempty"`
}

type nativeMessage struct {
	Role    string          `json:"role"`
	Content []nativeContent `json:"content"`
}

type nativeRequest struct {
	Model         string          `json:"model"`
	MaxTokens     int             `json:"max_tokens"`
	Messages      []nativeMessage `json:"messages"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
}

// AdaptRequest remaps the canonical request to the Anthropic-flavored
// content-block shape, concatenating any system messages' text into the
// first user message rather than sending them mid-list (§4.4).
func (a *Adaptor) AdaptRequest(req domain.ChatRequest, targetModel string) (any, error) {
	native := nativeRequest{
		Model:         forcedModel,
		MaxTokens:     defaultMaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		Stream:        req.Stream,
		StopSequences: stopSequences(req.Stop),
	}
	if req.MaxTokens != nil {
		native.MaxTokens = *req.MaxTokens
	}

	var systemText strings.Builder
	for _, msg := range req.Messages {
		if msg.Role != "system" {
			continue
		}
		parts, err := msg.ContentParts()
		if err != nil {
			return nil, apperrors.AdapterError("deepseek", "normalize system message", err)
		}
		for _, p := range parts {
			if p.Type == "text" {
				systemText.WriteString(p.Text)
			}
		}
	}

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			continue
		}
		parts, err := msg.ContentParts()
		if err != nil {
			return nil, apperrors.AdapterError("deepseek", "normalize message content", err)
		}
		native.Messages = append(native.Messages, nativeMessage{Role: msg.Role, Content: convertParts(parts)})
	}

	if systemText.Len() > 0 {
		prefix := nativeContent{Type: "text", Text: systemText.String()}
		firstUser := -1
		for i := range native.Messages {
			if native.Messages[i].Role == "user" {
				firstUser = i
				break
			}
		}
		if firstUser < 0 {
			native.Messages = append([]nativeMessage{{Role: "user", Content: []nativeContent{prefix}}}, native.Messages...)
		} else {
			native.Messages[firstUser].Content = append([]nativeContent{prefix}, native.Messages[firstUser].Content...)
		}
	}

	return native, nil
}

func stopSequences(stop any) []string {
	switch v := stop.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func convertParts(parts []domain.ContentPart) []nativeContent {
	out := make([]nativeContent, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case "text":
			out = append(out, nativeContent{Type: "text", Text: part.Text})
		case "image_url":
			out = append(out, convertImagePart(part))
		}
	}
	return out
}

func convertImagePart(part domain.ContentPart) nativeContent {
	url := ""
	if part.ImageURL != nil {
		url = part.ImageURL.URL
	}
	if strings.HasPrefix(url, "data:") {
		mediaType, data, ok := parseDataURL(url)
		if ok {
			return nativeContent{Type: "image", Source: &nativeImageSource{Type: "base64", MediaType: mediaType, Data: data}}
		}
		return nativeContent{Type: "text", Text: truncate(url, 50)}
	}
	return nativeContent{Type: "image", Source: &nativeImageSource{Type: "url", URL: url}}
}

func parseDataURL(url string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(url, "data:")
	if !found {
		return "", "", false
	}
	idx := strings.Index(rest, ";base64,")
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+len(";base64,"):], true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var stopReasonToFinishReason = map[string]string{
	"end_turn":      "stop",
	"max_tokens":    "length",
	"stop_sequence": "stop",
}

func finishReasonFor(stopReason string) string {
	if fr, ok := stopReasonToFinishReason[stopReason]; ok {
		return fr
	}
	return "stop"
}

type nativeAnthropicResponseContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type nativeAnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type nativeAnthropicResponse struct {
	Type       string                           `json:"type"`
	ID         string                           `json:"id"`
	Model      string                           `json:"model"`
	Content    []nativeAnthropicResponseContent `json:"content"`
	StopReason string                           `json:"stop_reason"`
	Usage      nativeAnthropicUsage             `json:"usage"`
}

type nativeOpenAIMessage struct {
	Role             string `json:"role"`
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content"`
}

type nativeOpenAIChoice struct {
	Index        int                  `json:"index"`
	Message      *nativeOpenAIMessage `json:"message"`
	FinishReason *string              `json:"finish_reason"`
}

type nativeOpenAIResponse struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []nativeOpenAIChoice `json:"choices"`
	Usage   *domain.UsageJSON    `json:"usage"`
}

// AdaptResponse detects whether the upstream answered in the Anthropic
// content-block shape or the OpenAI-compatible shape with a separate
// reasoning_content field, and repackages either into the canonical
// envelope (§4.4).
func (a *Adaptor) AdaptResponse(native []byte) (*domain.ChatResponse, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(native, &probe); err != nil {
		return nil, apperrors.AdapterError("deepseek", "decode response", errors.Wrap(err, "unmarshal deepseek response"))
	}

	if probe.Type == "message" {
		return adaptAnthropicShapeResponse(native)
	}
	return adaptOpenAIShapeResponse(native)
}

func adaptAnthropicShapeResponse(native []byte) (*domain.ChatResponse, error) {
	var resp nativeAnthropicResponse
	if err := json.Unmarshal(native, &resp); err != nil {
		return nil, apperrors.AdapterError("deepseek", "decode anthropic-shape response", errors.Wrap(err, "unmarshal"))
	}

	var text strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	finish := finishReasonFor(resp.StopReason)
	return &domain.ChatResponse{
		ID:     resp.ID,
		Object: "chat.completion",
		Model:  resp.Model,
		Choices: []domain.Choice{{
			Index:        0,
			Message:      &domain.Message{Role: "assistant", Content: text.String()},
			FinishReason: &finish,
		}},
		Usage: &domain.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func adaptOpenAIShapeResponse(native []byte) (*domain.ChatResponse, error) {
	var resp nativeOpenAIResponse
	if err := json.Unmarshal(native, &resp); err != nil {
		return nil, apperrors.AdapterError("deepseek", "decode openai-shape response", errors.Wrap(err, "unmarshal"))
	}

	out := &domain.ChatResponse{
		ID:     resp.ID,
		Object: "chat.completion",
		Model:  resp.Model,
	}
	for _, c := range resp.Choices {
		content := ""
		role := "assistant"
		if c.Message != nil {
			content = c.Message.Content
			role = c.Message.Role
			if content == "" && c.Message.ReasoningContent != "" {
				content = c.Message.ReasoningContent
			}
		}
		out.Choices = append(out.Choices, domain.Choice{
			Index:        c.Index,
			Message:      &domain.Message{Role: role, Content: content},
			FinishReason: c.FinishReason,
		})
	}
	if resp.Usage != nil {
		out.Usage = &domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

type nativeStreamDelta struct {
	Role             string  `json:"role,omitempty"`
	Content          *string `json:"content"`
	ReasoningContent *string `json:"reasoning_content"`
}

type nativeStreamChoice struct {
	Index        int               `json:"index"`
	Delta        nativeStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type nativeStreamChunk struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []nativeStreamChoice `json:"choices"`
}

// AdaptStreamChunk rewrites delta.content = reasoning_content when content is
// null but reasoning_content carries text; otherwise the chunk passes
// through unchanged (§4.4).
func (a *Adaptor) AdaptStreamChunk(native []byte) (*domain.ChatResponse, error) {
	var chunk nativeStreamChunk
	if err := json.Unmarshal(native, &chunk); err != nil {
		return nil, apperrors.AdapterError("deepseek", "decode stream chunk", errors.Wrap(err, "unmarshal deepseek chunk"))
	}

	out := &domain.ChatResponse{ID: chunk.ID, Object: "chat.completion.chunk", Model: chunk.Model}
	for _, c := range chunk.Choices {
		content := ""
		if c.Delta.Content != nil {
			content = *c.Delta.Content
		} else if c.Delta.ReasoningContent != nil {
			content = *c.Delta.ReasoningContent
		}
		out.Choices = append(out.Choices, domain.Choice{
			Index:        c.Index,
			Delta:        &domain.Message{Role: c.Delta.Role, Content: content},
			FinishReason: c.FinishReason,
		})
	}
	return out, nil
}

// SupportsMultimodal always returns true for DeepSeek (the Anthropic-flavored
// content shape used here accepts image blocks).
func (a *Adaptor) SupportsMultimodal() bool { return true }
