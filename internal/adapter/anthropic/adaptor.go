// Package anthropic implements the Claude Messages adapter (§4.4): canonical
// messages become Anthropic's {role, content: [...]} shape, system messages
// are dropped, and images are translated to Anthropic's base64/url source
// shape.
package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/modelgate/modelgate/internal/apperrors"
	"github.com/modelgate/modelgate/internal/domain"
)

const defaultMaxTokens = 4096

// Adaptor is the Anthropic Claude Messages adaptor.
type Adaptor struct{}

// New constructs an Anthropic Adaptor.
func New() *Adaptor { return &Adaptor{} }

type nativeImageSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type nativeContent struct {
	Type   string             `json:"type"` // "text" or "image"
	Text   string             `json:"text,omitempty"`
	Source *nativeImageSource `json:"source,omitempty"`
}

type nativeMessage struct {
	Role    string          `json:"role"`
	Content []nativeContent `json:"content"`
}

type nativeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Messages    []nativeMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

// AdaptRequest drops system messages, sets max_tokens (default 4096), and
// translates each remaining message's content into Anthropic's content-block
// shape.
func (a *Adaptor) AdaptRequest(req domain.ChatRequest, targetModel string) (any, error) {
	native := nativeRequest{
		Model:       targetModel,
		MaxTokens:   defaultMaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}
	if req.MaxTokens != nil {
		native.MaxTokens = *req.MaxTokens
	}

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			continue
		}
		parts, err := msg.ContentParts()
		if err != nil {
			return nil, apperrors.AdapterError("anthropic", "normalize message content", err)
		}
		content, err := convertParts(parts)
		if err != nil {
			return nil, apperrors.AdapterError("anthropic", "convert message content", err)
		}
		native.Messages = append(native.Messages, nativeMessage{Role: msg.Role, Content: content})
	}

	return native, nil
}

func convertParts(parts []domain.ContentPart) ([]nativeContent, error) {
	out := make([]nativeContent, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case "text":
			out = append(out, nativeContent{Type: "text", Text: part.Text})
		case "image_url":
			out = append(out, convertImagePart(part))
		}
	}
	return out, nil
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
		// Parsing failed: fall back to a text placeholder with the first 50 URL characters (§4.4).
		return nativeContent{Type: "text", Text: truncate(url, 50)}
	}
	return nativeContent{Type: "image", Source: &nativeImageSource{Type: "url", URL: url}}
}

func parseDataURL(url string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(url, "data:")
	if !found {
		return "", "", false
	}
	semi := strings.Index(rest, ";base64,")
	if semi < 0 {
		return "", "", false
	}
	return rest[:semi], rest[semi+len(";base64,"):], true
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

type nativeResponseContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type nativeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type nativeResponse struct {
	ID         string                   `json:"id"`
	Model      string                   `json:"model"`
	Content    []nativeResponseContent  `json:"content"`
	StopReason string                   `json:"stop_reason"`
	Usage      nativeUsage              `json:"usage"`
}

// AdaptResponse wraps content[0].text into canonical choices[0].message.content,
// maps stop_reason to finish_reason, and copies usage counters (§4.4).
func (a *Adaptor) AdaptResponse(native []byte) (*domain.ChatResponse, error) {
	var resp nativeResponse
	if err := json.Unmarshal(native, &resp); err != nil {
		return nil, apperrors.AdapterError("anthropic", "decode response", errors.Wrap(err, "unmarshal anthropic response"))
	}
	text := ""
	if len(resp.Content) > 0 {
		text = resp.Content[0].Text
	}
	finish := finishReasonFor(resp.StopReason)
	total := resp.Usage.InputTokens + resp.Usage.OutputTokens
	return &domain.ChatResponse{
		ID:     resp.ID,
		Object: "chat.completion",
		Model:  resp.Model,
		Choices: []domain.Choice{{
			Index:        0,
			Message:      &domain.Message{Role: "assistant", Content: text},
			FinishReason: &finish,
		}},
		Usage: &domain.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      total,
		},
	}, nil
}

type nativeStreamDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type nativeStreamEvent struct {
	Type  string             `json:"type"`
	Delta *nativeStreamDelta `json:"delta,omitempty"`
}

// AdaptStreamChunk emits a delta chunk whose content equals the incoming
// content_block_delta text, an empty delta with finish_reason=stop on
// message_stop, or an empty delta for any other event (§4.4).
func (a *Adaptor) AdaptStreamChunk(native []byte) (*domain.ChatResponse, error) {
	var event nativeStreamEvent
	if err := json.Unmarshal(native, &event); err != nil {
		return nil, apperrors.AdapterError("anthropic", "decode stream chunk", errors.Wrap(err, "unmarshal anthropic event"))
	}

	switch event.Type {
	case "content_block_delta":
		text := ""
		if event.Delta != nil {
			text = event.Delta.Text
		}
		return &domain.ChatResponse{
			Object:  "chat.completion.chunk",
			Choices: []domain.Choice{{Index: 0, Delta: &domain.Message{Role: "assistant", Content: text}}},
		}, nil
	case "message_stop":
		finish := "stop"
		return &domain.ChatResponse{
			Object:  "chat.completion.chunk",
			Choices: []domain.Choice{{Index: 0, Delta: &domain.Message{}, FinishReason: &finish}},
		}, nil
	default:
		return &domain.ChatResponse{
			Object:  "chat.completion.chunk",
			Choices: []domain.Choice{{Index: 0, Delta: &domain.Message{}}},
		}, nil
	}
}

// SupportsMultimodal always returns true for Anthropic.
func (a *Adaptor) SupportsMultimodal() bool { return true }

// CanonicalizeInbound converts a client-submitted Anthropic Messages request
// body into the canonical shape, for the /v1/messages ingress path (§6):
// clients speaking Anthropic's wire format in must still flow through the
// shared preprocess/resolve/select pipeline, which only understands the
// canonical shape.
func (a *Adaptor) CanonicalizeInbound(body []byte) (domain.ChatRequest, error) {
	var native nativeRequest
	if err := json.Unmarshal(body, &native); err != nil {
		return domain.ChatRequest{}, apperrors.ValidationError("malformed anthropic request body: %s", err)
	}

	req := domain.ChatRequest{
		Model:       native.Model,
		MaxTokens:   &native.MaxTokens,
		Temperature: native.Temperature,
		TopP:        native.TopP,
		Stream:      native.Stream,
	}
	for _, msg := range native.Messages {
		var parts []domain.ContentPart
		for _, c := range msg.Content {
			switch c.Type {
			case "text":
				parts = append(parts, domain.ContentPart{Type: "text", Text: c.Text})
			case "image":
				if c.Source == nil {
					continue
				}
				var url string
				if c.Source.Type == "base64" {
					url = "data:" + c.Source.MediaType + ";base64," + c.Source.Data
				} else {
					url = c.Source.URL
				}
				parts = append(parts, domain.ContentPart{Type: "image_url", ImageURL: &domain.ImageURL{URL: url}})
			}
		}
		req.Messages = append(req.Messages, domain.Message{Role: msg.Role, Content: parts})
	}
	return req, nil
}

var finishReasonToStopReason = map[string]string{
	"stop":   "end_turn",
	"length": "max_tokens",
}

func stopReasonFor(finishReason string) string {
	if sr, ok := finishReasonToStopReason[finishReason]; ok {
		return sr
	}
	return "end_turn"
}

// EncodeOutbound converts a canonical chat response into Anthropic's native
// Messages response shape, for the /v1/messages egress path whichever
// provider was resolved (§6): the caller spoke
// Anthropic's wire format in, and expects it back regardless of which
// upstream actually served the request.
func (a *Adaptor) EncodeOutbound(resp *domain.ChatResponse) ([]byte, error) {
	text := ""
	stopReason := "end_turn"
	if len(resp.Choices) > 0 {
		if resp.Choices[0].Message != nil {
			if s, ok := resp.Choices[0].Message.Content.(string); ok {
				text = s
			}
		}
		if resp.Choices[0].FinishReason != nil {
			stopReason = stopReasonFor(*resp.Choices[0].FinishReason)
		}
	}

	native := nativeResponse{
		ID:         resp.ID,
		Model:      resp.Model,
		Content:    []nativeResponseContent{{Type: "text", Text: text}},
		StopReason: stopReason,
	}
	if resp.Usage != nil {
		native.Usage = nativeUsage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	}

	out, err := json.Marshal(native)
	if err != nil {
		return nil, apperrors.AdapterError("anthropic", "encode outbound response", errors.Wrap(err, "marshal anthropic response"))
	}
	return out, nil
}

// EncodeOutboundStreamChunk converts one canonical stream chunk into an
// Anthropic-shaped SSE payload, for the /v1/messages streaming egress path
// whichever provider was resolved.
func (a *Adaptor) EncodeOutboundStreamChunk(resp *domain.ChatResponse) ([]byte, error) {
	if len(resp.Choices) == 0 {
		return json.Marshal(map[string]any{"type": "content_block_delta", "delta": map[string]any{"type": "text_delta", "text": ""}})
	}
	choice := resp.Choices[0]
	if choice.FinishReason != nil {
		return json.Marshal(map[string]any{"type": "message_stop"})
	}
	text := ""
	if choice.Delta != nil {
		if s, ok := choice.Delta.Content.(string); ok {
			text = s
		}
	}
	return json.Marshal(map[string]any{"type": "content_block_delta", "delta": map[string]any{"type": "text_delta", "text": text}})
}
