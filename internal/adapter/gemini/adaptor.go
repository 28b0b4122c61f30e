// Package gemini implements the Google Generative Language adapter (§4.4):
// canonical messages become a `contents` list, system messages are dropped,
// and generation options move under a nested generationConfig object.
package gemini

import (
	"encoding/json"
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/modelgate/modelgate/internal/apperrors"
	"github.com/modelgate/modelgate/internal/domain"
)

// hardcodedModel is returned in every canonical envelope regardless of the
// model actually used upstream (documented Open Question, see DESIGN.md).
const hardcodedModel = "gemini-pro"

// Adaptor is the Gemini provider adaptor.
type Adaptor struct{}

// New constructs a Gemini Adaptor.
func New() *Adaptor { return &Adaptor{} }

type nativeInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type nativePart struct {
	Text       string             `json:"text,omitempty"`
	InlineData *nativeInlineData  `json:"inlineData,omitempty"`
}

type nativeContentEntry struct {
	Role  string       `json:"role"`
	Parts []nativePart `json:"parts"`
}

type nativeGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type nativeRequest struct {
	Contents         []nativeContentEntry    `json:"contents"`
	GenerationConfig *nativeGenerationConfig  `json:"generationConfig,omitempty"`
}

var roleMap = map[string]string{
	"user":      "user",
	"assistant": "model",
}

// AdaptRequest renames messages to contents, maps roles (system dropped),
// decodes image parts, and moves generation options under generationConfig
// (§4.4). targetModel is not embedded in the body: Gemini selects the model
// via the request path, which the provider client constructs separately.
func (a *Adaptor) AdaptRequest(req domain.ChatRequest, targetModel string) (any, error) {
	native := nativeRequest{}

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			continue
		}
		role, ok := roleMap[msg.Role]
		if !ok {
			role = "user"
		}
		parts, err := msg.ContentParts()
		if err != nil {
			return nil, apperrors.AdapterError("gemini", "normalize message content", err)
		}
		native.Contents = append(native.Contents, nativeContentEntry{Role: role, Parts: convertParts(parts)})
	}

	if req.Temperature != nil || req.TopP != nil || req.MaxTokens != nil {
		native.GenerationConfig = &nativeGenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
		}
	}

	return native, nil
}

func convertParts(parts []domain.ContentPart) []nativePart {
	out := make([]nativePart, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case "text":
			out = append(out, nativePart{Text: part.Text})
		case "image_url":
			out = append(out, convertImagePart(part))
		}
	}
	return out
}

func convertImagePart(part domain.ContentPart) nativePart {
	url := ""
	if part.ImageURL != nil {
		url = part.ImageURL.URL
	}
	if strings.HasPrefix(url, "data:") {
		mimeType, data, ok := parseDataURL(url)
		if ok {
			return nativePart{InlineData: &nativeInlineData{MimeType: mimeType, Data: data}}
		}
	}
	// Non-data URL images become a text placeholder (§4.4): Gemini's inline
	// data part has no URL-reference form.
	return nativePart{Text: url}
}

func parseDataURL(url string) (mimeType, data string, ok bool) {
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

var finishReasonMap = map[string]string{
	"STOP":       "stop",
	"MAX_TOKENS": "length",
	"SAFETY":     "content_filter",
	"RECITATION": "content_filter",
	"OTHER":      "stop",
}

func finishReasonFor(native string) string {
	if fr, ok := finishReasonMap[native]; ok {
		return fr
	}
	return "stop"
}

type nativeUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type nativeCandidate struct {
	Content      nativeContentEntry `json:"content"`
	FinishReason string             `json:"finishReason"`
}

type nativeResponse struct {
	Candidates    []nativeCandidate    `json:"candidates"`
	UsageMetadata *nativeUsageMetadata `json:"usageMetadata"`
}

// AdaptResponse concatenates candidates[0].content.parts text, maps
// finishReason, and extracts usageMetadata counters into the canonical
// envelope, hardcoding the model field (§4.4, Open Question).
func (a *Adaptor) AdaptResponse(native []byte) (*domain.ChatResponse, error) {
	var resp nativeResponse
	if err := json.Unmarshal(native, &resp); err != nil {
		return nil, apperrors.AdapterError("gemini", "decode response", errors.Wrap(err, "unmarshal gemini response"))
	}

	var text strings.Builder
	finish := "stop"
	if len(resp.Candidates) > 0 {
		c := resp.Candidates[0]
		for _, p := range c.Content.Parts {
			text.WriteString(p.Text)
		}
		finish = finishReasonFor(c.FinishReason)
	}

	out := &domain.ChatResponse{
		Object: "chat.completion",
		Model:  hardcodedModel,
		Choices: []domain.Choice{{
			Index:        0,
			Message:      &domain.Message{Role: "assistant", Content: text.String()},
			FinishReason: &finish,
		}},
	}
	if resp.UsageMetadata != nil {
		out.Usage = &domain.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}
	return out, nil
}

// AdaptStreamChunk applies the same translation as AdaptResponse to one
// streamed chunk (§4.4: "analogous per-chunk").
func (a *Adaptor) AdaptStreamChunk(native []byte) (*domain.ChatResponse, error) {
	resp, err := a.AdaptResponse(native)
	if err != nil {
		return nil, err
	}
	resp.Object = "chat.completion.chunk"
	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		resp.Choices[0].Message = nil
		resp.Choices[0].Delta = msg
	}
	return resp, nil
}

// SupportsMultimodal always returns true for Gemini.
func (a *Adaptor) SupportsMultimodal() bool { return true }
