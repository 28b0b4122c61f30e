package domain

// ContentPart is one part of a canonical message's content list: either text
// or an image reference (§3 Canonical Message).
type ContentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL is the OpenAI-style image content part payload. URL may be a
// data: URL, an http(s) URL, or (pre-preprocessing) a local filesystem path.
type ImageURL struct {
	URL string `json:"url"`
}

// Message is one canonical chat message. Content is either a plain string
// (the common case) or a []ContentPart for multimodal messages; callers
// should use ContentParts() to normalize either shape.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentParts normalizes Message.Content into a uniform []ContentPart,
// wrapping a bare string as a single text part.
func (m *Message) ContentParts() ([]ContentPart, error) {
	switch v := m.Content.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []ContentPart{{Type: "text", Text: v}}, nil
	case []ContentPart:
		return v, nil
	case []any:
		return decodeContentParts(v)
	default:
		return nil, nil
	}
}

// ChatRequest is the canonical OpenAI chat-completions request shape
// recognized at the HTTP boundary (§6).
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
	Stop        any       `json:"stop,omitempty"`
}

// Choice is one completion choice in a canonical response or stream chunk.
type Choice struct {
	Index        int      `json:"index"`
	Message      *Message `json:"message,omitempty"`
	Delta        *Message `json:"delta,omitempty"`
	FinishReason *string  `json:"finish_reason"`
}

// ChatResponse is the canonical OpenAI chat-completions response/chunk shape.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"` // "chat.completion" or "chat.completion.chunk"
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// UsageJSON mirrors Usage with the same wire field names (§6), each marked
// omitempty; it is decoded from upstream bodies rather than emitted.
type UsageJSON struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// RequestLogEntry is one append-only record written per completed request (§4.6).
type RequestLogEntry struct {
	ID               int64  `json:"id" gorm:"primaryKey"`
	Timestamp        int64  `json:"timestamp" gorm:"index"`
	SourceAPI        string `json:"source_api"`
	TargetAPI        string `json:"target_api"`
	SourceModel      string `json:"source_model"`
	TargetModel      string `json:"target_model"`
	Provider         string `json:"provider"`
	RequestBody      string `json:"request_body" gorm:"type:text"`
	ResponseBody     string `json:"response_body" gorm:"type:text"`
	StatusCode       int    `json:"status_code"`
	ErrorMessage     string `json:"error_message"`
	ProcessingTimeMS int64  `json:"processing_time_ms"`
}

func decodeContentParts(raw []any) ([]ContentPart, error) {
	parts := make([]ContentPart, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		kind, _ := m["type"].(string)
		switch kind {
		case "text":
			text, _ := m["text"].(string)
			parts = append(parts, ContentPart{Type: "text", Text: text})
		case "image_url":
			urlField := m["image_url"]
			var url string
			switch u := urlField.(type) {
			case string:
				url = u
			case map[string]any:
				url, _ = u["url"].(string)
			}
			parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}})
		}
	}
	return parts, nil
}
