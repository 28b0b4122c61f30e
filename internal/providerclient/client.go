// Package providerclient issues HTTP(S) calls to a chosen upstream provider
// and parses both unary and server-sent-event streaming responses (§4.5).
// It knows only the URL path, the auth header name/format, and the default
// endpoint per provider; everything else is provider-agnostic. Grounded on
// the teacher's relay/adaptor/openai_compatible StreamHandler scanning
// pattern.
package providerclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	laiserr "github.com/Laisky/errors/v2"

	"github.com/modelgate/modelgate/internal/apperrors"
	"github.com/modelgate/modelgate/internal/domain"
)

const streamChunkBuffer = 64

var defaultEndpoints = map[domain.Provider]string{
	domain.ProviderOpenAI:    "https://api.openai.com",
	domain.ProviderAnthropic: "https://api.anthropic.com",
	domain.ProviderGemini:    "https://generativelanguage.googleapis.com",
	domain.ProviderDeepSeek:  "https://api.deepseek.com",
}

// Client issues calls to upstream provider HTTP(S) APIs.
type Client struct {
	HTTPClient *http.Client
}

// New constructs a Client backed by the given HTTP client.
func New(httpClient *http.Client) *Client {
	return &Client{HTTPClient: httpClient}
}

// Request describes one upstream call: the fully resolved provider/path plus
// the per-key credential shape needed to authenticate it.
type Request struct {
	Provider   domain.Provider
	APIBase    string // optional override of the default endpoint
	Path       string // e.g. "/v1/chat/completions", "/v1/messages"
	AuthHeader string // default "Authorization"
	AuthFormat string // default "Bearer {key}"
	Secret     string // decrypted plaintext credential
	Body       any    // adapter-native request object, JSON-marshaled
}

// ChatCompletion issues a unary request and returns the raw upstream body on
// a 2xx response, or a typed apperrors.Error describing the failure surface.
func (c *Client) ChatCompletion(ctx context.Context, r Request) ([]byte, error) {
	httpReq, err := c.buildRequest(ctx, r)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, classifyDoError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.ProviderError(resp.StatusCode, "read upstream response body", laiserr.Wrap(err, "read body"))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, errorForStatus(resp, body)
	}
	return body, nil
}

// StreamChatCompletion issues a streaming request and returns a channel of
// raw SSE payloads (already stripped of the `data: ` prefix) plus an error
// channel. Both channels close when the stream ends; a non-nil value is sent
// on the error channel at most once.
func (c *Client) StreamChatCompletion(ctx context.Context, r Request) (<-chan []byte, <-chan error) {
	chunks := make(chan []byte, streamChunkBuffer)
	errs := make(chan error, 1)

	httpReq, err := c.buildRequest(ctx, r)
	if err != nil {
		close(chunks)
		errs <- err
		close(errs)
		return chunks, errs
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		close(chunks)
		errs <- classifyDoError(err)
		close(errs)
		return chunks, errs
	}

	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		close(chunks)
		errs <- errorForStatus(resp, body)
		close(errs)
		return chunks, errs
	}

	go func() {
		defer resp.Body.Close()
		defer close(chunks)
		defer close(errs)

		scanner := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		scanner.Split(bufio.ScanLines)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				return
			}
			select {
			case chunks <- []byte(payload):
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- apperrors.ServiceUnavailable("stream read failed", laiserr.Wrap(err, "scan upstream stream"))
		}
	}()

	return chunks, errs
}

func (c *Client) buildRequest(ctx context.Context, r Request) (*http.Request, error) {
	body, err := json.Marshal(r.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "marshal provider request body")
	}

	target, err := buildURL(r)
	if err != nil {
		return nil, apperrors.ConfigurationError(err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(string(body)))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "build upstream request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	applyAuth(httpReq, r)
	return httpReq, nil
}

func buildURL(r Request) (string, error) {
	base := r.APIBase
	if base == "" {
		base = defaultEndpoints[r.Provider]
	}
	if base == "" {
		return "", laiserr.Errorf("no default endpoint registered for provider %q", r.Provider)
	}

	full := strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(r.Path, "/")

	if r.Provider == domain.ProviderGemini {
		parsed, err := url.Parse(full)
		if err != nil {
			return "", laiserr.Wrap(err, "parse gemini url")
		}
		q := parsed.Query()
		q.Set("key", r.Secret)
		parsed.RawQuery = q.Encode()
		return parsed.String(), nil
	}

	return full, nil
}

func applyAuth(req *http.Request, r Request) {
	switch r.Provider {
	case domain.ProviderGemini:
		// Key travels in the query string; no Authorization header (§4.5).
		return
	case domain.ProviderAnthropic:
		req.Header.Set("anthropic-version", "2023-06-01")
		req.Header.Set("x-api-key", r.Secret)
		return
	default:
		header := r.AuthHeader
		if header == "" {
			header = "Authorization"
		}
		format := r.AuthFormat
		if format == "" {
			format = "Bearer {key}"
		}
		req.Header.Set(header, strings.ReplaceAll(format, "{key}", r.Secret))
	}
}

func classifyDoError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.ServiceUnavailable("upstream request timed out", laiserr.Wrap(err, "http do"))
	}
	return apperrors.ServiceUnavailable("upstream connection failed", laiserr.Wrap(err, "http do"))
}

func errorForStatus(resp *http.Response, body []byte) error {
	message := extractErrorMessage(body)
	cause := laiserr.Errorf("upstream status %d: %s", resp.StatusCode, message)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return apperrors.AuthenticationError(message)
	case resp.StatusCode == http.StatusTooManyRequests:
		e := apperrors.RateLimitError(retryAfterSeconds(resp))
		e.Details = message
		return e
	case resp.StatusCode >= http.StatusInternalServerError:
		return apperrors.ServiceUnavailable(message, cause)
	default:
		return apperrors.ProviderError(resp.StatusCode, message, cause)
	}
}

func retryAfterSeconds(resp *http.Response) int {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return secs
}

// extractErrorMessage pulls a human-readable message out of common upstream
// error body shapes: {"error": "..."}, {"error": {"message": "..."}},
// {"error": {"error": "..."}}, {"message": "..."} (§4.5).
func extractErrorMessage(body []byte) string {
	var probe map[string]any
	if err := json.Unmarshal(body, &probe); err != nil {
		return strings.TrimSpace(string(body))
	}

	if raw, ok := probe["error"]; ok {
		switch v := raw.(type) {
		case string:
			return v
		case map[string]any:
			if msg, ok := v["message"].(string); ok && msg != "" {
				return msg
			}
			if msg, ok := v["error"].(string); ok && msg != "" {
				return msg
			}
		}
	}
	if msg, ok := probe["message"].(string); ok && msg != "" {
		return msg
	}
	return strings.TrimSpace(string(body))
}
