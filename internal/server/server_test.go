package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/adapter"
	"github.com/modelgate/modelgate/internal/adapter/openai"
	"github.com/modelgate/modelgate/internal/circuitbreaker"
	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/crypto"
	"github.com/modelgate/modelgate/internal/domain"
	"github.com/modelgate/modelgate/internal/health"
	"github.com/modelgate/modelgate/internal/logsink"
	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/pool"
	"github.com/modelgate/modelgate/internal/preprocess"
	"github.com/modelgate/modelgate/internal/providerclient"
	"github.com/modelgate/modelgate/internal/resolver"
	"github.com/modelgate/modelgate/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestDeps wires a real store (in-memory sqlite), pool, and resolver
// against an httptest upstream standing in for the OpenAI API, with the
// ModelConfig's api_base pointed at the test server.
func newTestDeps(t *testing.T, upstreamURL string) *Deps {
	t.Helper()

	box := crypto.NewBox("a-sufficiently-long-master-secret-value")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	st, err := store.Open(dsn, box)
	require.NoError(t, err)

	require.NoError(t, st.DB.Create(&domain.ModelConfig{
		RouteKey:    "gpt-4",
		TargetModel: "gpt-4",
		Provider:    domain.ProviderOpenAI,
		Enabled:     true,
		APIBase:     upstreamURL,
	}).Error)

	key, err := st.CreateApiKey(domain.ProviderOpenAI, "sk-real-9f8a7b6c5d4e", "", "")
	require.NoError(t, err)

	tables, err := config.LoadTables("")
	require.NoError(t, err)

	p := pool.New(tables)
	require.NoError(t, st.LoadPool(p))

	cache := store.NewModelConfigCache(st)
	require.NoError(t, cache.Refresh())

	res := resolver.New(cache, p, tables)
	registry := adapter.NewRegistry(map[domain.Provider]adapter.Adapter{
		domain.ProviderOpenAI: openai.New(),
	})

	logger := zap.NewNop()
	sink := logsink.New(st, logger)
	t.Cleanup(sink.Close)

	_ = key

	breakers := circuitbreaker.NewRegistry(5, 2, 30*time.Second, 600*time.Second)

	return &Deps{
		Resolver:   res,
		Pool:       p,
		Adapters:   registry,
		Provider:   providerclient.New(http.DefaultClient),
		Preprocess: preprocess.New(http.DefaultClient),
		Store:      st,
		LogSink:    sink,
		Metrics:    metrics.New("modelgate_test"),
		Breakers:   breakers,
		Health:     health.New(p, breakers),
		Logger:     logger,
	}
}

func TestChatCompletionsHappyPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cmpl-1","object":"chat.completion","model":"gpt-4","choices":[{"index":0,"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
	}))
	defer upstream.Close()

	deps := newTestDeps(t, upstream.URL)
	router := NewRouter(deps)

	body := `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp domain.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)
	require.Equal(t, "assistant", resp.Choices[0].Message.Role)
	require.Equal(t, "hi there", resp.Choices[0].Message.Content)

	key, ok := deps.Pool.Get(1)
	require.True(t, ok)
	require.EqualValues(t, 1, key.RequestsCount)
	require.EqualValues(t, 1, key.SuccessCount)
}

func TestChatCompletionsUnknownModelReturnsNotFound(t *testing.T) {
	deps := newTestDeps(t, "http://unused.invalid")
	router := NewRouter(deps)

	body := `{"model":"totally-unknown-model","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatCompletionsUpstream429SetsRateLimit(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer upstream.Close()

	deps := newTestDeps(t, upstream.URL)
	router := NewRouter(deps)

	body := `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	key, ok := deps.Pool.Get(1)
	require.True(t, ok)
	require.NotNil(t, key.RateLimitedUntil)
	require.EqualValues(t, 1, key.ConsecutiveErrors)
}

func TestChatCompletionsStreamingEmitsDoneFrame(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"he\"},\"finish_reason\":null}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer upstream.Close()

	deps := newTestDeps(t, upstream.URL)
	router := NewRouter(deps)

	body := `{"model":"gpt-4","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	lines := []string{}
	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			lines = append(lines, line)
		}
	}
	require.NotEmpty(t, lines)
	require.Equal(t, "data: [DONE]", lines[len(lines)-1])
}

func TestListModelsReturnsDistinctRouteKeys(t *testing.T) {
	deps := newTestDeps(t, "http://unused.invalid")
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Object string `json:"object"`
		Data   []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "list", body.Object)
	require.Len(t, body.Data, 1)
	require.Equal(t, "gpt-4", body.Data[0].ID)
}

func TestHealthzReportsPerProviderStatus(t *testing.T) {
	deps := newTestDeps(t, "http://unused.invalid")
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var report health.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Providers, 1)
	require.Equal(t, domain.ProviderOpenAI, report.Providers[0].Provider)
	require.True(t, report.Providers[0].HasAvailableKey)
	require.Equal(t, health.StatusHealthy, report.Status)
}

func TestHealthzReturns503WhenBreakerOpen(t *testing.T) {
	deps := newTestDeps(t, "http://unused.invalid")
	breaker := deps.Breakers.For(domain.ProviderOpenAI)
	for i := 0; i < 5; i++ {
		breaker.RecordFailure()
	}
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProviderCompletionsRejectsUnknownProvider(t *testing.T) {
	deps := newTestDeps(t, "http://unused.invalid")
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/v1/provider/not-a-provider/completions", strings.NewReader(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatCompletionsShortCircuitsWhenBreakerOpen(t *testing.T) {
	called := false
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cmpl-1","object":"chat.completion","model":"gpt-4","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`)
	}))
	defer upstream.Close()

	deps := newTestDeps(t, upstream.URL)
	breaker := deps.Breakers.For(domain.ProviderOpenAI)
	for i := 0; i < 5; i++ {
		breaker.RecordFailure()
	}
	require.Equal(t, circuitbreaker.Open, breaker.State())

	router := NewRouter(deps)
	body := `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.False(t, called, "breaker should short-circuit before the upstream call")
}

func TestMessagesEndpointOpenAIProviderReencodesToAnthropicShape(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cmpl-1","object":"chat.completion","model":"gpt-4","choices":[{"index":0,"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
	}))
	defer upstream.Close()

	deps := newTestDeps(t, upstream.URL)
	router := NewRouter(deps)

	body := `{"model":"gpt-4","max_tokens":256,"messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Content, 1)
	require.Equal(t, "hi there", resp.Content[0].Text)
	require.Equal(t, "end_turn", resp.StopReason)
}
