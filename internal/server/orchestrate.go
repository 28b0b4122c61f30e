package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/adapter"
	"github.com/modelgate/modelgate/internal/apperrors"
	"github.com/modelgate/modelgate/internal/circuitbreaker"
	"github.com/modelgate/modelgate/internal/domain"
	"github.com/modelgate/modelgate/internal/providerclient"
	"github.com/modelgate/modelgate/internal/resolver"
)

// outboundEncoder optionally re-shapes the canonical response/chunk into a
// different wire format before it reaches the client (used by /v1/messages
// for every resolved provider, Anthropic included).
type outboundEncoder struct {
	response func(*domain.ChatResponse) ([]byte, error)
	chunk    func(*domain.ChatResponse) ([]byte, error)
}

// upstreamPath returns the default request path for one provider, per §4.5.
// DeepSeek is invoked in reasoner mode against an Anthropic-flavored wire
// shape (see the deepseek adapter), so it shares Anthropic's path.
func upstreamPath(provider domain.Provider, targetModel string, stream bool) string {
	switch provider {
	case domain.ProviderOpenAI:
		return "/v1/chat/completions"
	case domain.ProviderAnthropic, domain.ProviderDeepSeek:
		return "/v1/messages"
	case domain.ProviderGemini:
		action := "generateContent"
		if stream {
			action = "streamGenerateContent"
		}
		path := fmt.Sprintf("/v1beta/models/%s:%s", targetModel, action)
		if stream {
			path += "?alt=sse"
		}
		return path
	default:
		return "/v1/chat/completions"
	}
}

// serve runs the full §4-§6 pipeline for one canonical request: preprocess,
// resolve, adapt, call upstream, adapt the response back, observe, and log.
// ingressAPI labels the inbound wire shape for the request log (§4.6).
// encFor, if non-nil, is consulted once resolution picks a provider and may
// return an outboundEncoder to re-shape the response before it reaches the
// client (used by /v1/messages to re-encode into Anthropic shape).
func serve(c *gin.Context, deps *Deps, ingressAPI string, req domain.ChatRequest, forcedProvider domain.Provider, encFor func(domain.Provider) *outboundEncoder) {
	ctx := c.Request.Context()

	if req.Model == "" || len(req.Messages) == 0 {
		writeError(c, apperrors.ValidationError("request must include a model and at least one message"))
		return
	}

	if err := deps.Preprocess.Process(ctx, &req); err != nil {
		writeError(c, err)
		return
	}

	var result *resolver.Result
	var err error
	if forcedProvider != "" {
		result, err = deps.Resolver.ResolveForProvider(req.Model, forcedProvider)
	} else {
		result, err = deps.Resolver.Resolve(req.Model)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	breaker := deps.Breakers.For(result.Config.Provider)
	if !breaker.Allow() {
		writeError(c, apperrors.CircuitOpen(string(result.Config.Provider)))
		return
	}

	adapterImpl, ok := deps.Adapters.Get(result.Config.Provider)
	if !ok {
		writeError(c, apperrors.ConfigurationError("no adapter registered for provider: "+string(result.Config.Provider)))
		return
	}

	nativeReq, err := adapterImpl.AdaptRequest(req, result.Config.TargetModel)
	if err != nil {
		writeError(c, err)
		return
	}

	secret, err := deps.Store.DecryptSecret(result.Key.Secret)
	if err != nil {
		writeError(c, apperrors.Internal(requestIDFrom(c), err))
		return
	}

	providerReq := providerclient.Request{
		Provider:   result.Config.Provider,
		APIBase:    result.Config.APIBase,
		Path:       upstreamPath(result.Config.Provider, result.Config.TargetModel, req.Stream),
		AuthHeader: result.Key.AuthHeader,
		AuthFormat: result.Key.AuthFormat,
		Secret:     secret,
		Body:       nativeReq,
	}

	reqBodyJSON, _ := json.Marshal(nativeReq)
	start := time.Now()

	var enc *outboundEncoder
	if encFor != nil {
		enc = encFor(result.Config.Provider)
	}

	if req.Stream {
		serveStream(ctx, c, deps, ingressAPI, req, result, adapterImpl, providerReq, start, reqBodyJSON, enc, breaker)
		return
	}
	serveUnary(ctx, c, deps, ingressAPI, req, result, adapterImpl, providerReq, start, reqBodyJSON, enc, breaker)
}

func serveUnary(ctx context.Context, c *gin.Context, deps *Deps, ingressAPI string, req domain.ChatRequest, result *resolver.Result, adapterImpl adapter.Adapter, providerReq providerclient.Request, start time.Time, reqBodyJSON []byte, enc *outboundEncoder, breaker *circuitbreaker.Breaker) {
	nativeResp, err := deps.Provider.ChatCompletion(ctx, providerReq)
	latency := time.Since(start).Seconds()
	if err != nil {
		breaker.RecordFailure()
		appErr := apperrors.AsAppError(err)
		observe(deps, result, domain.Outcome{Success: false, StatusCode: appErr.StatusCode, LatencySecs: latency, Error: appErr.Message})
		logRequest(deps, ingressAPI, req, result, reqBodyJSON, nil, appErr.StatusCode, appErr.Message, latency)
		writeError(c, err)
		return
	}
	breaker.RecordSuccess()

	resp, err := adapterImpl.AdaptResponse(nativeResp)
	if err != nil {
		appErr := apperrors.AsAppError(err)
		observe(deps, result, domain.Outcome{Success: false, StatusCode: appErr.StatusCode, LatencySecs: latency, Error: appErr.Message})
		logRequest(deps, ingressAPI, req, result, reqBodyJSON, nativeResp, appErr.StatusCode, appErr.Message, latency)
		writeError(c, err)
		return
	}
	if resp.ID == "" {
		resp.ID = requestIDFrom(c)
	}
	if resp.Created == 0 {
		resp.Created = time.Now().Unix()
	}

	var usage *domain.Usage
	if resp.Usage != nil {
		usage = &domain.Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens, TotalTokens: resp.Usage.TotalTokens}
	}
	observe(deps, result, domain.Outcome{Success: true, StatusCode: http.StatusOK, Usage: usage, LatencySecs: latency, Model: result.Config.TargetModel})

	var outBody []byte
	if enc != nil && enc.response != nil {
		out, err := enc.response(resp)
		if err != nil {
			writeError(c, err)
			return
		}
		outBody = out
		logRequest(deps, ingressAPI, req, result, reqBodyJSON, outBody, http.StatusOK, "", latency)
		c.Data(http.StatusOK, "application/json", outBody)
		return
	}

	outBody, _ = json.Marshal(resp)
	logRequest(deps, ingressAPI, req, result, reqBodyJSON, outBody, http.StatusOK, "", latency)
	c.JSON(http.StatusOK, resp)
}

func serveStream(ctx context.Context, c *gin.Context, deps *Deps, ingressAPI string, req domain.ChatRequest, result *resolver.Result, adapterImpl adapter.Adapter, providerReq providerclient.Request, start time.Time, reqBodyJSON []byte, enc *outboundEncoder, breaker *circuitbreaker.Breaker) {
	chunks, errs := deps.Provider.StreamChatCompletion(ctx, providerReq)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher, canFlush := c.Writer.(http.Flusher)

	success := true
	statusCode := http.StatusOK
	errMsg := ""

	encodeChunk := func(resp *domain.ChatResponse) ([]byte, error) {
		if enc != nil && enc.chunk != nil {
			return enc.chunk(resp)
		}
		return json.Marshal(resp)
	}

streamLoop:
	for {
		select {
		case <-ctx.Done():
			success = false
			statusCode = 499
			errMsg = "client disconnected"
			break streamLoop
		case raw, ok := <-chunks:
			if !ok {
				chunks = nil
				if errs == nil {
					break streamLoop
				}
				continue
			}
			chunk, err := adapterImpl.AdaptStreamChunk(raw)
			if err != nil {
				deps.Logger.Error("failed to adapt stream chunk", zap.Error(err))
				continue
			}
			if chunk == nil {
				continue
			}
			body, err := encodeChunk(chunk)
			if err != nil {
				deps.Logger.Error("failed to encode stream chunk", zap.Error(err))
				continue
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", body)
			if canFlush {
				flusher.Flush()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				if chunks == nil {
					break streamLoop
				}
				continue
			}
			if err == nil {
				continue
			}
			appErr := apperrors.AsAppError(err)
			success = false
			statusCode = appErr.StatusCode
			errMsg = appErr.Message
			payload, _ := json.Marshal(appErr.Envelope())
			fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
			if canFlush {
				flusher.Flush()
			}
		}
	}

	if success {
		fmt.Fprint(c.Writer, "data: [DONE]\n\n")
		if canFlush {
			flusher.Flush()
		}
		breaker.RecordSuccess()
	} else if statusCode != 499 {
		// A client disconnect isn't an upstream failure; only a genuine
		// upstream error counts against the breaker.
		breaker.RecordFailure()
	}

	latency := time.Since(start).Seconds()
	observe(deps, result, domain.Outcome{Success: success, StatusCode: statusCode, LatencySecs: latency, Model: result.Config.TargetModel, Error: errMsg})
	logRequest(deps, ingressAPI, req, result, reqBodyJSON, nil, statusCode, errMsg, latency)
}

func observe(deps *Deps, result *resolver.Result, outcome domain.Outcome) {
	if err := deps.Pool.Observe(result.Key.ID, outcome); err != nil {
		deps.Logger.Error("pool observe failed", zap.Error(err))
		return
	}
	deps.Metrics.ObserveOutcome(string(result.Config.Provider), outcome.Success)
	if snap, ok := deps.Pool.Get(result.Key.ID); ok {
		deps.Metrics.SetKeySuccessRate(string(result.Config.Provider), strconv.FormatInt(snap.ID, 10), snap.SuccessRate())
		if err := deps.Store.UpdateApiKeyStats(snap); err != nil {
			deps.Logger.Error("persist api key stats failed", zap.Error(err))
		}
	}
}

func logRequest(deps *Deps, ingressAPI string, req domain.ChatRequest, result *resolver.Result, reqBody, respBody []byte, statusCode int, errMsg string, latencySecs float64) {
	deps.LogSink.Enqueue(domain.RequestLogEntry{
		Timestamp:        time.Now().Unix(),
		SourceAPI:        ingressAPI,
		TargetAPI:        string(result.Config.Provider),
		SourceModel:      req.Model,
		TargetModel:      result.Config.TargetModel,
		Provider:         string(result.Config.Provider),
		RequestBody:      string(reqBody),
		ResponseBody:     string(respBody),
		StatusCode:       statusCode,
		ErrorMessage:     errMsg,
		ProcessingTimeMS: int64(latencySecs * 1000),
	})
}
