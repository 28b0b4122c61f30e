package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/adapter"
	"github.com/modelgate/modelgate/internal/circuitbreaker"
	"github.com/modelgate/modelgate/internal/health"
	"github.com/modelgate/modelgate/internal/logsink"
	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/pool"
	"github.com/modelgate/modelgate/internal/preprocess"
	"github.com/modelgate/modelgate/internal/providerclient"
	"github.com/modelgate/modelgate/internal/resolver"
	"github.com/modelgate/modelgate/internal/store"
)

// Deps bundles everything a handler needs to serve one request, grounded on
// the teacher's controller-struct-per-relay-domain layout (relay/controller).
type Deps struct {
	Resolver   *resolver.Resolver
	Pool       *pool.Pool
	Adapters   *adapter.Registry
	Provider   *providerclient.Client
	Preprocess *preprocess.Preprocessor
	Store      *store.Store
	LogSink    *logsink.Sink
	Metrics    *metrics.Metrics
	Breakers   *circuitbreaker.Registry
	Health     *health.Checker
	Logger     *zap.Logger
}

// NewRouter builds the gin engine exposing the four endpoints of §6 plus
// /metrics and /healthz. Grounded on the teacher's router wiring
// (router/*.go) but trimmed to this proxy's routes.
func NewRouter(deps *Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(AccessLog(deps.Logger))

	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		report := deps.Health.Check()
		status := http.StatusOK
		if report.Status == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	})

	v1 := r.Group("/v1")
	{
		v1.POST("/chat/completions", handleChatCompletions(deps))
		v1.POST("/messages", handleMessages(deps))
		v1.POST("/provider/:provider/completions", handleProviderCompletions(deps))
		v1.GET("/models", handleListModels(deps))
	}

	return r
}
