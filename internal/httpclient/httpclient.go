// Package httpclient builds the single *http.Client shared by the
// multimodal preprocessor's remote-image fetch and the provider client's
// upstream calls (SPEC_FULL §4): sane connection pooling, a default 30s
// timeout overridable per call via context.Context. Grounded on
// original_source's http_client_pool.py PoolConfig (total_connections=100,
// per_host_connections=30, connection_timeout=30.0): one shared, reusable
// connection pool instead of one-off allocations per outbound call.
package httpclient

import (
	"net"
	"net/http"
	"time"

	"github.com/modelgate/modelgate/internal/config"
)

// New builds the shared client. Its Timeout is a backstop only: individual
// calls should set a deadline on their context (config.UpstreamTimeout,
// config.ImageFetchTimeout) so cancellation propagates correctly.
func New() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   30,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   config.UpstreamTimeout,
	}
}
