// Package config holds environment-driven knobs and the data-not-code tables
// (transformer rules, pricing) described in spec §9, grounded on the
// teacher's common/env + common/config pattern: package-level vars
// initialized once from os.Getenv with typed defaults.
package config

import (
	"os"
	"strconv"
	"time"
)

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

var (
	// ListenAddr is the address the HTTP server binds to.
	ListenAddr = envString("LISTEN_ADDR", ":3000")

	// UpstreamTimeout bounds a single upstream HTTP call (§5 default 30s).
	UpstreamTimeout = time.Duration(envInt("UPSTREAM_TIMEOUT_SECONDS", 30)) * time.Second

	// ImageFetchTimeout bounds a remote image download during preprocessing (§4.1, §5).
	ImageFetchTimeout = time.Duration(envInt("IMAGE_FETCH_TIMEOUT_SECONDS", 30)) * time.Second

	// MaxInlineImageMB caps the size of an image inlined as base64.
	MaxInlineImageMB = envInt("MAX_INLINE_IMAGE_MB", 20)

	// DebugEnabled toggles verbose structured logging.
	DebugEnabled = envBool("DEBUG", false)

	// SqlitePath is the path to the sqlite database backing model_config/api_key_pool/api_request_log.
	SqlitePath = envString("SQLITE_PATH", "modelgate.db")

	// MasterSecret seeds the KDF used to derive the API-key encryption key (§6).
	// Must be set in production; an insecure default is used only so the
	// process can start in development without a configured secret.
	MasterSecret = envString("MASTER_SECRET", "dev-only-insecure-master-secret")

	// ConfigTablesPath optionally points at a YAML file overriding the
	// transformer-rule and pricing tables (§9: both are data, not code).
	ConfigTablesPath = envString("CONFIG_TABLES_PATH", "")

	// LogQueueSize bounds the request-log sink's fire-and-forget queue (§5).
	LogQueueSize = envInt("LOG_QUEUE_SIZE", 1024)

	// BreakerFailureThreshold is the consecutive-failure count that trips a
	// per-provider circuit breaker open (§5).
	BreakerFailureThreshold = envInt("BREAKER_FAILURE_THRESHOLD", 5)

	// BreakerSuccessThreshold is how many half_open probe successes close a
	// tripped breaker (§5).
	BreakerSuccessThreshold = envInt("BREAKER_SUCCESS_THRESHOLD", 2)

	// BreakerRecoveryTimeoutSeconds is how long a breaker stays open before
	// its first half_open probe (§5); this doubles on every half_open
	// failure up to BreakerMaxTimeoutSeconds.
	BreakerRecoveryTimeoutSeconds = envInt("BREAKER_RECOVERY_TIMEOUT_SECONDS", 30)

	// BreakerMaxTimeoutSeconds bounds the doubling open-timeout backoff (§5).
	BreakerMaxTimeoutSeconds = envInt("BREAKER_MAX_TIMEOUT_SECONDS", 600)
)
