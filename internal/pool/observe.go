package pool

import (
	"math"
	"time"

	"github.com/modelgate/modelgate/internal/domain"
)

const (
	maxBackoffSeconds  = 3600
	baseBackoffSeconds = 60
	fiveXXBackoffSecs  = 30
	rotationErrorRate  = 0.20
	rotationMaxAge     = 7 * 24 * time.Hour
	rotationMaxReqs    = 10_000
	rotationMaxErrors  = 3
	lastErrorMaxLen    = 255
)

// Observe applies the outcome of a completed request to the chosen key's
// statistics (§4.3). Always safe to call even if the key has since been
// disabled or rotated.
func (p *Pool) Observe(id int64, outcome domain.Outcome) error {
	e, err := p.entryByID(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := p.now()
	k := &e.key
	k.RequestsCount++
	k.LastRequestTime = &now

	if outcome.Success {
		k.SuccessCount++
		k.ConsecutiveErrors = 0
		if outcome.Usage != nil {
			k.TotalTokens += int64(outcome.Usage.TotalTokens)
			k.InputTokens += int64(outcome.Usage.PromptTokens)
			k.OutputTokens += int64(outcome.Usage.CompletionTokens)
			price := p.tables.PriceFor(k.Provider, outcome.Model)
			k.Cost += float64(outcome.Usage.PromptTokens)*price.PriceIn + float64(outcome.Usage.CompletionTokens)*price.PriceOut
		}
		if outcome.LatencySecs > 0 {
			if k.AvgLatency == 0 {
				k.AvgLatency = outcome.LatencySecs
			} else {
				k.AvgLatency = 0.9*k.AvgLatency + 0.1*outcome.LatencySecs
			}
		}
	} else {
		k.ErrorCount++
		k.ConsecutiveErrors++
		k.LastError = truncate(outcome.Error, lastErrorMaxLen)

		switch {
		case outcome.StatusCode == 429:
			backoff := time.Duration(math.Min(
				float64(baseBackoffSeconds)*math.Pow(2, float64(k.ConsecutiveErrors-1)),
				maxBackoffSeconds,
			)) * time.Second
			until := now.Add(backoff)
			k.RateLimitedUntil = &until
		case outcome.StatusCode == 401 || outcome.StatusCode == 403:
			k.Enabled = false
		case outcome.StatusCode >= 500:
			until := now.Add(fiveXXBackoffSecs * time.Second)
			k.RateLimitedUntil = &until
		}
	}

	if needsRotation(k, now) {
		k.FlaggedForRotation = true
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// needsRotation implements the §4.3 predicate: any of consecutive_errors>=3,
// error rate over 20%, 10k+ requests since last rotation, or 7+ days since
// last rotation.
func needsRotation(k *domain.ApiKey, now time.Time) bool {
	if k.ConsecutiveErrors >= rotationMaxErrors {
		return true
	}
	if k.RequestsCount > 0 && float64(k.ErrorCount)/float64(k.RequestsCount) > rotationErrorRate {
		return true
	}
	if k.LastRotation != nil {
		if k.RequestsCount-k.RequestsAtLastRotation > rotationMaxReqs {
			return true
		}
		if now.Sub(*k.LastRotation) > rotationMaxAge {
			return true
		}
	}
	return false
}
