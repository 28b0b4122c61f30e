package domain

import "time"

// ApiKey is a pooled upstream credential plus its live statistics. Secret is
// ciphertext at rest (see internal/crypto); callers only ever see a masked
// prefix outside the pool/provider-client boundary.
type ApiKey struct {
	ID         int64    `json:"id" gorm:"primaryKey"`
	Provider   Provider `json:"provider" gorm:"not null;index"`
	Secret     string   `json:"-" gorm:"column:secret_ciphertext;not null"`
	AuthHeader string   `json:"auth_header" gorm:"default:Authorization"`
	AuthFormat string   `json:"auth_format" gorm:"default:'Bearer {key}'"`
	Enabled    bool     `json:"enabled" gorm:"default:true;index"`

	RequestsCount    int64      `json:"requests_count"`
	SuccessCount     int64      `json:"success_count"`
	ErrorCount       int64      `json:"error_count"`
	LastRequestTime  *time.Time `json:"last_request_time"`
	RateLimitedUntil *time.Time `json:"rate_limited_until"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	TotalTokens      int64      `json:"total_tokens"`
	InputTokens      int64      `json:"input_tokens"`
	OutputTokens     int64      `json:"output_tokens"`
	AvgLatency       float64    `json:"avg_latency"`
	Cost             float64    `json:"cost"`
	LastError        string     `json:"last_error"`

	LastRotation           *time.Time `json:"last_rotation"`
	RequestsAtLastRotation int64      `json:"requests_at_last_rotation"`
	FlaggedForRotation     bool       `json:"flagged_for_rotation"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SuccessRate is success_count/requests_count, defined as 1.0 when no requests
// have been observed yet (an untested key is optimistically available).
func (k *ApiKey) SuccessRate() float64 {
	if k.RequestsCount == 0 {
		return 1.0
	}
	return float64(k.SuccessCount) / float64(k.RequestsCount)
}

// IsRateLimited reports whether now is still within the backoff window.
func (k *ApiKey) IsRateLimited(now time.Time) bool {
	return k.RateLimitedUntil != nil && now.Before(*k.RateLimitedUntil)
}

// IsAvailable reports whether the key may currently be selected.
func (k *ApiKey) IsAvailable(now time.Time) bool {
	return k.Enabled && !k.IsRateLimited(now)
}

// MaskedSecret returns the first four characters of the plaintext secret
// followed by asterisks, for logging and admin display. Callers must pass
// the decrypted plaintext; the pool never logs ciphertext or full secrets.
func MaskedSecret(plaintext string) string {
	if len(plaintext) <= 4 {
		return "****"
	}
	return plaintext[:4] + "****"
}

// RequestContext is the transient, per-request value consumed by selection strategies.
type RequestContext struct {
	Provider    Provider
	TargetModel string
	RequestType string
	Priority    int
	UserID      string
	RequestSize int
}

// Outcome is what a provider call reported back to the pool via Observe.
type Outcome struct {
	Success       bool
	StatusCode    int
	Usage         *Usage
	LatencySecs   float64
	Model         string
	Error         string
}

// Usage carries upstream-reported token counts: the usage object of the
// canonical response (§6) and the input to cost accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
