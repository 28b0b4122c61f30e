// Package store is the gorm-backed system of record for ModelConfig, ApiKey,
// and RequestLogEntry (§3, SPEC_FULL §3). It owns id/provider/secret/
// enabled/auth_* columns; the in-memory credential pool is the sole writer
// of statistics columns and is resynced from here on startup and on
// explicit admin mutation. Grounded on the teacher's model/main.go
// (gorm.Open + AutoMigrate) and common/database.go (sqlite DSN shape).
package store

import (
	"github.com/Laisky/errors/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/modelgate/modelgate/internal/crypto"
	"github.com/modelgate/modelgate/internal/domain"
)

// Store wraps the database handle and the secret encryption box.
type Store struct {
	DB  *gorm.DB
	box *crypto.Box
}

// Open connects to the sqlite database at dsn and runs AutoMigrate for the
// three persistent tables.
func Open(dsn string, box *crypto.Box) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{PrepareStmt: true})
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite database")
	}
	if err := db.AutoMigrate(&domain.ModelConfig{}, &domain.ApiKey{}, &domain.RequestLogEntry{}); err != nil {
		return nil, errors.Wrap(err, "automigrate")
	}
	return &Store{DB: db, box: box}, nil
}

// ListEnabledModelConfigs returns every ModelConfig row with enabled=true.
func (s *Store) ListEnabledModelConfigs() ([]domain.ModelConfig, error) {
	var rows []domain.ModelConfig
	if err := s.DB.Where("enabled = ?", true).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list enabled model configs")
	}
	return rows, nil
}

// ListApiKeys returns every ApiKey row, regardless of enabled state (the
// pool itself filters availability at selection time).
func (s *Store) ListApiKeys() ([]domain.ApiKey, error) {
	var rows []domain.ApiKey
	if err := s.DB.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list api keys")
	}
	return rows, nil
}

// CreateApiKey validates and encrypts plaintextSecret, then persists a new
// ApiKey row (§6: reject secrets shorter than 10 chars or matching known
// placeholder patterns).
func (s *Store) CreateApiKey(provider domain.Provider, plaintextSecret, authHeader, authFormat string) (*domain.ApiKey, error) {
	if err := crypto.ValidateNewSecret(plaintextSecret); err != nil {
		return nil, errors.Wrap(err, "validate new api key secret")
	}
	ciphertext, err := s.box.Encrypt(plaintextSecret)
	if err != nil {
		return nil, errors.Wrap(err, "encrypt api key secret")
	}
	key := domain.ApiKey{
		Provider:   provider,
		Secret:     ciphertext,
		AuthHeader: authHeader,
		AuthFormat: authFormat,
		Enabled:    true,
	}
	if key.AuthHeader == "" {
		key.AuthHeader = "Authorization"
	}
	if key.AuthFormat == "" {
		key.AuthFormat = "Bearer {key}"
	}
	if err := s.DB.Create(&key).Error; err != nil {
		return nil, errors.Wrap(err, "insert api key")
	}
	return &key, nil
}

// DecryptSecret reverses the at-rest encryption for one ApiKey's ciphertext,
// for use immediately before an upstream call. Callers must never log the
// result beyond crypto.MaskedPrefix.
func (s *Store) DecryptSecret(ciphertext string) (string, error) {
	plaintext, err := s.box.Decrypt(ciphertext)
	if err != nil {
		return "", errors.Wrap(err, "decrypt api key secret")
	}
	return plaintext, nil
}

// AppendRequestLog inserts one RequestLogEntry row (§4.6).
func (s *Store) AppendRequestLog(entry domain.RequestLogEntry) error {
	if err := s.DB.Create(&entry).Error; err != nil {
		return errors.Wrap(err, "insert request log entry")
	}
	return nil
}

// UpdateApiKeyStats persists the current in-memory statistics snapshot for
// one key back to the system of record. The pool remains the authoritative
// in-memory writer; the server calls this synchronously after every
// observed request and only logs a failure.
func (s *Store) UpdateApiKeyStats(key domain.ApiKey) error {
	if err := s.DB.Model(&domain.ApiKey{}).Where("id = ?", key.ID).Updates(map[string]any{
		"requests_count":            key.RequestsCount,
		"success_count":             key.SuccessCount,
		"error_count":               key.ErrorCount,
		"last_request_time":         key.LastRequestTime,
		"rate_limited_until":        key.RateLimitedUntil,
		"consecutive_errors":        key.ConsecutiveErrors,
		"total_tokens":              key.TotalTokens,
		"input_tokens":              key.InputTokens,
		"output_tokens":             key.OutputTokens,
		"avg_latency":               key.AvgLatency,
		"cost":                      key.Cost,
		"last_error":                key.LastError,
		"enabled":                   key.Enabled,
		"last_rotation":             key.LastRotation,
		"requests_at_last_rotation": key.RequestsAtLastRotation,
		"flagged_for_rotation":      key.FlaggedForRotation,
	}).Error; err != nil {
		return errors.Wrap(err, "update api key stats")
	}
	return nil
}
