// Package logging wires structured logging via go.uber.org/zap, grounded on
// the teacher's common/logger package (which wraps zap through an internal
// go-utils layer; that extra indirection is dropped here — see DESIGN.md).
package logging

import (
	"sync"

	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/config"
)

var (
	// Logger is the process-wide structured logger. Prefer passing a
	// *zap.Logger into constructors; this global exists for code paths
	// (init-time, package-level helpers) that cannot easily take one.
	Logger *zap.Logger
	once   sync.Once
)

func init() {
	once.Do(func() {
		Logger = New()
	})
}

// New builds a fresh *zap.Logger honoring config.DebugEnabled, for
// constructors that want their own instance rather than the package global.
func New() *zap.Logger {
	var cfg zap.Config
	if config.DebugEnabled {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		// Logging is ambient infrastructure; falling back to a no-op logger
		// keeps the process usable instead of panicking during boot.
		return zap.NewNop()
	}
	return logger
}
