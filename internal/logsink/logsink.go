// Package logsink implements the request log sink (§4.6): one append per
// completed request, off the critical path via a bounded fire-and-forget
// queue drained by a single worker goroutine. Drops are logged, never
// propagated to the caller (§5: "failures in logging never propagate").
package logsink

import (
	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/domain"
)

// Appender is the storage operation the sink needs; satisfied by *store.Store.
type Appender interface {
	AppendRequestLog(entry domain.RequestLogEntry) error
}

// Sink queues RequestLogEntry rows and persists them on a background worker.
type Sink struct {
	appender Appender
	logger   *zap.Logger
	queue    chan domain.RequestLogEntry
	done     chan struct{}
}

// New constructs a Sink backed by appender and starts its worker goroutine.
// The queue is bounded by config.LogQueueSize; a full queue drops the entry
// rather than blocking the request path.
func New(appender Appender, logger *zap.Logger) *Sink {
	s := &Sink{
		appender: appender,
		logger:   logger,
		queue:    make(chan domain.RequestLogEntry, config.LogQueueSize),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// Enqueue submits entry for asynchronous persistence. Never blocks: if the
// queue is full, the entry is dropped and the drop is logged (§5).
func (s *Sink) Enqueue(entry domain.RequestLogEntry) {
	select {
	case s.queue <- entry:
	default:
		s.logger.Warn("request log queue full, dropping entry",
			zap.String("provider", entry.Provider),
			zap.String("source_model", entry.SourceModel))
	}
}

// Close stops accepting new entries and waits for the queue to drain.
func (s *Sink) Close() {
	close(s.queue)
	<-s.done
}

func (s *Sink) run() {
	defer close(s.done)
	for entry := range s.queue {
		if err := s.appender.AppendRequestLog(entry); err != nil {
			s.logger.Error("failed to persist request log entry", zap.Error(err))
		}
	}
}
