package logsink

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/domain"
)

type fakeAppender struct {
	mu      sync.Mutex
	entries []domain.RequestLogEntry
	fail    bool
}

func (f *fakeAppender) AppendRequestLog(entry domain.RequestLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAppender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func TestEnqueuePersistsEntry(t *testing.T) {
	appender := &fakeAppender{}
	sink := New(appender, zap.NewNop())
	sink.Enqueue(domain.RequestLogEntry{Provider: "openai", SourceModel: "gpt-4"})
	sink.Close()
	require.Equal(t, 1, appender.count())
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	appender := &fakeAppender{}
	sink := &Sink{appender: appender, logger: zap.NewNop(), queue: make(chan domain.RequestLogEntry, 1), done: make(chan struct{})}
	blocker := make(chan struct{})
	sink.queue <- domain.RequestLogEntry{Provider: "blocker"}
	_ = blocker

	// Queue capacity 1 is already full; a second Enqueue before any worker
	// drains it must drop rather than block.
	done := make(chan struct{})
	go func() {
		sink.Enqueue(domain.RequestLogEntry{Provider: "dropped"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
}

func TestAppenderErrorDoesNotPanic(t *testing.T) {
	appender := &fakeAppender{fail: true}
	sink := New(appender, zap.NewNop())
	assert.NotPanics(t, func() {
		sink.Enqueue(domain.RequestLogEntry{Provider: "openai"})
		sink.Close()
	})
}
