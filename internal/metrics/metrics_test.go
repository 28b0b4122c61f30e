package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	m := New("modelgate_test")
	m.SetPoolSize("openai", 3)
	m.ObserveOutcome("openai", true)
	m.ObserveOutcome("openai", false)
	m.ObserveRotation("openai")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "modelgate_test_pool_size")
	assert.Contains(t, body, "modelgate_test_rotations_total")
	assert.Contains(t, body, "modelgate_test_requests_total")
}

func TestMultipleInstancesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		New("modelgate_a")
		New("modelgate_b")
	})
}
