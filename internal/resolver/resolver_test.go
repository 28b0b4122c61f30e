package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelgate/modelgate/internal/apperrors"
	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/domain"
)

type fakeConfigs struct {
	rows []domain.ModelConfig
}

func (f *fakeConfigs) EnabledModelConfigs() []domain.ModelConfig { return f.rows }

// fakePool reports a key available for every provider in `available`.
type fakePool struct {
	available map[domain.Provider]bool
}

func (f *fakePool) Select(reqCtx domain.RequestContext) (*domain.ApiKey, error) {
	if f.available[reqCtx.Provider] {
		return &domain.ApiKey{ID: 1, Provider: reqCtx.Provider}, nil
	}
	return nil, nil
}

func mustTables(t *testing.T) *config.Tables {
	t.Helper()
	tables, err := config.LoadTables("")
	require.NoError(t, err)
	return tables
}

func TestResolveStage1ExactRouteKey(t *testing.T) {
	configs := &fakeConfigs{rows: []domain.ModelConfig{
		{ID: 1, RouteKey: "gpt-4", TargetModel: "gpt-4-0613", Provider: domain.ProviderOpenAI, Enabled: true},
	}}
	p := &fakePool{available: map[domain.Provider]bool{domain.ProviderOpenAI: true}}
	r := New(configs, p, mustTables(t))

	result, err := r.Resolve("gpt-4")
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderOpenAI, result.Config.Provider)
}

func TestResolveLowestIDWins(t *testing.T) {
	configs := &fakeConfigs{rows: []domain.ModelConfig{
		{ID: 2, RouteKey: "chat", TargetModel: "m2", Provider: domain.ProviderOpenAI, Enabled: true},
		{ID: 1, RouteKey: "chat", TargetModel: "m1", Provider: domain.ProviderOpenAI, Enabled: true},
	}}
	p := &fakePool{available: map[domain.Provider]bool{domain.ProviderOpenAI: true}}
	r := New(configs, p, mustTables(t))

	result, err := r.Resolve("unknown-model-xyz")
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.Config.ID)
}

func TestResolveTransformerFallback(t *testing.T) {
	configs := &fakeConfigs{rows: []domain.ModelConfig{
		{ID: 1, RouteKey: "gpt-4", TargetModel: "gpt-4", Provider: domain.ProviderOpenAI, Enabled: true},
		{ID: 2, RouteKey: "ds", TargetModel: "deepseek-chat", Provider: domain.ProviderDeepSeek, Enabled: true},
	}}
	// openai has no key available, forcing transformer fallback to deepseek.
	p := &fakePool{available: map[domain.Provider]bool{domain.ProviderDeepSeek: true}}
	r := New(configs, p, mustTables(t))

	result, err := r.Resolve("gpt-4")
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderDeepSeek, result.Config.Provider)
}

func TestResolveModelNotFoundWhenNoDefaultChatRow(t *testing.T) {
	configs := &fakeConfigs{rows: []domain.ModelConfig{
		{ID: 1, RouteKey: "something-else", TargetModel: "m", Provider: domain.ProviderOpenAI, Enabled: true},
	}}
	p := &fakePool{available: map[domain.Provider]bool{domain.ProviderOpenAI: true}}
	r := New(configs, p, mustTables(t))

	_, err := r.Resolve("totally-unrelated-name-zzz")
	require.Error(t, err)
}

func TestResolveNoAvailableKeyWhenAllKeysRateLimited(t *testing.T) {
	configs := &fakeConfigs{rows: []domain.ModelConfig{
		{ID: 1, RouteKey: "gpt-4", TargetModel: "gpt-4", Provider: domain.ProviderOpenAI, Enabled: true},
	}}
	p := &fakePool{available: map[domain.Provider]bool{}} // nothing available anywhere
	r := New(configs, p, mustTables(t))

	_, err := r.Resolve("gpt-4")
	require.Error(t, err)
}

func TestResolveWeakMatchProviderPrefix(t *testing.T) {
	configs := &fakeConfigs{rows: []domain.ModelConfig{
		{ID: 1, RouteKey: "route1", TargetModel: "m1", Provider: domain.ProviderOpenAI, Enabled: true},
	}}
	p := &fakePool{available: map[domain.Provider]bool{domain.ProviderOpenAI: true}}
	r := New(configs, p, mustTables(t))

	result, err := r.Resolve("openai-custom-finetune")
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderOpenAI, result.Config.Provider)
}

func TestResolveForProviderForcesStageOne(t *testing.T) {
	configs := &fakeConfigs{rows: []domain.ModelConfig{
		{ID: 1, RouteKey: "chat", TargetModel: "m1", Provider: domain.ProviderAnthropic, Enabled: true},
	}}
	p := &fakePool{available: map[domain.Provider]bool{domain.ProviderAnthropic: true}}
	r := New(configs, p, mustTables(t))

	result, err := r.ResolveForProvider("chat", domain.ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderAnthropic, result.Config.Provider)

	_, err = r.ResolveForProvider("chat", domain.ProviderOpenAI)
	require.Error(t, err)
	appErr, ok := err.(*apperrors.Error)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindModelNotFound, appErr.Kind, "no route_key for this provider at all -> 404")
}

func TestResolveForProviderNoAvailableKeyWhenRouteMatchesButKeylessProvider(t *testing.T) {
	configs := &fakeConfigs{rows: []domain.ModelConfig{
		{ID: 1, RouteKey: "chat", TargetModel: "m1", Provider: domain.ProviderAnthropic, Enabled: true},
	}}
	// Anthropic has the matching route_key, but no key is available for it.
	p := &fakePool{available: map[domain.Provider]bool{}}
	r := New(configs, p, mustTables(t))

	_, err := r.ResolveForProvider("chat", domain.ProviderAnthropic)
	require.Error(t, err)
	appErr, ok := err.(*apperrors.Error)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindNoAvailableKey, appErr.Kind, "route_key matched but pool has no available key -> 503, not 404")
}
