package store

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelgate/modelgate/internal/crypto"
	"github.com/modelgate/modelgate/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	box := crypto.NewBox("a-sufficiently-long-master-secret")
	// A distinct DSN per test: sqlite's shared-cache in-memory mode keys the
	// database by name, so a fixed name here would let one test's rows leak
	// into another's assertions within the same process.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	s, err := Open(dsn, box)
	require.NoError(t, err)
	return s
}

func TestCreateApiKeyRejectsPlaceholderSecret(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateApiKey(domain.ProviderOpenAI, "this-is-a-test-key", "", "")
	require.Error(t, err)
}

func TestCreateApiKeyEncryptsAndRoundTrips(t *testing.T) {
	s := newTestStore(t)
	key, err := s.CreateApiKey(domain.ProviderOpenAI, "sk-real-9f8a7b6c5d4e", "", "")
	require.NoError(t, err)
	require.NotEqual(t, "sk-real-9f8a7b6c5d4e", key.Secret)

	plaintext, err := s.DecryptSecret(key.Secret)
	require.NoError(t, err)
	require.Equal(t, "sk-real-9f8a7b6c5d4e", plaintext)
}

func TestListEnabledModelConfigsExcludesDisabled(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.DB.Create(&domain.ModelConfig{RouteKey: "chat", TargetModel: "gpt-4o", Provider: domain.ProviderOpenAI, Enabled: true}).Error)
	require.NoError(t, s.DB.Create(&domain.ModelConfig{RouteKey: "old", TargetModel: "gpt-3", Provider: domain.ProviderOpenAI, Enabled: false}).Error)

	rows, err := s.ListEnabledModelConfigs()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "chat", rows[0].RouteKey)
}

func TestModelConfigCacheRefresh(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.DB.Create(&domain.ModelConfig{RouteKey: "chat", TargetModel: "gpt-4o", Provider: domain.ProviderOpenAI, Enabled: true}).Error)

	cache := NewModelConfigCache(s)
	require.NoError(t, cache.Refresh())
	require.Len(t, cache.EnabledModelConfigs(), 1)

	require.NoError(t, s.DB.Create(&domain.ModelConfig{RouteKey: "chat2", TargetModel: "gpt-4o-mini", Provider: domain.ProviderOpenAI, Enabled: true}).Error)
	require.Len(t, cache.EnabledModelConfigs(), 1, "cache does not see new rows until Refresh")
	require.NoError(t, cache.Refresh())
	require.Len(t, cache.EnabledModelConfigs(), 2)
}

type fakeAdder struct{ added []domain.ApiKey }

func (f *fakeAdder) Add(key domain.ApiKey) { f.added = append(f.added, key) }

func TestLoadPoolRegistersAllKeys(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateApiKey(domain.ProviderOpenAI, "sk-real-9f8a7b6c5d4e", "", "")
	require.NoError(t, err)
	_, err = s.CreateApiKey(domain.ProviderAnthropic, "sk-ant-9f8a7b6c5d4e", "", "")
	require.NoError(t, err)

	adder := &fakeAdder{}
	require.NoError(t, s.LoadPool(adder))
	require.Len(t, adder.added, 2)
}
