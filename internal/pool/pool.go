// Package pool implements the credential pool (§4.3): per-provider ApiKey
// sets, pluggable selection strategies, live statistics, rate-limit
// backoff, and rotation flagging/execution. All public operations are safe
// under concurrent access.
package pool

import (
	"sync"
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/domain"
)

// Clock is overridable in tests; production uses time.Now.
type Clock func() time.Time

// entry wraps one ApiKey with the single-writer lock that serializes
// mutations to its statistics (§5: "Implementations MUST serialize
// mutations to a single key's statistics").
type entry struct {
	mu  sync.Mutex
	key domain.ApiKey
}

// Pool holds ApiKey entries grouped by provider plus the shared round-robin
// counters and strategy bindings.
type Pool struct {
	now    Clock
	tables *config.Tables

	mu       sync.RWMutex // guards entries map structure (add/remove), not individual key stats
	entries  map[domain.Provider][]*entry
	byID     map[int64]*entry
	strategy map[domain.Provider]string
	counters *Counters
}

// New constructs an empty pool. Keys are added via Add (typically from the
// store on startup and on explicit admin mutation).
func New(tables *config.Tables) *Pool {
	return &Pool{
		now:      time.Now,
		tables:   tables,
		entries:  make(map[domain.Provider][]*entry),
		byID:     make(map[int64]*entry),
		strategy: make(map[domain.Provider]string),
		counters: NewCounters(),
	}
}

// Add registers a key in the pool. Safe to call concurrently with Select/Observe.
func (p *Pool) Add(key domain.ApiKey) {
	e := &entry{key: key}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[key.Provider] = append(p.entries[key.Provider], e)
	p.byID[key.ID] = e
}

// BindStrategy sets which named strategy a provider uses; providers with no
// explicit binding use DefaultStrategyName.
func (p *Pool) BindStrategy(provider domain.Provider, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strategy[provider] = name
}

func (p *Pool) strategyFor(provider domain.Provider) Strategy {
	p.mu.RLock()
	name, ok := p.strategy[provider]
	p.mu.RUnlock()
	if !ok {
		name = DefaultStrategyName
	}
	fn, ok := Registry[name]
	if !ok {
		return Hybrid
	}
	return fn
}

// HasProvider reports whether any key (enabled or not) is registered for provider.
func (p *Pool) HasProvider(provider domain.Provider) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries[provider]) > 0
}

// Size reports how many keys (enabled or not) are registered for provider.
func (p *Pool) Size(provider domain.Provider) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries[provider])
}

// Providers lists every provider with at least one registered key.
func (p *Pool) Providers() []domain.Provider {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Provider, 0, len(p.entries))
	for prov := range p.entries {
		out = append(out, prov)
	}
	return out
}

// Select returns one available ApiKey for the given request context, or nil
// if none of the provider's keys are currently available (§4.2: the
// resolver treats this as "continue to later stages").
func (p *Pool) Select(reqCtx domain.RequestContext) (*domain.ApiKey, error) {
	p.mu.RLock()
	provEntries := append([]*entry(nil), p.entries[reqCtx.Provider]...)
	p.mu.RUnlock()

	if len(provEntries) == 0 {
		return nil, nil
	}

	now := p.now()
	all := make([]domain.ApiKey, 0, len(provEntries))
	anyAvailable := false
	for _, e := range provEntries {
		e.mu.Lock()
		// Clearing an expired rate_limited_until is a side effect of
		// filtering, per §4.3's availability filter.
		if e.key.RateLimitedUntil != nil && !now.Before(*e.key.RateLimitedUntil) {
			e.key.RateLimitedUntil = nil
		}
		if e.key.IsAvailable(now) {
			anyAvailable = true
		}
		all = append(all, e.key)
		e.mu.Unlock()
	}
	if !anyAvailable {
		return nil, nil
	}

	// The strategy sees the full, unfiltered key list (not just the
	// available ones) and is responsible for its own availability
	// filtering — see the Strategy doc comment in strategies.go for why.
	strategy := p.strategyFor(reqCtx.Provider)
	idx := strategy(all, reqCtx, p.counters, now)
	if idx < 0 || idx >= len(all) {
		return nil, errors.New("selection strategy returned an out-of-range index")
	}
	chosen := all[idx]
	return &chosen, nil
}

// Get returns a snapshot of one key by id, for admin inspection/tests.
func (p *Pool) Get(id int64) (domain.ApiKey, bool) {
	p.mu.RLock()
	e, ok := p.byID[id]
	p.mu.RUnlock()
	if !ok {
		return domain.ApiKey{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.key, true
}

func (p *Pool) entryByID(id int64) (*entry, error) {
	p.mu.RLock()
	e, ok := p.byID[id]
	p.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown api key id: %d", id)
	}
	return e, nil
}
