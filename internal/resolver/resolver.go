// Package resolver implements the five-stage model resolver (§4.2): mapping
// a requested model name to a concrete (ModelConfig, ApiKey) pair.
package resolver

import (
	"sort"
	"strings"

	"github.com/modelgate/modelgate/internal/apperrors"
	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/domain"
)

// KeySelector is the subset of the credential pool the resolver needs: "is a
// key available for this provider right now". Defined here (consumer side)
// so the resolver can be tested against a fake without importing pool.
type KeySelector interface {
	Select(reqCtx domain.RequestContext) (*domain.ApiKey, error)
}

// ConfigSource returns the current enabled-rows snapshot the resolver
// matches against. Implementations should return a read-mostly cached view
// (§5) invalidated on admin mutation.
type ConfigSource interface {
	EnabledModelConfigs() []domain.ModelConfig
}

// Resolver implements the §4.2 stage pipeline.
type Resolver struct {
	configs ConfigSource
	pool    KeySelector
	tables  *config.Tables
}

// New constructs a Resolver.
func New(configs ConfigSource, pool KeySelector, tables *config.Tables) *Resolver {
	return &Resolver{configs: configs, pool: pool, tables: tables}
}

// Result is the resolver's successful output.
type Result struct {
	Config domain.ModelConfig
	Key     domain.ApiKey
}

// Resolve runs the five-stage match against requested, consulting the pool
// for key availability at each candidate provider. It is deterministic given
// a fixed config snapshot, fixed clock, and fixed pool state (§8).
func (r *Resolver) Resolve(requested string) (*Result, error) {
	rows := sortedByID(r.configs.EnabledModelConfigs())
	anyTried := false

	// Stage 1: exact route_key match.
	result, tried := r.tryMatch(rows, func(m domain.ModelConfig) bool {
		return m.RouteKey == requested
	})
	anyTried = anyTried || tried
	if result != nil {
		return result, nil
	}

	// Stage 2: exact target_model match.
	result, tried = r.tryMatch(rows, func(m domain.ModelConfig) bool {
		return m.TargetModel == requested
	})
	anyTried = anyTried || tried
	if result != nil {
		return result, nil
	}

	// Stage 3: transformer fallback.
	if provider := r.tables.ResolveTransformerProvider(requested); provider != "" {
		result, tried = r.tryMatch(rows, func(m domain.ModelConfig) bool {
			return m.Provider == provider
		})
		anyTried = anyTried || tried
		if result != nil {
			return result, nil
		}
	}

	// Stage 4: weak matches, in predicate order: provider-prefix, substring, keyword.
	result, tried = r.stageWeak(rows, requested)
	anyTried = anyTried || tried
	if result != nil {
		return result, nil
	}

	// Stage 5: default "chat" route.
	result, tried = r.tryMatch(rows, func(m domain.ModelConfig) bool {
		return m.RouteKey == "chat"
	})
	anyTried = anyTried || tried
	if result != nil {
		return result, nil
	}

	if anyTried {
		return nil, apperrors.NoAvailableKey(requested)
	}
	return nil, apperrors.ModelNotFound(requested)
}

// ResolveForProvider forces stage 1 within a single provider, for the
// /v1/provider/{provider}/completions route (§6).
func (r *Resolver) ResolveForProvider(requested string, provider domain.Provider) (*Result, error) {
	rows := sortedByID(r.configs.EnabledModelConfigs())
	var scoped []domain.ModelConfig
	for _, m := range rows {
		if m.Provider == provider {
			scoped = append(scoped, m)
		}
	}
	result, tried := r.tryMatch(scoped, func(m domain.ModelConfig) bool {
		return m.RouteKey == requested
	})
	if result == nil {
		if tried {
			return nil, apperrors.NoAvailableKey(string(provider))
		}
		return nil, apperrors.ModelNotFound(requested)
	}
	return result, nil
}

// tryMatch finds the lowest-id row satisfying predicate and checks key
// availability for its provider. tried reports whether any row matched the
// predicate at all (used to distinguish "no match" from "matched but no key").
func (r *Resolver) tryMatch(rows []domain.ModelConfig, predicate func(domain.ModelConfig) bool) (result *Result, tried bool) {
	for _, m := range rows {
		if !predicate(m) {
			continue
		}
		tried = true
		key, err := r.pool.Select(domain.RequestContext{Provider: m.Provider, TargetModel: m.TargetModel})
		if err == nil && key != nil {
			return &Result{Config: m, Key: *key}, true
		}
		// No key available for this row; keep scanning other rows matching
		// the same stage before giving up on the stage entirely.
	}
	return nil, tried
}

// stageWeak implements §4.2 stage 4: iterate rows in id order, return the
// first match in predicate order (provider-prefix, then substring, then
// keyword) across all rows, i.e. try provider-prefix across every row first,
// then substring across every row, then keyword across every row.
func (r *Resolver) stageWeak(rows []domain.ModelConfig, requested string) (*Result, bool) {
	lowerRequested := strings.ToLower(requested)

	predicates := []func(domain.ModelConfig) bool{
		func(m domain.ModelConfig) bool {
			return strings.HasPrefix(lowerRequested, strings.ToLower(string(m.Provider)))
		},
		func(m domain.ModelConfig) bool {
			return strings.Contains(requested, m.RouteKey) || strings.Contains(m.RouteKey, requested)
		},
		func(m domain.ModelConfig) bool {
			for _, kw := range m.KeywordList() {
				if strings.Contains(lowerRequested, strings.ToLower(kw)) {
					return true
				}
			}
			return false
		},
	}

	anyTried := false
	for _, predicate := range predicates {
		result, tried := r.tryMatch(rows, predicate)
		anyTried = anyTried || tried
		if result != nil {
			return result, true
		}
	}
	return nil, anyTried
}

func sortedByID(rows []domain.ModelConfig) []domain.ModelConfig {
	out := append([]domain.ModelConfig(nil), rows...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
