package pool

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/modelgate/modelgate/internal/domain"
)

// Strategy picks one entry (by index into all) given the current request
// context. all is the provider's full, unfiltered key list — not just the
// currently-available ones — so a strategy needing a stable notion of "how
// many keys does this provider have" (round_robin) can compute it without
// the count shifting as keys rate-limit in and out. Implementations are
// responsible for skipping unavailable entries themselves, mirroring
// original_source's selector.py, where each strategy filters the full keys
// list it's handed rather than receiving a pre-filtered one.
type Strategy func(all []domain.ApiKey, reqCtx domain.RequestContext, counters *Counters, now time.Time) int

// Counters holds the per-(provider,model) round-robin cursor, the one piece
// of strategy state that must persist across calls (§4.3).
type Counters struct {
	mu   sync.Mutex
	next map[string]int
}

// NewCounters constructs an empty counter set.
func NewCounters() *Counters {
	return &Counters{next: make(map[string]int)}
}

// SelectAndAdvance scans n slots starting at the cursor stored for key,
// returns the first index for which available reports true, and advances
// the cursor to (that index + 1) mod n. The scan and the advance happen
// under one lock so a concurrent caller can't observe the cursor mid-scan.
// Mirrors original_source's RoundRobinStrategy.select_key (selector.py),
// which holds its lock across the whole scan-and-advance.
func (c *Counters) SelectAndAdvance(key string, n int, available func(idx int) bool) int {
	if n <= 0 {
		return -1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	start := c.next[key] % n
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if available(idx) {
			c.next[key] = (idx + 1) % n
			return idx
		}
	}
	return -1
}

func counterKey(reqCtx domain.RequestContext) string {
	return string(reqCtx.Provider) + "|" + reqCtx.TargetModel
}

// availableIndices returns, in order, the indices into all whose entries are
// currently available.
func availableIndices(all []domain.ApiKey, now time.Time) []int {
	idxs := make([]int, 0, len(all))
	for i := range all {
		if all[i].IsAvailable(now) {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

// RoundRobin scans the full per-provider key list starting at the shared
// counter and returns the first available entry, advancing the counter to
// one past whichever slot it actually returned. n is len(all) — the
// provider's whole key count — not the available-only count, so the
// counter's meaning stays stable regardless of which keys are currently
// rate-limited (§4.3, ambiguous there; resolved against original_source's
// RoundRobinStrategy.select_key, selector.py, which scans-and-skips over the
// full key list for exactly this reason).
func RoundRobin(all []domain.ApiKey, reqCtx domain.RequestContext, counters *Counters, now time.Time) int {
	return counters.SelectAndAdvance(counterKey(reqCtx), len(all), func(idx int) bool {
		return all[idx].IsAvailable(now)
	})
}

// SuccessRate filters to available entries, sorts by (-success_rate,
// requests_count), and returns the first.
func SuccessRate(all []domain.ApiKey, _ domain.RequestContext, _ *Counters, now time.Time) int {
	return bestByOrder(all, availableIndices(all, now), func(a, b domain.ApiKey) bool {
		ra, rb := a.SuccessRate(), b.SuccessRate()
		if ra != rb {
			return ra > rb
		}
		return a.RequestsCount < b.RequestsCount
	})
}

// LeastUsed filters to available entries, sorts by (requests_count,
// -success_rate), and returns the first.
func LeastUsed(all []domain.ApiKey, _ domain.RequestContext, _ *Counters, now time.Time) int {
	return bestByOrder(all, availableIndices(all, now), func(a, b domain.ApiKey) bool {
		if a.RequestsCount != b.RequestsCount {
			return a.RequestsCount < b.RequestsCount
		}
		return a.SuccessRate() > b.SuccessRate()
	})
}

// WeightedRandom filters to available entries and samples one with
// probability proportional to success_rate / (requests_count+1), uniform
// among ties at weight 0.
func WeightedRandom(all []domain.ApiKey, _ domain.RequestContext, _ *Counters, now time.Time) int {
	idxs := availableIndices(all, now)
	if len(idxs) == 0 {
		return -1
	}
	weights := make([]float64, len(idxs))
	var total float64
	for i, idx := range idxs {
		k := all[idx]
		w := k.SuccessRate() / float64(k.RequestsCount+1)
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return idxs[rand.Intn(len(idxs))]
	}
	target := rand.Float64() * total
	var cum float64
	for i, w := range weights {
		cum += w
		if target <= cum {
			return idxs[i]
		}
	}
	return idxs[len(idxs)-1]
}

// Hybrid picks success_rate when the request is high priority, least_used
// when the available candidate pool is still cold (mean requests_count <
// 10), and round_robin otherwise (§4.3).
func Hybrid(all []domain.ApiKey, reqCtx domain.RequestContext, counters *Counters, now time.Time) int {
	if reqCtx.Priority > 5 {
		return SuccessRate(all, reqCtx, counters, now)
	}
	idxs := availableIndices(all, now)
	if len(idxs) == 0 {
		return -1
	}
	if meanRequestsCount(all, idxs) < 10 {
		return LeastUsed(all, reqCtx, counters, now)
	}
	return RoundRobin(all, reqCtx, counters, now)
}

func meanRequestsCount(all []domain.ApiKey, idxs []int) float64 {
	if len(idxs) == 0 {
		return 0
	}
	var sum int64
	for _, idx := range idxs {
		sum += all[idx].RequestsCount
	}
	return float64(sum) / float64(len(idxs))
}

// bestByOrder returns the element of idxs (indices into all) that sorts
// first under less, without mutating all or idxs. Returns -1 if idxs is empty.
func bestByOrder(all []domain.ApiKey, idxs []int, less func(a, b domain.ApiKey) bool) int {
	if len(idxs) == 0 {
		return -1
	}
	order := append([]int(nil), idxs...)
	sort.SliceStable(order, func(i, j int) bool {
		return less(all[order[i]], all[order[j]])
	})
	return order[0]
}

// Registry is the name -> Strategy lookup admin config binds a provider to.
var Registry = map[string]Strategy{
	"round_robin":     RoundRobin,
	"success_rate":    SuccessRate,
	"least_used":      LeastUsed,
	"weighted_random": WeightedRandom,
	"hybrid":          Hybrid,
}

// DefaultStrategyName is used for any provider without an explicit binding.
const DefaultStrategyName = "hybrid"
