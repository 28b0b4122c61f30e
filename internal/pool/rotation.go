package pool

import (
	"github.com/Laisky/errors/v2"

	"github.com/modelgate/modelgate/internal/domain"
)

// Rotate retires oldID in favor of newID within the same provider (§4.3).
// Preconditions: both keys exist, share a provider, and newID is enabled.
func (p *Pool) Rotate(oldID, newID int64) error {
	oldEntry, err := p.entryByID(oldID)
	if err != nil {
		return errors.Wrap(err, "rotate: old key")
	}
	newEntry, err := p.entryByID(newID)
	if err != nil {
		return errors.Wrap(err, "rotate: new key")
	}

	// Lock in a stable order (lower id first) to avoid deadlocking against a
	// concurrent rotation in the opposite direction.
	first, second := oldEntry, newEntry
	if newID < oldID {
		first, second = newEntry, oldEntry
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	if first != second {
		second.mu.Lock()
		defer second.mu.Unlock()
	}

	if oldEntry.key.Provider != newEntry.key.Provider {
		return errors.Errorf("rotate: provider mismatch (old=%s new=%s)", oldEntry.key.Provider, newEntry.key.Provider)
	}
	if !newEntry.key.Enabled {
		return errors.Errorf("rotate: new key %d is not enabled", newID)
	}

	now := p.now()
	oldEntry.key.Enabled = false
	oldEntry.key.FlaggedForRotation = false
	newEntry.key.LastRotation = &now
	newEntry.key.RequestsAtLastRotation = 0
	// Carry avg_latency from old to new to preserve continuity (§4.3).
	newEntry.key.AvgLatency = oldEntry.key.AvgLatency

	return nil
}

// RotationResult reports the outcome of one flagged key during a sweep.
type RotationResult struct {
	OldID   int64
	NewID   int64
	Success bool
	Reason  string
}

// Sweep gathers flagged_for_rotation keys grouped by provider and pairs each
// with a still-enabled, non-flagged key of the same provider round-robin.
// Providers with no replacement report "no replacement available" for every
// flagged key without rotating (§4.3).
func (p *Pool) Sweep() []RotationResult {
	p.mu.RLock()
	providers := make([]domain.Provider, 0, len(p.entries))
	for prov := range p.entries {
		providers = append(providers, prov)
	}
	p.mu.RUnlock()

	var results []RotationResult
	for _, prov := range providers {
		results = append(results, p.sweepProvider(prov)...)
	}
	return results
}

func (p *Pool) sweepProvider(provider domain.Provider) []RotationResult {
	p.mu.RLock()
	provEntries := append([]*entry(nil), p.entries[provider]...)
	p.mu.RUnlock()

	var flagged, replacements []*entry
	for _, e := range provEntries {
		e.mu.Lock()
		switch {
		case e.key.FlaggedForRotation:
			flagged = append(flagged, e)
		case e.key.Enabled:
			replacements = append(replacements, e)
		}
		e.mu.Unlock()
	}

	var results []RotationResult
	if len(replacements) == 0 {
		for _, f := range flagged {
			results = append(results, RotationResult{OldID: f.key.ID, Success: false, Reason: "no replacement available"})
		}
		return results
	}

	for i, f := range flagged {
		repl := replacements[i%len(replacements)]
		if err := p.Rotate(f.key.ID, repl.key.ID); err != nil {
			results = append(results, RotationResult{OldID: f.key.ID, NewID: repl.key.ID, Success: false, Reason: err.Error()})
			continue
		}
		results = append(results, RotationResult{OldID: f.key.ID, NewID: repl.key.ID, Success: true})
	}
	return results
}
