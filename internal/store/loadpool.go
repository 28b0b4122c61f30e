package store

import "github.com/modelgate/modelgate/internal/domain"

// KeyAdder is the subset of *pool.Pool needed to seed it from storage,
// defined consumer-side so store never imports pool.
type KeyAdder interface {
	Add(key domain.ApiKey)
}

// LoadPool reads every persisted ApiKey row and registers it in pool. Call
// on startup; admin key creation should call pool.Add directly afterward
// rather than re-running this full reload.
func (s *Store) LoadPool(pool KeyAdder) error {
	keys, err := s.ListApiKeys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		pool.Add(key)
	}
	return nil
}
