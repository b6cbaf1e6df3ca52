package repository

// Option applies a configuration option to the TreapStore.
type Option func(*TreapStore)

// WithTopCacheSize sets how many leading entries the read snapshot holds.
func WithTopCacheSize(n int) Option {
	return func(s *TreapStore) {
		if n > 0 {
			s.topCacheSize = n
		}
	}
}

// WithPersister writes every changed entry through to p.
func WithPersister(p Persister) Option {
	return func(s *TreapStore) {
		s.persister = p
	}
}
