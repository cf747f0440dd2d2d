package wallet

import (
	"sort"
	"sync"

	"walletsync/pkg/metrics"
	"walletsync/pkg/models"

	"go.uber.org/zap"
)

// FetchScheduler is told about keys that just gained their first subscriber.
type FetchScheduler interface {
	Schedule(keys []models.SubscriptionKey)
}

// UpdateFunc is called after a fetched balance lands in the cache.
type UpdateFunc func(models.BalanceEntry)

// Unsubscribe releases a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// Store is the subscription registry and the owner of the balance cache.
// Counts and cache writes share one mutex; callbacks run after it is released.
type Store struct {
	mu        sync.Mutex
	counts    map[models.SubscriptionKey]int
	cache     *Cache
	tokens    *TokenList
	scheduler FetchScheduler
	listeners []UpdateFunc
	logger    *zap.Logger
}

func NewStore(cache *Cache, tokens *TokenList, logger *zap.Logger) *Store {
	return &Store{
		counts: make(map[models.SubscriptionKey]int),
		cache:  cache,
		tokens: tokens,
		logger: logger.Named("wallet"),
	}
}

// SetScheduler wires the component that performs initial fetches.
func (s *Store) SetScheduler(f FetchScheduler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduler = f
}

// OnUpdate registers fn to be called after every cache write.
func (s *Store) OnUpdate(fn UpdateFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) Tokens() *TokenList {
	return s.tokens
}

// Subscribe registers interest in keys and returns the matching release.
// Keys whose count moves from zero to one are handed to the scheduler.
func (s *Store) Subscribe(keys []models.SubscriptionKey) Unsubscribe {
	held := append([]models.SubscriptionKey(nil), keys...)

	s.mu.Lock()
	var fresh []models.SubscriptionKey
	for _, k := range held {
		s.counts[k]++
		if s.counts[k] == 1 {
			fresh = append(fresh, k)
			s.cache.retain(k)
		}
	}
	scheduler := s.scheduler
	active := len(s.counts)
	s.mu.Unlock()

	metrics.ActiveSubscriptions.Set(float64(active))
	if len(fresh) > 0 {
		s.logger.Debug("New balance keys", zap.Int("count", len(fresh)))
		if scheduler != nil {
			scheduler.Schedule(fresh)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { s.release(held) })
	}
}

func (s *Store) release(keys []models.SubscriptionKey) {
	s.mu.Lock()
	for _, k := range keys {
		n, ok := s.counts[k]
		if !ok {
			continue
		}
		if n <= 1 {
			delete(s.counts, k)
			s.cache.release(k)
			continue
		}
		s.counts[k] = n - 1
	}
	active := len(s.counts)
	s.mu.Unlock()
	metrics.ActiveSubscriptions.Set(float64(active))
}

// Count returns the current subscriber count of key.
func (s *Store) Count(key models.SubscriptionKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key]
}

// ActiveChains lists the chains that have at least one subscribed key, sorted.
func (s *Store) ActiveChains() []int64 {
	s.mu.Lock()
	seen := make(map[int64]bool)
	for k := range s.counts {
		seen[k.ChainID] = true
	}
	s.mu.Unlock()

	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ActiveKeys returns the subscribed keys of chainID, sorted.
func (s *Store) ActiveKeys(chainID int64) []models.SubscriptionKey {
	s.mu.Lock()
	keys := make([]models.SubscriptionKey, 0, len(s.counts))
	for k := range s.counts {
		if k.ChainID == chainID {
			keys = append(keys, k)
		}
	}
	s.mu.Unlock()
	sortKeys(keys)
	return keys
}

// Put stores a fetch result, replacing any previous entry for the key.
// Results for keys that lost every subscriber meanwhile are still written,
// but start out in their grace period.
func (s *Store) Put(e models.BalanceEntry) {
	s.mu.Lock()
	_, retained := s.counts[e.Key]
	s.cache.put(e, retained)
	listeners := append([]UpdateFunc(nil), s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(e)
	}
}

// Get reads the cached entry for key without blocking on fetches.
func (s *Store) Get(key models.SubscriptionKey) (models.BalanceEntry, bool) {
	return s.cache.Get(key)
}

// Cleanup evicts entries whose grace period has passed.
func (s *Store) Cleanup() {
	s.cache.DeleteExpired()
}
