package wallet

import (
	"math/big"
	"time"

	"walletsync/pkg/metrics"
	"walletsync/pkg/models"

	"github.com/patrickmn/go-cache"
)

// Cache holds the latest fetched balance per key. Entries for keys that still
// have subscribers never expire; released entries expire after the grace
// period and are dropped by the janitor on its next cleanup pass.
type Cache struct {
	c     *cache.Cache
	grace time.Duration
}

func NewCache(grace, cleanupInterval time.Duration) *Cache {
	if grace <= 0 {
		grace = time.Millisecond
	}
	c := cache.New(cache.NoExpiration, cleanupInterval)
	c.OnEvicted(func(string, interface{}) {
		metrics.CachedBalances.Set(float64(c.ItemCount()))
	})
	return &Cache{c: c, grace: grace}
}

// Get returns a copy of the entry for key. Expired entries are reported absent
// even before the janitor removes them.
func (c *Cache) Get(key models.SubscriptionKey) (models.BalanceEntry, bool) {
	v, ok := c.c.Get(key.String())
	if !ok {
		return models.BalanceEntry{}, false
	}
	e := v.(models.BalanceEntry)
	if e.Value != nil {
		e.Value = new(big.Int).Set(e.Value)
	}
	return e, true
}

func (c *Cache) ItemCount() int {
	return c.c.ItemCount()
}

// put overwrites the entry. retained selects between no expiry and the grace period.
func (c *Cache) put(e models.BalanceEntry, retained bool) {
	if e.Value != nil {
		e.Value = new(big.Int).Set(e.Value)
	}
	c.c.Set(e.Key.String(), e, c.expiration(retained))
	metrics.CachedBalances.Set(float64(c.c.ItemCount()))
}

// retain pins an existing entry so it no longer expires.
func (c *Cache) retain(key models.SubscriptionKey) {
	if v, ok := c.c.Get(key.String()); ok {
		c.c.Set(key.String(), v, cache.NoExpiration)
	}
}

// release starts the grace period for an existing entry.
func (c *Cache) release(key models.SubscriptionKey) {
	if v, ok := c.c.Get(key.String()); ok {
		c.c.Set(key.String(), v, c.grace)
	}
}

func (c *Cache) expiration(retained bool) time.Duration {
	if retained {
		return cache.NoExpiration
	}
	return c.grace
}

// DeleteExpired runs a cleanup pass immediately.
func (c *Cache) DeleteExpired() {
	c.c.DeleteExpired()
}
