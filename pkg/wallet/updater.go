package wallet

import (
	"context"
	"math/big"
	"sync"
	"time"

	"walletsync/pkg/metrics"
	"walletsync/pkg/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// BalanceSource reads balances from a chain.
type BalanceSource interface {
	NativeBalance(ctx context.Context, chainID int64, account string) (*big.Int, error)
	TokenBalance(ctx context.Context, chainID int64, account, token string) (*big.Int, error)
}

// UpdaterConfig tunes fetch fan-out.
type UpdaterConfig struct {
	Concurrency int
	RateLimit   float64
	Timeout     time.Duration
}

// Updater fetches balances for newly subscribed keys and refreshes every
// subscribed key of a chain when a new block height is committed. Failures are
// logged and leave the cache untouched; the next block retries.
type Updater struct {
	store   *Store
	source  BalanceSource
	heights func(chainID int64) uint64
	cfg     UpdaterConfig
	logger  *zap.Logger

	group singleflight.Group

	mu       sync.Mutex
	ctx      context.Context
	limiters map[int64]*rate.Limiter
}

func NewUpdater(store *Store, source BalanceSource, heights func(int64) uint64, cfg UpdaterConfig, logger *zap.Logger) *Updater {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if heights == nil {
		heights = func(int64) uint64 { return 0 }
	}
	u := &Updater{
		store:    store,
		source:   source,
		heights:  heights,
		cfg:      cfg,
		logger:   logger.Named("updater"),
		ctx:      context.Background(),
		limiters: make(map[int64]*rate.Limiter),
	}
	store.SetScheduler(u)
	return u
}

// Start binds background fetches to ctx.
func (u *Updater) Start(ctx context.Context) {
	u.mu.Lock()
	u.ctx = ctx
	u.mu.Unlock()
}

func (u *Updater) baseContext() context.Context {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.ctx
}

// Schedule fetches keys in the background.
func (u *Updater) Schedule(keys []models.SubscriptionKey) {
	ctx := u.baseContext()
	go u.FetchKeys(ctx, keys)
}

// Refresh refetches every subscribed key of chainID in the background.
func (u *Updater) Refresh(chainID int64) {
	keys := u.store.ActiveKeys(chainID)
	if len(keys) == 0 {
		return
	}
	u.Schedule(keys)
}

// FetchKeys fetches keys with bounded concurrency and waits for all of them.
func (u *Updater) FetchKeys(ctx context.Context, keys []models.SubscriptionKey) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.Concurrency)
	for _, k := range keys {
		k := k
		g.Go(func() error {
			u.fetchOne(gctx, k)
			return nil
		})
	}
	_ = g.Wait()
}

func (u *Updater) limiter(chainID int64) *rate.Limiter {
	u.mu.Lock()
	defer u.mu.Unlock()
	l, ok := u.limiters[chainID]
	if !ok {
		limit := rate.Inf
		burst := 1
		if u.cfg.RateLimit > 0 {
			limit = rate.Limit(u.cfg.RateLimit)
			burst = int(u.cfg.RateLimit)
			if burst < 1 {
				burst = 1
			}
		}
		l = rate.NewLimiter(limit, burst)
		u.limiters[chainID] = l
	}
	return l
}

func (u *Updater) fetchOne(ctx context.Context, key models.SubscriptionKey) {
	_, _, _ = u.group.Do(key.String(), func() (interface{}, error) {
		if err := u.limiter(key.ChainID).Wait(ctx); err != nil {
			return nil, err
		}
		kind := "token"
		if key.IsNative() {
			kind = "native"
		}
		height := u.heights(key.ChainID)

		fctx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
		defer cancel()
		start := time.Now()
		var value *big.Int
		var err error
		if key.IsNative() {
			value, err = u.source.NativeBalance(fctx, key.ChainID, key.Address)
		} else {
			value, err = u.source.TokenBalance(fctx, key.ChainID, key.Address, key.Token)
		}
		metrics.BalanceFetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.BalanceFetches.WithLabelValues(kind, "error").Inc()
			u.logger.Warn("Balance fetch failed", zap.String("key", key.String()), zap.Error(err))
			return nil, err
		}
		metrics.BalanceFetches.WithLabelValues(kind, "ok").Inc()
		u.store.Put(models.BalanceEntry{
			Key:             key,
			Value:           value,
			FetchedAtHeight: height,
			FetchedAt:       time.Now(),
		})
		return nil, nil
	})
}
