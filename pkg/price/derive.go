package price

import (
	"context"
	"math/big"
	"sync"
	"time"

	"walletsync/pkg/config"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Derive returns base * (reserve1 / reserve0), shifted by the decimal
// difference of the two pair tokens. It reports false when reserve0 is zero.
func Derive(base decimal.Decimal, reserve0, reserve1 *big.Int, decimals0, decimals1 int) (decimal.Decimal, bool) {
	if reserve0 == nil || reserve1 == nil || reserve0.Sign() == 0 {
		return decimal.Zero, false
	}
	r0 := decimal.NewFromBigInt(reserve0, 0)
	r1 := decimal.NewFromBigInt(reserve1, 0)
	return base.Mul(r1).Div(r0).Shift(int32(decimals0 - decimals1)), true
}

// Deriver publishes a price computed from another symbol's price and a pair's
// reserves. It recomputes when either input changes and publishes nothing
// while the base price is unknown or reserve0 is zero.
type Deriver struct {
	cfg   config.DerivedPriceConfig
	store *Store

	mu       sync.Mutex
	reserve0 *big.Int
	reserve1 *big.Int
}

func NewDeriver(cfg config.DerivedPriceConfig, store *Store) *Deriver {
	d := &Deriver{cfg: cfg, store: store}
	store.OnChange(func(symbol string, _ decimal.Decimal) {
		if symbol == cfg.Base && symbol != cfg.Symbol {
			d.recompute()
		}
	})
	return d
}

func (d *Deriver) Symbol() string {
	return d.cfg.Symbol
}

// SetReserves records the pair's latest reserves as returned by getReserves.
func (d *Deriver) SetReserves(reserve0, reserve1 *big.Int) {
	if d.cfg.Invert {
		reserve0, reserve1 = reserve1, reserve0
	}
	d.mu.Lock()
	unchanged := d.reserve0 != nil && d.reserve0.Cmp(reserve0) == 0 && d.reserve1.Cmp(reserve1) == 0
	d.reserve0 = new(big.Int).Set(reserve0)
	d.reserve1 = new(big.Int).Set(reserve1)
	d.mu.Unlock()
	if !unchanged {
		d.recompute()
	}
}

func (d *Deriver) recompute() {
	base, ok := d.store.Get(d.cfg.Base)
	if !ok {
		return
	}
	d.mu.Lock()
	r0, r1 := d.reserve0, d.reserve1
	d.mu.Unlock()

	dec0, dec1 := d.cfg.Decimals0, d.cfg.Decimals1
	if d.cfg.Invert {
		dec0, dec1 = dec1, dec0
	}
	if v, ok := Derive(base, r0, r1, dec0, dec1); ok {
		d.store.Set(d.cfg.Symbol, v)
	}
}

// ReserveSource reads pair reserves from a chain.
type ReserveSource interface {
	GetReserves(ctx context.Context, chainID int64, pair string) (*big.Int, *big.Int, error)
}

// ReserveWatcher refreshes a Deriver's reserves whenever a new block height
// is committed for the pair's chain.
type ReserveWatcher struct {
	deriver *Deriver
	source  ReserveSource
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
}

func NewReserveWatcher(deriver *Deriver, source ReserveSource, timeout time.Duration, logger *zap.Logger) *ReserveWatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ReserveWatcher{
		deriver: deriver,
		source:  source,
		timeout: timeout,
		logger:  logger.Named("reserves").With(zap.String("symbol", deriver.Symbol())),
	}
}

// ChainID is the chain the pair lives on.
func (w *ReserveWatcher) ChainID() int64 {
	return w.deriver.cfg.ChainID
}

// OnBlock is a chain commit listener. Overlapping refreshes are skipped.
func (w *ReserveWatcher) OnBlock(ctx context.Context, chainID int64) {
	if chainID != w.deriver.cfg.ChainID {
		return
	}
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go func() {
		defer func() {
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
		}()
		w.Refresh(ctx)
	}()
}

// Refresh reads the reserves once.
func (w *ReserveWatcher) Refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	r0, r1, err := w.source.GetReserves(ctx, w.deriver.cfg.ChainID, w.deriver.cfg.Pair)
	if err != nil {
		w.logger.Warn("Reserve fetch failed", zap.String("pair", w.deriver.cfg.Pair), zap.Error(err))
		return
	}
	w.deriver.SetReserves(r0, r1)
}
