package price

import (
	"context"
	"sync"
	"time"

	"walletsync/pkg/metrics"

	"go.uber.org/zap"
)

// Poller refreshes every source once at start and then on a fixed interval.
// A failed fetch is logged and leaves the previous price in place.
type Poller struct {
	store    *Store
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	sources []Source
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPoller(sources []Source, store *Store, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		store:    store,
		interval: interval,
		logger:   logger.Named("prices"),
		sources:  sources,
	}
}

// SetSources replaces the polled sources.
func (p *Poller) SetSources(sources []Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources = sources
}

func (p *Poller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.Poll(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Poll(ctx)
			}
		}
	}()
}

func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		p.wg.Wait()
	}
}

// Poll fetches every source concurrently and publishes the successes.
func (p *Poller) Poll(ctx context.Context) {
	p.mu.Lock()
	sources := append([]Source(nil), p.sources...)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			price, err := src.Fetch(ctx)
			if err != nil {
				metrics.PriceFetches.WithLabelValues(src.Symbol(), "error").Inc()
				p.logger.Warn("Price fetch failed", zap.String("symbol", src.Symbol()), zap.Error(err))
				return
			}
			metrics.PriceFetches.WithLabelValues(src.Symbol(), "ok").Inc()
			p.store.Set(src.Symbol(), price)
		}(src)
	}
	wg.Wait()
}
