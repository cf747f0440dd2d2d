package chain

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// HeadSource provides block heights for a chain.
type HeadSource interface {
	BlockNumber(ctx context.Context, chainID int64) (uint64, error)
	SubscribeNewHeads(ctx context.Context, chainID int64, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// Listener feeds a Tracker for the active chain from two paths: a new-heads
// subscription (debounced through Observe) and a periodic BlockNumber poll
// (committed through CatchUp). The subscription is optional; when it cannot
// be established the poll alone keeps the height current. Chains reported by
// the Follow callback are polled on the same tick.
type Listener struct {
	tracker  *Tracker
	source   HeadSource
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	followed func() []int64
}

func NewListener(tracker *Tracker, source HeadSource, pollInterval, timeout time.Duration, logger *zap.Logger) *Listener {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Listener{
		tracker:  tracker,
		source:   source,
		interval: pollInterval,
		timeout:  timeout,
		logger:   logger.Named("listener"),
	}
}

// Follow registers fn to report further chains whose heights must stay
// current, such as chains with subscribed balances. The active chain is
// skipped if fn returns it.
func (l *Listener) Follow(fn func() []int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.followed = fn
}

// Start begins following chainID, replacing any chain followed before.
func (l *Listener) Start(ctx context.Context, chainID int64) {
	l.Stop()
	l.tracker.SwitchChain(chainID)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.mu.Lock()
	l.cancel = cancel
	l.done = done
	l.mu.Unlock()

	go func() {
		defer close(done)
		l.run(ctx, chainID)
	}()
}

// Stop halts the loop and waits for it to exit.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (l *Listener) run(ctx context.Context, chainID int64) {
	l.poll(ctx, chainID)
	l.pollFollowed(ctx, chainID)

	heads := make(chan *types.Header, 16)
	sub := l.subscribe(ctx, chainID, heads)
	defer func() {
		if sub != nil {
			sub.Unsubscribe()
		}
	}()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		var subErr <-chan error
		if sub != nil {
			subErr = sub.Err()
		}
		select {
		case <-ctx.Done():
			return
		case h := <-heads:
			if h != nil && h.Number != nil {
				l.tracker.Observe(chainID, h.Number.Uint64())
			}
		case err := <-subErr:
			l.logger.Warn("New heads subscription dropped", zap.Int64("chainID", chainID), zap.Error(err))
			sub.Unsubscribe()
			sub = nil
		case <-ticker.C:
			l.poll(ctx, chainID)
			l.pollFollowed(ctx, chainID)
			if sub == nil {
				sub = l.subscribe(ctx, chainID, heads)
			}
		}
	}
}

func (l *Listener) poll(ctx context.Context, chainID int64) {
	pctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	h, err := l.source.BlockNumber(pctx, chainID)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Warn("Block number poll failed", zap.Int64("chainID", chainID), zap.Error(err))
		}
		return
	}
	l.tracker.CatchUp(chainID, h)
}

func (l *Listener) pollFollowed(ctx context.Context, active int64) {
	l.mu.Lock()
	fn := l.followed
	l.mu.Unlock()
	if fn == nil {
		return
	}
	for _, id := range fn() {
		if id == active || ctx.Err() != nil {
			continue
		}
		l.poll(ctx, id)
	}
}

func (l *Listener) subscribe(ctx context.Context, chainID int64, heads chan<- *types.Header) ethereum.Subscription {
	sub, err := l.source.SubscribeNewHeads(ctx, chainID, heads)
	if err != nil {
		l.logger.Debug("New heads subscription unavailable, relying on polling", zap.Int64("chainID", chainID), zap.Error(err))
		return nil
	}
	return sub
}
