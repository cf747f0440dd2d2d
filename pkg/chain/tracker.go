package chain

import (
	"sync"
	"time"

	"walletsync/pkg/metrics"

	"go.uber.org/zap"
)

// CommitFunc is called after a chain's committed height increases.
type CommitFunc func(chainID int64, height uint64)

// Tracker keeps the highest committed block height per chain.
//
// Heights pushed by the new-heads listener go through Observe: they are folded
// into a max accumulator and committed once no new height arrived for the
// debounce window. Heights pulled by the periodic poll go through CatchUp and
// commit immediately. Either way the committed value never decreases.
type Tracker struct {
	mu       sync.Mutex
	heights  map[int64]uint64
	active   int64
	pending  uint64
	hasPend  bool
	timer    *time.Timer
	gen      uint64
	debounce time.Duration

	listeners []CommitFunc
	logger    *zap.Logger
}

func NewTracker(active int64, debounce time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{
		heights:  make(map[int64]uint64),
		active:   active,
		debounce: debounce,
		logger:   logger.Named("tracker"),
	}
}

// OnCommit registers fn for committed height changes.
func (t *Tracker) OnCommit(fn CommitFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Observe records a pushed height. Heights for chains other than the active
// one are dropped.
func (t *Tracker) Observe(chainID int64, height uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if chainID != t.active {
		t.logger.Debug("Dropping height for inactive chain", zap.Int64("chainID", chainID), zap.Uint64("height", height))
		return
	}
	if !t.hasPend || height > t.pending {
		t.pending = height
		t.hasPend = true
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.debounce, func() { t.flush(chainID, gen) })
}

func (t *Tracker) flush(chainID int64, gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.hasPend || chainID != t.active {
		t.mu.Unlock()
		return
	}
	height := t.pending
	t.hasPend = false
	t.pending = 0
	t.timer = nil
	changed := t.commitLocked(chainID, height)
	listeners := append([]CommitFunc(nil), t.listeners...)
	t.mu.Unlock()

	if changed {
		t.notify(listeners, chainID, height)
	}
}

// CatchUp commits a polled height immediately.
func (t *Tracker) CatchUp(chainID int64, height uint64) {
	t.mu.Lock()
	changed := t.commitLocked(chainID, height)
	listeners := append([]CommitFunc(nil), t.listeners...)
	t.mu.Unlock()

	if changed {
		t.notify(listeners, chainID, height)
	}
}

func (t *Tracker) commitLocked(chainID int64, height uint64) bool {
	current, ok := t.heights[chainID]
	if ok && height <= current {
		return false
	}
	t.heights[chainID] = height
	return true
}

func (t *Tracker) notify(listeners []CommitFunc, chainID int64, height uint64) {
	metrics.BlockHeight.WithLabelValues(metrics.ChainLabel(chainID)).Set(float64(height))
	t.logger.Debug("Committed block height", zap.Int64("chainID", chainID), zap.Uint64("height", height))
	for _, fn := range listeners {
		fn(chainID, height)
	}
}

// SwitchChain makes chainID the active chain. Any accumulated but uncommitted
// height is discarded so it can never land on the new chain.
func (t *Tracker) SwitchChain(chainID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = chainID
	t.pending = 0
	t.hasPend = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}

// Height returns the committed height of chainID.
func (t *Tracker) Height(chainID int64) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.heights[chainID]
	return h, ok
}

// Heights returns a copy of all committed heights.
func (t *Tracker) Heights() map[int64]uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make(map[int64]uint64, len(t.heights))
	for k, v := range t.heights {
		cp[k] = v
	}
	return cp
}

func (t *Tracker) ActiveChain() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Stop cancels a pending debounce without committing it.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}
