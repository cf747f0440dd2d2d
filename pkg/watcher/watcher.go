package watcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"walletsync/pkg/chain"
	"walletsync/pkg/config"
	"walletsync/pkg/models"
	"walletsync/pkg/price"
	"walletsync/pkg/rpc"
	"walletsync/pkg/wallet"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrNoChain = errors.New("no such chain")

// DataSource defines the interface for reading chain state.
type DataSource interface {
	wallet.BalanceSource
	chain.HeadSource
	price.ReserveSource
}

// Watcher wires the balance store, the block tracker and the price pipeline
// together and fans their changes out to subscribers.
type Watcher struct {
	cfg    config.Config
	logger *zap.Logger

	balances *wallet.Store
	updater  *wallet.Updater
	tracker  *chain.Tracker
	listener *chain.Listener
	prices   *price.Store
	poller   *price.Poller
	reserves []*price.ReserveWatcher

	subscribers []Subscriber
	accountSubs []wallet.Unsubscribe
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	dataSource  DataSource
}

// NewWatcher creates a new Watcher instance backed by the configured RPCs.
func NewWatcher(cfg config.Config, logger *zap.Logger) (*Watcher, error) {
	tokens, err := wallet.BuildTokenList(cfg.Chains)
	if err != nil {
		return nil, err
	}
	g := cfg.Global
	logger = logger.Named("watcher")

	w := &Watcher{
		cfg:        cfg,
		logger:     logger,
		prices:     price.NewStore(),
		ctx:        context.Background(),
		dataSource: rpc.NewClient(cfg.Chains, g.RequestTimeout(), logger),
	}
	src := sourceProxy{w}

	var active int64
	if c, ok := cfg.SelectedChain(); ok {
		active = c.ChainID
	}
	w.tracker = chain.NewTracker(active, g.BlockDebounce(), logger)
	w.listener = chain.NewListener(w.tracker, src, g.BlockPollInterval(), g.RequestTimeout(), logger)

	w.balances = wallet.NewStore(wallet.NewCache(g.EvictionGrace(), g.CleanupInterval()), tokens, logger)
	w.updater = wallet.NewUpdater(w.balances, src, func(chainID int64) uint64 {
		h, _ := w.tracker.Height(chainID)
		return h
	}, wallet.UpdaterConfig{
		Concurrency: g.FetchConcurrency,
		RateLimit:   g.RPCRateLimit,
		Timeout:     g.RequestTimeout(),
	}, logger)

	var sources []price.Source
	for _, p := range cfg.Prices {
		sources = append(sources, price.NewHTTPSource(p, g.RequestTimeout()))
	}
	w.poller = price.NewPoller(sources, w.prices, g.PricePollInterval(), logger)
	for _, d := range cfg.DerivedPrices {
		w.reserves = append(w.reserves, price.NewReserveWatcher(price.NewDeriver(d, w.prices), src, g.RequestTimeout(), logger))
	}

	w.balances.OnUpdate(func(e models.BalanceEntry) {
		w.notify(Event{Type: EventBalanceUpdated, Data: e})
	})
	w.prices.OnChange(func(symbol string, p decimal.Decimal) {
		f, _ := p.Float64()
		w.notify(Event{Type: EventPriceUpdated, Data: models.PriceData{Symbol: symbol, Price: f}})
	})
	w.tracker.OnCommit(w.onBlock)
	w.listener.Follow(w.followedChains)

	return w, nil
}

// SetDataSource allows overriding the data source (useful for testing).
func (w *Watcher) SetDataSource(ds DataSource) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dataSource = ds
}

func (w *Watcher) source() DataSource {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dataSource
}

// Subscribe adds a new subscriber and returns a channel to receive events.
func (w *Watcher) Subscribe() Subscriber {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(Subscriber, 100)
	w.subscribers = append(w.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber.
func (w *Watcher) Unsubscribe(ch Subscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, sub := range w.subscribers {
		if sub == ch {
			w.subscribers = append(w.subscribers[:i], w.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

func (w *Watcher) notify(event Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, sub := range w.subscribers {
		select {
		case sub <- event:
		default:
			// Slow subscriber; state can still be read from the stores.
		}
	}
}

func (w *Watcher) onBlock(chainID int64, height uint64) {
	w.updater.Refresh(chainID)
	ctx := w.context()
	for _, r := range w.reserves {
		r.OnBlock(ctx, chainID)
	}
	w.notify(Event{Type: EventBlockUpdated, Data: models.BlockData{ChainID: chainID, Height: height}})
}

// followedChains are the chains besides the active one whose heights drive
// refetches: chains with subscribed balances and the chains of derived-price
// pairs.
func (w *Watcher) followedChains() []int64 {
	ids := w.balances.ActiveChains()
	for _, r := range w.reserves {
		ids = append(ids, r.ChainID())
	}
	return ids
}

func (w *Watcher) context() context.Context {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ctx
}

// Start begins the monitoring loops and subscribes the configured accounts
// on the selected chain.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.ctx = ctx
	w.cancel = cancel
	w.mu.Unlock()

	w.updater.Start(ctx)
	w.poller.Start(ctx)
	for _, r := range w.reserves {
		go r.Refresh(ctx)
	}
	if c, ok := w.ActiveChain(); ok {
		w.listener.Start(ctx, c.ChainID)
		w.subscribeAccounts(c.ChainID)
	}
}

// Stop stops the monitoring loops.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	w.unsubscribeAccounts()
	w.listener.Stop()
	w.poller.Stop()
	w.tracker.Stop()
	cancel()
	if c, ok := w.source().(interface{ Close() }); ok {
		c.Close()
	}
}

// SwitchChain makes Chains[idx] the active chain. Account subscriptions move
// with it; heights already committed for the old chain are kept.
func (w *Watcher) SwitchChain(idx int) error {
	w.mu.Lock()
	if idx < 0 || idx >= len(w.cfg.Chains) {
		w.mu.Unlock()
		return fmt.Errorf("%w: index %d", ErrNoChain, idx)
	}
	w.cfg.SelectedIdx = idx
	c := w.cfg.Chains[idx]
	ctx, running := w.ctx, w.cancel != nil
	w.mu.Unlock()

	w.logger.Info("Switching chain", zap.String("chain", c.Name), zap.Int64("chainID", c.ChainID))
	if running {
		w.unsubscribeAccounts()
		w.listener.Start(ctx, c.ChainID)
		w.subscribeAccounts(c.ChainID)
	} else {
		w.tracker.SwitchChain(c.ChainID)
	}
	w.notify(Event{Type: EventChainSwitched, Data: c})
	return nil
}

// Refresh refetches every subscribed balance of the active chain now instead
// of waiting for the next block.
func (w *Watcher) Refresh() {
	if c, ok := w.ActiveChain(); ok {
		w.updater.Refresh(c.ChainID)
	}
}

func (w *Watcher) subscribeAccounts(chainID int64) {
	addrs := w.addressList()
	subs := []wallet.Unsubscribe{w.balances.SubscribeETHBalances(chainID, addrs)}
	for _, a := range addrs {
		subs = append(subs, w.balances.SubscribeAllTokenBalances(chainID, a))
	}
	w.mu.Lock()
	w.accountSubs = append(w.accountSubs, subs...)
	w.mu.Unlock()
}

func (w *Watcher) unsubscribeAccounts() {
	w.mu.Lock()
	subs := w.accountSubs
	w.accountSubs = nil
	w.mu.Unlock()
	for _, unsub := range subs {
		unsub()
	}
}

func (w *Watcher) addressList() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.cfg.Addresses))
	for _, a := range w.cfg.Addresses {
		out = append(out, a.Address)
	}
	return out
}

// Balances returns the subscription registry and balance cache.
func (w *Watcher) Balances() *wallet.Store {
	return w.balances
}

// ActiveChain returns the selected chain.
func (w *Watcher) ActiveChain() (config.ChainConfig, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg.SelectedChain()
}

// Chains returns the configured chains.
func (w *Watcher) Chains() []config.ChainConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]config.ChainConfig(nil), w.cfg.Chains...)
}

// SelectedIndex returns the index of the active chain in Chains.
func (w *Watcher) SelectedIndex() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg.SelectedIdx
}

// GetPrices returns the current prices.
func (w *Watcher) GetPrices() map[string]float64 {
	return w.prices.All()
}

// GetHeights returns the committed block height per chain.
func (w *Watcher) GetHeights() map[int64]uint64 {
	return w.tracker.Heights()
}

// AccountView is what is currently cached for one configured account.
type AccountView struct {
	Address string                        `json:"address"`
	Name    string                        `json:"name,omitempty"`
	Native  *big.Int                      `json:"native,omitempty"`
	Tokens  map[string]models.TokenAmount `json:"tokens"`
}

// GetAccounts returns the cached balances of the configured accounts on the
// active chain. Balances not fetched yet are absent. The wrapped native token
// is reported with the native balance.
func (w *Watcher) GetAccounts() []AccountView {
	c, ok := w.ActiveChain()
	if !ok {
		return nil
	}
	w.mu.RLock()
	addrs := append([]config.AddressConfig(nil), w.cfg.Addresses...)
	w.mu.RUnlock()

	var out []AccountView
	for _, a := range addrs {
		addr, err := wallet.ValidateAddress(a.Address)
		if err != nil {
			continue
		}
		v := AccountView{
			Address: addr,
			Name:    a.Name,
			Native:  w.balances.ETHBalances(c.ChainID, []string{addr})[addr],
			Tokens:  w.balances.AllTokenBalancesTreatingWrappedAsNative(c.ChainID, addr),
		}
		out = append(out, v)
	}
	return out
}

type sourceProxy struct {
	w *Watcher
}

func (p sourceProxy) NativeBalance(ctx context.Context, chainID int64, account string) (*big.Int, error) {
	return p.w.source().NativeBalance(ctx, chainID, account)
}

func (p sourceProxy) TokenBalance(ctx context.Context, chainID int64, account, token string) (*big.Int, error) {
	return p.w.source().TokenBalance(ctx, chainID, account, token)
}

func (p sourceProxy) GetReserves(ctx context.Context, chainID int64, pair string) (*big.Int, *big.Int, error) {
	return p.w.source().GetReserves(ctx, chainID, pair)
}

func (p sourceProxy) BlockNumber(ctx context.Context, chainID int64) (uint64, error) {
	return p.w.source().BlockNumber(ctx, chainID)
}

func (p sourceProxy) SubscribeNewHeads(ctx context.Context, chainID int64, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return p.w.source().SubscribeNewHeads(ctx, chainID, ch)
}
