package watcher

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"walletsync/pkg/config"
	"walletsync/pkg/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	tokenAAA = "0x1111111111111111111111111111111111111111"
	account  = "0x2222222222222222222222222222222222222222"
	wrapped  = "0x3333333333333333333333333333333333333333"
)

type MockDataSource struct {
	mock.Mock
}

func (m *MockDataSource) NativeBalance(ctx context.Context, chainID int64, addr string) (*big.Int, error) {
	args := m.Called(ctx, chainID, addr)
	if v := args.Get(0); v != nil {
		return v.(*big.Int), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) TokenBalance(ctx context.Context, chainID int64, addr, token string) (*big.Int, error) {
	args := m.Called(ctx, chainID, addr, token)
	if v := args.Get(0); v != nil {
		return v.(*big.Int), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) GetReserves(ctx context.Context, chainID int64, pair string) (*big.Int, *big.Int, error) {
	args := m.Called(ctx, chainID, pair)
	if err := args.Error(2); err != nil {
		return nil, nil, err
	}
	return args.Get(0).(*big.Int), args.Get(1).(*big.Int), nil
}

func (m *MockDataSource) BlockNumber(ctx context.Context, chainID int64) (uint64, error) {
	args := m.Called(ctx, chainID)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockDataSource) SubscribeNewHeads(ctx context.Context, chainID int64, ch chan<- *types.Header) (ethereum.Subscription, error) {
	args := m.Called(ctx, chainID, ch)
	if v := args.Get(0); v != nil {
		return v.(ethereum.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func testConfig() config.Config {
	g := config.DefaultGlobalConfig()
	g.BlockPollIntervalSeconds = 1
	g.BlockDebounceMillis = 10
	g.RequestTimeoutSeconds = 1
	return config.Config{
		Addresses: []config.AddressConfig{{Address: account, Name: "Main"}},
		Chains: []config.ChainConfig{
			{
				Name:          "Testnet",
				ChainID:       7,
				Symbol:        "TST",
				RPCURLs:       []string{"http://127.0.0.1:1"},
				WrappedNative: &config.TokenConfig{Symbol: "WTST", Address: wrapped, Decimals: 18},
				Tokens:        []config.TokenConfig{{Symbol: "AAA", Address: tokenAAA, Decimals: 6}},
			},
			{Name: "Other", ChainID: 8, Symbol: "OTH", RPCURLs: []string{"http://127.0.0.1:1"}},
		},
		Global: g,
	}
}

func newTestWatcher(t *testing.T, cfg config.Config) (*Watcher, *MockDataSource) {
	t.Helper()
	w, err := NewWatcher(cfg, zap.NewNop())
	require.NoError(t, err)
	ds := new(MockDataSource)
	w.SetDataSource(ds)
	return w, ds
}

func TestNewWatcher(t *testing.T) {
	w, _ := newTestWatcher(t, testConfig())

	c, ok := w.ActiveChain()
	require.True(t, ok)
	assert.Equal(t, int64(7), c.ChainID)
	assert.Len(t, w.Chains(), 2)
	assert.Empty(t, w.GetPrices())
	assert.Empty(t, w.GetHeights())

	accounts := w.GetAccounts()
	require.Len(t, accounts, 1)
	assert.Equal(t, "Main", accounts[0].Name)
	assert.Nil(t, accounts[0].Native)
	assert.Empty(t, accounts[0].Tokens)
}

func TestNewWatcher_RejectsBadTokenList(t *testing.T) {
	cfg := testConfig()
	cfg.Chains[0].Tokens = append(cfg.Chains[0].Tokens, config.TokenConfig{Symbol: "BAD", Address: "0xnope"})
	_, err := NewWatcher(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	w, _ := newTestWatcher(t, testConfig())
	sub := w.Subscribe()
	assert.NotNil(t, sub)

	w.mu.RLock()
	assert.Equal(t, 1, len(w.subscribers))
	w.mu.RUnlock()

	w.Unsubscribe(sub)
	w.mu.RLock()
	assert.Equal(t, 0, len(w.subscribers))
	w.mu.RUnlock()

	_, open := <-sub
	assert.False(t, open)
}

func TestNotify_DoesNotBlockOnSlowSubscriber(t *testing.T) {
	w, _ := newTestWatcher(t, testConfig())
	sub := w.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 250; i++ {
			w.notify(Event{Type: EventPriceUpdated})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notify blocked on a full subscriber")
	}
	assert.Len(t, sub, 100)
}

func TestStart_FetchesAccountsAndPrices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ticker":{"latest":"2.5"}}`))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Prices = []config.PriceSourceConfig{{Symbol: "CXS", URL: server.URL, Path: "ticker.latest"}}
	cfg.DerivedPrices = []config.DerivedPriceConfig{{Symbol: "NEXTEP", Base: "CXS", ChainID: 7, Pair: "0xpair"}}

	w, ds := newTestWatcher(t, cfg)
	ds.On("BlockNumber", mock.Anything, int64(7)).Return(uint64(100), nil)
	ds.On("SubscribeNewHeads", mock.Anything, int64(7), mock.Anything).Return(nil, errors.New("notifications not supported"))
	ds.On("NativeBalance", mock.Anything, int64(7), account).Return(big.NewInt(5), nil)
	ds.On("TokenBalance", mock.Anything, int64(7), account, tokenAAA).Return(big.NewInt(1_500_000), nil)
	ds.On("GetReserves", mock.Anything, int64(7), "0xpair").Return(big.NewInt(1000), big.NewInt(2500), nil)

	sub := w.Subscribe()
	w.Start(context.Background())
	defer w.Stop()

	require.Eventually(t, func() bool {
		accounts := w.GetAccounts()
		return len(accounts) == 1 && accounts[0].Native != nil && len(accounts[0].Tokens) == 2
	}, 2*time.Second, 10*time.Millisecond)

	acc := w.GetAccounts()[0]
	assert.Equal(t, int64(5), acc.Native.Int64())
	assert.Equal(t, int64(1_500_000), acc.Tokens[tokenAAA].Raw.Int64())
	assert.Equal(t, "TST", acc.Tokens[wrapped].Token.Symbol)
	assert.Equal(t, int64(5), acc.Tokens[wrapped].Raw.Int64())
	ds.AssertNotCalled(t, "TokenBalance", mock.Anything, int64(7), account, wrapped)

	require.Eventually(t, func() bool {
		return w.GetPrices()["NEXTEP"] == 6.25
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2.5, w.GetPrices()["CXS"])
	assert.Equal(t, uint64(100), w.GetHeights()[7])

	seen := map[EventType]bool{}
	timeout := time.After(time.Second)
	for !(seen[EventBalanceUpdated] && seen[EventPriceUpdated] && seen[EventBlockUpdated]) {
		select {
		case ev := <-sub:
			seen[ev.Type] = true
			if ev.Type == EventBlockUpdated {
				assert.Equal(t, models.BlockData{ChainID: 7, Height: 100}, ev.Data)
			}
		case <-timeout:
			t.Fatalf("missing events, got %v", seen)
		}
	}
}

func TestStop_ReleasesAccountSubscriptions(t *testing.T) {
	w, ds := newTestWatcher(t, testConfig())
	ds.On("BlockNumber", mock.Anything, mock.Anything).Return(uint64(1), nil)
	ds.On("SubscribeNewHeads", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("no ws"))
	ds.On("NativeBalance", mock.Anything, mock.Anything, mock.Anything).Return(big.NewInt(1), nil)
	ds.On("TokenBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(big.NewInt(1), nil)

	key := models.SubscriptionKey{ChainID: 7, Address: account}
	w.Start(context.Background())
	assert.Equal(t, 2, w.Balances().Count(key), "native balance plus the wrapped token watched as native")

	w.Stop()
	assert.Equal(t, 0, w.Balances().Count(key))
	w.Stop()
}

func TestSwitchChain(t *testing.T) {
	w, ds := newTestWatcher(t, testConfig())
	ds.On("BlockNumber", mock.Anything, mock.Anything).Return(uint64(1), nil)
	ds.On("SubscribeNewHeads", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("no ws"))
	ds.On("NativeBalance", mock.Anything, mock.Anything, mock.Anything).Return(big.NewInt(1), nil)
	ds.On("TokenBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(big.NewInt(1), nil)

	err := w.SwitchChain(5)
	assert.True(t, errors.Is(err, ErrNoChain))

	sub := w.Subscribe()
	w.Start(context.Background())
	defer w.Stop()

	require.NoError(t, w.SwitchChain(1))
	c, _ := w.ActiveChain()
	assert.Equal(t, int64(8), c.ChainID)
	assert.Equal(t, 1, w.SelectedIndex())

	assert.Equal(t, 0, w.Balances().Count(models.SubscriptionKey{ChainID: 7, Address: account}))
	assert.Equal(t, 1, w.Balances().Count(models.SubscriptionKey{ChainID: 8, Address: account}))

	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-sub:
			if ev.Type == EventChainSwitched {
				assert.Equal(t, "Other", ev.Data.(config.ChainConfig).Name)
				return
			}
		case <-timeout:
			t.Fatal("no chain switch event")
		}
	}
}

func TestStart_RefetchesSubscriptionsOnInactiveChain(t *testing.T) {
	w, ds := newTestWatcher(t, testConfig())
	ds.On("BlockNumber", mock.Anything, int64(7)).Return(uint64(50), nil)
	ds.On("BlockNumber", mock.Anything, int64(8)).Return(uint64(100), nil).Once()
	ds.On("BlockNumber", mock.Anything, int64(8)).Return(uint64(101), nil)
	ds.On("SubscribeNewHeads", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("no ws"))
	ds.On("NativeBalance", mock.Anything, int64(7), account).Return(big.NewInt(5), nil)
	ds.On("TokenBalance", mock.Anything, int64(7), account, mock.Anything).Return(big.NewInt(1), nil)

	var fetches atomic.Int32
	ds.On("NativeBalance", mock.Anything, int64(8), account).Return(big.NewInt(9), nil).
		Run(func(mock.Arguments) { fetches.Add(1) })

	w.Start(context.Background())
	defer w.Stop()

	unsub := w.Balances().SubscribeETHBalances(8, []string{account})
	defer unsub()

	key := models.SubscriptionKey{ChainID: 8, Address: account}
	require.Eventually(t, func() bool {
		e, ok := w.Balances().Get(key)
		return ok && fetches.Load() >= 2 && e.FetchedAtHeight >= 100
	}, 3*time.Second, 10*time.Millisecond)

	c, _ := w.ActiveChain()
	assert.Equal(t, int64(7), c.ChainID)
	assert.GreaterOrEqual(t, w.GetHeights()[8], uint64(100))
}

func TestStart_DerivedPriceFollowsPairChain(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ticker":{"latest":"2.5"}}`))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Prices = []config.PriceSourceConfig{{Symbol: "CXS", URL: server.URL, Path: "ticker.latest"}}
	cfg.DerivedPrices = []config.DerivedPriceConfig{{Symbol: "NEXTEP", Base: "CXS", ChainID: 8, Pair: "0xpair"}}

	w, ds := newTestWatcher(t, cfg)
	ds.On("BlockNumber", mock.Anything, int64(7)).Return(uint64(50), nil)
	ds.On("BlockNumber", mock.Anything, int64(8)).Return(uint64(200), nil)
	ds.On("SubscribeNewHeads", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("no ws"))
	ds.On("NativeBalance", mock.Anything, mock.Anything, mock.Anything).Return(big.NewInt(1), nil)
	ds.On("TokenBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(big.NewInt(1), nil)

	var reads atomic.Int32
	ds.On("GetReserves", mock.Anything, int64(8), "0xpair").Return(big.NewInt(1000), big.NewInt(4000), nil).
		Run(func(mock.Arguments) { reads.Add(1) })

	w.Start(context.Background())
	defer w.Stop()

	require.Eventually(t, func() bool {
		return reads.Load() >= 2 && w.GetPrices()["NEXTEP"] == 10
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(200), w.GetHeights()[8])
}
