package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"walletsync/pkg/config"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

var (
	ErrNoRPC         = errors.New("no rpc urls configured")
	ErrUnknownChain  = errors.New("unknown chain")
	ErrShortResponse = errors.New("short contract response")
)

var (
	// balanceOf(address)
	balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}
	// getReserves()
	getReservesSelector = []byte{0x09, 0x02, 0xf1, 0xac}
)

// Client talks to the configured chains. Each chain's RPC URLs are tried in
// order until one answers; dialed clients are kept for reuse.
type Client struct {
	chains  map[int64]config.ChainConfig
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

func NewClient(chains []config.ChainConfig, timeout time.Duration, logger *zap.Logger) *Client {
	byID := make(map[int64]config.ChainConfig, len(chains))
	for _, c := range chains {
		byID[c.ChainID] = c
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		chains:  byID,
		timeout: timeout,
		logger:  logger.Named("rpc"),
		clients: make(map[string]*ethclient.Client),
	}
}

func (c *Client) dial(ctx context.Context, url string) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[url]; ok {
		return cl, nil
	}
	cl, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	c.clients[url] = cl
	return cl, nil
}

func (c *Client) forget(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[url]; ok {
		cl.Close()
		delete(c.clients, url)
	}
}

// withFallback runs fn against each RPC URL of chainID until one succeeds.
func (c *Client) withFallback(ctx context.Context, chainID int64, fn func(context.Context, *ethclient.Client) error) error {
	chain, ok := c.chains[chainID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChain, chainID)
	}
	if len(chain.RPCURLs) == 0 {
		return fmt.Errorf("%w: chain %s", ErrNoRPC, chain.Name)
	}

	var lastErr error
	for _, url := range chain.RPCURLs {
		if err := ctx.Err(); err != nil {
			return err
		}
		cl, err := c.dial(ctx, url)
		if err != nil {
			lastErr = err
			c.logger.Debug("Dial failed", zap.String("url", url), zap.Error(err))
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		err = fn(cctx, cl)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		c.logger.Debug("RPC call failed, trying next", zap.String("url", url), zap.Error(err))
		if errors.Is(err, ErrShortResponse) {
			continue
		}
		c.forget(url)
	}
	return lastErr
}

// NativeBalance returns the native balance of account at the latest block.
func (c *Client) NativeBalance(ctx context.Context, chainID int64, account string) (*big.Int, error) {
	var out *big.Int
	err := c.withFallback(ctx, chainID, func(ctx context.Context, cl *ethclient.Client) error {
		bal, err := cl.BalanceAt(ctx, common.HexToAddress(account), nil)
		if err != nil {
			return err
		}
		out = bal
		return nil
	})
	return out, err
}

// TokenBalance returns account's balance of the ERC-20 at token.
func (c *Client) TokenBalance(ctx context.Context, chainID int64, account, token string) (*big.Int, error) {
	data := make([]byte, 4+32)
	copy(data[0:4], balanceOfSelector)
	copy(data[4+12:], common.HexToAddress(account).Bytes())
	tokenAddr := common.HexToAddress(token)

	var out *big.Int
	err := c.withFallback(ctx, chainID, func(ctx context.Context, cl *ethclient.Client) error {
		result, err := cl.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
		if err != nil {
			return err
		}
		if len(result) < 32 {
			return fmt.Errorf("%w: balanceOf returned %d bytes", ErrShortResponse, len(result))
		}
		out = new(big.Int).SetBytes(result[:32])
		return nil
	})
	return out, err
}

// GetReserves reads reserve0 and reserve1 from a Uniswap V2 style pair.
func (c *Client) GetReserves(ctx context.Context, chainID int64, pair string) (*big.Int, *big.Int, error) {
	pairAddr := common.HexToAddress(pair)
	var r0, r1 *big.Int
	err := c.withFallback(ctx, chainID, func(ctx context.Context, cl *ethclient.Client) error {
		result, err := cl.CallContract(ctx, ethereum.CallMsg{To: &pairAddr, Data: getReservesSelector}, nil)
		if err != nil {
			return err
		}
		if len(result) < 64 {
			return fmt.Errorf("%w: getReserves returned %d bytes", ErrShortResponse, len(result))
		}
		r0 = new(big.Int).SetBytes(result[0:32])
		r1 = new(big.Int).SetBytes(result[32:64])
		return nil
	})
	return r0, r1, err
}

// BlockNumber returns the latest block height.
func (c *Client) BlockNumber(ctx context.Context, chainID int64) (uint64, error) {
	var out uint64
	err := c.withFallback(ctx, chainID, func(ctx context.Context, cl *ethclient.Client) error {
		n, err := cl.BlockNumber(ctx)
		if err != nil {
			return err
		}
		out = n
		return nil
	})
	return out, err
}

// SubscribeNewHeads streams new block headers over the chain's websocket
// endpoint. Chains without ws_url report ErrNoRPC.
func (c *Client) SubscribeNewHeads(ctx context.Context, chainID int64, ch chan<- *types.Header) (ethereum.Subscription, error) {
	chain, ok := c.chains[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, chainID)
	}
	if chain.WSURL == "" {
		return nil, fmt.Errorf("%w: chain %s has no ws_url", ErrNoRPC, chain.Name)
	}
	cl, err := c.dial(ctx, chain.WSURL)
	if err != nil {
		return nil, err
	}
	sub, err := cl.SubscribeNewHead(ctx, ch)
	if err != nil {
		c.forget(chain.WSURL)
		return nil, err
	}
	return sub, nil
}

// Close releases every dialed client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for url, cl := range c.clients {
		cl.Close()
		delete(c.clients, url)
	}
}

// FetchChainID dials url directly and returns its chain ID.
func FetchChainID(ctx context.Context, url string) (*big.Int, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return client.ChainID(ctx)
}
