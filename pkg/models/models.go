package models

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// SubscriptionKey identifies one balance: the native balance of Address when
// Token is empty, otherwise Address's balance of the ERC-20 at Token.
// Addresses are always stored checksummed.
type SubscriptionKey struct {
	ChainID int64  `json:"chain_id"`
	Address string `json:"address"`
	Token   string `json:"token,omitempty"`
}

func (k SubscriptionKey) IsNative() bool {
	return k.Token == ""
}

func (k SubscriptionKey) String() string {
	if k.IsNative() {
		return fmt.Sprintf("%d:%s", k.ChainID, k.Address)
	}
	return fmt.Sprintf("%d:%s:%s", k.ChainID, k.Address, k.Token)
}

// BalanceEntry is a fetched balance. Entries are replaced, never mutated.
type BalanceEntry struct {
	Key             SubscriptionKey `json:"key"`
	Value           *big.Int        `json:"value"`
	FetchedAtHeight uint64          `json:"fetched_at_height"`
	FetchedAt       time.Time       `json:"fetched_at"`
}

// Token describes an ERC-20 (or the wrapped native token) on one chain.
type Token struct {
	ChainID  int64  `json:"chain_id"`
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Decimals int    `json:"decimals"`
}

func (t Token) Equals(other Token) bool {
	return t.ChainID == other.ChainID && strings.EqualFold(t.Address, other.Address)
}

// TokenAmount is a raw on-chain amount of Token.
type TokenAmount struct {
	Token Token    `json:"token"`
	Raw   *big.Int `json:"raw"`
}

// Float returns the amount scaled by the token's decimals.
func (a TokenAmount) Float() *big.Float {
	if a.Raw == nil {
		return new(big.Float)
	}
	f := new(big.Float).SetInt(a.Raw)
	if a.Token.Decimals > 0 {
		divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(a.Token.Decimals)), nil))
		f.Quo(f, divisor)
	}
	return f
}

// PriceData is a published quote.
type PriceData struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Err    error   `json:"-"`
}

// BlockData is a committed block height.
type BlockData struct {
	ChainID int64  `json:"chain_id"`
	Height  uint64 `json:"height"`
}

// PricePoint holds a timestamped price value.
type PricePoint struct {
	Timestamp time.Time
	Value     float64
}

// ChainResult holds test results for a specific chain.
type ChainResult struct {
	Name            string      `json:"name"`
	Symbol          string      `json:"symbol"`
	ConfigChainID   int64       `json:"config_chain_id"`
	RPCs            []RPCResult `json:"rpcs"`
	Inconsistent    bool        `json:"inconsistent"`
	ChainIDUpdated  bool        `json:"chain_id_updated"`
	ObservedChainID int64       `json:"observed_chain_id,omitempty"`
}

// RPCResult holds test results for a specific RPC URL.
type RPCResult struct {
	URL     string `json:"url"`
	Status  string `json:"status"` // "ok" or "error"
	ChainID int64  `json:"chain_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TestReport holds the results of the configuration test.
type TestReport struct {
	ConfigPath         string        `json:"config_path"`
	ValidStructure     bool          `json:"valid_structure"`
	StructureErrors    []string      `json:"structure_errors,omitempty"`
	AddressCount       int           `json:"address_count"`
	ChainCount         int           `json:"chain_count"`
	Chains             []ChainResult `json:"chains,omitempty"`
	InconsistentChains []string      `json:"inconsistent_chains,omitempty"`
	ConfigUpdated      bool          `json:"config_updated"`
	SaveError          string        `json:"save_error,omitempty"`
	DryRun             bool          `json:"dry_run"`
}
