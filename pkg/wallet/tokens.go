package wallet

import (
	"fmt"

	"walletsync/pkg/config"
	"walletsync/pkg/models"
)

// TokenList is the per-chain token registry, keyed by checksummed address.
// The wrapped native token of each chain is listed under the native symbol.
type TokenList struct {
	tokens  map[int64]map[string]models.Token
	wrapped map[int64]models.Token
}

// BuildTokenList validates every configured token and rejects duplicates on
// the same chain.
func BuildTokenList(chains []config.ChainConfig) (*TokenList, error) {
	tl := &TokenList{
		tokens:  make(map[int64]map[string]models.Token),
		wrapped: make(map[int64]models.Token),
	}
	for _, ch := range chains {
		if _, ok := tl.tokens[ch.ChainID]; !ok {
			tl.tokens[ch.ChainID] = make(map[string]models.Token)
		}
		if ch.WrappedNative != nil {
			addr, err := ValidateAddress(ch.WrappedNative.Address)
			if err != nil {
				return nil, fmt.Errorf("chain %s wrapped native: %w", ch.Name, err)
			}
			w := models.Token{
				ChainID:  ch.ChainID,
				Address:  addr,
				Symbol:   ch.Symbol,
				Name:     ch.Symbol,
				Decimals: ch.WrappedNative.Decimals,
			}
			if w.Decimals == 0 {
				w.Decimals = 18
			}
			tl.wrapped[ch.ChainID] = w
			tl.tokens[ch.ChainID][addr] = w
		}
		for _, tc := range ch.Tokens {
			addr, err := ValidateAddress(tc.Address)
			if err != nil {
				return nil, fmt.Errorf("chain %s token %s: %w", ch.Name, tc.Symbol, err)
			}
			if _, dup := tl.tokens[ch.ChainID][addr]; dup {
				return nil, fmt.Errorf("chain %s: duplicate token %s", ch.Name, addr)
			}
			tl.tokens[ch.ChainID][addr] = models.Token{
				ChainID:  ch.ChainID,
				Address:  addr,
				Symbol:   tc.Symbol,
				Name:     tc.Name,
				Decimals: tc.Decimals,
			}
		}
	}
	return tl, nil
}

// HasChain reports whether chainID is configured.
func (tl *TokenList) HasChain(chainID int64) bool {
	if tl == nil {
		return false
	}
	_, ok := tl.tokens[chainID]
	return ok
}

// Wrapped returns the wrapped native token of chainID.
func (tl *TokenList) Wrapped(chainID int64) (models.Token, bool) {
	if tl == nil {
		return models.Token{}, false
	}
	t, ok := tl.wrapped[chainID]
	return t, ok
}

// Lookup returns the token metadata for address, or a bare token when unknown.
func (tl *TokenList) Lookup(chainID int64, address string) (models.Token, bool) {
	if tl != nil {
		if t, ok := tl.tokens[chainID][address]; ok {
			return t, true
		}
	}
	return models.Token{ChainID: chainID, Address: address, Symbol: address, Decimals: 18}, false
}

// Addresses lists every token address on chainID, sorted.
func (tl *TokenList) Addresses(chainID int64) []string {
	if tl == nil {
		return nil
	}
	out := make([]string, 0, len(tl.tokens[chainID]))
	for addr := range tl.tokens[chainID] {
		out = append(out, addr)
	}
	return NormalizeAddresses(out)
}
