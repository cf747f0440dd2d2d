package wallet

import (
	"math/big"

	"walletsync/pkg/models"
)

// SubscribeETHBalances subscribes the native balances of addresses.
func (s *Store) SubscribeETHBalances(chainID int64, addresses []string) Unsubscribe {
	return s.Subscribe(NativeKeys(chainID, addresses))
}

// SubscribeTokenBalances subscribes account's balances of tokens.
func (s *Store) SubscribeTokenBalances(chainID int64, account string, tokens []string) Unsubscribe {
	return s.Subscribe(TokenKeys(chainID, account, tokens))
}

// SubscribeTokenBalancesTreatingWrappedAsNative subscribes like
// SubscribeTokenBalances, except the wrapped native token is watched through
// the account's native balance.
func (s *Store) SubscribeTokenBalancesTreatingWrappedAsNative(chainID int64, account string, tokens []string) Unsubscribe {
	rest, hasWrapped := s.splitWrapped(chainID, tokens)
	keys := TokenKeys(chainID, account, rest)
	if hasWrapped {
		keys = append(keys, NativeKeys(chainID, []string{account})...)
	}
	return s.Subscribe(keys)
}

// SubscribeAllTokenBalances subscribes every listed token of chainID for account.
func (s *Store) SubscribeAllTokenBalances(chainID int64, account string) Unsubscribe {
	return s.SubscribeTokenBalancesTreatingWrappedAsNative(chainID, account, s.tokens.Addresses(chainID))
}

// ETHBalances returns the cached native balances of addresses, keyed by
// checksummed address. Addresses without a cached value are omitted.
func (s *Store) ETHBalances(chainID int64, addresses []string) map[string]*big.Int {
	out := make(map[string]*big.Int)
	for _, k := range NativeKeys(chainID, addresses) {
		if e, ok := s.cache.Get(k); ok && e.Value != nil {
			out[k.Address] = e.Value
		}
	}
	return out
}

// TokenBalances returns account's cached balances of tokens, keyed by token address.
func (s *Store) TokenBalances(chainID int64, account string, tokens []string) map[string]models.TokenAmount {
	out := make(map[string]models.TokenAmount)
	for _, k := range TokenKeys(chainID, account, tokens) {
		e, ok := s.cache.Get(k)
		if !ok || e.Value == nil {
			continue
		}
		t, _ := s.tokens.Lookup(chainID, k.Token)
		out[k.Token] = models.TokenAmount{Token: t, Raw: e.Value}
	}
	return out
}

func (s *Store) TokenBalance(chainID int64, account, token string) (models.TokenAmount, bool) {
	addr, err := ValidateAddress(token)
	if err != nil {
		return models.TokenAmount{}, false
	}
	amt, ok := s.TokenBalances(chainID, account, []string{addr})[addr]
	return amt, ok
}

// TokenBalancesTreatingWrappedAsNative reads the wrapped native token from the
// account's native balance and merges it, under the wrapped token's address,
// with the regular token balances.
func (s *Store) TokenBalancesTreatingWrappedAsNative(chainID int64, account string, tokens []string) map[string]models.TokenAmount {
	rest, hasWrapped := s.splitWrapped(chainID, tokens)
	out := s.TokenBalances(chainID, account, rest)
	if !hasWrapped {
		return out
	}
	wrapped, _ := s.tokens.Wrapped(chainID)
	acc, err := ValidateAddress(account)
	if err != nil {
		return out
	}
	if bal, ok := s.ETHBalances(chainID, []string{acc})[acc]; ok {
		out[wrapped.Address] = models.TokenAmount{Token: wrapped, Raw: bal}
	}
	return out
}

func (s *Store) TokenBalanceTreatingWrappedAsNative(chainID int64, account, token string) (models.TokenAmount, bool) {
	addr, err := ValidateAddress(token)
	if err != nil {
		return models.TokenAmount{}, false
	}
	amt, ok := s.TokenBalancesTreatingWrappedAsNative(chainID, account, []string{addr})[addr]
	return amt, ok
}

// AllTokenBalancesTreatingWrappedAsNative covers every listed token of chainID.
func (s *Store) AllTokenBalancesTreatingWrappedAsNative(chainID int64, account string) map[string]models.TokenAmount {
	return s.TokenBalancesTreatingWrappedAsNative(chainID, account, s.tokens.Addresses(chainID))
}

// splitWrapped removes the wrapped native token from tokens and reports
// whether it was present.
func (s *Store) splitWrapped(chainID int64, tokens []string) ([]string, bool) {
	wrapped, ok := s.tokens.Wrapped(chainID)
	norm := NormalizeAddresses(tokens)
	if !ok {
		return norm, false
	}
	rest := make([]string, 0, len(norm))
	found := false
	for _, t := range norm {
		if t == wrapped.Address {
			found = true
			continue
		}
		rest = append(rest, t)
	}
	return rest, found
}
