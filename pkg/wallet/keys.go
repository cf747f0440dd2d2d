package wallet

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"walletsync/pkg/models"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidAddress = errors.New("invalid address")

// ValidateAddress returns the EIP-55 checksummed form of addr. Hex with or
// without the 0x prefix is accepted. Mixed-case input must already carry a
// correct checksum.
func ValidateAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	checksummed := common.HexToAddress(addr).Hex()
	body := strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X")
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && "0x"+body != checksummed {
		return "", fmt.Errorf("%w: bad checksum %q", ErrInvalidAddress, addr)
	}
	return checksummed, nil
}

// NormalizeAddresses drops invalid entries, checksums the rest, and returns
// them sorted without duplicates. Two requests naming the same addresses in
// any order yield identical slices.
func NormalizeAddresses(addrs []string) []string {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		c, err := ValidateAddress(a)
		if err != nil {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// NativeKeys builds native-balance keys for addresses on chainID.
func NativeKeys(chainID int64, addresses []string) []models.SubscriptionKey {
	norm := NormalizeAddresses(addresses)
	keys := make([]models.SubscriptionKey, 0, len(norm))
	for _, a := range norm {
		keys = append(keys, models.SubscriptionKey{ChainID: chainID, Address: a})
	}
	return keys
}

// TokenKeys builds account/token keys. An invalid account yields no keys.
func TokenKeys(chainID int64, account string, tokens []string) []models.SubscriptionKey {
	acc, err := ValidateAddress(account)
	if err != nil {
		return nil
	}
	norm := NormalizeAddresses(tokens)
	keys := make([]models.SubscriptionKey, 0, len(norm))
	for _, t := range norm {
		keys = append(keys, models.SubscriptionKey{ChainID: chainID, Address: acc, Token: t})
	}
	return keys
}

func sortKeys(keys []models.SubscriptionKey) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.ChainID != b.ChainID {
			return a.ChainID < b.ChainID
		}
		if a.Address != b.Address {
			return a.Address < b.Address
		}
		return a.Token < b.Token
	})
}
