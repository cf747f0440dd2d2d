package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"walletsync/pkg/config"
	"walletsync/pkg/models"
	"walletsync/pkg/utils"
	"walletsync/pkg/watcher"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const nativeDecimals = 18

// accountValue prices every cached balance of acc. The wrapped native token
// already carries the native balance, so the native balance is only counted
// on its own when no token stands in for it.
func accountValue(acc watcher.AccountView, chain config.ChainConfig, prices map[string]float64) float64 {
	total := 0.0
	nativeCovered := false
	for _, amt := range acc.Tokens {
		if amt.Token.Symbol == chain.Symbol {
			nativeCovered = true
		}
		total += utils.BigFloatToFloat64(amt.Float()) * prices[amt.Token.Symbol]
	}
	if !nativeCovered && acc.Native != nil {
		total += utils.UnitsToFloat64(acc.Native, nativeDecimals) * prices[chain.Symbol]
	}
	return total
}

func portfolioValue(accounts []watcher.AccountView, chain config.ChainConfig, prices map[string]float64) float64 {
	total := 0.0
	for _, acc := range accounts {
		total += accountValue(acc, chain, prices)
	}
	return total
}

// sortedTokens lists acc's token balances by symbol, then address.
func sortedTokens(acc watcher.AccountView) []models.TokenAmount {
	out := make([]models.TokenAmount, 0, len(acc.Tokens))
	for _, amt := range acc.Tokens {
		out = append(out, amt)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Token.Symbol != out[j].Token.Symbol {
			return out[i].Token.Symbol < out[j].Token.Symbol
		}
		return out[i].Token.Address < out[j].Token.Address
	})
	return out
}

func appendPricePoint(history []models.PricePoint, p models.PricePoint) []models.PricePoint {
	history = append(history, p)
	if len(history) > maxPricePoints {
		history = history[len(history)-maxPricePoints:]
	}
	return history
}

func (m model) priceSymbols() []string {
	out := make([]string, 0, len(m.priceHistory))
	for s := range m.priceHistory {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (m *model) applyEvent(ev watcher.Event) {
	switch ev.Type {
	case watcher.EventPriceUpdated:
		if data, ok := ev.Data.(models.PriceData); ok {
			m.prices[data.Symbol] = data.Price
			m.priceHistory[data.Symbol] = appendPricePoint(m.priceHistory[data.Symbol], models.PricePoint{Timestamp: time.Now(), Value: data.Price})
		}
	case watcher.EventBlockUpdated:
		if data, ok := ev.Data.(models.BlockData); ok {
			if m.heights == nil {
				m.heights = make(map[int64]uint64)
			}
			m.heights[data.ChainID] = data.Height
		}
	case watcher.EventBalanceUpdated:
		m.loading = false
		m.accounts = m.watcher.GetAccounts()
	case watcher.EventChainSwitched:
		m.accounts = m.watcher.GetAccounts()
		m.activeChainIdx = m.watcher.SelectedIndex()
	}
	if m.activeIdx >= len(m.accounts) {
		m.activeIdx = 0
	}
}

func (m *model) updateDetailViewport() {
	if len(m.accounts) == 0 {
		m.viewport.SetContent("No balances found.")
		return
	}
	acc := m.accounts[m.activeIdx]
	chain := m.chains[m.activeChainIdx]

	var rows []string
	if acc.Native != nil {
		rows = append(rows, m.balanceRow(chain.Symbol, utils.ToUnits(acc.Native, nativeDecimals)))
	}
	for _, amt := range sortedTokens(acc) {
		if amt.Raw == nil || amt.Raw.Sign() == 0 {
			continue
		}
		rows = append(rows, m.balanceRow(amt.Token.Symbol, amt.Float()))
	}

	content := "No balances found."
	if len(rows) > 0 {
		header := fmt.Sprintf("%s (Total: $%s)", chain.Name, m.maskString(utils.FormatFloat(accountValue(acc, chain, m.prices), 2)))
		content = lipgloss.JoinVertical(lipgloss.Left, subtleStyle.Render(header), strings.Join(rows, "\n"))
	}
	m.viewport.SetContent(content)
}

func listenForWatcher(sub watcher.Subscriber) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub
		if !ok {
			return nil
		}
		return ev
	}
}

func switchChain(w *watcher.Watcher, idx int) tea.Cmd {
	return func() tea.Msg {
		return chainSwitchedMsg{idx: idx, err: w.SwitchChain(idx)}
	}
}
