package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"walletsync/pkg/utils"
)

func (m model) View() string {
	if m.showHelp {
		return m.viewHelp()
	}

	if m.showPriceGraph {
		return m.viewPriceGraph()
	}

	if m.showDetail {
		return m.viewDetail()
	}

	if len(m.chains) == 0 {
		return "No chains configured."
	}
	if len(m.accounts) == 0 {
		return "No addresses to monitor."
	}

	activeAcc := m.accounts[m.activeIdx]
	activeChain := m.chains[m.activeChainIdx]

	// Top Bar Data
	priceDisplay := fmt.Sprintf("%s: N/A", activeChain.Symbol)
	if price := m.prices[activeChain.Symbol]; price > 0 {
		priceDisplay = fmt.Sprintf("%s: $%s", activeChain.Symbol, utils.FormatFloat(price, 4))
	}
	blockDisplay := "Block: N/A"
	if h, ok := m.heights[activeChain.ChainID]; ok {
		blockDisplay = fmt.Sprintf("Block: %s", utils.AddCommas(fmt.Sprintf("%d", h)))
	}
	spinnerView := ""
	if m.loading {
		spinnerView = m.spinner.View() + " "
	}
	lastUpdStr := fmt.Sprintf("%sLast updated: %s", spinnerView, m.lastUpdate.Format("15:04:05"))

	var content string
	if m.loading && activeAcc.Native == nil {
		content = fmt.Sprintf("Connecting to %s...", activeChain.Name)
	} else {
		balStr := fmt.Sprintf("0.00 %s", activeChain.Symbol)
		if activeAcc.Native != nil {
			balStr = fmt.Sprintf("%s %s", m.maskString(utils.FormatUnits(activeAcc.Native, nativeDecimals, m.config.TokenDecimals)), activeChain.Symbol)
			if price := m.prices[activeChain.Symbol]; price > 0 {
				usd := utils.UnitsToFloat64(activeAcc.Native, nativeDecimals) * price
				balStr += fmt.Sprintf(" ($%s)", m.maskString(utils.FormatFloat(usd, 2)))
			}
		}

		// Tokens; the wrapped native token is listed under the native symbol.
		var tokenStrs []string
		for _, amt := range sortedTokens(activeAcc) {
			tStr := fmt.Sprintf("%s %s", m.displayValue(amt.Float(), m.config.TokenDecimals), amt.Token.Symbol)
			if price := m.prices[amt.Token.Symbol]; price > 0 {
				usd := utils.BigFloatToFloat64(amt.Float()) * price
				tStr += fmt.Sprintf(" ($%s)", m.maskString(utils.FormatFloat(usd, 2)))
			}
			tokenStrs = append(tokenStrs, tStr)
		}
		if len(tokenStrs) > 0 {
			sep := "\n"
			if m.width >= 80 {
				sep = " • "
			}
			balStr += "\n" + strings.Join(tokenStrs, sep)
		}

		title := fmt.Sprintf("Wallet Sync - %s", activeChain.Name)
		if len(m.accounts) > 1 {
			title = fmt.Sprintf("Wallet Sync - %s (%d/%d)", activeChain.Name, m.activeIdx+1, len(m.accounts))
		}
		header := titleStyle.Render(title)
		addrStr := activeAcc.Address
		if m.privacyMode {
			addrStr = m.maskAddress(addrStr)
		} else if activeAcc.Name != "" {
			addrStr = utils.ShortAddress(activeAcc.Address)
		}
		if activeAcc.Name != "" {
			addrStr = fmt.Sprintf("%s (%s)", addrStr, activeAcc.Name)
		}
		addr := fmt.Sprintf("Address: %s", addrStr)
		rpcStr := "No RPC"
		if len(activeChain.RPCURLs) > 0 {
			rpcStr = activeChain.RPCURLs[0]
		}
		rpc := subtleStyle.Render(fmt.Sprintf("RPC: %s", utils.Ellipsize(rpcStr, 30)))

		targetWidth := m.width - 4
		if targetWidth < 0 {
			targetWidth = 0
		}
		contentWidth := targetWidth - 4
		if contentWidth < 0 {
			contentWidth = 0
		}

		balanceDisplay := balStyle.
			Width(contentWidth).
			Align(lipgloss.Center).
			Render(balStr)

		total := portfolioValue(m.accounts, activeChain, m.prices)
		totalStr := subtleStyle.Render(fmt.Sprintf("Portfolio: $%s", m.maskString(utils.FormatFloat(total, 2))))

		uiBlock := lipgloss.JoinVertical(lipgloss.Center,
			header,
			addr,
			rpc,
			"\n",
			balanceDisplay,
			"\n",
			totalStr,
		)
		content = boxStyle.Width(targetWidth).Align(lipgloss.Center).Render(uiBlock)
	}

	// Footer
	line1 := "r:ref • g:graph • P:prv • c:cpy • o:explorer • ent:dt • ?:hlp • q:quit"
	if len(m.accounts) > 1 {
		line1 = "Tab:cycle • " + line1
	}
	line2 := fmt.Sprintf("v%s", Version)
	if len(m.chains) > 1 {
		line2 = "n/p:chain • " + line2
	}

	var footer string
	if m.width > 0 {
		l1 := subtleStyle.Width(m.width).Align(lipgloss.Center).Render(line1)
		l2 := subtleStyle.Width(m.width).Align(lipgloss.Center).Render(line2)
		footer = lipgloss.JoinVertical(lipgloss.Center, l1, l2)
	} else {
		footer = subtleStyle.Render(line1 + "\n" + line2)
	}

	if m.statusMessage != "" {
		status := infoStyle.Render(m.statusMessage)
		if m.statusErr {
			status = warnStyle.Render(m.statusMessage)
		}
		footer = lipgloss.JoinVertical(lipgloss.Center, status, footer)
	}

	// Construct Top Bar
	leftBlock := lipgloss.JoinHorizontal(lipgloss.Top,
		priceStyle.Render(fmt.Sprintf(" %s", priceDisplay)),
		subtleStyle.Render(" • "),
		infoStyle.Render(blockDisplay),
	)
	privacyIndicator := ""
	if m.privacyMode {
		privacyIndicator = "🔒 "
	}
	rightBlock := subtleStyle.Render(fmt.Sprintf("%s%s ", privacyIndicator, lastUpdStr))
	gap := m.width - lipgloss.Width(leftBlock) - lipgloss.Width(rightBlock)
	if gap < 0 {
		gap = 0
	}
	topBar := lipgloss.JoinHorizontal(lipgloss.Top, leftBlock, strings.Repeat(" ", gap), rightBlock)

	h := m.height - 1
	if h < 0 {
		h = 0
	}

	// Center the content on the screen
	return lipgloss.JoinVertical(lipgloss.Left,
		topBar,
		lipgloss.Place(
			m.width,
			h,
			lipgloss.Center,
			lipgloss.Center,
			lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer),
		),
	)
}

func (m model) viewHelp() string {
	title := "Main View"
	shortcuts := []string{
		"r: Refresh Balances",
		"g: Price Graph",
		"P: Toggle Privacy",
		"c: Copy Address",
		"o: Open in Explorer",
		"enter: Show Details",
		"Tab/l/Right: Next Account",
		"S-Tab/h/Left: Prev Account",
		"n: Next Chain",
		"p: Previous Chain",
		"q: Quit",
		"?: Toggle Help",
	}
	if m.showPriceGraph {
		title = "Price Graph"
		shortcuts = []string{"Tab/l/Right: Next Symbol", "S-Tab/h/Left: Prev Symbol", "g/q/esc: Back"}
	} else if m.showDetail {
		title = "Detail View"
		shortcuts = []string{"↑/k: Scroll Up", "↓/j: Scroll Down", "enter/esc/q: Close"}
	}

	header := titleStyle.Render(fmt.Sprintf("Help: %s", title))
	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, "\n", strings.Join(shortcuts, "\n")))
	footer := subtleStyle.Render("Press '?' or 'esc' to close")

	return lipgloss.Place(
		m.width,
		m.height,
		lipgloss.Center,
		lipgloss.Center,
		lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer),
	)
}

func (m model) viewPriceGraph() string {
	symbols := m.priceSymbols()
	if len(symbols) == 0 {
		content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center, titleStyle.Render("Price History"), "\n", "Not enough data to draw graph."))
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, content)
	}
	symbol := symbols[m.graphSymbolIdx%len(symbols)]
	history := m.priceHistory[symbol]

	targetBoxWidth := m.width - 4
	if targetBoxWidth < 0 {
		targetBoxWidth = 0
	}

	values := make([]float64, 0, len(history))
	low, high := history[0].Value, history[0].Value
	for _, p := range history {
		values = append(values, p.Value)
		if p.Value < low {
			low = p.Value
		}
		if p.Value > high {
			high = p.Value
		}
	}
	header := titleStyle.Render(fmt.Sprintf("Price History: %s", symbol))
	stats := subtleStyle.Render(fmt.Sprintf("Low: %s • Last: %s • High: %s",
		utils.FormatFloat(low, 4), utils.FormatFloat(values[len(values)-1], 4), utils.FormatFloat(high, 4)))

	graphWidth := targetBoxWidth - 14
	if graphWidth < 10 {
		graphWidth = 10
	}
	graphHeight := m.height - 14
	if graphHeight < 1 {
		graphHeight = 1
	}
	graph := asciigraph.Plot(values,
		asciigraph.Height(graphHeight),
		asciigraph.Width(graphWidth),
		asciigraph.Caption(fmt.Sprintf("%s (USD)", symbol)),
	)

	content := boxStyle.Width(targetBoxWidth).Align(lipgloss.Center).Render(lipgloss.JoinVertical(lipgloss.Center, header, "\n", stats, "\n", graph))
	footer := subtleStyle.Render("g/q/esc: back • </>: change symbol")

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer))
}

func (m model) viewDetail() string {
	activeAcc := m.accounts[m.activeIdx]
	header := titleStyle.Render(fmt.Sprintf("Details: %s", m.maskAddress(activeAcc.Address)))
	if activeAcc.Name != "" {
		header = titleStyle.Render(fmt.Sprintf("Details: %s (%s)", activeAcc.Name, m.maskAddress(activeAcc.Address)))
	}

	footer := subtleStyle.Render("Press 'enter' or 'esc' to return")
	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center, header, "\n", m.viewport.View()))

	return lipgloss.Place(
		m.width,
		m.height,
		lipgloss.Center,
		lipgloss.Center,
		lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer),
	)
}
