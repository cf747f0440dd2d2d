package tui

import (
	"fmt"
	"time"

	"walletsync/pkg/watcher"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
)

func clearStatusAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return clearStatusMsg{}
	})
}

func (m *model) setStatus(msg string, isErr bool) {
	m.statusMessage = msg
	m.statusErr = isErr
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width - 8
		m.viewport.Height = msg.Height - 10
		if m.showDetail {
			m.updateDetailViewport()
		}

	case watcher.Event:
		cmds = append(cmds, listenForWatcher(m.sub))
		m.applyEvent(msg)
		m.lastUpdate = time.Now()
		if m.showDetail {
			m.updateDetailViewport()
		}

	case chainSwitchedMsg:
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("Chain switch failed: %v", msg.err), true)
		} else {
			m.activeChainIdx = msg.idx
			m.accounts = m.watcher.GetAccounts()
			m.loading = true
			m.setStatus(fmt.Sprintf("Switched to %s", m.chains[msg.idx].Name), false)
		}
		cmds = append(cmds, clearStatusAfter(2*time.Second))

	case tea.KeyMsg:
		if msg.String() == "?" {
			m.showHelp = !m.showHelp
			return m, nil
		}
		if m.showHelp {
			if msg.String() == "q" || msg.String() == "esc" {
				m.showHelp = false
			}
			return m, nil
		}

		if m.showDetail {
			switch msg.String() {
			case "q", "esc", "enter":
				m.showDetail = false
				return m, nil
			}
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

		if m.showPriceGraph {
			switch msg.String() {
			case "q", "esc", "g":
				m.showPriceGraph = false
			case "right", "l", "tab":
				if n := len(m.priceSymbols()); n > 0 {
					m.graphSymbolIdx = (m.graphSymbolIdx + 1) % n
				}
			case "left", "h", "shift+tab":
				if n := len(m.priceSymbols()); n > 0 {
					m.graphSymbolIdx = (m.graphSymbolIdx - 1 + n) % n
				}
			}
			return m, nil
		}

		switch msg.String() {
		case "q", "ctrl+c":
			m.watcher.Unsubscribe(m.sub)
			return m, tea.Quit

		case "P":
			m.privacyMode = !m.privacyMode

		case "g":
			m.showPriceGraph = true

		case "r":
			m.watcher.Refresh()
			m.setStatus("Refreshing balances...", false)
			cmds = append(cmds, clearStatusAfter(2*time.Second))

		case "enter":
			if len(m.accounts) > 0 {
				m.showDetail = true
				m.updateDetailViewport()
				m.viewport.YOffset = 0
			}

		case "c":
			if len(m.accounts) > 0 {
				err := clipboard.WriteAll(m.accounts[m.activeIdx].Address)
				switch {
				case err != nil:
					m.setStatus("Failed to copy to clipboard", true)
				case m.privacyMode:
					m.setStatus("Full address copied (Privacy Mode active)!", false)
				default:
					m.setStatus("Full address copied to clipboard!", false)
				}
				cmds = append(cmds, clearStatusAfter(2*time.Second))
			}

		case "o":
			if len(m.accounts) > 0 {
				url := explorerAddressURL(m.chains[m.activeChainIdx].ExplorerURL, m.accounts[m.activeIdx].Address)
				switch {
				case url == "":
					m.setStatus("Explorer URL not configured for this chain", true)
				case openBrowser(url) != nil:
					m.setStatus("Failed to open browser", true)
				default:
					m.setStatus("Opened in browser", false)
				}
				cmds = append(cmds, clearStatusAfter(2*time.Second))
			}

		case "n":
			if len(m.chains) > 1 {
				cmds = append(cmds, switchChain(m.watcher, (m.activeChainIdx+1)%len(m.chains)))
			}
		case "p":
			if len(m.chains) > 1 {
				cmds = append(cmds, switchChain(m.watcher, (m.activeChainIdx-1+len(m.chains))%len(m.chains)))
			}

		case "tab", "right", "l":
			if len(m.accounts) > 0 {
				m.activeIdx = (m.activeIdx + 1) % len(m.accounts)
			}
		case "shift+tab", "left", "h":
			if len(m.accounts) > 0 {
				m.activeIdx = (m.activeIdx - 1 + len(m.accounts)) % len(m.accounts)
			}
		}

	case uiTickMsg:
		cmds = append(cmds, tea.Tick(time.Second, func(t time.Time) tea.Msg { return uiTickMsg(t) }))

	case clearStatusMsg:
		m.setStatus("", false)
	}

	if m.loading {
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}
