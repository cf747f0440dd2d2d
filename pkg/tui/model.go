package tui

import (
	"time"

	"walletsync/pkg/config"
	"walletsync/pkg/models"
	"walletsync/pkg/watcher"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Version is set by Start()
var Version = "dev"

const maxPricePoints = 2880

// --- Messages ---

type clearStatusMsg struct{}
type uiTickMsg time.Time
type chainSwitchedMsg struct {
	idx int
	err error
}

// --- Model ---

type model struct {
	watcher        *watcher.Watcher
	sub            watcher.Subscriber
	chains         []config.ChainConfig
	activeChainIdx int
	accounts       []watcher.AccountView
	activeIdx      int
	prices         map[string]float64 // Key: symbol
	priceHistory   map[string][]models.PricePoint
	graphSymbolIdx int
	heights        map[int64]uint64
	width          int
	height         int
	loading        bool
	lastUpdate     time.Time
	spinner        spinner.Model
	statusMessage  string
	statusErr      bool
	showHelp       bool
	showDetail     bool
	showPriceGraph bool
	privacyMode    bool
	viewport       viewport.Model
	config         config.GlobalConfig
}

func initialModel(w *watcher.Watcher, globalCfg config.GlobalConfig) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		watcher:        w,
		sub:            w.Subscribe(),
		chains:         w.Chains(),
		activeChainIdx: w.SelectedIndex(),
		accounts:       w.GetAccounts(),
		prices:         w.GetPrices(),
		priceHistory:   make(map[string][]models.PricePoint),
		heights:        w.GetHeights(),
		loading:        true,
		spinner:        s,
		viewport:       viewport.New(0, 0),
		config:         globalCfg,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		listenForWatcher(m.sub),
		m.spinner.Tick,
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return uiTickMsg(t) }),
	)
}
