package tui

import "github.com/charmbracelet/lipgloss"

var (
	accent = lipgloss.Color("#7D56F4")
	green  = lipgloss.Color("#04B575")

	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FAFAFA")).Background(accent).Padding(0, 1).Bold(true)
	infoStyle   = lipgloss.NewStyle().Foreground(green)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Bold(true)
	priceStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F2C94C"))
	balStyle    = lipgloss.NewStyle().Foreground(green).Bold(true)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#874BFD")).Padding(0, 1)
)
