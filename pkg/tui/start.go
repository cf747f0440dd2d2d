package tui

import (
	"fmt"

	"walletsync/pkg/config"
	"walletsync/pkg/watcher"

	tea "github.com/charmbracelet/bubbletea"
)

// Start runs the monitor until the user quits. The watcher must already be
// started.
func Start(w *watcher.Watcher, globalCfg config.GlobalConfig, version string) error {
	Version = version
	p := tea.NewProgram(
		initialModel(w, globalCfg),
		tea.WithAltScreen(),
	)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}
