package tui

import (
	"fmt"
	"math/big"
	"os/exec"
	"runtime"
	"strings"

	"walletsync/pkg/utils"
)

func (m model) displayValue(f *big.Float, decimals int) string {
	if m.privacyMode {
		return "****"
	}
	return utils.FormatBigFloat(f, decimals)
}

func (m model) maskString(s string) string {
	if m.privacyMode {
		return "****"
	}
	return s
}

func (m model) maskAddress(addr string) string {
	if m.privacyMode {
		return "0x**...**"
	}
	return addr
}

func (m model) balanceRow(symbol string, amount *big.Float) string {
	row := fmt.Sprintf("  %-8s %12s", symbol, m.displayValue(amount, m.config.TokenDecimals))
	if price := m.prices[symbol]; price > 0 {
		usd := new(big.Float).Mul(amount, big.NewFloat(price))
		row += fmt.Sprintf(" ($%s)", m.displayValue(usd, 2))
	}
	return row
}

func explorerAddressURL(explorer, addr string) string {
	if explorer == "" {
		return ""
	}
	return fmt.Sprintf("%s/address/%s", strings.TrimRight(explorer, "/"), addr)
}

// openBrowser opens the specified URL in the default browser.
func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start"}
	case "darwin":
		cmd = "open"
	default: // "linux", "freebsd", "openbsd", "netbsd"
		cmd = "xdg-open"
	}
	args = append(args, url)
	return exec.Command(cmd, args...).Start()
}
