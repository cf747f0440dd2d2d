package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const ConfigFileName = ".walletsync.json"

// TokenConfig holds configuration for an ERC-20 token.
type TokenConfig struct {
	Symbol   string `json:"symbol" yaml:"symbol"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Address  string `json:"address" yaml:"address"`
	Decimals int    `json:"decimals" yaml:"decimals"`
}

// AddressConfig holds configuration for a monitored address.
type AddressConfig struct {
	Address string `json:"address" yaml:"address"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
}

// UnmarshalJSON accepts both {"address": "0x.."} and a bare "0x.." string.
func (a *AddressConfig) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		a.Address = s
		return nil
	}
	type plain AddressConfig
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = AddressConfig(p)
	return nil
}

// UnmarshalYAML accepts both a mapping and a bare scalar address.
func (a *AddressConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		a.Address = value.Value
		return nil
	}
	type plain AddressConfig
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*a = AddressConfig(p)
	return nil
}

// ChainConfig holds configuration for a specific EVM chain.
type ChainConfig struct {
	Name          string        `json:"name" yaml:"name"`
	RPCURLs       []string      `json:"rpc_urls" yaml:"rpc_urls"`
	WSURL         string        `json:"ws_url,omitempty" yaml:"ws_url,omitempty"`
	Symbol        string        `json:"symbol" yaml:"symbol"`
	ChainID       int64         `json:"chain_id,omitempty" yaml:"chain_id,omitempty"`
	ExplorerURL   string        `json:"explorer_url,omitempty" yaml:"explorer_url,omitempty"`
	WrappedNative *TokenConfig  `json:"wrapped_native,omitempty" yaml:"wrapped_native,omitempty"`
	Tokens        []TokenConfig `json:"tokens" yaml:"tokens"`
}

// PriceSourceConfig describes an HTTP endpoint returning a quote for Symbol.
// Path is a dot separated lookup into the JSON body, e.g. "ticker.latest".
type PriceSourceConfig struct {
	Symbol string `json:"symbol" yaml:"symbol"`
	URL    string `json:"url" yaml:"url"`
	Path   string `json:"path" yaml:"path"`
}

// DerivedPriceConfig prices Symbol from Base using the reserves of an AMM pair.
// The result is price(Base) * reserve1 / reserve0, with Invert swapping the reserves.
type DerivedPriceConfig struct {
	Symbol    string `json:"symbol" yaml:"symbol"`
	Base      string `json:"base" yaml:"base"`
	ChainID   int64  `json:"chain_id" yaml:"chain_id"`
	Pair      string `json:"pair" yaml:"pair"`
	Invert    bool   `json:"invert,omitempty" yaml:"invert,omitempty"`
	Decimals0 int    `json:"decimals0,omitempty" yaml:"decimals0,omitempty"`
	Decimals1 int    `json:"decimals1,omitempty" yaml:"decimals1,omitempty"`
}

// GlobalConfig holds application-wide settings.
type GlobalConfig struct {
	PricePollIntervalSeconds int     `json:"price_poll_interval_seconds" yaml:"price_poll_interval_seconds"`
	BlockPollIntervalSeconds int     `json:"block_poll_interval_seconds" yaml:"block_poll_interval_seconds"`
	BlockDebounceMillis      int     `json:"block_debounce_ms" yaml:"block_debounce_ms"`
	EvictionGraceSeconds     int     `json:"eviction_grace_seconds" yaml:"eviction_grace_seconds"`
	CleanupIntervalSeconds   int     `json:"cleanup_interval_seconds" yaml:"cleanup_interval_seconds"`
	FetchConcurrency         int     `json:"fetch_concurrency" yaml:"fetch_concurrency"`
	RPCRateLimit             float64 `json:"rpc_rate_limit" yaml:"rpc_rate_limit"`
	RequestTimeoutSeconds    int     `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	TokenDecimals            int     `json:"token_decimals" yaml:"token_decimals"`
	LogLevel                 string  `json:"log_level" yaml:"log_level"`
	LogFile                  string  `json:"log_file,omitempty" yaml:"log_file,omitempty"`
}

func (g GlobalConfig) PricePollInterval() time.Duration {
	return time.Duration(g.PricePollIntervalSeconds) * time.Second
}

func (g GlobalConfig) BlockPollInterval() time.Duration {
	return time.Duration(g.BlockPollIntervalSeconds) * time.Second
}

func (g GlobalConfig) BlockDebounce() time.Duration {
	return time.Duration(g.BlockDebounceMillis) * time.Millisecond
}

func (g GlobalConfig) EvictionGrace() time.Duration {
	return time.Duration(g.EvictionGraceSeconds) * time.Second
}

func (g GlobalConfig) CleanupInterval() time.Duration {
	return time.Duration(g.CleanupIntervalSeconds) * time.Second
}

func (g GlobalConfig) RequestTimeout() time.Duration {
	return time.Duration(g.RequestTimeoutSeconds) * time.Second
}

// Config is the full application configuration.
type Config struct {
	Addresses     []AddressConfig
	Chains        []ChainConfig
	SelectedIdx   int
	Global        GlobalConfig
	Prices        []PriceSourceConfig
	DerivedPrices []DerivedPriceConfig
}

// SelectedChain returns the active chain, or false when no chains are configured.
func (c Config) SelectedChain() (ChainConfig, bool) {
	if c.SelectedIdx < 0 || c.SelectedIdx >= len(c.Chains) {
		return ChainConfig{}, false
	}
	return c.Chains[c.SelectedIdx], true
}

func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		PricePollIntervalSeconds: 30,
		BlockPollIntervalSeconds: 15,
		BlockDebounceMillis:      100,
		EvictionGraceSeconds:     60,
		CleanupIntervalSeconds:   30,
		FetchConcurrency:         8,
		RPCRateLimit:             20,
		RequestTimeoutSeconds:    10,
		TokenDecimals:            4,
		LogLevel:                 "info",
	}
}

// rawConfig mirrors the file layout. Pointer fields distinguish "unset" from zero.
type rawConfig struct {
	Addresses                []AddressConfig      `json:"addresses" yaml:"addresses"`
	RPCURLs                  []string             `json:"rpc_urls" yaml:"rpc_urls"` // Legacy
	Chains                   []ChainConfig        `json:"chains" yaml:"chains"`
	SelectedChain            string               `json:"selected_chain" yaml:"selected_chain"`
	Prices                   []PriceSourceConfig  `json:"prices" yaml:"prices"`
	DerivedPrices            []DerivedPriceConfig `json:"derived_prices" yaml:"derived_prices"`
	PricePollIntervalSeconds *int                 `json:"price_poll_interval_seconds" yaml:"price_poll_interval_seconds"`
	BlockPollIntervalSeconds *int                 `json:"block_poll_interval_seconds" yaml:"block_poll_interval_seconds"`
	BlockDebounceMillis      *int                 `json:"block_debounce_ms" yaml:"block_debounce_ms"`
	EvictionGraceSeconds     *int                 `json:"eviction_grace_seconds" yaml:"eviction_grace_seconds"`
	CleanupIntervalSeconds   *int                 `json:"cleanup_interval_seconds" yaml:"cleanup_interval_seconds"`
	FetchConcurrency         *int                 `json:"fetch_concurrency" yaml:"fetch_concurrency"`
	RPCRateLimit             *float64             `json:"rpc_rate_limit" yaml:"rpc_rate_limit"`
	RequestTimeoutSeconds    *int                 `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	TokenDecimals            *int                 `json:"token_decimals" yaml:"token_decimals"`
	LogLevel                 *string              `json:"log_level" yaml:"log_level"`
	LogFile                  string               `json:"log_file" yaml:"log_file"`
}

// fileConfig is the on-disk shape written by SaveConfig.
type fileConfig struct {
	Addresses     []AddressConfig      `json:"addresses" yaml:"addresses"`
	Chains        []ChainConfig        `json:"chains" yaml:"chains"`
	SelectedChain string               `json:"selected_chain" yaml:"selected_chain"`
	Prices        []PriceSourceConfig  `json:"prices,omitempty" yaml:"prices,omitempty"`
	DerivedPrices []DerivedPriceConfig `json:"derived_prices,omitempty" yaml:"derived_prices,omitempty"`
	GlobalConfig  `yaml:",inline"`
}

func GetConfigPath(customPath string) (string, error) {
	if customPath != "" {
		return customPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigFileName), nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func LoadConfigFromFile(path string) (Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Config{Addresses: []AddressConfig{}, Global: DefaultGlobalConfig()}, nil
	}
	if err != nil {
		return Config{}, err
	}
	defer func() { _ = f.Close() }()
	if isYAML(path) {
		return LoadYAMLConfig(f)
	}
	return LoadConfig(f)
}

// LoadConfig reads a JSON configuration.
func LoadConfig(r io.Reader) (Config, error) {
	var raw rawConfig
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Config{}, err
	}
	return raw.resolve(), nil
}

// LoadYAMLConfig reads a YAML configuration with the same keys as the JSON form.
func LoadYAMLConfig(r io.Reader) (Config, error) {
	var raw rawConfig
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && err != io.EOF {
		return Config{}, err
	}
	return raw.resolve(), nil
}

func (raw rawConfig) resolve() Config {
	// Migration for legacy config
	if len(raw.Chains) == 0 && len(raw.RPCURLs) > 0 {
		raw.Chains = []ChainConfig{{
			Name:        "Ethereum",
			RPCURLs:     raw.RPCURLs,
			Symbol:      "ETH",
			ChainID:     1,
			ExplorerURL: "https://etherscan.io",
		}}
		raw.SelectedChain = "Ethereum"
	}

	selectedIdx := 0
	for i, c := range raw.Chains {
		if c.Name == raw.SelectedChain {
			selectedIdx = i
			break
		}
	}

	g := DefaultGlobalConfig()
	if raw.PricePollIntervalSeconds != nil && *raw.PricePollIntervalSeconds > 0 {
		g.PricePollIntervalSeconds = *raw.PricePollIntervalSeconds
	}
	if raw.BlockPollIntervalSeconds != nil && *raw.BlockPollIntervalSeconds > 0 {
		g.BlockPollIntervalSeconds = *raw.BlockPollIntervalSeconds
	}
	if raw.BlockDebounceMillis != nil && *raw.BlockDebounceMillis >= 0 {
		g.BlockDebounceMillis = *raw.BlockDebounceMillis
	}
	if raw.EvictionGraceSeconds != nil && *raw.EvictionGraceSeconds > 0 {
		g.EvictionGraceSeconds = *raw.EvictionGraceSeconds
	}
	if raw.CleanupIntervalSeconds != nil && *raw.CleanupIntervalSeconds > 0 {
		g.CleanupIntervalSeconds = *raw.CleanupIntervalSeconds
	}
	if raw.FetchConcurrency != nil && *raw.FetchConcurrency > 0 {
		g.FetchConcurrency = *raw.FetchConcurrency
	}
	if raw.RPCRateLimit != nil && *raw.RPCRateLimit > 0 {
		g.RPCRateLimit = *raw.RPCRateLimit
	}
	if raw.RequestTimeoutSeconds != nil && *raw.RequestTimeoutSeconds > 0 {
		g.RequestTimeoutSeconds = *raw.RequestTimeoutSeconds
	}
	if raw.TokenDecimals != nil {
		g.TokenDecimals = *raw.TokenDecimals
	}
	if raw.LogLevel != nil && *raw.LogLevel != "" {
		g.LogLevel = *raw.LogLevel
	}
	g.LogFile = raw.LogFile

	var addresses []AddressConfig
	for _, a := range raw.Addresses {
		if strings.TrimSpace(a.Address) != "" {
			a.Address = strings.TrimSpace(a.Address)
			addresses = append(addresses, a)
		}
	}

	return Config{
		Addresses:     addresses,
		Chains:        raw.Chains,
		SelectedIdx:   selectedIdx,
		Global:        g,
		Prices:        raw.Prices,
		DerivedPrices: raw.DerivedPrices,
	}
}

// Validate reports structural problems that make the configuration unusable.
func (c Config) Validate() []string {
	var problems []string
	if len(c.Chains) == 0 {
		problems = append(problems, "configuration must have at least one chain")
	}
	for i, ch := range c.Chains {
		if strings.TrimSpace(ch.Name) == "" {
			problems = append(problems, fmt.Sprintf("chain at index %d has no name", i))
		}
		if len(ch.RPCURLs) == 0 {
			problems = append(problems, fmt.Sprintf("chain %s has no RPC URLs", ch.Name))
		}
	}
	for i, p := range c.Prices {
		if p.Symbol == "" || p.URL == "" || p.Path == "" {
			problems = append(problems, fmt.Sprintf("price source at index %d needs symbol, url and path", i))
		}
	}
	for i, d := range c.DerivedPrices {
		if d.Symbol == "" || d.Base == "" || d.Pair == "" {
			problems = append(problems, fmt.Sprintf("derived price at index %d needs symbol, base and pair", i))
		}
		if d.Symbol == d.Base {
			problems = append(problems, fmt.Sprintf("derived price %s cannot be based on itself", d.Symbol))
		}
	}
	return problems
}

func SaveConfig(cfg Config, path string) error {
	if problems := cfg.Validate(); len(problems) > 0 {
		return fmt.Errorf("validation failed: %s", problems[0])
	}

	selectedName := ""
	if ch, ok := cfg.SelectedChain(); ok {
		selectedName = ch.Name
	}
	out := fileConfig{
		Addresses:     cfg.Addresses,
		Chains:        cfg.Chains,
		SelectedChain: selectedName,
		Prices:        cfg.Prices,
		DerivedPrices: cfg.DerivedPrices,
		GlobalConfig:  cfg.Global,
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(out)
	} else {
		data, err = json.MarshalIndent(out, "", "  ")
	}
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return fmt.Errorf("validation failed: encoded configuration is empty")
	}

	// Create a backup of the existing file
	if _, err := os.Stat(path); err == nil {
		backupPath := fmt.Sprintf("%s.%s.bak", path, time.Now().Format("20060102-150405"))
		input, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read existing config for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, input, 0644); err != nil {
			return fmt.Errorf("failed to write backup config: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func RestoreLastBackup(configPath string) error {
	matches, err := filepath.Glob(configPath + ".*.bak")
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("no backup files found")
	}
	sort.Strings(matches)
	lastBackup := matches[len(matches)-1]

	data, err := os.ReadFile(lastBackup)
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0644)
}
