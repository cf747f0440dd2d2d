package main

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"walletsync/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeFetcher(ids map[string]int64) chainIDFetcher {
	return func(ctx context.Context, url string) (*big.Int, error) {
		id, ok := ids[url]
		if !ok {
			return nil, errors.New("connection refused")
		}
		return big.NewInt(id), nil
	}
}

func testConfig() config.Config {
	return config.Config{
		Addresses: []config.AddressConfig{{Address: "0x2222222222222222222222222222222222222222"}},
		Chains: []config.ChainConfig{
			{Name: "Main", Symbol: "ETH", ChainID: 1, RPCURLs: []string{"http://a", "http://b"}},
			{Name: "Side", Symbol: "CXS", RPCURLs: []string{"http://c"}},
		},
		Global: config.DefaultGlobalConfig(),
	}
}

func TestRunConfigTest_InvalidStructure(t *testing.T) {
	cfg := config.Config{Global: config.DefaultGlobalConfig()}
	var out bytes.Buffer

	report := runConfigTest(context.Background(), &cfg, "cfg.json", testOptions{}, fakeFetcher(nil), &out)
	assert.False(t, report.ValidStructure)
	assert.NotEmpty(t, report.StructureErrors)
	assert.Contains(t, out.String(), "at least one chain")
}

func TestRunConfigTest_VerifiesAndAdoptsChainIDs(t *testing.T) {
	cfg := testConfig()
	var out bytes.Buffer

	report := runConfigTest(context.Background(), &cfg, "cfg.json", testOptions{}, fakeFetcher(map[string]int64{
		"http://a": 1,
		"http://c": 7,
	}), &out)

	require.True(t, report.ValidStructure)
	assert.Equal(t, 1, report.AddressCount)
	assert.Equal(t, 2, report.ChainCount)
	require.Len(t, report.Chains, 2)

	primary := report.Chains[0]
	require.Len(t, primary.RPCs, 2)
	assert.Equal(t, "ok", primary.RPCs[0].Status)
	assert.Equal(t, "error", primary.RPCs[1].Status)
	assert.False(t, primary.ChainIDUpdated)

	side := report.Chains[1]
	assert.True(t, side.ChainIDUpdated)
	assert.Equal(t, int64(7), side.ObservedChainID)
	assert.Equal(t, int64(7), cfg.Chains[1].ChainID)
	assert.True(t, report.ConfigUpdated)

	assert.Contains(t, out.String(), "Verified")
	assert.Contains(t, out.String(), "UPDATED CONFIG")
}

func TestRunConfigTest_MismatchAndInconsistency(t *testing.T) {
	cfg := testConfig()
	cfg.Chains = cfg.Chains[:1]
	var out bytes.Buffer

	report := runConfigTest(context.Background(), &cfg, "cfg.json", testOptions{dryRun: true}, fakeFetcher(map[string]int64{
		"http://a": 1,
		"http://b": 5,
	}), &out)

	require.Len(t, report.Chains, 1)
	assert.True(t, report.Chains[0].Inconsistent)
	assert.Equal(t, []string{"Main"}, report.InconsistentChains)
	assert.Equal(t, "Mismatch! Expected 1", report.Chains[0].RPCs[1].Error)
	assert.False(t, report.ConfigUpdated)
	assert.True(t, report.DryRun)
	assert.Contains(t, out.String(), "Inconsistent RPCs detected")
}

func TestRunConfigTest_JSONIsQuiet(t *testing.T) {
	cfg := testConfig()
	var out bytes.Buffer

	report := runConfigTest(context.Background(), &cfg, "cfg.json", testOptions{json: true}, fakeFetcher(nil), &out)
	assert.Empty(t, out.String())

	writeReport(&out, report)
	assert.Contains(t, out.String(), `"config_path"`)
	assert.Contains(t, out.String(), "cfg.json")
	assert.Contains(t, out.String(), "\n  \"")
}
