package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"walletsync/pkg/config"
	"walletsync/pkg/logging"
	"walletsync/pkg/metrics"
	"walletsync/pkg/models"
	"walletsync/pkg/rpc"
	"walletsync/pkg/server"
	"walletsync/pkg/tui"
	"walletsync/pkg/watcher"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Version should be set during build
var Version = "dev"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type chainIDFetcher func(ctx context.Context, url string) (*big.Int, error)

type testOptions struct {
	json   bool
	dryRun bool
}

func main() {
	testFlag := flag.Bool("t", false, "Test configuration and exit")
	testLongFlag := flag.Bool("test", false, "Test configuration and exit")
	jsonFlag := flag.Bool("json", false, "Output test results as JSON")
	dryRunFlag := flag.Bool("dry-run", false, "Perform a trial run with no changes made")
	configFlag := flag.String("config", "", "Path to configuration file")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	serverFlag := flag.Bool("server", false, "Run in headless server mode")
	portFlag := flag.Int("port", 8080, "Port for API server")
	logFileFlag := flag.String("log-file", "", "Write logs to this file instead of stderr")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("walletsync version %s\n", Version)
		os.Exit(0)
	}

	cfgInput := *configFlag
	if cfgInput == "" && len(flag.Args()) > 0 {
		cfgInput = flag.Args()[0]
	}
	path, err := config.GetConfigPath(cfgInput)
	if err != nil {
		fmt.Printf("Error determining config path: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfigFromFile(path)
	if err != nil {
		fmt.Printf("Error loading config from %s: %v\n", path, err)
		os.Exit(1)
	}

	if *testFlag || *testLongFlag {
		opts := testOptions{json: *jsonFlag, dryRun: *dryRunFlag}
		report := runConfigTest(context.Background(), &cfg, path, opts, rpc.FetchChainID, os.Stdout)
		if report.ConfigUpdated && !opts.dryRun {
			if err := config.SaveConfig(cfg, path); err != nil {
				report.SaveError = err.Error()
				if !opts.json {
					fmt.Printf("Failed to save config: %v\n", err)
				}
			} else if !opts.json {
				fmt.Println("Configuration saved successfully.")
			}
		}
		if opts.json {
			writeReport(os.Stdout, report)
		}
		if !report.ValidStructure {
			os.Exit(1)
		}
		os.Exit(0)
	}

	if problems := cfg.Validate(); len(problems) > 0 {
		fmt.Printf("Error: invalid configuration at %s:\n", path)
		for _, p := range problems {
			fmt.Printf(" - %s\n", p)
		}
		os.Exit(1)
	}

	// The TUI owns the terminal, so logs go to a file unless running headless.
	logFile := *logFileFlag
	if logFile == "" {
		logFile = cfg.Global.LogFile
	}
	if logFile == "" && !*serverFlag {
		logFile = path + ".log"
	}
	logger, err := logging.New(cfg.Global.LogLevel, logFile)
	if err != nil {
		fmt.Printf("Error setting up logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	metrics.MustRegisterMetrics(prometheus.DefaultRegisterer)

	if err := run(cfg, *serverFlag, *portFlag, logger); err != nil {
		logger.Error("Exiting with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, headless bool, port int, logger *zap.Logger) error {
	w, err := watcher.NewWatcher(cfg, logger)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	w.Start(ctx)
	defer w.Stop()

	srv := server.NewServer(w, logger)
	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start(port)
	}()

	if headless {
		logger.Info("Running in server mode", zap.Int("port", port))
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			return nil
		case err := <-srvErr:
			return fmt.Errorf("server: %w", err)
		}
	}

	return tui.Start(w, cfg.Global, Version)
}

// runConfigTest checks the structure of cfg and probes every RPC URL for its
// chain ID. Chains without a configured ID adopt the first observed one, which
// marks the report as ConfigUpdated; saving is left to the caller.
func runConfigTest(ctx context.Context, cfg *config.Config, path string, opts testOptions, fetch chainIDFetcher, out io.Writer) models.TestReport {
	say := func(format string, args ...interface{}) {
		if !opts.json {
			fmt.Fprintf(out, format, args...)
		}
	}

	report := models.TestReport{
		ConfigPath:     path,
		ValidStructure: true,
		DryRun:         opts.dryRun,
	}
	say("Testing configuration at: %s\n", path)

	if problems := cfg.Validate(); len(problems) > 0 {
		report.ValidStructure = false
		report.StructureErrors = problems
		for _, p := range problems {
			say("Error: %s\n", p)
		}
		return report
	}

	report.AddressCount = len(cfg.Addresses)
	report.ChainCount = len(cfg.Chains)
	say("Found %d addresses and %d chains.\n", len(cfg.Addresses), len(cfg.Chains))

	for i := range cfg.Chains {
		chain := &cfg.Chains[i]
		cResult := models.ChainResult{
			Name:          chain.Name,
			Symbol:        chain.Symbol,
			ConfigChainID: chain.ChainID,
		}
		say("Testing Chain: %s (%s)\n", chain.Name, chain.Symbol)

		var observed *big.Int
		for _, url := range chain.RPCURLs {
			rResult := models.RPCResult{URL: url}
			say("  RPC: %s ... ", url)

			callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			id, err := fetch(callCtx, url)
			cancel()
			if err != nil {
				rResult.Status = "error"
				rResult.Error = err.Error()
				say("Failed: %v\n", err)
				cResult.RPCs = append(cResult.RPCs, rResult)
				continue
			}

			rResult.Status = "ok"
			rResult.ChainID = id.Int64()
			say("OK (ChainID: %s)", id.String())

			if observed == nil {
				observed = id
				cResult.ObservedChainID = id.Int64()
			} else if observed.Cmp(id) != 0 {
				say(" - WARNING: ChainID mismatch with previous RPC (%s)", observed.String())
				cResult.Inconsistent = true
			}

			switch {
			case chain.ChainID == 0:
				chain.ChainID = id.Int64()
				cResult.ChainIDUpdated = true
				report.ConfigUpdated = true
				say(" - UPDATED CONFIG")
				if opts.dryRun {
					say(" (DRY RUN)")
				}
			case id.Cmp(big.NewInt(chain.ChainID)) != 0:
				rResult.Error = fmt.Sprintf("Mismatch! Expected %d", chain.ChainID)
				say(" - MISMATCH! Expected %d", chain.ChainID)
			default:
				say(" - Verified")
			}
			say("\n")
			cResult.RPCs = append(cResult.RPCs, rResult)
		}

		if cResult.Inconsistent {
			report.InconsistentChains = append(report.InconsistentChains, chain.Name)
		}
		report.Chains = append(report.Chains, cResult)
	}

	if len(report.InconsistentChains) > 0 {
		say("\nWARNING: Inconsistent RPCs detected!\n")
		say("The following chains have RPCs returning conflicting Chain IDs:\n")
		for _, name := range report.InconsistentChains {
			say(" - %s\n", name)
		}
	}

	if report.ConfigUpdated {
		say("\nUpdating configuration with fetched Chain IDs...\n")
		if opts.dryRun {
			say("Dry run enabled: Configuration NOT saved.\n")
		}
	}
	return report
}

func writeReport(out io.Writer, report models.TestReport) {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
}
