// Package main provides htlcctl, the operator tool for HTLC swap scripts:
// build and audit redeem scripts, fund, claim and refund swap outputs, and
// track swaps in the local store.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/klingon-exchange/klingon-htlc/internal/backend"
	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/internal/config"
	"github.com/klingon-exchange/klingon-htlc/internal/storage"
	"github.com/klingon-exchange/klingon-htlc/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

// command is a single htlcctl subcommand.
type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"build":     {"Build a redeem script and its addresses", runBuild},
	"audit":     {"Decompile and check a counterparty redeem script", runAudit},
	"gensecret": {"Generate a swap secret and its payment hashes", runGenSecret},
	"fund":      {"Fund a swap output from a P2WPKH key", runFund},
	"claim":     {"Claim a swap output with the secret", runClaim},
	"refund":    {"Refund a swap output after the timelock", runRefund},
	"secret":    {"Recover the secret from an on-chain claim", runSecret},
	"list":      {"List tracked swaps", runList},
	"wallet":    {"Create, import or inspect the wallet seed", runWallet},
	"watch":     {"Follow tracked swaps on chain", runWatch},
	"evm":       {"Sign an EVM HTLC contract call", runEVM},
}

func main() {
	global := flag.NewFlagSet("htlcctl", flag.ExitOnError)
	var (
		dataDir     = global.String("data-dir", "~/.klingon-htlc", "Data directory")
		configFile  = global.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		network     = global.String("network", "", "Network (mainnet, testnet, regtest), overrides config")
		logLevel    = global.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = global.Bool("version", false, "Show version and exit")
	)
	global.Usage = func() { usage(global) }
	global.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("htlcctl %s (commit: %s)\n", version, commit)
		return
	}

	args := global.Args()
	if len(args) == 0 {
		usage(global)
		os.Exit(2)
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage(global)
		os.Exit(2)
	}

	path := *configFile
	if path == "" {
		path = config.ConfigPath(*dataDir)
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// CLI flags take precedence over the config file
	if *network != "" {
		n, err := chain.ParseNetwork(*network)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(2)
		}
		cfg.Network = n
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *configFile == "" {
		cfg.Storage.DataDir = *dataDir
	}

	log, closeLog, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	logging.SetDefault(log)

	a, err := newApp(cfg, os.Stdout, log)
	if err != nil {
		log.Fatal("Failed to initialize", "error", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, a, args[1:]); err != nil {
		log.Error("Command failed", "command", args[0], "error", err)
		a.Close()
		os.Exit(1)
	}
}

func usage(fs *flag.FlagSet) {
	out := fs.Output()
	fmt.Fprintf(out, "Usage: htlcctl [flags] <command> [command flags]\n\nCommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-10s %s\n", name, commands[name].summary)
	}
	fmt.Fprintf(out, "\nFlags:\n")
	fs.PrintDefaults()
}

// newLogger builds the logger described by the logging section. The returned
// func closes the log file, if any.
func newLogger(cfg *config.Config) (*logging.Logger, func(), error) {
	lc := cfg.LoggerConfig()
	lc.TimeFormat = time.TimeOnly
	closeFn := func() {}
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, err
		}
		lc.Output = f
		closeFn = func() { f.Close() }
	}
	return logging.New(lc), closeFn, nil
}

// app carries the state shared by subcommands. The store and backend
// registries are opened on first use.
type app struct {
	cfg    *config.Config
	chains chain.Table
	out    io.Writer
	log    *logging.Logger

	store      *storage.Storage
	registries map[chain.Network]*backend.Registry
}

func newApp(cfg *config.Config, out io.Writer, log *logging.Logger) (*app, error) {
	chains, err := cfg.ChainTable()
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:        cfg,
		chains:     chains,
		out:        out,
		log:        log,
		registries: make(map[chain.Network]*backend.Registry),
	}, nil
}

// Close releases the store.
func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
}

func (a *app) openStore() (*storage.Storage, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := storage.New(&storage.Config{
		DataDir: a.cfg.DataDir(),
		Logger:  a.log,
	})
	if err != nil {
		return nil, err
	}
	a.store = store
	return store, nil
}

// backend returns the configured blockchain API for symbol on network.
func (a *app) backend(symbol string, network chain.Network) (backend.Backend, error) {
	reg, ok := a.registries[network]
	if !ok {
		var err error
		reg, err = backend.NewRegistry(a.cfg.BackendConfigs(), network)
		if err != nil {
			return nil, err
		}
		a.registries[network] = reg
		a.log.Debug("Backend registry initialized", "network", network, "backends", reg.List())
	}
	b, ok := reg.Get(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", backend.ErrNoBackendURL, symbol, network)
	}
	return b, nil
}

// printf writes to the command output.
func (a *app) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.out, format, args...)
}
