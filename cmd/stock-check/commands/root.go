package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/maltedev/queenbooks-stock/internal/browser"
	"github.com/maltedev/queenbooks-stock/internal/config"
	"github.com/maltedev/queenbooks-stock/internal/logger"
	"github.com/maltedev/queenbooks-stock/internal/sessionstore"
	"github.com/maltedev/queenbooks-stock/internal/stock"
)

var (
	logLevel  string
	logFormat string
	headful   bool
)

var rootCmd = &cobra.Command{
	Use:           "stock-check",
	Short:         "stock-check probes QueenBooks product stock from the command line.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error.")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log format: console, text or json.")
	rootCmd.PersistentFlags().BoolVar(&headful, "headful", false, "Show the browser window.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env bundles what every subcommand needs.
type env struct {
	cfg     *config.Config
	log     *slog.Logger
	store   sessionstore.Store
	checker *stock.Checker
}

func setup(requireCredentials bool) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewWithWriter(os.Stderr, logLevel, logFormat)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)

	if requireCredentials {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	// The CLI never talks to Redis; a redis session store falls back to the file.
	kind := cfg.Session.Store
	if kind == "redis" {
		kind = "file"
	}
	store, err := sessionstore.New(sessionstore.Config{
		Kind: kind,
		File: cfg.Session.File,
		TTL:  cfg.Session.TTL,
	}, nil)
	if err != nil {
		return nil, err
	}

	stockCfg := cfg.StockConfig()
	stockCfg.Store = store
	stockCfg.Logger = log

	opts := cfg.BrowserOptions()
	if headful {
		opts.Headless = false
	}

	checker := stock.NewChecker(func(ctx context.Context) (browser.Driver, error) {
		d, err := browser.Open(opts)
		if err != nil {
			return nil, err
		}
		return d, nil
	}, stockCfg)

	return &env{cfg: cfg, log: log, store: store, checker: checker}, nil
}
