package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/keeper/config"
	"github.com/alejandrodnm/keeper/internal/adapters/notify"
	"github.com/alejandrodnm/keeper/internal/adapters/onchain"
	"github.com/alejandrodnm/keeper/internal/adapters/storage"
	"github.com/alejandrodnm/keeper/internal/adapters/webhook"
	"github.com/alejandrodnm/keeper/internal/application/keeper"
	"github.com/alejandrodnm/keeper/internal/domain"
	"github.com/alejandrodnm/keeper/internal/ports"
	"github.com/alejandrodnm/keeper/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	report := flag.Bool("report", false, "print the execution journal and exit")
	limit := flag.Int("limit", 50, "number of attempts shown by -report")
	dsn := flag.String("db", "", "journal database for -report (overrides config)")
	flag.Parse()

	if *report {
		os.Exit(runReport(*configPath, *dsn, *limit))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(int(domain.ExitFailure))
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	os.Exit(run(ctx, cfg))
}

// run wires the adapters and blocks until the keeper shuts down. Failures
// before the keeper exists are announced to the webhook like any other
// abnormal exit.
func run(ctx context.Context, cfg *config.Config) int {
	wallet, err := onchain.NewWallet(cfg.Chain.PrivateKey, cfg.Chain.ChainID)
	if err != nil {
		return startupFailed(cfg, "", "wallet", err)
	}
	executor := wallet.Address().Hex()

	slog.Info("keeper starting",
		"executor", executor,
		"chain_id", cfg.Chain.ChainID,
		"order_book", cfg.Contracts.OrderBook,
		"gas_tier", cfg.Execution.GasPriceTier,
		"webhook", cfg.Webhook.URL != "",
		"metrics", cfg.Metrics.Listen,
	)

	dialCtx, cancelDial := context.WithTimeout(ctx, 30*time.Second)
	defer cancelDial()
	client, err := onchain.Dial(dialCtx, cfg.Chain.RPCURL, cfg.Chain.RPCRatePerSec)
	if err != nil {
		return startupFailed(cfg, executor, "dial", err)
	}
	if err := client.VerifyChain(dialCtx, cfg.Chain.ChainID); err != nil {
		client.Close()
		return startupFailed(cfg, executor, "chain", err)
	}

	bookAddr := common.HexToAddress(cfg.Contracts.OrderBook)
	book := onchain.NewOrderBook(client, wallet, bookAddr)
	pricing, err := onchain.NewPricing(client,
		common.HexToAddress(cfg.Contracts.Factory),
		common.HexToAddress(cfg.Contracts.Router),
		cfg.Execution.SlippageBps)
	if err != nil {
		client.Close()
		return startupFailed(cfg, executor, "pricing", err)
	}
	tier, err := onchain.ParseGasTier(cfg.Execution.GasPriceTier)
	if err != nil {
		client.Close()
		return startupFailed(cfg, executor, "gas tier", err)
	}
	gas := onchain.NewGasOracle(client, wallet.Address(), bookAddr, tier)

	closers := []io.Closer{client}
	deps := keeper.Deps{
		Account:   wallet,
		OrderBook: book,
		Pricing:   pricing,
		Gas:       gas,
		Notifier:  newNotifier(cfg, executor),
	}

	journal, err := storage.NewSQLiteJournal(cfg.Storage.DSN)
	if err != nil {
		// the journal is optional, the keeper runs without it
		slog.Warn("failed to open execution journal", "err", err, "dsn", cfg.Storage.DSN)
	} else {
		deps.Journal = journal
		closers = append(closers, journal)
	}
	deps.Closers = closers

	if cfg.Metrics.Listen != "" {
		telemetry.Serve(ctx, cfg.Metrics.Listen)
	}

	initial, maxBackoff := cfg.Backoff()
	kcfg := keeper.DefaultConfig()
	kcfg.Engine.BadOrderRetries = cfg.BadOrderRetries()
	kcfg.Engine.CallTimeout = cfg.CallTimeout()
	kcfg.EvaluationWorkers = cfg.Execution.EvaluationWorkers
	kcfg.Streams = keeper.StreamOptions{InitialBackoff: initial, MaxBackoff: maxBackoff}
	kcfg.Breaker = keeper.BreakerConfig{
		MaxFailedTxs:   cfg.Breaker.MaxFailedTxs,
		MaxFailedGas:   cfg.Breaker.MaxFailedGas,
		Window:         cfg.BreakerWindow(),
		ResetOnFailure: cfg.Breaker.ResetOnFailure,
	}

	k, err := keeper.New(kcfg, deps, os.Exit)
	if err != nil {
		for _, c := range closers {
			c.Close()
		}
		return startupFailed(cfg, executor, "keeper", err)
	}

	return int(k.Run(ctx))
}

// newNotifier returns the webhook notifier, or the console when no URL is set.
func newNotifier(cfg *config.Config, executor string) ports.Notifier {
	if cfg.Webhook.URL == "" {
		return notify.NewConsole()
	}
	return webhook.New(cfg.Webhook.URL, executor)
}

func startupFailed(cfg *config.Config, executor, stage string, err error) int {
	slog.Error("keeper failed to start", "stage", stage, "err", err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reason := stage + ": " + err.Error()
	if nerr := newNotifier(cfg, executor).NotifyShutdown(ctx, domain.ExitFailure, reason); nerr != nil {
		slog.Error("shutdown notification failed", "err", nerr)
	}
	return int(domain.ExitFailure)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
