package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"tradelab/internal/api"
	"tradelab/internal/backtest"
	"tradelab/internal/config"
	"tradelab/internal/engine"
	"tradelab/internal/marketdata"
	"tradelab/internal/optimizer"
	"tradelab/internal/store"
	"tradelab/internal/strategy"
	"tradelab/internal/strategy/builtins"
	"tradelab/internal/util"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite: %v", err)
	}
	defer db.Close()

	candles := candleProvider(cfg, logger)
	strategies := builtins.NewRegistry()

	optOpts := cfg.OptimizerOptions()
	optOpts.Logger = logger

	sessions := engine.NewRegistry(engine.NewFactory(db, engine.SessionOptions{
		Broker:            "simulator",
		StartingCash:      cfg.Risk.StartingCash,
		Limits:            cfg.Risk.Limits,
		HistoryWindowDays: cfg.Risk.HistoryWindowDays,
	}, engine.AlpacaCredentials{
		APIKey:    cfg.Alpaca.APIKey,
		APISecret: cfg.Alpaca.APISecret,
		BaseURL:   cfg.Alpaca.BaseURL,
	}, logger), logger)

	srv := api.NewServer(api.Deps{
		Candles:    candles,
		Results:    db,
		Signals:    db,
		Strategies: strategies,
		Backtester: strategy.NewBacktester(candles, db, db, strategies, logger),
		Optimizer:  optimizer.New(optOpts),
		Sessions:   sessions,
		Defaults:   cfg.Backtest,
	}, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	grpcAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort)
	slog.Info("tradelab-server starting", "http", httpAddr, "grpc", grpcAddr, "strategies", strategies.List())
	if err := srv.ListenAndServe(ctx, httpAddr, grpcAddr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// candleProvider serves local Parquet candles, fetching missing ranges from
// Alpaca when credentials are configured.
func candleProvider(cfg *config.Config, logger *slog.Logger) backtest.CandleProvider {
	var remote backtest.CandleProvider
	if cfg.Alpaca.APIKey != "" && cfg.Alpaca.APISecret != "" {
		remote = marketdata.NewAlpacaProvider(marketdata.AlpacaOptions{
			APIKey:          cfg.Alpaca.APIKey,
			APISecret:       cfg.Alpaca.APISecret,
			DataURL:         cfg.Alpaca.DataURL,
			RateLimitPerMin: cfg.Alpaca.RateLimitPerMin,
			RateLimitBurst:  cfg.Alpaca.RateLimitBurst,
			Logger:          logger,
		})
	} else {
		logger.Warn("alpaca credentials not set; serving local candles only")
	}
	return marketdata.NewCachingProvider(store.NewParquetStore(cfg.Storage.DataDir), remote, logger)
}
