package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"tradelab/internal/api"
	"tradelab/internal/backtest"
	"tradelab/internal/config"
	"tradelab/internal/domain"
	"tradelab/internal/marketdata"
	"tradelab/internal/optimizer"
	"tradelab/internal/store"
	"tradelab/internal/strategy"
	"tradelab/internal/strategy/builtins"
	"tradelab/internal/util"
	"tradelab/pkg/tradelab"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: tradelab-cli <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  backtest   Run a strategy or a signal file over local candles\n")
	fmt.Fprintf(os.Stderr, "  optimize   Grid-search a strategy's parameters\n")
	fmt.Fprintf(os.Stderr, "  runs       List stored backtest runs\n")
	fmt.Fprintf(os.Stderr, "  import     Import candles from a CSV file\n")
	fmt.Fprintf(os.Stderr, "  fetch      Download candles from Alpaca into the local store\n")
	fmt.Fprintf(os.Stderr, "  size       Ask a running server session to size a signal\n")
	fmt.Fprintf(os.Stderr, "  limits     Check a running server session's risk limits\n")
	fmt.Fprintf(os.Stderr, "  version    Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "\nRun 'tradelab-cli <command> -h' for command options.\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	// Logs go to stderr so command output stays machine-readable.
	logger := util.NewLoggerTo(os.Stderr, cfg.Logging.Level, "text")
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "backtest":
		err = runBacktest(ctx, cfg, args)
	case "optimize":
		err = runOptimize(ctx, cfg, args)
	case "runs":
		err = runList(ctx, cfg, args)
	case "import":
		err = runImport(ctx, cfg, args)
	case "fetch":
		err = runFetch(ctx, cfg, args)
	case "size":
		err = runSize(ctx, cfg, args)
	case "limits":
		err = runLimits(ctx, cfg, args)
	case "version":
		fmt.Printf("tradelab-cli %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error(cmd+" failed", "error", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Local commands
// ---------------------------------------------------------------------------

type localEnv struct {
	db         *store.SQLiteStore
	candles    *marketdata.CachingProvider
	strategies *strategy.Registry
	backtester *strategy.Backtester
}

func openLocal(cfg *config.Config) (*localEnv, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, err
	}
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, err
	}
	var remote backtest.CandleProvider
	if cfg.Alpaca.APIKey != "" && cfg.Alpaca.APISecret != "" {
		remote = marketdata.NewAlpacaProvider(marketdata.AlpacaOptions{
			APIKey:          cfg.Alpaca.APIKey,
			APISecret:       cfg.Alpaca.APISecret,
			DataURL:         cfg.Alpaca.DataURL,
			RateLimitPerMin: cfg.Alpaca.RateLimitPerMin,
			RateLimitBurst:  cfg.Alpaca.RateLimitBurst,
		})
	}
	candles := marketdata.NewCachingProvider(store.NewParquetStore(cfg.Storage.DataDir), remote, nil)
	strategies := builtins.NewRegistry()
	return &localEnv{
		db:         db,
		candles:    candles,
		strategies: strategies,
		backtester: strategy.NewBacktester(candles, db, db, strategies, nil),
	}, nil
}

// windowFlags registers the flags shared by backtest and optimize.
func windowFlags(fs *flag.FlagSet) (symbols, timeframe, start, end *string, capital *float64) {
	symbols = fs.String("symbols", "", "comma-separated symbols")
	timeframe = fs.String("timeframe", "", "candle timeframe, e.g. 1h or 1d")
	start = fs.String("start", "", "start date (YYYY-MM-DD)")
	end = fs.String("end", "", "end date (YYYY-MM-DD)")
	capital = fs.Float64("capital", 0, "initial capital")
	return
}

func buildConfig(cfg *config.Config, symbols, timeframe, start, end string, capital float64) (domain.BacktestConfig, error) {
	from, err := parseDate(start)
	if err != nil {
		return domain.BacktestConfig{}, err
	}
	to, err := parseDate(end)
	if err != nil {
		return domain.BacktestConfig{}, err
	}
	return cfg.Backtest.Fill(domain.BacktestConfig{
		Symbols:        splitList(symbols),
		Timeframe:      timeframe,
		StartDate:      from,
		EndDate:        to,
		InitialCapital: capital,
	}), nil
}

func runBacktest(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	symbols, timeframe, start, end, capital := windowFlags(fs)
	name := fs.String("strategy", "", "registered strategy name")
	params := fs.String("params", "", "strategy parameters, e.g. short_period=5,long_period=20")
	signalFile := fs.String("signals", "", "JSON file of signals to replay instead of a strategy")
	fs.Parse(args)

	bcfg, err := buildConfig(cfg, *symbols, *timeframe, *start, *end, *capital)
	if err != nil {
		return err
	}
	env, err := openLocal(cfg)
	if err != nil {
		return err
	}
	defer env.db.Close()

	var res *domain.BacktestResult
	switch {
	case *signalFile != "":
		var signals []domain.Signal
		if err := readJSON(*signalFile, &signals); err != nil {
			return err
		}
		res, err = backtest.NewRunner(env.candles, env.db, nil).Run(ctx, bcfg, signals)
	case *name != "":
		ps, perr := parseParams(*params)
		if perr != nil {
			return perr
		}
		res, err = env.backtester.Run(ctx, *name, ps, bcfg)
	default:
		return errors.New("one of -strategy or -signals is required")
	}
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runOptimize(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("optimize", flag.ExitOnError)
	symbols, timeframe, start, end, capital := windowFlags(fs)
	name := fs.String("strategy", "", "registered strategy name")
	var ranges rangeFlag
	fs.Var(&ranges, "range", "parameter range name=min:max[:steps] (repeatable)")
	targets := fs.String("targets", "", "comma-separated targets (winRate,sharpeRatio,netPnL,maxDrawdown)")
	workers := fs.Int("workers", cfg.Optimizer.Workers, "concurrent evaluations")
	fs.Parse(args)

	bcfg, err := buildConfig(cfg, *symbols, *timeframe, *start, *end, *capital)
	if err != nil {
		return err
	}
	if err := bcfg.Validate(); err != nil {
		return err
	}
	env, err := openLocal(cfg)
	if err != nil {
		return err
	}
	defer env.db.Close()
	if _, ok := env.strategies.Get(*name); !ok {
		return fmt.Errorf("unknown strategy %q", *name)
	}

	data, err := env.backtester.LoadCandles(ctx, bcfg)
	if err != nil {
		return err
	}
	opts := cfg.OptimizerOptions()
	opts.Workers = *workers
	eval := optimizer.EvaluatorFunc(func(ctx context.Context, p domain.ParameterSet) (*domain.BacktestResult, error) {
		return env.backtester.Replay(ctx, *name, p, bcfg, data)
	})
	res, err := optimizer.New(opts).Optimize(ctx, eval, optimizer.Request{
		Ranges:  ranges,
		Targets: splitList(*targets),
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runList(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("limit", 20, "maximum runs to list")
	id := fs.String("id", "", "show a single run in full")
	fs.Parse(args)

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	if *id != "" {
		res, err := db.GetBacktestResult(ctx, *id)
		if err != nil {
			return err
		}
		return printJSON(res)
	}
	runs, err := db.ListBacktestRuns(ctx, *limit)
	if err != nil {
		return err
	}
	return printJSON(runs)
}

func runImport(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	file := fs.String("file", "", "CSV file: timestamp,open,high,low,close[,volume]")
	symbol := fs.String("symbol", "", "symbol the file holds")
	timeframe := fs.String("timeframe", cfg.Backtest.Timeframe, "candle timeframe")
	fs.Parse(args)

	if *file == "" || *symbol == "" {
		return errors.New("-file and -symbol are required")
	}
	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()

	candles, err := readCandlesCSV(f, *symbol)
	if err != nil {
		return err
	}
	if err := store.NewParquetStore(cfg.Storage.DataDir).WriteCandles(ctx, *timeframe, candles); err != nil {
		return err
	}
	slog.Info("candles imported", "symbol", *symbol, "timeframe", *timeframe, "count", len(candles))
	return nil
}

func runFetch(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	symbols, timeframe, start, end, _ := windowFlags(fs)
	fs.Parse(args)

	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
		return errors.New("alpaca credentials are not configured")
	}
	bcfg, err := buildConfig(cfg, *symbols, *timeframe, *start, *end, 0)
	if err != nil {
		return err
	}
	env, err := openLocal(cfg)
	if err != nil {
		return err
	}
	defer env.db.Close()

	for _, sym := range bcfg.Symbols {
		candles, err := env.candles.Fetch(ctx, sym, bcfg.Timeframe, bcfg.StartDate, bcfg.EndDate)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", sym, err)
		}
		slog.Info("fetched", "symbol", sym, "count", len(candles))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Server commands
// ---------------------------------------------------------------------------

func serverURL(cfg *config.Config) string {
	if v := os.Getenv("TRADELAB_SERVER"); v != "" {
		return v
	}
	return fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
}

func runSize(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("size", flag.ExitOnError)
	server := fs.String("server", serverURL(cfg), "tradelab-server base URL")
	session := fs.String("session", "", "session key")
	symbol := fs.String("symbol", "", "signal symbol")
	side := fs.String("side", "buy", "buy or sell")
	entry := fs.Float64("entry", 0, "entry price")
	stop := fs.Float64("stop", 0, "stop-loss price")
	target := fs.Float64("target", 0, "take-profit price")
	strength := fs.Float64("strength", 0.5, "signal strength in [0, 1]")
	confidence := fs.Float64("ml-confidence", -1, "size from an ML prediction with this confidence instead of -strength")
	fs.Parse(args)

	sig := domain.Signal{
		Symbol:     *symbol,
		Side:       domain.Side(*side),
		EntryPrice: *entry,
		StopLoss:   *stop,
		TakeProfit: *target,
		Strength:   *strength,
	}
	if !sig.Side.Valid() {
		return fmt.Errorf("invalid side %q", *side)
	}
	var pred *api.PredictionPayload
	if *confidence >= 0 {
		pred = &api.PredictionPayload{Kind: "ml", Side: sig.Side, Confidence: *confidence, Model: "cli"}
	}
	rec, err := tradelab.NewClient(*server).SizeSignal(ctx, *session, sig, pred)
	if err != nil {
		return err
	}
	return printJSON(rec)
}

func runLimits(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("limits", flag.ExitOnError)
	server := fs.String("server", serverURL(cfg), "tradelab-server base URL")
	session := fs.String("session", "", "session key")
	daily := fs.String("daily-pnl", "", "today's P&L; summed from the ledger when empty")
	fs.Parse(args)

	var pnl *float64
	if *daily != "" {
		v, err := parseFloat(*daily)
		if err != nil {
			return err
		}
		pnl = &v
	}
	check, err := tradelab.NewClient(*server).CheckLimits(ctx, *session, pnl)
	if err != nil {
		return err
	}
	return printJSON(check)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
