package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"surveySync/internal/config"
	"surveySync/internal/indexer"
)

func main() {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "Survey contract event indexer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the chain and reconcile survey records",
		RunE:  runIndexer,
	}
	addChainFlags(runCmd.Flags())
	addStoreFlags(runCmd.Flags())
	runCmd.Flags().Duration("poll-interval", 20*time.Second, "delay between cycles")
	runCmd.Flags().Uint64("start-block", 0, "first block to index when no checkpoint exists")
	runCmd.Flags().String("metrics-addr", "", "listen address for /metrics and /health (empty disables)")
	root.AddCommand(runCmd)

	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Re-dispatch a fixed block range without touching the checkpoint",
		RunE:  runBackfill,
	}
	addChainFlags(backfillCmd.Flags())
	addStoreFlags(backfillCmd.Flags())
	addRangeFlags(backfillCmd.Flags())
	root.AddCommand(backfillCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Fetch and decode a block range into JSONL",
		RunE:  runDecode,
	}
	addChainFlags(decodeCmd.Flags())
	addRangeFlags(decodeCmd.Flags())
	decodeCmd.Flags().String("out", "./data/events.jsonl", "decoded events JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "skipped logs JSONL")
	root.AddCommand(decodeCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		RunE:  runMigrate,
	}
	migrateCmd.Flags().String("checkpoint-backend", config.BackendFile, "checkpoint backend (file, sqlite, postgres)")
	migrateCmd.Flags().String("sqlite-path", "./data/surveysync.db", "SQLite database path")
	migrateCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	migrateCmd.Flags().String("records-backend", config.BackendPostgres, "records backend (postgres, memory)")
	migrateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(migrateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addChainFlags(flags *pflag.FlagSet) {
	flags.String("rpc", "", "JSON-RPC URL")
	flags.String("contract", "", "survey contract address")
	flags.String("abi", "", "contract ABI JSON file (defaults to the built-in survey ABI)")
	flags.String("topics", "", "event topics as name=topic0 pairs (comma-separated), defaults to every ABI event")
	flags.Uint64("window", 100, "maximum blocks per cycle")
	flags.Int("max-retries", 0, "retry attempts per RPC call")
	flags.Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	flags.Int("fetch-concurrency", 4, "concurrent per-topic log queries")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func addStoreFlags(flags *pflag.FlagSet) {
	flags.String("checkpoint-backend", config.BackendFile, "checkpoint backend (file, sqlite, postgres)")
	flags.String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	flags.String("checkpoint-key", "survey", "checkpoint row name for database backends")
	flags.String("sqlite-path", "./data/surveysync.db", "SQLite database path")
	flags.String("pg-dsn", "", "Postgres DSN")
	flags.String("records-backend", config.BackendPostgres, "records backend (postgres, memory)")
}

func addRangeFlags(flags *pflag.FlagSet) {
	flags.Uint64("from", 0, "start block (inclusive)")
	flags.Uint64("to", 0, "end block (inclusive), 0 means latest")
}

func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func runIndexer(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be positive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	store, err := app.checkpointStore(ctx)
	if err != nil {
		return err
	}
	records, err := app.recordStore(ctx)
	if err != nil {
		return err
	}

	server := app.metricsServer()
	server.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Warn("metrics server stop failed", zap.Error(err))
		}
	}()

	poller := indexer.NewPoller(app.runConfig(), app.chain, app.decoder, app.dispatcher(records), store, logger)

	logger.Info("indexer start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("contract", app.contract.Hex()),
		zap.Uint64("start_block", cfg.StartBlock),
		zap.Uint64("window", cfg.Window),
		zap.String("checkpoint_backend", cfg.CheckpointBackend),
		zap.String("records_backend", cfg.RecordsBackend),
	)

	return poller.Run(ctx)
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	records, err := app.recordStore(ctx)
	if err != nil {
		return err
	}

	from, to, err := app.resolveRange(ctx)
	if err != nil {
		return err
	}

	poller := indexer.NewPoller(app.runConfig(), app.chain, app.decoder, app.dispatcher(records), nil, logger)
	result, err := poller.Backfill(ctx, from, to)
	if err != nil {
		return err
	}

	logger.Info("backfill complete",
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("logs", result.Fetched),
		zap.Int("skipped", result.Skipped),
		zap.Int("dispatched", result.Dispatched),
	)
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
