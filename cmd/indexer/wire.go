package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"surveySync/internal/chain"
	"surveySync/internal/checkpoint"
	"surveySync/internal/config"
	"surveySync/internal/decoder"
	"surveySync/internal/dispatch"
	"surveySync/internal/indexer"
	"surveySync/internal/metrics"
	"surveySync/internal/reconcile"
	"surveySync/internal/schema"
	"surveySync/internal/storage"
	"surveySync/internal/storage/postgres"
	"surveySync/internal/storage/sqlite"
)

// app holds the collaborators shared by the chain-facing commands.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	chain    *chain.Client
	abi      abi.ABI
	topics   schema.TopicTable
	decoder  *decoder.Decoder
	contract common.Address

	pg   *postgres.Store
	lite *sqlite.Store
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	contract, err := indexer.ParseAddress(cfg.Contract)
	if err != nil {
		return nil, err
	}

	contractABI, err := schema.Load(cfg.ABIPath)
	if err != nil {
		return nil, err
	}

	var topics schema.TopicTable
	if len(cfg.Topics) > 0 {
		topics, err = schema.ParseTopicTable(cfg.Topics, contractABI)
	} else {
		topics, err = schema.TopicsFromABI(contractABI)
	}
	if err != nil {
		return nil, err
	}
	for _, topic := range topics.Topics() {
		if _, ok := contractABI.Events[string(topic.Kind)]; !ok {
			logger.Warn("topic has no schema entry, its logs will be skipped",
				zap.String("kind", string(topic.Kind)),
				zap.String("topic0", topic.Signature.Hex()),
			)
		}
	}

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	chainID, err := chainClient.GetChainID(ctx)
	if err != nil {
		chainClient.Close()
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	logger.Info("connected", zap.String("chain_id", chainID.String()), zap.Int("topics", topics.Len()))

	return &app{
		cfg:      cfg,
		logger:   logger,
		chain:    chainClient,
		abi:      contractABI,
		topics:   topics,
		decoder:  decoder.New(contractABI, topics),
		contract: contract,
	}, nil
}

func (a *app) Close() {
	if a.chain != nil {
		a.chain.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if a.lite != nil {
		if err := a.lite.Close(); err != nil {
			a.logger.Warn("close sqlite", zap.Error(err))
		}
	}
}

func (a *app) runConfig() indexer.RunConfig {
	return indexer.RunConfig{
		Address:          a.contract,
		Topics:           a.topics,
		Window:           a.cfg.Window,
		PollInterval:     a.cfg.PollInterval,
		StartBlock:       a.cfg.StartBlock,
		MaxRetries:       a.cfg.MaxRetries,
		RetryBackoff:     a.cfg.RetryBackoff,
		FetchConcurrency: a.cfg.FetchConcurrency,
	}
}

func (a *app) pgStore(ctx context.Context) (*postgres.Store, error) {
	if a.pg != nil {
		return a.pg, nil
	}
	if a.cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("pg-dsn is required")
	}
	store, err := postgres.NewStore(ctx, a.cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	a.pg = store
	return store, nil
}

func (a *app) sqliteStore() (*sqlite.Store, error) {
	if a.lite != nil {
		return a.lite, nil
	}
	store, err := sqlite.Open(a.cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	a.lite = store
	return store, nil
}

func (a *app) checkpointStore(ctx context.Context) (checkpoint.Store, error) {
	switch a.cfg.CheckpointBackend {
	case config.BackendFile:
		return checkpoint.NewFileStore(a.cfg.Checkpoint), nil
	case config.BackendSQLite:
		store, err := a.sqliteStore()
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(a.logger); err != nil {
			return nil, err
		}
		return checkpoint.NewDBStore(store, a.cfg.CheckpointKey), nil
	case config.BackendPostgres:
		store, err := a.pgStore(ctx)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(a.logger); err != nil {
			return nil, err
		}
		return checkpoint.NewDBStore(store, a.cfg.CheckpointKey), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend: %s", a.cfg.CheckpointBackend)
	}
}

func (a *app) recordStore(ctx context.Context) (storage.Records, error) {
	switch a.cfg.RecordsBackend {
	case config.BackendPostgres:
		return a.pgStore(ctx)
	case config.BackendMemory:
		a.logger.Warn("using in-memory records, reconciliation results are not persisted")
		return storage.NewMemoryRecords(), nil
	default:
		return nil, fmt.Errorf("unknown records backend: %s", a.cfg.RecordsBackend)
	}
}

func (a *app) dispatcher(records storage.Records) *dispatch.Dispatcher {
	d := dispatch.New(a.logger)
	reconcile.NewHandlers(records, a.logger).Register(d)

	kinds := make([]string, 0)
	for _, kind := range d.Kinds() {
		kinds = append(kinds, string(kind))
	}
	a.logger.Info("handlers registered", zap.Strings("kinds", kinds))
	return d
}

func (a *app) metricsServer() *metrics.Server {
	return metrics.NewServer(a.cfg.MetricsAddr, a.logger)
}

// resolveRange applies the from/to flags; to=0 means the current chain tip.
func (a *app) resolveRange(ctx context.Context) (uint64, uint64, error) {
	from, to := a.cfg.FromBlock, a.cfg.ToBlock
	if to == 0 {
		latest, err := a.chain.LatestBlockNumber(ctx)
		if err != nil {
			return 0, 0, fmt.Errorf("get latest block: %w", err)
		}
		to = latest
	}
	if to < from {
		return 0, 0, fmt.Errorf("%w: from %d > to %d", indexer.ErrInvalidRange, from, to)
	}
	return from, to, nil
}
