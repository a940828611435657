package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"surveySync/internal/chain"
	"surveySync/internal/checkpoint"
	"surveySync/internal/decoder"
	"surveySync/internal/metrics"
	"surveySync/internal/model"
	"surveySync/internal/schema"
)

var (
	// ErrInvalidRange mirrors chain.ErrInvalidRange for ranges rejected before any RPC call.
	ErrInvalidRange = chain.ErrInvalidRange
	// ErrCheckpointWrite marks a cycle whose events were applied but whose
	// checkpoint could not be persisted; the range is replayed next cycle.
	ErrCheckpointWrite = errors.New("checkpoint write failed")
)

// LogSource is the chain RPC surface used by the poller.
type LogSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, address common.Address, topic0 common.Hash, fromBlock, toBlock uint64) ([]types.Log, error)
}

// EventDecoder resolves raw logs against the contract schema.
type EventDecoder interface {
	Decode(log types.Log) (model.DecodedEvent, error)
}

// EventDispatcher applies decoded events downstream.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event model.DecodedEvent) error
}

// RunConfig holds runtime settings for the poller.
type RunConfig struct {
	Address          common.Address
	Topics           schema.TopicTable
	Window           uint64
	PollInterval     time.Duration
	StartBlock       uint64
	MaxRetries       int
	RetryBackoff     time.Duration
	FetchConcurrency int
}

// CycleResult summarizes one fetch/decode/dispatch pass.
type CycleResult struct {
	Range      BlockRange
	Tip        uint64
	Empty      bool
	Fetched    int
	Skipped    int
	Dispatched int
}

// Poller drives the checkpointed fetch -> decode -> dispatch -> checkpoint loop.
// Exactly one poller may own a checkpoint at a time.
type Poller struct {
	cfg        RunConfig
	source     LogSource
	decoder    EventDecoder
	dispatcher EventDispatcher
	checkpoint checkpoint.Store
	logger     *zap.Logger
	state      atomic.Int32
	onSkip     func(log types.Log, err error)
}

// NewPoller builds a Poller with its dependencies.
func NewPoller(
	cfg RunConfig,
	source LogSource,
	dec EventDecoder,
	dispatcher EventDispatcher,
	store checkpoint.Store,
	logger *zap.Logger,
) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 4
	}
	return &Poller{
		cfg:        cfg,
		source:     source,
		decoder:    dec,
		dispatcher: dispatcher,
		checkpoint: store,
		logger:     logger,
	}
}

// OnSkip registers a hook called for every log dropped before dispatch.
func (p *Poller) OnSkip(fn func(log types.Log, err error)) {
	p.onSkip = fn
}

// State returns the poller's current state.
func (p *Poller) State() State {
	return State(p.state.Load())
}

func (p *Poller) validate() error {
	if p.source == nil {
		return fmt.Errorf("log source is nil")
	}
	if p.decoder == nil {
		return fmt.Errorf("decoder is nil")
	}
	if p.dispatcher == nil {
		return fmt.Errorf("dispatcher is nil")
	}
	if p.cfg.Window == 0 {
		return fmt.Errorf("window must be greater than zero")
	}
	if p.cfg.Topics.Len() == 0 {
		return fmt.Errorf("at least one topic is required")
	}
	return nil
}

// Run executes cycles until ctx is cancelled. Cycle failures are logged and
// retried on the next tick; only invalid configuration is returned.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.validate(); err != nil {
		return err
	}
	if p.checkpoint == nil {
		return fmt.Errorf("checkpoint store is nil")
	}
	if p.cfg.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	p.logger.Info("poller start",
		zap.String("contract", p.cfg.Address.Hex()),
		zap.Int("topics", p.cfg.Topics.Len()),
		zap.Uint64("window", p.cfg.Window),
		zap.Duration("poll_interval", p.cfg.PollInterval),
	)

	for {
		result, err := p.RunCycle(ctx)
		switch {
		case ctx.Err() != nil:
			p.setState(StateIdle)
			p.logger.Info("poller stopped")
			return nil
		case err != nil:
			metrics.CycleInc("error")
			p.logger.Warn("cycle failed", zap.Error(err),
				zap.Uint64("from", result.Range.From),
				zap.Uint64("to", result.Range.To),
			)
		case result.Empty:
			metrics.CycleInc("empty")
			p.logger.Debug("no new blocks", zap.Uint64("tip", result.Tip))
		default:
			metrics.CycleInc("ok")
		}

		p.setState(StateSleeping)
		timer := time.NewTimer(p.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.setState(StateIdle)
			p.logger.Info("poller stopped")
			return nil
		case <-timer.C:
		}
		p.setState(StateIdle)
	}
}

// RunCycle performs a single cycle: read checkpoint and tip, process the next
// window and persist its upper bound. The checkpoint only advances after every
// event of the window has been dispatched.
func (p *Poller) RunCycle(ctx context.Context) (CycleResult, error) {
	if err := p.validate(); err != nil {
		return CycleResult{}, err
	}

	p.setState(StateFetching)
	last, err := p.loadCheckpoint(ctx)
	if err != nil {
		return CycleResult{}, err
	}

	tip, err := p.latestWithRetry(ctx)
	if err != nil {
		return CycleResult{}, fmt.Errorf("get latest block: %w", err)
	}
	metrics.ChainTipSet(tip)

	blockRange, ok := NextRange(last, tip, p.cfg.Window)
	if !ok {
		return CycleResult{Tip: tip, Empty: true}, nil
	}

	result, err := p.processRange(ctx, blockRange)
	result.Tip = tip
	if err != nil {
		return result, err
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	p.setState(StateCheckpointing)
	if err := p.checkpoint.Set(ctx, blockRange.To); err != nil {
		return result, fmt.Errorf("%w: block %d: %w", ErrCheckpointWrite, blockRange.To, err)
	}
	metrics.CheckpointSet(blockRange.To)

	p.logger.Info("batch complete",
		zap.Uint64("from", blockRange.From),
		zap.Uint64("to", blockRange.To),
		zap.Uint64("tip", tip),
		zap.Int("logs", result.Fetched),
		zap.Int("skipped", result.Skipped),
		zap.Int("dispatched", result.Dispatched),
	)
	return result, nil
}

// Backfill re-dispatches [from, to] in window-sized batches. It neither reads
// nor writes the checkpoint.
func (p *Poller) Backfill(ctx context.Context, from, to uint64) (CycleResult, error) {
	if err := p.validate(); err != nil {
		return CycleResult{}, err
	}
	ranges, err := SplitRange(from, to, p.cfg.Window)
	if err != nil {
		return CycleResult{}, err
	}

	total := CycleResult{Range: BlockRange{From: from, To: to}}
	for _, blockRange := range ranges {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		result, err := p.processRange(ctx, blockRange)
		total.Fetched += result.Fetched
		total.Skipped += result.Skipped
		total.Dispatched += result.Dispatched
		if err != nil {
			return total, err
		}

		p.logger.Info("backfill batch complete",
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
			zap.Int("dispatched", result.Dispatched),
		)
	}
	p.setState(StateIdle)
	return total, nil
}

func (p *Poller) processRange(ctx context.Context, blockRange BlockRange) (CycleResult, error) {
	result := CycleResult{Range: blockRange}

	p.setState(StateFetching)
	logs, err := p.fetchRange(ctx, blockRange)
	if err != nil {
		return result, fmt.Errorf("fetch logs %d-%d: %w", blockRange.From, blockRange.To, err)
	}
	result.Fetched = len(logs)

	if err := ctx.Err(); err != nil {
		return result, err
	}

	p.setState(StateDecoding)
	events := make([]model.DecodedEvent, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			p.skip(log, "removed", fmt.Errorf("log removed by reorg"))
			result.Skipped++
			continue
		}
		event, err := p.decoder.Decode(log)
		if err != nil {
			reason := "decode"
			if errors.Is(err, decoder.ErrSchemaMismatch) {
				reason = "schema_mismatch"
			}
			p.skip(log, reason, err)
			result.Skipped++
			continue
		}
		events = append(events, event)
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	p.setState(StateDispatching)
	for _, event := range events {
		if err := p.dispatcher.Dispatch(ctx, event); err != nil {
			return result, fmt.Errorf("dispatch %s at block %d log %d: %w", event.Kind, event.BlockNumber, event.LogIndex, err)
		}
		result.Dispatched++
	}

	return result, nil
}

func (p *Poller) loadCheckpoint(ctx context.Context) (uint64, error) {
	last, err := p.checkpoint.Get(ctx)
	if err == nil {
		return last, nil
	}
	if !errors.Is(err, checkpoint.ErrNotFound) {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}

	var seed uint64
	if p.cfg.StartBlock > 0 {
		seed = p.cfg.StartBlock - 1
	}
	if err := p.checkpoint.Set(ctx, seed); err != nil {
		return 0, fmt.Errorf("%w: seed %d: %w", ErrCheckpointWrite, seed, err)
	}
	metrics.CheckpointSet(seed)
	p.logger.Info("checkpoint seeded", zap.Uint64("last_processed", seed), zap.Uint64("start_block", p.cfg.StartBlock))
	return seed, nil
}

func (p *Poller) latestWithRetry(ctx context.Context) (uint64, error) {
	var tip uint64
	err := withRetry(ctx, p.cfg.MaxRetries, p.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		tip, err = p.source.LatestBlockNumber(ctx)
		if err != nil {
			p.logger.Warn("latest block fetch failed", zap.Error(err))
		}
		return err
	})
	return tip, err
}

func (p *Poller) skip(log types.Log, reason string, err error) {
	metrics.LogSkippedInc(reason)
	topic0 := ""
	if len(log.Topics) > 0 {
		topic0 = log.Topics[0].Hex()
	}
	p.logger.Warn("log skipped",
		zap.String("reason", reason),
		zap.Error(err),
		zap.Uint64("block", log.BlockNumber),
		zap.Uint("log_index", log.Index),
		zap.String("topic0", topic0),
	)
	if p.onSkip != nil {
		p.onSkip(log, err)
	}
}

func (p *Poller) setState(state State) {
	if State(p.state.Swap(int32(state))) == state {
		return
	}
	metrics.PollerStateSet(int(state))
	p.logger.Debug("poller state", zap.String("state", state.String()))
}
