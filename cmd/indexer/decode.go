package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"surveySync/internal/indexer"
	"surveySync/internal/model"
	"surveySync/internal/storage"
)

const sinkFlushSize = 500

// sinkDispatcher writes decoded events to an EventSink instead of reconciling them.
type sinkDispatcher struct {
	sink    storage.EventSink
	pending []model.DecodedEvent
}

func (s *sinkDispatcher) Dispatch(_ context.Context, event model.DecodedEvent) error {
	s.pending = append(s.pending, event)
	if len(s.pending) >= sinkFlushSize {
		return s.Flush()
	}
	return nil
}

func (s *sinkDispatcher) Flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	if err := s.sink.PutEventBatch(s.pending); err != nil {
		return err
	}
	s.pending = s.pending[:0]
	return nil
}

func runDecode(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if cfg.Window == 0 {
		return fmt.Errorf("window must be greater than zero")
	}
	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}
	if cfg.Errors == "" {
		return fmt.Errorf("errors path is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	from, to, err := app.resolveRange(ctx)
	if err != nil {
		return err
	}

	out := storage.NewJsonlStorage(cfg.Out)
	errs := storage.NewJsonlStorage(cfg.Errors)
	sink := &sinkDispatcher{sink: out}

	poller := indexer.NewPoller(app.runConfig(), app.chain, app.decoder, sink, nil, logger)
	var writeErr error
	poller.OnSkip(func(log types.Log, err error) {
		if writeErr != nil {
			return
		}
		writeErr = errs.PutDecodeErrors([]model.DecodeError{decodeErrorFromLog(log, err)})
	})

	logger.Info("decode start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("contract", app.contract.Hex()),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
	)

	result, err := poller.Backfill(ctx, from, to)
	if flushErr := sink.Flush(); flushErr != nil && err == nil {
		err = flushErr
	}
	if err != nil {
		return err
	}
	if writeErr != nil {
		return fmt.Errorf("write decode errors: %w", writeErr)
	}

	logger.Info("decode complete",
		zap.Int("total", result.Fetched),
		zap.Int("decoded", result.Dispatched),
		zap.Int("failed", result.Skipped),
	)
	return nil
}

func decodeErrorFromLog(log types.Log, err error) model.DecodeError {
	decodeErr := model.DecodeError{
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    log.Index,
		Address:     log.Address.Hex(),
	}
	if len(log.Topics) > 0 {
		decodeErr.Topic0 = log.Topics[0].Hex()
	}
	if err != nil {
		decodeErr.Error = err.Error()
	}
	return decodeErr
}
