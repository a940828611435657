package indexer

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// fetchRange queries every topic for blockRange concurrently and merges the
// results into chain order (block number, then log index), so cross-topic
// causality such as created -> started holds within a window.
func (p *Poller) fetchRange(ctx context.Context, blockRange BlockRange) ([]types.Log, error) {
	topics := p.cfg.Topics.Topics()
	perTopic := make([][]types.Log, len(topics))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.FetchConcurrency)
	for i, topic := range topics {
		i, topic := i, topic
		g.Go(func() error {
			return withRetry(gctx, p.cfg.MaxRetries, p.cfg.RetryBackoff, func(ctx context.Context) error {
				logs, err := p.source.FilterLogs(ctx, p.cfg.Address, topic.Signature, blockRange.From, blockRange.To)
				if err != nil {
					p.logger.Warn("filter logs failed", zap.Error(err),
						zap.String("kind", string(topic.Kind)),
						zap.Uint64("from", blockRange.From),
						zap.Uint64("to", blockRange.To),
					)
					return err
				}
				perTopic[i] = logs
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total int
	for _, logs := range perTopic {
		total += len(logs)
	}
	merged := make([]types.Log, 0, total)
	for _, logs := range perTopic {
		merged = append(merged, logs...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].BlockNumber != merged[j].BlockNumber {
			return merged[i].BlockNumber < merged[j].BlockNumber
		}
		return merged[i].Index < merged[j].Index
	})
	return merged, nil
}
