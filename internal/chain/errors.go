package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrProviderUnavailable marks transport-level failures talking to the RPC provider.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrInvalidRange is returned when toBlock < fromBlock.
	ErrInvalidRange = errors.New("invalid block range")
)

func invalidRange(fromBlock, toBlock uint64) error {
	return fmt.Errorf("%w: from %d > to %d", ErrInvalidRange, fromBlock, toBlock)
}

// classify wraps transport failures as ErrProviderUnavailable. JSON-RPC error
// responses and context cancellation are returned unchanged.
func classify(method string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%s: %w", method, err)
	}
	return fmt.Errorf("%s: %w: %w", method, ErrProviderUnavailable, err)
}
