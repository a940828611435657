package indexer

import "fmt"

// BlockRange represents an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// Len returns the number of blocks in the range.
func (r BlockRange) Len() uint64 {
	return r.To - r.From + 1
}

// NextRange computes the next window after checkpoint for the given chain tip:
// [checkpoint+1, min(tip, checkpoint+window)]. It returns false when the tip
// has not advanced past the checkpoint.
func NextRange(checkpoint, tip, window uint64) (BlockRange, bool) {
	if window == 0 || tip <= checkpoint {
		return BlockRange{}, false
	}
	to := tip
	if tip-checkpoint > window {
		to = checkpoint + window
	}
	return BlockRange{From: checkpoint + 1, To: to}, true
}

// SplitRange splits a block range into batches of size batchSize.
func SplitRange(from, to, batchSize uint64) ([]BlockRange, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("%w: to block must be >= from block", ErrInvalidRange)
	}

	ranges := make([]BlockRange, 0)
	start := from
	for start <= to {
		remaining := to - start + 1
		var end uint64
		if remaining <= batchSize {
			end = to
		} else {
			end = start + batchSize - 1
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}

	return ranges, nil
}
