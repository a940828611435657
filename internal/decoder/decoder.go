package decoder

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"

	"surveySync/internal/model"
	"surveySync/internal/schema"
)

// ErrSchemaMismatch is returned for logs the contract schema cannot resolve.
// It is a per-log condition: callers skip the log and continue.
var ErrSchemaMismatch = errors.New("schema mismatch")

// Decoder resolves raw contract logs into named events.
type Decoder struct {
	contractABI abi.ABI
	topics      schema.TopicTable
}

// New builds a decoder from the contract ABI and the topic table.
func New(contractABI abi.ABI, topics schema.TopicTable) *Decoder {
	return &Decoder{contractABI: contractABI, topics: topics}
}

// Decode converts a raw log into a DecodedEvent.
func (d *Decoder) Decode(log types.Log) (model.DecodedEvent, error) {
	if len(log.Topics) == 0 {
		return model.DecodedEvent{}, fmt.Errorf("%w: missing topic0", ErrSchemaMismatch)
	}
	kind, ok := d.topics.Kind(log.Topics[0])
	if !ok {
		return model.DecodedEvent{}, fmt.Errorf("%w: unknown topic0 %s", ErrSchemaMismatch, log.Topics[0].Hex())
	}
	event, ok := d.contractABI.Events[string(kind)]
	if !ok {
		return model.DecodedEvent{}, fmt.Errorf("%w: no schema entry for %s", ErrSchemaMismatch, kind)
	}

	args, err := unpackArgs(event, log)
	if err != nil {
		return model.DecodedEvent{}, fmt.Errorf("%w: %s: %v", ErrSchemaMismatch, kind, err)
	}

	return model.DecodedEvent{
		Kind:        kind,
		Args:        args,
		Address:     log.Address,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		TxIndex:     log.TxIndex,
		LogIndex:    log.Index,
	}, nil
}

func unpackArgs(event abi.Event, log types.Log) (map[string]interface{}, error) {
	indexed := indexedArguments(event.Inputs)
	if len(log.Topics) != len(indexed)+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", len(indexed)+1, len(log.Topics))
	}

	args := make(map[string]interface{}, len(event.Inputs))
	if err := event.Inputs.NonIndexed().UnpackIntoMap(args, log.Data); err != nil {
		return nil, fmt.Errorf("unpack data: %w", err)
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
			return nil, fmt.Errorf("parse topics: %w", err)
		}
	}
	return args, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}
