package model

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// EventKind is the schema name of a contract event.
type EventKind string

const (
	KindSurveyCreated        EventKind = "SurveyCreated"
	KindSurveyStarted        EventKind = "SurveyStarted"
	KindSurveyCompleted      EventKind = "SurveyCompleted"
	KindSurveyClosed         EventKind = "SurveyClosed"
	KindAttestationSubmitted EventKind = "AttestationSubmitted"
	KindTransferSuccessful   EventKind = "TransferSuccessful"
)

// DecodedEvent is a contract log resolved against the event schema.
// Args is keyed by argument name so handlers do not depend on argument order.
type DecodedEvent struct {
	Kind        EventKind
	Args        map[string]interface{}
	Address     common.Address
	BlockNumber uint64
	TxHash      common.Hash
	TxIndex     uint
	LogIndex    uint
}

// Key identifies the event on chain.
func (e DecodedEvent) Key() string {
	return fmt.Sprintf("%d:%d", e.BlockNumber, e.LogIndex)
}

// StringArg returns a named argument rendered as a string identifier.
func (e DecodedEvent) StringArg(name string) (string, error) {
	val, ok := e.Args[name]
	if !ok {
		return "", fmt.Errorf("%s: missing argument %q", e.Kind, name)
	}
	switch typed := val.(type) {
	case string:
		return typed, nil
	case *big.Int:
		if typed == nil {
			return "", fmt.Errorf("%s: nil argument %q", e.Kind, name)
		}
		return typed.String(), nil
	case common.Hash:
		return typed.Hex(), nil
	case [32]byte:
		return common.Hash(typed).Hex(), nil
	default:
		return "", fmt.Errorf("%s: argument %q has type %T, want string", e.Kind, name, val)
	}
}

// AddressArg returns a named address argument.
func (e DecodedEvent) AddressArg(name string) (common.Address, error) {
	val, ok := e.Args[name]
	if !ok {
		return common.Address{}, fmt.Errorf("%s: missing argument %q", e.Kind, name)
	}
	switch typed := val.(type) {
	case common.Address:
		return typed, nil
	case string:
		if !common.IsHexAddress(typed) {
			return common.Address{}, fmt.Errorf("%s: invalid address %q in %q", e.Kind, typed, name)
		}
		return common.HexToAddress(typed), nil
	default:
		return common.Address{}, fmt.Errorf("%s: argument %q has type %T, want address", e.Kind, name, val)
	}
}

type decodedEventJSON struct {
	Kind        EventKind              `json:"kind"`
	Args        map[string]interface{} `json:"args"`
	Address     string                 `json:"address"`
	BlockNumber uint64                 `json:"block_number"`
	TxHash      string                 `json:"tx_hash"`
	TxIndex     uint                   `json:"tx_index"`
	LogIndex    uint                   `json:"log_index"`
}

// MarshalJSON renders big integers as decimal strings and byte values as hex.
func (e DecodedEvent) MarshalJSON() ([]byte, error) {
	args := make(map[string]interface{}, len(e.Args))
	for name, val := range e.Args {
		args[name] = formatArg(val)
	}
	return json.Marshal(decodedEventJSON{
		Kind:        e.Kind,
		Args:        args,
		Address:     e.Address.Hex(),
		BlockNumber: e.BlockNumber,
		TxHash:      e.TxHash.Hex(),
		TxIndex:     e.TxIndex,
		LogIndex:    e.LogIndex,
	})
}

func formatArg(val interface{}) interface{} {
	switch typed := val.(type) {
	case *big.Int:
		if typed == nil {
			return nil
		}
		return typed.String()
	case common.Address:
		return typed.Hex()
	case common.Hash:
		return typed.Hex()
	case [32]byte:
		return hexutil.Encode(typed[:])
	case []byte:
		return hexutil.Encode(typed)
	default:
		return val
	}
}
