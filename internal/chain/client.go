package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"surveySync/internal/metrics"
)

// Client wraps go-ethereum RPC and exposes the calls the indexer needs.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// GetChainID returns the chain ID.
func (c *Client) GetChainID(ctx context.Context) (*big.Int, error) {
	start := time.Now()
	id, err := c.ethClient.ChainID(ctx)
	observe("eth_chainId", start, err)
	if err != nil {
		return nil, classify("eth_chainId", err)
	}
	return id, nil
}

// LatestBlockNumber returns the current chain tip.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	start := time.Now()
	number, err := c.ethClient.BlockNumber(ctx)
	observe("eth_blockNumber", start, err)
	if err != nil {
		return 0, classify("eth_blockNumber", err)
	}
	return number, nil
}

// FilterLogs returns the logs emitted by address with the given topic0 in
// [fromBlock, toBlock]. Exactly one topic is queried per call.
func (c *Client) FilterLogs(
	ctx context.Context,
	address common.Address,
	topic0 common.Hash,
	fromBlock uint64,
	toBlock uint64,
) ([]types.Log, error) {
	if toBlock < fromBlock {
		return nil, invalidRange(fromBlock, toBlock)
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{{topic0}},
	}

	start := time.Now()
	logs, err := c.ethClient.FilterLogs(ctx, query)
	observe("eth_getLogs", start, err)
	if err != nil {
		return nil, classify("eth_getLogs", err)
	}
	return logs, nil
}

func observe(method string, start time.Time, err error) {
	metrics.RPCMethodInc(method)
	metrics.RPCMethodDuration(method, time.Since(start))
	if err != nil {
		metrics.RPCMethodError(method)
	}
}
