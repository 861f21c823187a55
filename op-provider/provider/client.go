// Package provider is the typed Ethereum JSON-RPC client built on top of a transport.
package provider

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/mantlenetworkio/ethrpc/op-provider/jsonrpc"
)

// Client is the capability surface shared by the Provider and every middleware layer.
// A layer embeds the Client below it and overrides the methods it changes.
type Client interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
	// BatchCallContext sends all elements in one batch. Per-element failures are set on the elements.
	BatchCallContext(ctx context.Context, b []rpc.BatchElem) error

	// Subscribe sends eth_subscribe with the given args and returns the raw notification stream.
	Subscribe(ctx context.Context, args ...any) (jsonrpc.SubscriptionID, <-chan json.RawMessage, error)
	Unsubscribe(ctx context.Context, id jsonrpc.SubscriptionID) error

	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	// BalanceAt and NonceAt read the latest state for a nil block number.
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, tx *TxRequest) (uint64, error)
	Call(ctx context.Context, tx *TxRequest, blockNumber *big.Int) ([]byte, error)

	// FillTransaction sets the missing fields of tx that the layer is responsible for,
	// then lets the layers below fill the rest.
	FillTransaction(ctx context.Context, tx *TxRequest) error
	// SendTransaction submits tx for the node to sign.
	SendTransaction(ctx context.Context, tx *TxRequest) (common.Hash, error)
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
	// TransactionReceipt returns ethereum.NotFound while the transaction is not mined.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	Sign(ctx context.Context, account common.Address, data []byte) ([]byte, error)

	Close() error
}

// PendingBlock is the block number argument selecting the pending state.
var PendingBlock = big.NewInt(int64(rpc.PendingBlockNumber))
