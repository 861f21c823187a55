package provider

import (
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrIncompleteTx = errors.New("transaction request is missing fields required for signing")

// TxRequest is a transaction that may still have fields left for the middleware chain or the node to fill.
// A request with a fee cap or tip is dynamic fee (EIP-1559), otherwise it is legacy.
type TxRequest struct {
	From       *common.Address
	To         *common.Address
	Nonce      *uint64
	Gas        uint64
	GasPrice   *big.Int
	GasFeeCap  *big.Int
	GasTipCap  *big.Int
	Value      *big.Int
	Data       []byte
	ChainID    *big.Int
	AccessList types.AccessList
}

func (r *TxRequest) IsDynamicFee() bool {
	return r.GasFeeCap != nil || r.GasTipCap != nil
}

func (r *TxRequest) HasFees() bool {
	if r.IsDynamicFee() {
		return r.GasFeeCap != nil && r.GasTipCap != nil
	}
	return r.GasPrice != nil
}

// Copy returns a copy that can be modified without touching r.
func (r *TxRequest) Copy() *TxRequest {
	cpy := *r
	if r.Nonce != nil {
		n := *r.Nonce
		cpy.Nonce = &n
	}
	if r.Data != nil {
		cpy.Data = append([]byte(nil), r.Data...)
	}
	return &cpy
}

func (r *TxRequest) SetNonce(n uint64) {
	r.Nonce = &n
}

// CallArg is the JSON object accepted by eth_call, eth_estimateGas and eth_sendTransaction.
func (r *TxRequest) CallArg() map[string]any {
	arg := map[string]any{}
	if r.From != nil {
		arg["from"] = *r.From
	}
	if r.To != nil {
		arg["to"] = *r.To
	}
	if r.Nonce != nil {
		arg["nonce"] = hexutil.Uint64(*r.Nonce)
	}
	if r.Gas != 0 {
		arg["gas"] = hexutil.Uint64(r.Gas)
	}
	if r.GasPrice != nil {
		arg["gasPrice"] = (*hexutil.Big)(r.GasPrice)
	}
	if r.GasFeeCap != nil {
		arg["maxFeePerGas"] = (*hexutil.Big)(r.GasFeeCap)
	}
	if r.GasTipCap != nil {
		arg["maxPriorityFeePerGas"] = (*hexutil.Big)(r.GasTipCap)
	}
	if r.Value != nil {
		arg["value"] = (*hexutil.Big)(r.Value)
	}
	if len(r.Data) > 0 {
		arg["data"] = hexutil.Bytes(r.Data)
	}
	if r.ChainID != nil {
		arg["chainId"] = (*hexutil.Big)(r.ChainID)
	}
	if r.AccessList != nil {
		arg["accessList"] = r.AccessList
	}
	return arg
}

func (r *TxRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.CallArg())
}

// TxData converts a filled request into signable transaction data.
func (r *TxRequest) TxData() (types.TxData, error) {
	if r.Nonce == nil || r.Gas == 0 || !r.HasFees() {
		return nil, ErrIncompleteTx
	}
	value := r.Value
	if value == nil {
		value = new(big.Int)
	}
	if r.IsDynamicFee() {
		if r.ChainID == nil {
			return nil, ErrIncompleteTx
		}
		return &types.DynamicFeeTx{
			ChainID:    r.ChainID,
			Nonce:      *r.Nonce,
			GasTipCap:  r.GasTipCap,
			GasFeeCap:  r.GasFeeCap,
			Gas:        r.Gas,
			To:         r.To,
			Value:      value,
			Data:       r.Data,
			AccessList: r.AccessList,
		}, nil
	}
	return &types.LegacyTx{
		Nonce:    *r.Nonce,
		GasPrice: r.GasPrice,
		Gas:      r.Gas,
		To:       r.To,
		Value:    value,
		Data:     r.Data,
	}, nil
}
