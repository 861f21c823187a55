package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/mantlenetworkio/ethrpc/op-provider/provider"
)

const PolicyLayer = "policy"

var ErrRejectedByPolicy = errors.New("transaction rejected by policy")

// Policy decides whether a transaction may be sent. It may return a modified copy.
type Policy interface {
	EnsureCanSend(ctx context.Context, tx *provider.TxRequest) (*provider.TxRequest, error)
}

type AllowEverything struct{}

func (AllowEverything) EnsureCanSend(_ context.Context, tx *provider.TxRequest) (*provider.TxRequest, error) {
	return tx, nil
}

type RejectEverything struct{}

func (RejectEverything) EnsureCanSend(context.Context, *provider.TxRequest) (*provider.TxRequest, error) {
	return nil, ErrRejectedByPolicy
}

// RulesPolicy checks receivers, senders and the transferred value.
// An empty AllowedReceivers list allows every receiver that is not blocked.
type RulesPolicy struct {
	AllowedReceivers []common.Address
	BlockedReceivers []common.Address
	BlockedSenders   []common.Address
	// MaxValue caps the value of a single transaction when set.
	MaxValue *uint256.Int
	// AllowCreate permits transactions without receiver.
	AllowCreate bool
}

func (p *RulesPolicy) EnsureCanSend(_ context.Context, tx *provider.TxRequest) (*provider.TxRequest, error) {
	if tx.From != nil && contains(p.BlockedSenders, *tx.From) {
		return nil, fmt.Errorf("%w: sender %s is blocked", ErrRejectedByPolicy, tx.From)
	}
	if tx.To == nil {
		if !p.AllowCreate {
			return nil, fmt.Errorf("%w: contract creation not allowed", ErrRejectedByPolicy)
		}
	} else {
		if contains(p.BlockedReceivers, *tx.To) {
			return nil, fmt.Errorf("%w: receiver %s is blocked", ErrRejectedByPolicy, tx.To)
		}
		if len(p.AllowedReceivers) > 0 && !contains(p.AllowedReceivers, *tx.To) {
			return nil, fmt.Errorf("%w: receiver %s is not allowed", ErrRejectedByPolicy, tx.To)
		}
	}
	if p.MaxValue != nil && tx.Value != nil {
		value, overflow := uint256.FromBig(tx.Value)
		if overflow || tx.Value.Sign() < 0 || value.Gt(p.MaxValue) {
			return nil, fmt.Errorf("%w: value %v above limit %v", ErrRejectedByPolicy, tx.Value, p.MaxValue)
		}
	}
	return tx, nil
}

func contains(list []common.Address, addr common.Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}

// PolicyGuard runs every outgoing transaction through a Policy.
type PolicyGuard struct {
	provider.Client
	policy Policy
}

func NewPolicyGuard(inner provider.Client, policy Policy) *PolicyGuard {
	return &PolicyGuard{Client: inner, policy: policy}
}

func WithPolicy(policy Policy) Layer {
	return func(inner provider.Client) provider.Client {
		return NewPolicyGuard(inner, policy)
	}
}

func (p *PolicyGuard) SendTransaction(ctx context.Context, tx *provider.TxRequest) (common.Hash, error) {
	checked, err := p.policy.EnsureCanSend(ctx, tx)
	if err != nil {
		return common.Hash{}, wrap(PolicyLayer, err)
	}
	hash, err := p.Client.SendTransaction(ctx, checked)
	if err != nil {
		return common.Hash{}, wrap(PolicyLayer, err)
	}
	return hash, nil
}
