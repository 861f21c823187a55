package provider

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// PendingTransaction polls for the receipt of a sent transaction.
type PendingTransaction struct {
	log           log.Logger
	client        Client
	hash          common.Hash
	interval      time.Duration
	confirmations uint64
}

func NewPendingTransaction(client Client, hash common.Hash, logger log.Logger) *PendingTransaction {
	return &PendingTransaction{
		log:           logger.New("tx", hash),
		client:        client,
		hash:          hash,
		interval:      DefaultPollInterval,
		confirmations: 1,
	}
}

func (p *PendingTransaction) WithInterval(d time.Duration) *PendingTransaction {
	p.interval = d
	return p
}

// WithConfirmations sets the number of blocks Wait waits for on top of the inclusion block.
func (p *PendingTransaction) WithConfirmations(n uint64) *PendingTransaction {
	p.confirmations = n
	return p
}

func (p *PendingTransaction) Hash() common.Hash {
	return p.hash
}

// PollStatus returns the receipt, or nil without error if the transaction is not mined yet.
func (p *PendingTransaction) PollStatus(ctx context.Context) (*types.Receipt, error) {
	receipt, err := p.client.TransactionReceipt(ctx, p.hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if receipt.BlockNumber == nil {
		// some nodes return receipts of pending transactions
		return nil, nil
	}
	return receipt, nil
}

func (p *PendingTransaction) Wait(ctx context.Context) (*types.Receipt, error) {
	return p.WaitForConfirmations(ctx, p.confirmations)
}

// WaitForConfirmations returns the receipt once the chain head is at least n blocks past the
// inclusion block. The receipt is fetched again on every poll and once more at the target height,
// so when a reorg moves the transaction to another block the count restarts from that block.
func (p *PendingTransaction) WaitForConfirmations(ctx context.Context, n uint64) (*types.Receipt, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	var lastBlock common.Hash
	for {
		receipt, err := p.PollStatus(ctx)
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			if lastBlock != (common.Hash{}) && receipt.BlockHash != lastBlock {
				p.log.Warn("Transaction moved to another block", "block", receipt.BlockNumber, "hash", receipt.BlockHash)
			}
			lastBlock = receipt.BlockHash
			if n == 0 {
				return receipt, nil
			}
			target := receipt.BlockNumber.Uint64() + n
			head, err := p.client.BlockNumber(ctx)
			if err != nil {
				return nil, err
			}
			if head >= target {
				final, err := p.PollStatus(ctx)
				if err != nil {
					return nil, err
				}
				if final != nil && final.BlockHash == receipt.BlockHash {
					return final, nil
				}
				p.log.Warn("Transaction reorged out while confirming", "block", receipt.BlockNumber)
			} else {
				p.log.Debug("Waiting for confirmations", "block", receipt.BlockNumber, "head", head, "target", target)
			}
		} else if lastBlock != (common.Hash{}) {
			p.log.Warn("Transaction receipt disappeared, waiting for it to be mined again")
			lastBlock = common.Hash{}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
