package provider

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/ethrpc/op-service/retry"
)

var (
	ErrNoTransactions = errors.New("no transactions to broadcast")
	// ErrNonceAlreadyUsed is returned when every replacement was rejected with "nonce too low",
	// so the nonce went to a transaction this escalation never sent.
	ErrNonceAlreadyUsed = errors.New("nonce already used by another transaction")
)

// IsNonceTooLow reports whether a node rejected a transaction because its nonce is already used.
func IsNonceTooLow(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}

const (
	DefaultBroadcastInterval  = 150 * time.Millisecond
	DefaultEscalationInterval = 10 * time.Millisecond
)

// EscalatingPending broadcasts signed replacements of one transaction, each at a higher price,
// until any of them is mined.
type EscalatingPending struct {
	log               log.Logger
	client            Client
	txs               [][]byte
	pollInterval      time.Duration
	broadcastInterval time.Duration
}

// NewEscalatingPending takes the raw signed transactions in broadcast order, cheapest first.
func NewEscalatingPending(client Client, txs [][]byte, logger log.Logger) (*EscalatingPending, error) {
	if len(txs) == 0 {
		return nil, ErrNoTransactions
	}
	return &EscalatingPending{
		log:               logger,
		client:            client,
		txs:               txs,
		pollInterval:      DefaultEscalationInterval,
		broadcastInterval: DefaultBroadcastInterval,
	}, nil
}

func (e *EscalatingPending) WithPollInterval(d time.Duration) *EscalatingPending {
	e.pollInterval = d
	return e
}

func (e *EscalatingPending) WithBroadcastInterval(d time.Duration) *EscalatingPending {
	e.broadcastInterval = d
	return e
}

// Wait broadcasts the first transaction, then checks the receipts of everything sent so far on every
// poll, and broadcasts the next replacement once the broadcast interval passed since the last one.
// It returns the first receipt found, or ErrNonceAlreadyUsed when no replacement was accepted.
func (e *EscalatingPending) Wait(ctx context.Context) (*types.Receipt, error) {
	var (
		sent []common.Hash
		next int
		last time.Time
	)
	broadcast := func() error {
		raw := e.txs[next]
		next++
		hash, err := e.client.SendRawTransaction(ctx, raw)
		if err != nil {
			if IsNonceTooLow(err) {
				// an earlier broadcast was mined
				e.log.Debug("Replacement rejected with nonce too low", "escalation", next)
				return nil
			}
			e.log.Error("Error during transaction broadcast", "err", err)
			return err
		}
		last = time.Now()
		sent = append(sent, hash)
		e.log.Info("Escalation transaction broadcast complete", "tx", hash, "escalation", len(sent))
		return nil
	}

	if err := broadcast(); err != nil {
		return nil, err
	}
	for {
		if len(sent) == 0 && next == len(e.txs) {
			return nil, ErrNonceAlreadyUsed
		}
		for _, hash := range sent {
			receipt, err := e.client.TransactionReceipt(ctx, hash)
			if errors.Is(err, ethereum.NotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if receipt.BlockNumber != nil {
				return receipt, nil
			}
		}
		if err := retry.Wait(ctx, e.pollInterval); err != nil {
			return nil, err
		}
		if next < len(e.txs) && time.Since(last) > e.broadcastInterval {
			if err := broadcast(); err != nil {
				return nil, err
			}
		}
	}
}
