package middleware

import (
	"context"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/ethrpc/op-provider/provider"
)

const NonceManagerLayer = "nonce manager"

// nonceSequence hands out nonces for one account and reuses the nonces of failed sends.
type nonceSequence struct {
	next uint64
	gaps []uint64 // sorted
}

func (s *nonceSequence) take() uint64 {
	if len(s.gaps) > 0 {
		nonce := s.gaps[0]
		s.gaps = s.gaps[1:]
		return nonce
	}
	nonce := s.next
	s.next++
	return nonce
}

// release is a no-op for nonces that are already gaps or were never handed out.
func (s *nonceSequence) release(nonce uint64) {
	if nonce >= s.next {
		return
	}
	i, exists := slices.BinarySearch(s.gaps, nonce)
	if exists {
		return
	}
	s.gaps = slices.Insert(s.gaps, i, nonce)
}

// NonceManager assigns nonces locally for transactions of one address that do not carry one.
// The first nonce is read from the pending state of the node.
type NonceManager struct {
	provider.Client
	log     log.Logger
	address common.Address

	mu          sync.Mutex
	initialized bool
	seq         nonceSequence
}

func NewNonceManager(inner provider.Client, address common.Address, logger log.Logger) *NonceManager {
	return &NonceManager{
		Client:  inner,
		log:     logger,
		address: address,
	}
}

// WithNonceManager is the Layer form of NewNonceManager.
func WithNonceManager(address common.Address, logger log.Logger) Layer {
	return func(inner provider.Client) provider.Client {
		return NewNonceManager(inner, address, logger)
	}
}

func (n *NonceManager) Address() common.Address {
	return n.address
}

// Next returns the lowest released nonce, or else the next unused one.
func (n *NonceManager) Next(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.initialized {
		nonce, err := n.Client.NonceAt(ctx, n.address, provider.PendingBlock)
		if err != nil {
			return 0, wrap(NonceManagerLayer, err)
		}
		n.seq = nonceSequence{next: nonce}
		n.initialized = true
		n.log.Debug("Initialized nonce", "address", n.address, "nonce", nonce)
	}
	return n.seq.take(), nil
}

// Release makes an unused nonce available again. It is handed out before any new nonce.
func (n *NonceManager) Release(nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq.release(nonce)
}

// Reset drops the local state. The next nonce is read from the node again.
func (n *NonceManager) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.initialized = false
	n.seq = nonceSequence{}
}

func (n *NonceManager) resetTo(nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.initialized = true
	n.seq = nonceSequence{next: nonce}
}

func (n *NonceManager) manages(tx *provider.TxRequest) bool {
	return tx.From == nil || *tx.From == n.address
}

func (n *NonceManager) assign(ctx context.Context, tx *provider.TxRequest) (uint64, error) {
	nonce, err := n.Next(ctx)
	if err != nil {
		return 0, err
	}
	tx.SetNonce(nonce)
	if tx.From == nil {
		from := n.address
		tx.From = &from
	}
	return nonce, nil
}

// FillTransaction assigns a nonce if tx has none. The assigned nonce counts as used.
func (n *NonceManager) FillTransaction(ctx context.Context, tx *provider.TxRequest) error {
	if tx.Nonce == nil && n.manages(tx) {
		if _, err := n.assign(ctx, tx); err != nil {
			return err
		}
	}
	return wrap(NonceManagerLayer, n.Client.FillTransaction(ctx, tx))
}

// SendTransaction assigns a nonce to tx if it has none and sends it. When the send fails the
// nonce of the node is read again: if the node is ahead, the local state is reset and the send
// is retried once. Otherwise the nonce is released for reuse.
func (n *NonceManager) SendTransaction(ctx context.Context, tx *provider.TxRequest) (common.Hash, error) {
	if tx.Nonce != nil || !n.manages(tx) {
		return n.Client.SendTransaction(ctx, tx)
	}
	tx = tx.Copy()
	nonce, err := n.assign(ctx, tx)
	if err != nil {
		return common.Hash{}, err
	}
	hash, err := n.Client.SendTransaction(ctx, tx)
	if err == nil {
		return hash, nil
	}

	onChain, nerr := n.Client.NonceAt(ctx, n.address, provider.PendingBlock)
	if nerr != nil || onChain <= nonce {
		n.Release(nonce)
		return common.Hash{}, wrap(NonceManagerLayer, err)
	}
	n.log.Warn("Nonce out of sync, resetting", "address", n.address, "local", nonce, "chain", onChain, "err", err)
	n.resetTo(onChain)
	nonce, err = n.assign(ctx, tx)
	if err != nil {
		return common.Hash{}, err
	}
	hash, err = n.Client.SendTransaction(ctx, tx)
	if err != nil {
		n.Release(nonce)
		return common.Hash{}, wrap(NonceManagerLayer, err)
	}
	return hash, nil
}
