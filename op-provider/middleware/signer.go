package middleware

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/ethrpc/op-provider/provider"
)

const SignerLayer = "signer"

var ErrNoEscalations = errors.New("escalation needs at least one gas price")

// Signer signs transactions and messages for one address.
type Signer interface {
	SignTransaction(ctx context.Context, chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
	// SignMessage signs data with the EIP-191 personal message prefix.
	SignMessage(ctx context.Context, data []byte) ([]byte, error)
	Address() common.Address
}

type PrivateKeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

var _ Signer = (*PrivateKeySigner)(nil)

func NewPrivateKeySigner(key *ecdsa.PrivateKey) *PrivateKeySigner {
	return &PrivateKeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// ParsePrivateKeySigner reads a hex encoded private key, with or without 0x prefix.
func ParsePrivateKeySigner(hexKey string) (*PrivateKeySigner, error) {
	if len(hexKey) >= 2 && hexKey[0] == '0' && (hexKey[1] == 'x' || hexKey[1] == 'X') {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewPrivateKeySigner(key), nil
}

func (s *PrivateKeySigner) SignTransaction(_ context.Context, chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

func (s *PrivateKeySigner) SignMessage(_ context.Context, data []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(data), s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func (s *PrivateKeySigner) Address() common.Address {
	return s.address
}

// Signing signs transactions of its signer locally and sends them raw.
// Transactions from other senders are passed to the node to sign.
type Signing struct {
	provider.Client
	log    log.Logger
	signer Signer

	mu      sync.Mutex
	chainID *big.Int
}

func NewSigning(inner provider.Client, signer Signer, logger log.Logger) *Signing {
	return &Signing{
		Client: inner,
		log:    logger,
		signer: signer,
	}
}

func WithSigner(signer Signer, logger log.Logger) Layer {
	return func(inner provider.Client) provider.Client {
		return NewSigning(inner, signer, logger)
	}
}

func (s *Signing) Address() common.Address {
	return s.signer.Address()
}

func (s *Signing) signs(tx *provider.TxRequest) bool {
	return tx.From == nil || *tx.From == s.signer.Address()
}

// ChainID is read once and remembered.
func (s *Signing) ChainID(ctx context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chainID != nil {
		return new(big.Int).Set(s.chainID), nil
	}
	id, err := s.Client.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	s.chainID = id
	return new(big.Int).Set(id), nil
}

// FillTransaction sets the sender and the chain id, lets the layers below fill the rest,
// and reads the pending nonce if still missing.
func (s *Signing) FillTransaction(ctx context.Context, tx *provider.TxRequest) error {
	if !s.signs(tx) {
		return s.Client.FillTransaction(ctx, tx)
	}
	if tx.From == nil {
		from := s.signer.Address()
		tx.From = &from
	}
	if tx.ChainID == nil {
		id, err := s.ChainID(ctx)
		if err != nil {
			return wrap(SignerLayer, err)
		}
		tx.ChainID = id
	}
	if err := s.Client.FillTransaction(ctx, tx); err != nil {
		return wrap(SignerLayer, err)
	}
	if tx.Nonce == nil {
		nonce, err := s.Client.NonceAt(ctx, *tx.From, provider.PendingBlock)
		if err != nil {
			return wrap(SignerLayer, err)
		}
		tx.SetNonce(nonce)
	}
	return nil
}

// SignTransaction fills tx and returns it signed.
func (s *Signing) SignTransaction(ctx context.Context, tx *provider.TxRequest) (*types.Transaction, error) {
	if !s.signs(tx) {
		return nil, wrap(SignerLayer, fmt.Errorf("cannot sign for %s", tx.From.Hex()))
	}
	tx = tx.Copy()
	if err := s.FillTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return s.sign(ctx, tx)
}

func (s *Signing) sign(ctx context.Context, tx *provider.TxRequest) (*types.Transaction, error) {
	data, err := tx.TxData()
	if err != nil {
		return nil, wrap(SignerLayer, err)
	}
	signed, err := s.signer.SignTransaction(ctx, tx.ChainID, types.NewTx(data))
	if err != nil {
		return nil, wrap(SignerLayer, fmt.Errorf("failed to sign transaction: %w", err))
	}
	return signed, nil
}

func (s *Signing) SendTransaction(ctx context.Context, tx *provider.TxRequest) (common.Hash, error) {
	if !s.signs(tx) {
		return s.Client.SendTransaction(ctx, tx)
	}
	signed, err := s.SignTransaction(ctx, tx)
	if err != nil {
		return common.Hash{}, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return common.Hash{}, wrap(SignerLayer, err)
	}
	s.log.Debug("Sending signed transaction", "tx", signed.Hash(), "nonce", signed.Nonce())
	hash, err := s.Client.SendRawTransaction(ctx, raw)
	if err != nil {
		return common.Hash{}, wrap(SignerLayer, err)
	}
	return hash, nil
}

// Sign signs data locally when account is the signer address, and through the node otherwise.
func (s *Signing) Sign(ctx context.Context, account common.Address, data []byte) ([]byte, error) {
	if account != s.signer.Address() {
		return s.Client.Sign(ctx, account, data)
	}
	sig, err := s.signer.SignMessage(ctx, data)
	if err != nil {
		return nil, wrap(SignerLayer, err)
	}
	return sig, nil
}

// SendEscalating signs one legacy replacement of tx per gas price, all with the same nonce,
// and returns the pending escalation. Prices must be given cheapest first.
func (s *Signing) SendEscalating(ctx context.Context, tx *provider.TxRequest, prices []*big.Int) (*provider.EscalatingPending, error) {
	if len(prices) == 0 {
		return nil, wrap(SignerLayer, ErrNoEscalations)
	}
	if tx.IsDynamicFee() {
		return nil, wrap(SignerLayer, ErrDynamicFeeEscalation)
	}
	base := tx.Copy()
	base.GasPrice = prices[0]
	if err := s.FillTransaction(ctx, base); err != nil {
		return nil, err
	}
	txs := make([][]byte, 0, len(prices))
	for _, price := range prices {
		replacement := base.Copy()
		replacement.GasPrice = price
		signed, err := s.sign(ctx, replacement)
		if err != nil {
			return nil, err
		}
		raw, err := signed.MarshalBinary()
		if err != nil {
			return nil, wrap(SignerLayer, err)
		}
		txs = append(txs, raw)
	}
	return provider.NewEscalatingPending(s, txs, s.log)
}
