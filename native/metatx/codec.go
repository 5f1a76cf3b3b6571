package metatx

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	gcrypto "guardian/crypto"
	"guardian/native/nonce"
	"guardian/native/roles"
	"guardian/native/txrecord"
)

var (
	ErrNilRecord        = errors.New("metatx: record must not be nil")
	ErrZeroSigner       = errors.New("metatx: signer must not be zero")
	ErrInvalidSignature = errors.New("metatx: recovered signer mismatch")
	ErrMalformedSig     = errors.New("metatx: malformed signature")
	ErrExpired          = errors.New("metatx: deadline elapsed")
	ErrGasPriceExceeded = errors.New("metatx: effective gas price above ceiling")
	ErrChainMismatch    = errors.New("metatx: chain id mismatch")
	ErrInvalidAction    = errors.New("metatx: invalid action")
)

// Params is the signed envelope attached to a meta-transaction. The nonce is
// the signer's current (not yet consumed) counter at build time.
type Params struct {
	ChainID         uint64
	Nonce           uint64
	HandlerContract [20]byte
	HandlerSelector roles.Selector
	Action          roles.Action
	Deadline        int64
	MaxGasPrice     *big.Int
	Signer          [20]byte
}

// MetaTx couples an operation record (proposed or existing) with its signed
// envelope. MessageHash is the canonical digest the signature covers.
type MetaTx struct {
	Record      *txrecord.TxRecord
	Params      Params
	MessageHash [32]byte
	Signature   []byte
}

// Codec builds and verifies canonical signing payloads. Verification consumes
// the signer's nonce through the registry before reporting success, so one
// signature can never be applied twice even under concurrent submission.
type Codec struct {
	chainID uint64
	nonces  *nonce.Registry
	nowFn   func() time.Time
}

// NewCodec constructs a codec bound to the deployment chain id and the
// engine's nonce registry.
func NewCodec(chainID uint64, nonces *nonce.Registry) *Codec {
	return &Codec{
		chainID: chainID,
		nonces:  nonces,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the clock used for deadline checks. Nil restores the
// default UTC clock. Intended for tests.
func (c *Codec) SetNowFunc(now func() time.Time) {
	if now == nil {
		c.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	c.nowFn = now
}

// ChainID returns the deployment chain identifier stamped into every payload.
func (c *Codec) ChainID() uint64 {
	return c.chainID
}

// BuildParams assembles the signing envelope for an operation, stamping the
// configured chain id and the signer's current nonce. The deadline is
// computed relative to the codec clock.
func (c *Codec) BuildParams(handlerContract [20]byte, handlerSelector roles.Selector, action roles.Action, deadlineOffset time.Duration, maxGasPrice *big.Int, signer [20]byte) (Params, error) {
	if signer == ([20]byte{}) {
		return Params{}, ErrZeroSigner
	}
	if !action.Valid() {
		return Params{}, ErrInvalidAction
	}
	ceiling := big.NewInt(0)
	if maxGasPrice != nil {
		ceiling = new(big.Int).Set(maxGasPrice)
	}
	return Params{
		ChainID:         c.chainID,
		Nonce:           c.nonces.NextNonce(signer),
		HandlerContract: handlerContract,
		HandlerSelector: handlerSelector,
		Action:          action,
		Deadline:        c.nowFn().Add(deadlineOffset).Unix(),
		MaxGasPrice:     ceiling,
		Signer:          signer,
	}, nil
}

// canonicalMessage is the RLP shape the signature covers. Any change to a
// semantically relevant field of the record or envelope changes the digest,
// so a signature cannot be replayed against tampered content.
type canonicalMessage struct {
	ChainID         uint64
	Nonce           uint64
	TxID            uint64
	HandlerContract [20]byte
	HandlerSelector [4]byte
	Action          uint8
	Deadline        uint64
	MaxGasPrice     *big.Int
	OperationType   [32]byte
	Requester       [20]byte
	Target          [20]byte
	Value           *big.Int
	GasLimit        uint64
	ExecutionType   uint8
	ExecutionOpts   []byte
}

// EncodeMessage computes the canonical keccak256 digest for the record and
// envelope pair.
func EncodeMessage(record *txrecord.TxRecord, params Params) ([32]byte, error) {
	if record == nil {
		return [32]byte{}, ErrNilRecord
	}
	value := big.NewInt(0)
	if record.Params.Value != nil {
		value = new(big.Int).Set(record.Params.Value)
	}
	ceiling := big.NewInt(0)
	if params.MaxGasPrice != nil {
		ceiling = new(big.Int).Set(params.MaxGasPrice)
	}
	msg := canonicalMessage{
		ChainID:         params.ChainID,
		Nonce:           params.Nonce,
		TxID:            record.TxID,
		HandlerContract: params.HandlerContract,
		HandlerSelector: [4]byte(params.HandlerSelector),
		Action:          uint8(params.Action),
		Deadline:        uint64(params.Deadline),
		MaxGasPrice:     ceiling,
		OperationType:   record.Params.OperationType,
		Requester:       record.Params.Requester,
		Target:          record.Params.Target,
		Value:           value,
		GasLimit:        record.Params.GasLimit,
		ExecutionType:   uint8(record.Params.ExecutionType),
		ExecutionOpts:   record.Params.ExecutionOptions,
	}
	encoded, err := rlp.EncodeToBytes(&msg)
	if err != nil {
		return [32]byte{}, fmt.Errorf("metatx: encode message: %w", err)
	}
	var digest [32]byte
	copy(digest[:], ethcrypto.Keccak256(encoded))
	return digest, nil
}

// Sign produces a complete meta-transaction for the record and envelope,
// signed with the supplied key. The key's address must match params.Signer.
func Sign(record *txrecord.TxRecord, params Params, key *gcrypto.PrivateKey) (*MetaTx, error) {
	digest, err := EncodeMessage(record, params)
	if err != nil {
		return nil, err
	}
	signerAddr := key.PubKey().Address().Raw()
	if signerAddr != params.Signer {
		return nil, ErrInvalidSignature
	}
	sig, err := ethcrypto.Sign(digest[:], key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("metatx: sign: %w", err)
	}
	return &MetaTx{
		Record:      record.Clone(),
		Params:      params,
		MessageHash: digest,
		Signature:   sig,
	}, nil
}

// RecoverSigner returns the identity that produced the signature over the
// meta-transaction's canonical digest.
func RecoverSigner(meta *MetaTx) ([20]byte, error) {
	if meta == nil || meta.Record == nil {
		return [20]byte{}, ErrNilRecord
	}
	digest, err := EncodeMessage(meta.Record, meta.Params)
	if err != nil {
		return [20]byte{}, err
	}
	pub, err := ethcrypto.SigToPub(digest[:], meta.Signature)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: %v", ErrMalformedSig, err)
	}
	var addr [20]byte
	copy(addr[:], ethcrypto.PubkeyToAddress(*pub).Bytes())
	return addr, nil
}

// Verify checks the meta-transaction end to end: chain binding, signature
// recovery against the declared signer, deadline, gas ceiling, and nonce
// freshness. The nonce is consumed on success, before the caller applies any
// state mutation.
func (c *Codec) Verify(meta *MetaTx, effectiveGasPrice *big.Int) error {
	if meta == nil || meta.Record == nil {
		return ErrNilRecord
	}
	if meta.Params.ChainID != c.chainID {
		return ErrChainMismatch
	}
	recovered, err := RecoverSigner(meta)
	if err != nil {
		return err
	}
	if recovered != meta.Params.Signer {
		return ErrInvalidSignature
	}
	if c.nowFn().Unix() > meta.Params.Deadline {
		return ErrExpired
	}
	if meta.Params.MaxGasPrice != nil && meta.Params.MaxGasPrice.Sign() > 0 &&
		effectiveGasPrice != nil && effectiveGasPrice.Cmp(meta.Params.MaxGasPrice) > 0 {
		return ErrGasPriceExceeded
	}
	return c.nonces.Consume(meta.Params.Signer, meta.Params.Nonce)
}
