package metatx

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	gcrypto "guardian/crypto"
	"guardian/native/nonce"
	"guardian/native/roles"
	"guardian/native/txrecord"
)

const testChainID uint64 = 187101

type fixture struct {
	codec  *Codec
	nonces *nonce.Registry
	key    *gcrypto.PrivateKey
	signer [20]byte
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := gcrypto.GeneratePrivateKey()
	require.NoError(t, err)
	nonces := nonce.NewRegistry()
	codec := NewCodec(testChainID, nonces)
	f := &fixture{
		codec:  codec,
		nonces: nonces,
		key:    key,
		signer: key.PubKey().Address().Raw(),
		now:    time.Unix(1_700_000_000, 0).UTC(),
	}
	codec.SetNowFunc(func() time.Time { return f.now })
	return f
}

func (f *fixture) record() *txrecord.TxRecord {
	var target [20]byte
	target[0] = 0xAA
	var opType [32]byte
	opType[0] = 7
	return &txrecord.TxRecord{
		TxID:   1,
		Status: txrecord.StatusPending,
		Params: txrecord.TxParams{
			Requester:     f.signer,
			Target:        target,
			Value:         big.NewInt(1000),
			GasLimit:      250_000,
			OperationType: opType,
			ExecutionType: txrecord.ExecutionStandard,
		},
	}
}

func (f *fixture) params(t *testing.T) Params {
	t.Helper()
	var handler [20]byte
	handler[19] = 1
	params, err := f.codec.BuildParams(handler, roles.SelectorFromSignature("transferOwnership(address)"), roles.ActionSignMetaApprove, time.Hour, big.NewInt(500), f.signer)
	require.NoError(t, err)
	return params
}

func TestBuildParamsStampsChainAndNonce(t *testing.T) {
	f := newFixture(t)
	params := f.params(t)
	require.Equal(t, testChainID, params.ChainID)
	require.Equal(t, uint64(0), params.Nonce)
	require.Equal(t, f.now.Add(time.Hour).Unix(), params.Deadline)

	require.NoError(t, f.nonces.Consume(f.signer, 0))
	params = f.params(t)
	require.Equal(t, uint64(1), params.Nonce)
}

func TestEncodeMessageDeterministic(t *testing.T) {
	f := newFixture(t)
	params := f.params(t)
	rec := f.record()

	first, err := EncodeMessage(rec, params)
	require.NoError(t, err)
	second, err := EncodeMessage(rec, params)
	require.NoError(t, err)
	require.Equal(t, first, second)

	tampered := rec.Clone()
	tampered.Params.Value = big.NewInt(999_999)
	third, err := EncodeMessage(tampered, params)
	require.NoError(t, err)
	require.NotEqual(t, first, third)
}

func TestVerifyHappyPath(t *testing.T) {
	f := newFixture(t)
	meta, err := Sign(f.record(), f.params(t), f.key)
	require.NoError(t, err)
	require.NoError(t, f.codec.Verify(meta, big.NewInt(100)))
	// Success consumed the nonce.
	require.Equal(t, uint64(1), f.nonces.NextNonce(f.signer))
}

func TestVerifyRejectsReplay(t *testing.T) {
	f := newFixture(t)
	meta, err := Sign(f.record(), f.params(t), f.key)
	require.NoError(t, err)
	require.NoError(t, f.codec.Verify(meta, nil))
	err = f.codec.Verify(meta, nil)
	require.ErrorIs(t, err, nonce.ErrStaleNonce)
}

func TestVerifyRejectsTamperedRecord(t *testing.T) {
	f := newFixture(t)
	meta, err := Sign(f.record(), f.params(t), f.key)
	require.NoError(t, err)
	meta.Record.Params.Target[0] = 0xBB
	err = f.codec.Verify(meta, nil)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsForeignSigner(t *testing.T) {
	f := newFixture(t)
	otherKey, err := gcrypto.GeneratePrivateKey()
	require.NoError(t, err)

	// A valid signature must not verify against a different declared signer.
	meta, err := Sign(f.record(), f.params(t), f.key)
	require.NoError(t, err)
	meta.Params.Signer = otherKey.PubKey().Address().Raw()

	err = f.codec.Verify(meta, nil)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsExpired(t *testing.T) {
	f := newFixture(t)
	meta, err := Sign(f.record(), f.params(t), f.key)
	require.NoError(t, err)
	f.now = f.now.Add(2 * time.Hour)
	err = f.codec.Verify(meta, nil)
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerifyRejectsGasCeiling(t *testing.T) {
	f := newFixture(t)
	meta, err := Sign(f.record(), f.params(t), f.key)
	require.NoError(t, err)
	err = f.codec.Verify(meta, big.NewInt(501))
	require.ErrorIs(t, err, ErrGasPriceExceeded)
	// At the ceiling is still acceptable.
	require.NoError(t, f.codec.Verify(meta, big.NewInt(500)))
}

func TestVerifyRejectsChainMismatch(t *testing.T) {
	f := newFixture(t)
	meta, err := Sign(f.record(), f.params(t), f.key)
	require.NoError(t, err)
	meta.Params.ChainID = testChainID + 1
	err = f.codec.Verify(meta, nil)
	require.ErrorIs(t, err, ErrChainMismatch)
}

func TestSignRejectsForeignKey(t *testing.T) {
	f := newFixture(t)
	otherKey, err := gcrypto.GeneratePrivateKey()
	require.NoError(t, err)
	_, err = Sign(f.record(), f.params(t), otherKey)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestBuildParamsValidation(t *testing.T) {
	f := newFixture(t)
	var handler [20]byte
	_, err := f.codec.BuildParams(handler, roles.Selector{}, roles.ActionSignMetaApprove, time.Hour, nil, [20]byte{})
	require.ErrorIs(t, err, ErrZeroSigner)
	_, err = f.codec.BuildParams(handler, roles.Selector{}, roles.Action(200), time.Hour, nil, f.signer)
	require.ErrorIs(t, err, ErrInvalidAction)
}

func TestVerifyNilInputs(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.codec.Verify(nil, nil), ErrNilRecord)
	require.ErrorIs(t, f.codec.Verify(&MetaTx{}, nil), ErrNilRecord)
}
