package settlement

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func signed(t *testing.T, key *ecdsa.PrivateKey, tx Tx) *Tx {
	t.Helper()
	require.NoError(t, tx.Sign(key))
	return &tx
}

func TestTx_SignAndRecover(t *testing.T) {
	key, addr := newKey(t)
	tx := signed(t, key, Tx{Type: TxTransfer, To: buyer, Value: "10", RequestID: "r1"})

	sender, err := tx.Sender()
	require.NoError(t, err)
	assert.Equal(t, addr, sender)

	raw, err := tx.Encode()
	require.NoError(t, err)
	decoded, err := DecodeTx(raw)
	require.NoError(t, err)
	sender, err = decoded.Sender()
	require.NoError(t, err)
	assert.Equal(t, addr, sender)
	assert.Equal(t, tx.Hash(), decoded.Hash())
}

func TestTx_TamperedRejected(t *testing.T) {
	key, _ := newKey(t)
	tx := signed(t, key, Tx{Type: TxTransfer, To: buyer, Value: "10"})

	tx.Value = "1000"
	_, err := tx.Sender()
	require.ErrorIs(t, err, ErrInvalidTx)

	tx.Signature = nil
	_, err = tx.Sender()
	require.ErrorIs(t, err, ErrInvalidTx)
}

func TestDecodeTx_Rejects(t *testing.T) {
	_, err := DecodeTx([]byte("not json"))
	require.ErrorIs(t, err, ErrInvalidTx)

	_, err = DecodeTx([]byte(`{"type":"refund"}`))
	require.ErrorIs(t, err, ErrInvalidTx)
}

func TestApplyTx_FullFlow(t *testing.T) {
	ownerKey, ownerAddr := newKey(t)
	buyerKey, buyerAddr := newKey(t)
	l := NewLedger()
	l.Mint(buyerAddr, u256(500))

	rc := l.ApplyTx(signed(t, ownerKey, Tx{Type: TxDeployRegistry, Nonce: 0}))
	require.NoError(t, rc.Err)
	assert.Equal(t, PredictAddress(ownerAddr, 0), rc.Created)
	assert.Equal(t, uint64(1), l.Nonce(ownerAddr))
	registry := rc.Created

	predicted, err := l.PredictNext(registry)
	require.NoError(t, err)
	rc = l.ApplyTx(signed(t, ownerKey, Tx{Type: TxCreateItem, To: registry, Price: "100", Title: "Demo", Nonce: 1}))
	require.NoError(t, rc.Err)
	assert.Equal(t, predicted, rc.Created)
	require.Len(t, rc.Logs, 1)
	unit := rc.Created

	rc = l.ApplyTx(signed(t, buyerKey, Tx{Type: TxTransfer, To: unit, Value: "99", Nonce: 0}))
	require.ErrorIs(t, rc.Err, ErrImprecisePayment)
	assert.Equal(t, ErrImprecisePayment.Code, rc.Code())
	assert.Empty(t, rc.Logs)
	assert.Equal(t, uint64(1), l.Nonce(buyerAddr), "a reverted call still consumes the nonce")

	rc = l.ApplyTx(signed(t, buyerKey, Tx{Type: TxTransfer, To: unit, Value: "100", Nonce: 1}))
	require.NoError(t, rc.Err)
	assert.True(t, rc.Succeeded())
	require.Len(t, rc.Logs, 1)

	rc = l.ApplyTx(signed(t, buyerKey, Tx{Type: TxTriggerDelivery, To: registry, Index: 0, Nonce: 2}))
	require.ErrorIs(t, rc.Err, ErrUnauthorized)

	rc = l.ApplyTx(signed(t, ownerKey, Tx{Type: TxTriggerDelivery, To: registry, Index: 0, Nonce: 2}))
	require.NoError(t, rc.Err)

	e, err := l.Entry(registry, 0)
	require.NoError(t, err)
	assert.Equal(t, Delivered, e.State)
	assert.Equal(t, u256(100), l.Balance(registry))
}

func TestApplyTx_Nonce(t *testing.T) {
	key, addr := newKey(t)
	l := NewLedger()

	rc := l.ApplyTx(signed(t, key, Tx{Type: TxDeployRegistry, Nonce: 3}))
	require.ErrorIs(t, rc.Err, ErrBadNonce)
	assert.Equal(t, uint64(0), l.Nonce(addr))

	tx := signed(t, key, Tx{Type: TxDeployRegistry, Nonce: 0})
	require.NoError(t, l.ApplyTx(tx).Err)

	// replaying the same signed tx is rejected
	rc = l.ApplyTx(tx)
	require.ErrorIs(t, rc.Err, ErrBadNonce)
	require.ErrorIs(t, l.CheckTx(tx), ErrBadNonce)
}

func TestApplyTx_ExternalTriggerPayment(t *testing.T) {
	ownerKey, _ := newKey(t)
	l := NewLedger()

	rc := l.ApplyTx(signed(t, ownerKey, Tx{Type: TxDeployRegistry}))
	require.NoError(t, rc.Err)
	registry := rc.Created
	require.NoError(t, l.ApplyTx(signed(t, ownerKey, Tx{Type: TxCreateItem, To: registry, Price: "0", Title: "Free", Nonce: 1})).Err)

	// even with the right (zero) value, only the unit may call back
	rc = l.ApplyTx(signed(t, ownerKey, Tx{Type: TxTriggerPayment, To: registry, Index: 0, Nonce: 2}))
	require.ErrorIs(t, rc.Err, ErrUnauthorizedCallback)
}

func TestCheckTx(t *testing.T) {
	key, _ := newKey(t)
	l := NewLedger()

	require.NoError(t, l.CheckTx(signed(t, key, Tx{Type: TxTransfer, To: buyer, Value: "1"})))
	require.ErrorIs(t, l.CheckTx(signed(t, key, Tx{Type: TxTransfer, To: buyer, Value: "12x"})), ErrInvalidTx)
	require.ErrorIs(t, l.CheckTx(&Tx{Type: TxTransfer}), ErrInvalidTx)
}
