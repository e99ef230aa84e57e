package settlement

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// TxType selects the ledger call a transaction performs
type TxType string

const (
	TxDeployRegistry  TxType = "deploy_registry"
	TxCreateItem      TxType = "create_item"
	TxTransfer        TxType = "transfer"
	TxTriggerPayment  TxType = "trigger_payment"
	TxTriggerDelivery TxType = "trigger_delivery"
)

// Tx is the signed envelope carried in blocks. Amounts are decimal strings.
type Tx struct {
	Type      TxType         `json:"type"`
	From      common.Address `json:"from"`
	To        common.Address `json:"to"`
	Value     string         `json:"value,omitempty"`
	Index     uint64         `json:"index"`
	Price     string         `json:"price,omitempty"`
	Title     string         `json:"title,omitempty"`
	Nonce     uint64         `json:"nonce"`
	RequestID string         `json:"request_id"`
	Signature hexutil.Bytes  `json:"signature,omitempty"`
}

// DecodeTx parses a transaction from its wire form
func DecodeTx(b []byte) (*Tx, error) {
	var tx Tx
	if err := json.Unmarshal(b, &tx); err != nil {
		return nil, fmt.Errorf("decode tx: %v: %w", err, ErrInvalidTx)
	}
	switch tx.Type {
	case TxDeployRegistry, TxCreateItem, TxTransfer, TxTriggerPayment, TxTriggerDelivery:
	default:
		return nil, fmt.Errorf("decode tx: unknown type %q: %w", tx.Type, ErrInvalidTx)
	}
	return &tx, nil
}

// Encode returns the wire form of the transaction
func (tx *Tx) Encode() ([]byte, error) {
	return json.Marshal(tx)
}

// SigningHash is the hash the sender signs: keccak256 of the envelope without
// its signature.
func (tx *Tx) SigningHash() common.Hash {
	unsigned := *tx
	unsigned.Signature = nil
	b, _ := json.Marshal(&unsigned)
	return crypto.Keccak256Hash(b)
}

// Sign sets From to the key's address and signs the envelope
func (tx *Tx) Sign(key *ecdsa.PrivateKey) error {
	tx.From = crypto.PubkeyToAddress(key.PublicKey)
	sig, err := crypto.Sign(tx.SigningHash().Bytes(), key)
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}
	tx.Signature = sig
	return nil
}

// Sender recovers the signer and checks it matches From
func (tx *Tx) Sender() (common.Address, error) {
	if len(tx.Signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature length %d: %w", len(tx.Signature), ErrInvalidTx)
	}
	pub, err := crypto.SigToPub(tx.SigningHash().Bytes(), tx.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %v: %w", err, ErrInvalidTx)
	}
	signer := crypto.PubkeyToAddress(*pub)
	if signer != tx.From {
		return common.Address{}, fmt.Errorf("signer %s is not %s: %w", signer.Hex(), tx.From.Hex(), ErrInvalidTx)
	}
	return signer, nil
}

// Hash identifies the signed transaction
func (tx *Tx) Hash() common.Hash {
	b, _ := json.Marshal(tx)
	return crypto.Keccak256Hash(b)
}

// Receipt is the outcome of applying one transaction
type Receipt struct {
	TxHash common.Hash
	Sender common.Address
	Err    error
	Logs   []*types.Log
	// Created is the registry or unit address the transaction created
	Created common.Address
}

// Succeeded reports whether the ledger call applied
func (r *Receipt) Succeeded() bool {
	return r.Err == nil
}

// Code is the stable result code for the receipt
func (r *Receipt) Code() uint32 {
	return CodeOf(r.Err)
}

// CheckTx validates the envelope against current state without applying it
func (l *Ledger) CheckTx(tx *Tx) error {
	sender, err := tx.Sender()
	if err != nil {
		return err
	}
	if tx.Nonce < l.Nonce(sender) {
		return fmt.Errorf("nonce %d below account nonce %d: %w", tx.Nonce, l.Nonce(sender), ErrBadNonce)
	}
	if _, err := parseAmount(tx.Value); err != nil {
		return err
	}
	if _, err := parseAmount(tx.Price); err != nil {
		return err
	}
	return nil
}

// ApplyTx authenticates and executes one transaction. The sender's nonce
// advances whenever the envelope is valid, even if the call itself reverts.
func (l *Ledger) ApplyTx(tx *Tx) *Receipt {
	receipt := &Receipt{TxHash: tx.Hash()}

	sender, err := tx.Sender()
	if err != nil {
		receipt.Err = err
		return receipt
	}
	receipt.Sender = sender

	if nonce := l.Nonce(sender); tx.Nonce != nonce {
		receipt.Err = fmt.Errorf("nonce %d, account nonce %d: %w", tx.Nonce, nonce, ErrBadNonce)
		return receipt
	}
	value, err := parseAmount(tx.Value)
	if err != nil {
		receipt.Err = err
		return receipt
	}
	price, err := parseAmount(tx.Price)
	if err != nil {
		receipt.Err = err
		return receipt
	}

	switch tx.Type {
	case TxDeployRegistry:
		var r *Registry
		if r, err = l.DeployRegistry(sender); err == nil {
			receipt.Created = r.Address
		}
	case TxCreateItem:
		var u *Unit
		if u, err = l.CreateItem(sender, tx.To, price, tx.Title); err == nil {
			receipt.Created = u.Address
		}
	case TxTransfer:
		err = l.Transfer(sender, tx.To, value)
	case TxTriggerPayment:
		err = l.TriggerPayment(sender, tx.To, tx.Index, value)
	case TxTriggerDelivery:
		err = l.TriggerDelivery(sender, tx.To, tx.Index)
	default:
		err = fmt.Errorf("unknown tx type %q: %w", tx.Type, ErrInvalidTx)
	}
	receipt.Err = err
	if err == nil {
		receipt.Logs = l.Logs()
	}

	// DeployRegistry consumes the nonce itself when it succeeds
	if l.Nonce(sender) == tx.Nonce {
		acct := l.account(sender)
		acct.Nonce++
	}
	return receipt
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %v: %w", s, err, ErrInvalidTx)
	}
	return v, nil
}
