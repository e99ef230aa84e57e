package client

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"time"

	"github.com/ahmadzakiakmal/escrow-ledger/app"
	"github.com/ahmadzakiakmal/escrow-ledger/settlement"
	service_registry "github.com/ahmadzakiakmal/escrow-ledger/srvreg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// APIError is a non-success answer from the node
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("node returned %d: %s", e.StatusCode, e.Message)
}

// Result is the outcome of a submitted transaction. A reverted call has a
// non-zero Code and is still a committed transaction.
type Result struct {
	service_registry.SubmitTxResponse
	Latency time.Duration
}

// Reverted reports whether the ledger refused the call
func (r *Result) Reverted() bool {
	return r.Code != 0
}

// Ledger is a typed client for the escrow node API
type Ledger struct {
	http    *HTTPClient
	timeout time.Duration
}

func NewLedger(baseURL string, timeout time.Duration) *Ledger {
	return &Ledger{http: NewHTTPClient(baseURL), timeout: timeout}
}

func (l *Ledger) opts(ctx context.Context) *RequestOptions {
	return &RequestOptions{
		Headers: map[string]string{"Accept": "application/json"},
		Timeout: l.timeout,
		Context: ctx,
	}
}

func (l *Ledger) get(ctx context.Context, endpoint string, target any) error {
	resp, err := l.http.GET(endpoint, l.opts(ctx))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return UnmarshalBody(resp, target)
}

func (l *Ledger) Account(ctx context.Context, address common.Address) (*settlement.AccountRecord, error) {
	var rec settlement.AccountRecord
	if err := l.get(ctx, "/account/"+address.Hex(), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (l *Ledger) Registry(ctx context.Context, address common.Address) (*app.RegistryView, error) {
	var view app.RegistryView
	if err := l.get(ctx, "/registry/"+address.Hex(), &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Predict returns the address the registry's next item will settle at
func (l *Ledger) Predict(ctx context.Context, registry common.Address) (*app.Prediction, error) {
	var p app.Prediction
	if err := l.get(ctx, "/registry/"+registry.Hex()+"/predict", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (l *Ledger) Item(ctx context.Context, registry common.Address, index uint64) (*settlement.EntryRecord, error) {
	var e settlement.EntryRecord
	if err := l.get(ctx, fmt.Sprintf("/registry/%s/items/%d", registry.Hex(), index), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (l *Ledger) Unit(ctx context.Context, address common.Address) (*settlement.UnitRecord, error) {
	var u settlement.UnitRecord
	if err := l.get(ctx, "/unit/"+address.Hex(), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Submit posts an already signed transaction and waits for its block
func (l *Ledger) Submit(ctx context.Context, tx *settlement.Tx) (*Result, error) {
	resp, err := l.http.POST("/tx", tx, l.opts(ctx))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusUnprocessableEntity {
		return nil, apiError(resp)
	}
	result := &Result{Latency: resp.Latency}
	if err := UnmarshalBody(resp, &result.SubmitTxResponse); err != nil {
		return nil, err
	}
	return result, nil
}

// Send fills in the sender's current nonce and a request id, signs tx with key
// and submits it
func (l *Ledger) Send(ctx context.Context, key *ecdsa.PrivateKey, tx *settlement.Tx) (*Result, error) {
	account, err := l.Account(ctx, crypto.PubkeyToAddress(key.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	tx.Nonce = account.Nonce
	if tx.RequestID == "" {
		tx.RequestID = uuid.NewString()
	}
	if err := tx.Sign(key); err != nil {
		return nil, err
	}
	return l.Submit(ctx, tx)
}

func apiError(resp *Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := UnmarshalBody(resp, &body); err != nil || body.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: string(resp.Body)}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
}
