package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ahmadzakiakmal/escrow-ledger/settlement"
	service_registry "github.com/ahmadzakiakmal/escrow-ledger/srvreg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var unitAddr = common.HexToAddress("0xa16E02E87b7454126E5E10d957A927A7F5B5d2be")

func fakeNode(t *testing.T, received chan<- *settlement.Tx) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/account/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"address":"0x0000000000000000000000000000000000000000","balance":"1000","nonce":7}`))
	})
	mux.HandleFunc("/unit/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"unit not found"}`))
	})
	mux.HandleFunc("/tx", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		tx, err := settlement.DecodeTx(body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"bad tx"}`))
			return
		}
		received <- tx
		resp := service_registry.SubmitTxResponse{TxHash: tx.Hash().Hex(), BlockHeight: 9, Result: "OK"}
		status := http.StatusCreated
		if tx.Type == settlement.TxTransfer {
			resp.Code, resp.Result = settlement.ErrImprecisePayment.Code, settlement.ErrImprecisePayment.ID
			status = http.StatusUnprocessableEntity
		} else {
			resp.Created = &unitAddr
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLedger_Send(t *testing.T) {
	received := make(chan *settlement.Tx, 2)
	node := fakeNode(t, received)
	ledger := NewLedger(node.URL, 5*time.Second)
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	res, err := ledger.Send(ctx, key, &settlement.Tx{Type: settlement.TxDeployRegistry})
	require.NoError(t, err)
	assert.False(t, res.Reverted())
	require.NotNil(t, res.Created)
	assert.Equal(t, unitAddr, *res.Created)
	assert.Equal(t, int64(9), res.BlockHeight)

	tx := <-received
	assert.Equal(t, uint64(7), tx.Nonce)
	assert.NotEmpty(t, tx.RequestID)
	sender, err := tx.Sender()
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), sender)

	res, err = ledger.Send(ctx, key, &settlement.Tx{Type: settlement.TxTransfer, To: unitAddr, Value: "99", RequestID: "fixed"})
	require.NoError(t, err)
	assert.True(t, res.Reverted())
	assert.Equal(t, settlement.ErrImprecisePayment.ID, res.Result)
	assert.Equal(t, "fixed", (<-received).RequestID)
}

func TestLedger_Errors(t *testing.T) {
	node := fakeNode(t, make(chan *settlement.Tx, 1))
	ledger := NewLedger(node.URL, 5*time.Second)

	_, err := ledger.Unit(context.Background(), unitAddr)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "unit not found", apiErr.Message)

	account, err := ledger.Account(context.Background(), unitAddr)
	require.NoError(t, err)
	assert.Equal(t, "1000", account.Balance)
}
