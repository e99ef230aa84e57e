package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ahmadzakiakmal/escrow-ledger/app"
	"github.com/ahmadzakiakmal/escrow-ledger/repository"
	"github.com/ahmadzakiakmal/escrow-ledger/settlement"
	service_registry "github.com/ahmadzakiakmal/escrow-ledger/srvreg"
	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	cmtrpctypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var blockTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeChain struct {
	queries []string
	txs     []*cmtrpctypes.ResultTx
	block   *cmttypes.Block
}

func (f *fakeChain) Status(context.Context) (*cmtrpctypes.ResultStatus, error) {
	return nil, errors.New("status unavailable")
}

func (f *fakeChain) ABCIInfo(context.Context) (*cmtrpctypes.ResultABCIInfo, error) {
	return &cmtrpctypes.ResultABCIInfo{Response: abcitypes.InfoResponse{AppVersion: app.AppVersion, LastBlockHeight: 4}}, nil
}

func (f *fakeChain) Block(_ context.Context, height *int64) (*cmtrpctypes.ResultBlock, error) {
	if f.block == nil || *height != f.block.Height {
		return nil, errors.New("height must be less than or equal to the current blockchain height")
	}
	return &cmtrpctypes.ResultBlock{Block: f.block}, nil
}

func (f *fakeChain) TxSearch(_ context.Context, query string, _ bool, _, _ *int, _ string) (*cmtrpctypes.ResultTxSearch, error) {
	f.queries = append(f.queries, query)
	return &cmtrpctypes.ResultTxSearch{Txs: f.txs, TotalCount: len(f.txs)}, nil
}

type stubQuerier struct{}

func (stubQuerier) Query(_ context.Context, req *abcitypes.QueryRequest) (*abcitypes.QueryResponse, error) {
	if strings.HasPrefix(req.Path, "account/") {
		return &abcitypes.QueryResponse{Value: []byte(`{"balance":"1000","nonce":0}`)}, nil
	}
	return &abcitypes.QueryResponse{Code: app.CodeNotFound, Log: "not found"}, nil
}

type stubSubmitter struct{}

func (stubSubmitter) RunConsensus(context.Context, []byte) (*repository.ConsensusResult, *repository.RepositoryError) {
	return &repository.ConsensusResult{TxHash: "aa", BlockHeight: 4, Log: "OK"}, nil
}

func newTestServer(t *testing.T, chain *fakeChain) (*WebServer, *prometheus.Registry) {
	t.Helper()
	logger := cmtlog.NewNopLogger()
	sr := service_registry.NewServiceRegistry(stubQuerier{}, stubSubmitter{}, nil, logger, time.Second)
	sr.RegisterDefaultServices()

	reg := prometheus.NewRegistry()
	app.NewMetrics(reg)
	return NewWebServer("0", logger, nil, chain, sr, reg), reg
}

func get(t *testing.T, ws *WebServer, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func sampleTx(t *testing.T) *settlement.Tx {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	tx := &settlement.Tx{Type: settlement.TxDeployRegistry, RequestID: "r-1"}
	require.NoError(t, tx.Sign(key))
	return tx
}

func TestLedgerAPI(t *testing.T) {
	ws, _ := newTestServer(t, &fakeChain{})

	rec := get(t, ws, "/account/0x5FbDB2315678afecb367f032d93F642f64180aa3")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"balance":"1000","nonce":0}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = get(t, ws, "/unit/0x5FbDB2315678afecb367f032d93F642f64180aa3")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	body, err := sampleTx(t).Encode()
	require.NoError(t, err)
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tx", strings.NewReader(string(body))))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestTransactionStatus(t *testing.T) {
	tx := sampleTx(t)
	raw, err := tx.Encode()
	require.NoError(t, err)
	chain := &fakeChain{
		txs: []*cmtrpctypes.ResultTx{{
			Hash:   cmttypes.Tx(raw).Hash(),
			Height: 4,
			Tx:     raw,
			TxResult: abcitypes.ExecTxResult{
				Log: "OK",
				Events: []abcitypes.Event{
					{Type: app.EventTx, Attributes: []abcitypes.EventAttribute{
						{Key: "type", Value: string(tx.Type)},
						{Key: "sender", Value: tx.From.Hex()},
						{Key: "request_id", Value: "r-1"},
					}},
					{Type: settlement.EventItemCreated, Attributes: []abcitypes.EventAttribute{{Key: "title", Value: "Demo"}}},
					{Type: "message"},
				},
			},
		}},
		block: &cmttypes.Block{Header: cmttypes.Header{Height: 4, Time: blockTime}, Data: cmttypes.Data{Txs: cmttypes.Txs{raw, []byte("junk")}}},
	}
	ws, _ := newTestServer(t, chain)

	rec := get(t, ws, "/status/"+strings.ToUpper(tx.Hash().Hex()[2:]))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, chain.queries, 1)
	assert.Equal(t, "escrow_tx.hash='"+tx.Hash().Hex()+"'", chain.queries[0])

	var status TransactionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "OK", status.Status)
	assert.Equal(t, "r-1", status.RequestID)
	assert.Equal(t, tx.From.Hex(), status.Sender)
	assert.Equal(t, int64(4), status.BlockHeight)
	assert.True(t, blockTime.Equal(status.BlockTime))
	require.Len(t, status.Events, 1)
	assert.Equal(t, "Demo", status.Events[0].Attributes["title"])

	rec = get(t, ws, "/block/4")
	require.Equal(t, http.StatusOK, rec.Code)
	var view BlockView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.Txs, 2)
	assert.Equal(t, tx.Hash().Hex(), view.Txs[0].Hash)
	assert.Equal(t, settlement.TxDeployRegistry, view.Txs[0].Tx.Type)
	assert.NotEmpty(t, view.Txs[1].Raw)

	assert.Equal(t, http.StatusBadRequest, get(t, ws, "/block/zero").Code)
	assert.Equal(t, http.StatusNotFound, get(t, ws, "/block/9").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, ws, "/status/0x1234").Code)
}

func TestTransactionStatus_NotFound(t *testing.T) {
	ws, _ := newTestServer(t, &fakeChain{})
	rec := get(t, ws, "/status/0x"+strings.Repeat("ab", 32))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebugAndMetrics(t *testing.T) {
	ws, _ := newTestServer(t, &fakeChain{})

	rec := get(t, ws, "/debug")
	require.Equal(t, http.StatusOK, rec.Code)
	var info map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "status unavailable", info["cometbft_error"])
	assert.EqualValues(t, 4, info["last_block_height"])

	rec = get(t, ws, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "escrow_block_height")

	assert.Equal(t, http.StatusNotFound, get(t, ws, "/missing").Code)
}

func TestExtractPortFromAddress(t *testing.T) {
	assert.Equal(t, "26657", extractPortFromAddress("tcp://0.0.0.0:26657"))
	assert.Equal(t, "", extractPortFromAddress("localhost"))
}
