package srvreg

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ahmadzakiakmal/escrow-ledger/app"
	"github.com/ahmadzakiakmal/escrow-ledger/repository"
	"github.com/ahmadzakiakmal/escrow-ledger/repository/models"
	"github.com/ahmadzakiakmal/escrow-ledger/settlement"
	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryHex = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

type fakeQuerier struct {
	paths     []string
	responses map[string]*abcitypes.QueryResponse
}

func (f *fakeQuerier) Query(_ context.Context, req *abcitypes.QueryRequest) (*abcitypes.QueryResponse, error) {
	f.paths = append(f.paths, req.Path)
	if res, ok := f.responses[req.Path]; ok {
		return res, nil
	}
	return &abcitypes.QueryResponse{Code: 1, Log: "invalid query path"}, nil
}

type fakeSubmitter struct {
	raw    []byte
	result *repository.ConsensusResult
	err    *repository.RepositoryError
}

func (f *fakeSubmitter) RunConsensus(_ context.Context, raw []byte) (*repository.ConsensusResult, *repository.RepositoryError) {
	f.raw = raw
	return f.result, f.err
}

type fakeCatalogue struct {
	registry *models.Registry
	history  []models.LifecycleEvent
	err      *repository.RepositoryError
}

func (f *fakeCatalogue) Catalogue(string) (*models.Registry, *repository.RepositoryError) {
	return f.registry, f.err
}

func (f *fakeCatalogue) ItemHistory(string) ([]models.LifecycleEvent, *repository.RepositoryError) {
	return f.history, f.err
}

func newRegistry(q Querier, s Submitter, c Catalogue) *ServiceRegistry {
	sr := NewServiceRegistry(q, s, c, cmtlog.NewNopLogger(), time.Second)
	sr.RegisterDefaultServices()
	return sr
}

func do(t *testing.T, sr *ServiceRegistry, method, path, body string) *Response {
	t.Helper()
	req := &Request{Method: method, Path: path, Body: body}
	res, _ := req.GenerateResponse(sr)
	require.NotNil(t, res)
	return res
}

func signedTransfer(t *testing.T) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := common.HexToAddress("0xa16E02E87b7454126E5E10d957A927A7F5B5d2be")
	tx := &settlement.Tx{Type: settlement.TxTransfer, To: to, Value: "100", Nonce: 0}
	require.NoError(t, tx.Sign(key))
	raw, err := tx.Encode()
	require.NoError(t, err)
	return string(raw)
}

func TestMatchPath(t *testing.T) {
	assert.True(t, matchPath("/unit/:address", "/unit/0xabc"))
	assert.True(t, matchPath("/registry/:address/items/:index", "/registry/0xabc/items/3"))
	assert.False(t, matchPath("/unit/:address", "/unit/"))
	assert.False(t, matchPath("/unit/:address", "/unit/0xabc/history"))
	assert.False(t, matchPath("/registry/:address/items", "/registry/0xabc/predict"))
}

func TestGetHandlerForPath(t *testing.T) {
	sr := newRegistry(&fakeQuerier{}, &fakeSubmitter{}, nil)

	_, ok := sr.GetHandlerForPath("POST", "/tx")
	assert.True(t, ok)
	_, ok = sr.GetHandlerForPath("get", "/registry/0xabc/items/1")
	assert.True(t, ok)
	_, ok = sr.GetHandlerForPath("GET", "/tx")
	assert.False(t, ok)
	_, ok = sr.GetHandlerForPath("DELETE", "/unit/0xabc")
	assert.False(t, ok)

	res := do(t, sr, "GET", "/nothing/here", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestQueryHandlers(t *testing.T) {
	q := &fakeQuerier{responses: map[string]*abcitypes.QueryResponse{
		"registry/" + registryHex + "/items/0": {Value: []byte(`{"index":0}`)},
		"registry/" + registryHex + "/items/9": {Code: settlement.ErrUnknownItem.Code, Log: "UnknownItem"},
		"unit/0x01":                            {Code: app.CodeNotFound, Log: "not found"},
	}}
	sr := newRegistry(q, &fakeSubmitter{}, nil)

	res := do(t, sr, "GET", "/registry/"+registryHex+"/items/0", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"index":0}`, res.Body)

	res = do(t, sr, "GET", "/registry/"+registryHex+"/items/9", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res = do(t, sr, "GET", "/unit/0x01", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res = do(t, sr, "GET", "/account/zz", "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	do(t, sr, "GET", "/registry/"+registryHex+"/predict", "")
	do(t, sr, "GET", "/registry/"+registryHex+"/items", "")
	do(t, sr, "GET", "/tx/0xabc", "")
	assert.Contains(t, q.paths, "registry/"+registryHex+"/predict")
	assert.Contains(t, q.paths, "registry/"+registryHex+"/items")
	assert.Contains(t, q.paths, "tx/0xabc")
}

func TestSubmitTxHandler(t *testing.T) {
	created := common.HexToAddress("0xa16E02E87b7454126E5E10d957A927A7F5B5d2be")
	s := &fakeSubmitter{result: &repository.ConsensusResult{
		TxHash: "abcd", BlockHeight: 5, Code: 0, Log: "OK", Data: created.Bytes(),
	}}
	sr := newRegistry(&fakeQuerier{}, s, nil)

	body := signedTransfer(t)
	res := do(t, sr, "POST", "/tx", body)
	require.Equal(t, http.StatusCreated, res.StatusCode, res.Body)

	var out SubmitTxResponse
	require.NoError(t, json.Unmarshal([]byte(res.Body), &out))
	assert.Equal(t, int64(5), out.BlockHeight)
	assert.Equal(t, "OK", out.Result)
	require.NotNil(t, out.Created)
	assert.Equal(t, created, *out.Created)

	tx, err := settlement.DecodeTx(s.raw)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash().Hex(), out.TxHash)
}

func TestSubmitTxHandler_Failures(t *testing.T) {
	body := signedTransfer(t)

	sr := newRegistry(&fakeQuerier{}, &fakeSubmitter{}, nil)
	res := do(t, sr, "POST", "/tx", `{"type":"transfer"}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res = do(t, sr, "POST", "/tx", "not json")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	reverted := &fakeSubmitter{result: &repository.ConsensusResult{
		BlockHeight: 3, Code: settlement.ErrNotPayable.Code, Log: "NotPayable", Info: settlement.ErrNotPayable.Error(),
	}}
	res = do(t, newRegistry(&fakeQuerier{}, reverted, nil), "POST", "/tx", body)
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
	assert.Contains(t, res.Body, "NotPayable")

	rejected := &fakeSubmitter{
		result: &repository.ConsensusResult{Code: settlement.ErrBadNonce.Code, Log: "stale nonce"},
		err:    &repository.RepositoryError{Code: repository.ErrCodeConsensusRejected},
	}
	res = do(t, newRegistry(&fakeQuerier{}, rejected, nil), "POST", "/tx", body)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Contains(t, res.Body, "BadNonce")

	timeout := &fakeSubmitter{err: &repository.RepositoryError{Code: repository.ErrCodeConsensusTimeout, Message: "timed out"}}
	res = do(t, newRegistry(&fakeQuerier{}, timeout, nil), "POST", "/tx", body)
	assert.Equal(t, http.StatusGatewayTimeout, res.StatusCode)

	broken := &fakeSubmitter{err: &repository.RepositoryError{Code: repository.ErrCodeConsensus, Message: "node down"}}
	res = do(t, newRegistry(&fakeQuerier{}, broken, nil), "POST", "/tx", body)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
}

func TestCatalogueHandlers(t *testing.T) {
	sr := newRegistry(&fakeQuerier{}, &fakeSubmitter{}, nil)
	res := do(t, sr, "GET", "/catalogue/"+registryHex, "")
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)

	c := &fakeCatalogue{
		registry: &models.Registry{Address: registryHex, Items: []models.Item{{Index: 0, Title: "Demo", State: "Paid"}}},
		history:  []models.LifecycleEvent{{Event: settlement.EventItemCreated, NewState: "Created"}},
	}
	sr = newRegistry(&fakeQuerier{}, &fakeSubmitter{}, c)

	res = do(t, sr, "GET", "/catalogue/"+strings.ToLower(registryHex), "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.Body, `"Demo"`)

	res = do(t, sr, "GET", "/unit/"+registryHex+"/history", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.Body, settlement.EventItemCreated)

	res = do(t, sr, "GET", "/catalogue/nope", "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	c.err = &repository.RepositoryError{Code: repository.ErrCodeNotFound, Detail: "not indexed"}
	res = do(t, sr, "GET", "/catalogue/"+registryHex, "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestConvertHttpRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/tx", strings.NewReader("{ \"a\" : 1 }\n"))
	r.Header.Set("Content-Type", "application/json")

	req, err := ConvertHttpRequest(r, "req-1")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, req.Body)
	assert.Equal(t, "/tx", req.Path)
	assert.Equal(t, "req-1", req.RequestID)
	assert.Equal(t, "application/json", req.Headers["Content-Type"])
}
