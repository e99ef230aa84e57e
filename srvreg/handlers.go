package srvreg

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ahmadzakiakmal/escrow-ledger/app"
	"github.com/ahmadzakiakmal/escrow-ledger/repository"
	"github.com/ahmadzakiakmal/escrow-ledger/settlement"
	abcitypes "github.com/cometbft/cometbft/abci/types"
	"github.com/ethereum/go-ethereum/common"
)

var defaultHeaders = map[string]string{"Content-Type": "application/json"}

// SubmitTxResponse is returned by POST /tx once the transaction is in a block
type SubmitTxResponse struct {
	TxHash      string          `json:"tx_hash"`
	CometTxHash string          `json:"comet_tx_hash"`
	BlockHeight int64           `json:"block_height"`
	Code        uint32          `json:"code"`
	Result      string          `json:"result"`
	Error       string          `json:"error,omitempty"`
	Created     *common.Address `json:"created,omitempty"`
}

// SubmitTxHandler decodes a signed transaction, puts it through consensus and
// reports how the ledger executed it
func (sr *ServiceRegistry) SubmitTxHandler(req *Request) (*Response, error) {
	tx, err := settlement.DecodeTx([]byte(req.Body))
	if err != nil {
		return errorResponse(http.StatusBadRequest, err.Error()), err
	}
	if _, err := tx.Sender(); err != nil {
		return errorResponse(http.StatusBadRequest, err.Error()), err
	}
	raw, err := tx.Encode()
	if err != nil {
		return errorResponse(http.StatusBadRequest, err.Error()), err
	}

	ctx, cancel := context.WithTimeout(context.Background(), sr.txTimeout)
	defer cancel()

	result, repoErr := sr.submitter.RunConsensus(ctx, raw)
	if repoErr != nil {
		switch repoErr.Code {
		case repository.ErrCodeConsensusRejected:
			resp := SubmitTxResponse{TxHash: tx.Hash().Hex(), Code: result.Code, Result: resultName(result.Code), Error: result.Log}
			return jsonResponse(http.StatusBadRequest, resp), repoErr
		case repository.ErrCodeConsensusTimeout:
			return errorResponse(http.StatusGatewayTimeout, repoErr.Message), repoErr
		default:
			sr.logger.Error("Consensus failed", "tx", tx.Hash().Hex(), "err", repoErr)
			return errorResponse(http.StatusInternalServerError, repoErr.Message), repoErr
		}
	}

	resp := SubmitTxResponse{
		TxHash:      tx.Hash().Hex(),
		CometTxHash: result.TxHash,
		BlockHeight: result.BlockHeight,
		Code:        result.Code,
		Result:      result.Log,
	}
	if result.Code != 0 {
		resp.Error = result.Info
		// A reverted call is committed, but the client asked for something the
		// ledger refused
		return jsonResponse(http.StatusUnprocessableEntity, resp), nil
	}
	if len(result.Data) == common.AddressLength {
		created := common.BytesToAddress(result.Data)
		resp.Created = &created
	}
	return jsonResponse(http.StatusCreated, resp), nil
}

func (sr *ServiceRegistry) TxHandler(req *Request) (*Response, error) {
	return sr.query("tx/" + pathParam(req.Path, 2))
}

func (sr *ServiceRegistry) AccountHandler(req *Request) (*Response, error) {
	return sr.query("account/" + pathParam(req.Path, 2))
}

func (sr *ServiceRegistry) RegistryHandler(req *Request) (*Response, error) {
	return sr.query("registry/" + pathParam(req.Path, 2))
}

func (sr *ServiceRegistry) ItemsHandler(req *Request) (*Response, error) {
	return sr.query(fmt.Sprintf("registry/%s/items", pathParam(req.Path, 2)))
}

func (sr *ServiceRegistry) ItemHandler(req *Request) (*Response, error) {
	return sr.query(fmt.Sprintf("registry/%s/items/%s", pathParam(req.Path, 2), pathParam(req.Path, 4)))
}

func (sr *ServiceRegistry) PredictHandler(req *Request) (*Response, error) {
	return sr.query(fmt.Sprintf("registry/%s/predict", pathParam(req.Path, 2)))
}

func (sr *ServiceRegistry) UnitHandler(req *Request) (*Response, error) {
	return sr.query("unit/" + pathParam(req.Path, 2))
}

// CatalogueHandler lists a registry's items from the PostgreSQL projection
func (sr *ServiceRegistry) CatalogueHandler(req *Request) (*Response, error) {
	if sr.catalogue == nil {
		return errorResponse(http.StatusServiceUnavailable, "catalogue projection is disabled"), nil
	}
	address, ok := addressParam(req.Path, 2)
	if !ok {
		return errorResponse(http.StatusBadRequest, "invalid registry address"), nil
	}

	registry, repoErr := sr.catalogue.Catalogue(address)
	if repoErr != nil {
		return repositoryErrorResponse(repoErr), repoErr
	}
	return jsonResponse(http.StatusOK, registry), nil
}

// HistoryHandler lists the lifecycle events of one unit from the projection
func (sr *ServiceRegistry) HistoryHandler(req *Request) (*Response, error) {
	if sr.catalogue == nil {
		return errorResponse(http.StatusServiceUnavailable, "catalogue projection is disabled"), nil
	}
	address, ok := addressParam(req.Path, 2)
	if !ok {
		return errorResponse(http.StatusBadRequest, "invalid unit address"), nil
	}

	events, repoErr := sr.catalogue.ItemHistory(address)
	if repoErr != nil {
		return repositoryErrorResponse(repoErr), repoErr
	}
	return jsonResponse(http.StatusOK, events), nil
}

// query runs an ABCI query against committed state and maps its code to HTTP
func (sr *ServiceRegistry) query(path string) (*Response, error) {
	res, err := sr.querier.Query(context.Background(), &abcitypes.QueryRequest{Path: path})
	if err != nil {
		return errorResponse(http.StatusInternalServerError, err.Error()), err
	}

	switch res.Code {
	case 0:
		return &Response{
			StatusCode: http.StatusOK,
			Headers:    defaultHeaders,
			Body:       string(res.Value),
		}, nil
	case app.CodeNotFound, settlement.ErrUnknownItem.Code, settlement.ErrUnknownRegistry.Code:
		return errorResponse(http.StatusNotFound, res.Log), nil
	default:
		return errorResponse(http.StatusBadRequest, res.Log), nil
	}
}

func repositoryErrorResponse(repoErr *repository.RepositoryError) *Response {
	switch repoErr.Code {
	case repository.ErrCodeNotFound:
		return errorResponse(http.StatusNotFound, repoErr.Detail)
	case repository.ErrCodeNotConnected:
		return errorResponse(http.StatusServiceUnavailable, repoErr.Message)
	default:
		return errorResponse(http.StatusInternalServerError, "Internal server error")
	}
}

// pathParam returns the i-th segment of a path such as /registry/0x.../items/3
func pathParam(path string, i int) string {
	parts := strings.Split(path, "/")
	if i >= len(parts) {
		return ""
	}
	return parts[i]
}

// addressParam returns the checksummed address at segment i
func addressParam(path string, i int) (string, bool) {
	s := pathParam(path, i)
	if !common.IsHexAddress(s) {
		return "", false
	}
	return common.HexToAddress(s).Hex(), true
}

func resultName(code uint32) string {
	if e, ok := settlement.ErrorByCode(code); ok {
		return e.ID
	}
	return "Internal"
}

func jsonResponse(status int, v any) *Response {
	b, err := json.Marshal(v)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, "Failed to encode response")
	}
	return &Response{
		StatusCode: status,
		Headers:    defaultHeaders,
		Body:       string(b),
	}
}

func errorResponse(status int, message string) *Response {
	b, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: message})
	return &Response{
		StatusCode: status,
		Headers:    defaultHeaders,
		Body:       string(b),
		Error:      message,
	}
}
