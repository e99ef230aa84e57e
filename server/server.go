package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ahmadzakiakmal/escrow-ledger/app"
	"github.com/ahmadzakiakmal/escrow-ledger/settlement"
	service_registry "github.com/ahmadzakiakmal/escrow-ledger/srvreg"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	nm "github.com/cometbft/cometbft/node"
	cmtrpctypes "github.com/cometbft/cometbft/rpc/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ChainClient is the part of the CometBFT RPC the web server reads from.
// *local.Local satisfies it.
type ChainClient interface {
	Status(ctx context.Context) (*cmtrpctypes.ResultStatus, error)
	ABCIInfo(ctx context.Context) (*cmtrpctypes.ResultABCIInfo, error)
	Block(ctx context.Context, height *int64) (*cmtrpctypes.ResultBlock, error)
	TxSearch(ctx context.Context, query string, prove bool, page, perPage *int, orderBy string) (*cmtrpctypes.ResultTxSearch, error)
}

// WebServer handles HTTP requests
type WebServer struct {
	httpAddr        string
	server          *http.Server
	logger          cmtlog.Logger
	node            *nm.Node
	chain           ChainClient
	startTime       time.Time
	serviceRegistry *service_registry.ServiceRegistry
}

// TransactionStatus is the committed outcome of one ledger transaction
type TransactionStatus struct {
	TxHash      string           `json:"tx_hash"`
	CometTxHash string           `json:"comet_tx_hash"`
	RequestID   string           `json:"request_id,omitempty"`
	Type        string           `json:"type"`
	Sender      string           `json:"sender"`
	Status      string           `json:"status"`
	Code        uint32           `json:"code"`
	Error       string           `json:"error,omitempty"`
	BlockHeight int64            `json:"block_height"`
	BlockHash   string           `json:"block_hash,omitempty"`
	BlockTime   time.Time        `json:"block_time"`
	Events      []LifecycleEvent `json:"events"`
}

// LifecycleEvent is a decoded ItemCreated or StateChanged event
type LifecycleEvent struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// BlockView lists the decoded transactions of a block
type BlockView struct {
	Height int64     `json:"height"`
	Hash   string    `json:"hash"`
	Time   time.Time `json:"time"`
	Txs    []BlockTx `json:"txs"`
}

// BlockTx is one transaction of a block. Raw is set when it does not decode.
type BlockTx struct {
	Hash string         `json:"hash,omitempty"`
	Tx   *settlement.Tx `json:"tx,omitempty"`
	Raw  string         `json:"raw,omitempty"`
}

// NewWebServer creates a new web server. node may be nil, in which case only
// the chain client is used for status information.
func NewWebServer(
	httpPort string,
	logger cmtlog.Logger,
	node *nm.Node,
	chain ChainClient,
	serviceRegistry *service_registry.ServiceRegistry,
	gatherer prometheus.Gatherer,
) *WebServer {
	mux := http.NewServeMux()

	server := &WebServer{
		httpAddr: ":" + httpPort,
		server: &http.Server{
			Addr:              ":" + httpPort,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger:          logger,
		node:            node,
		chain:           chain,
		startTime:       time.Now(),
		serviceRegistry: serviceRegistry,
	}

	// Register routes
	mux.HandleFunc("/", server.handleRoot)
	mux.HandleFunc("/debug", server.handleDebug)
	mux.HandleFunc("/status/", server.handleTransactionStatus)
	mux.HandleFunc("/block/", server.handleBlock)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// Ledger API
	for _, prefix := range []string{"/tx", "/tx/", "/account/", "/registry/", "/unit/", "/catalogue/"} {
		mux.HandleFunc(prefix, server.handleLedgerAPI)
	}

	return server
}

// Handler exposes the router, mostly for tests
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Start starts the web server
func (ws *WebServer) Start() error {
	ws.logger.Info("Starting web server", "addr", ws.httpAddr)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error("web server error: ", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the web server
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.logger.Info("Shutting down web server")
	return ws.server.Shutdown(ctx)
}

// handleRoot handles the root endpoint which shows node status
func (ws *WebServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		JSONError(w, "Not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html")

	w.Write([]byte("<h1>Escrow Ledger Node</h1>"))
	if ws.node == nil {
		return
	}
	w.Write([]byte("<p>Node ID: " + string(ws.node.NodeInfo().ID()) + "</p>"))
	rpcPort := extractPortFromAddress(ws.node.Config().RPC.ListenAddress)
	rpcAddrHtml := fmt.Sprintf("<p>RPC Address: <a href=\"http://localhost:%s\">http://localhost:%s</a>", rpcPort, rpcPort)
	w.Write([]byte(rpcAddrHtml))
}

// handleDebug provides debugging information
func (ws *WebServer) handleDebug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	debugInfo := map[string]interface{}{
		"uptime": time.Since(ws.startTime).String(),
	}

	if ws.node != nil {
		nodeStatus := "online"
		if ws.node.ConsensusReactor().WaitSync() {
			nodeStatus = "syncing"
		}
		if !ws.node.IsListening() {
			nodeStatus = "offline"
		}
		debugInfo["node_id"] = string(ws.node.NodeInfo().ID())
		debugInfo["node_status"] = nodeStatus
		debugInfo["p2p_address"] = ws.node.Config().P2P.ListenAddress
		debugInfo["rpc_address"] = ws.node.Config().RPC.ListenAddress

		outboundPeers, inboundPeers, dialingPeers := ws.node.Switch().NumPeers()
		debugInfo["num_peers_out"] = outboundPeers
		debugInfo["num_peers_in"] = inboundPeers
		debugInfo["num_peers_dialing"] = dialingPeers
	}

	status, err := ws.chain.Status(r.Context())
	if err != nil {
		debugInfo["cometbft_error"] = err.Error()
	} else {
		debugInfo["latest_block_height"] = status.SyncInfo.LatestBlockHeight
		debugInfo["latest_block_time"] = status.SyncInfo.LatestBlockTime
		debugInfo["catching_up"] = status.SyncInfo.CatchingUp
	}

	abciInfo, err := ws.chain.ABCIInfo(r.Context())
	if err != nil {
		debugInfo["abci_error"] = err.Error()
	} else {
		debugInfo["abci_version"] = abciInfo.Response.Version
		debugInfo["app_version"] = abciInfo.Response.AppVersion
		debugInfo["last_block_height"] = abciInfo.Response.LastBlockHeight
		debugInfo["last_block_app_hash"] = fmt.Sprintf("%X", abciInfo.Response.LastBlockAppHash)
	}

	writeJSON(w, http.StatusOK, debugInfo, ws.logger)
}

// handleTransactionStatus returns the committed outcome of a transaction
func (ws *WebServer) handleTransactionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Extract transaction hash from URL
	pathParts := strings.Split(r.URL.Path, "/")
	if len(pathParts) != 3 || pathParts[1] != "status" {
		JSONError(w, "Invalid transaction hash", http.StatusBadRequest)
		return
	}
	txHash, ok := normalizeHash(pathParts[2])
	if !ok {
		JSONError(w, "Invalid transaction hash", http.StatusBadRequest)
		return
	}

	status, err := ws.checkTransactionStatus(r.Context(), txHash)
	if err != nil {
		JSONError(w, "Error checking transaction status: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if status == nil {
		JSONError(w, "Transaction not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, status, ws.logger)
}

// handleBlock decodes the ledger transactions of a block
func (ws *WebServer) handleBlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	height, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/block/"), 10, 64)
	if err != nil || height <= 0 {
		JSONError(w, "Invalid block height", http.StatusBadRequest)
		return
	}

	block, err := ws.chain.Block(r.Context(), &height)
	if err != nil {
		JSONError(w, err.Error(), http.StatusNotFound)
		return
	}
	if block.Block == nil {
		JSONError(w, "Block not found", http.StatusNotFound)
		return
	}

	view := BlockView{
		Height: block.Block.Height,
		Hash:   block.BlockID.Hash.String(),
		Time:   block.Block.Time,
		Txs:    make([]BlockTx, 0, len(block.Block.Txs)),
	}
	for _, raw := range block.Block.Txs {
		tx, err := settlement.DecodeTx(raw)
		if err != nil {
			ws.logger.Error("Failed to parse transaction", "height", height, "err", err)
			view.Txs = append(view.Txs, BlockTx{Raw: base64.StdEncoding.EncodeToString(raw)})
			continue
		}
		view.Txs = append(view.Txs, BlockTx{Hash: tx.Hash().Hex(), Tx: tx})
	}

	writeJSON(w, http.StatusOK, view, ws.logger)
}

// handleLedgerAPI routes a request through the service registry
func (ws *WebServer) handleLedgerAPI(w http.ResponseWriter, r *http.Request) {
	requestID := generateRequestID()

	request, err := service_registry.ConvertHttpRequest(r, requestID)
	if err != nil {
		JSONError(w, "Failed to convert request: "+err.Error(), http.StatusUnprocessableEntity)
		ws.logger.Error("Failed to convert HTTP request", "err", err)
		return
	}

	response, err := request.GenerateResponse(ws.serviceRegistry)
	if err != nil {
		ws.logger.Info("Request failed", "request_id", requestID, "method", request.Method, "path", request.Path, "err", err)
	}
	if response == nil {
		JSONError(w, "Failed to generate response", http.StatusInternalServerError)
		return
	}

	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(response.StatusCode)
	w.Write([]byte(response.Body))
}

// checkTransactionStatus looks a ledger transaction up by its hash
func (ws *WebServer) checkTransactionStatus(ctx context.Context, txHash string) (*TransactionStatus, error) {
	query := fmt.Sprintf("%s.hash='%s'", app.EventTx, txHash)
	res, err := ws.chain.TxSearch(ctx, query, false, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("error searching for transaction: %w", err)
	}
	if len(res.Txs) == 0 {
		return nil, nil
	}
	tx := res.Txs[0]

	status := &TransactionStatus{
		TxHash:      txHash,
		CometTxHash: tx.Hash.String(),
		Status:      tx.TxResult.Log,
		Code:        tx.TxResult.Code,
		Error:       tx.TxResult.Info,
		BlockHeight: tx.Height,
		Events:      []LifecycleEvent{},
	}

	for _, event := range tx.TxResult.Events {
		attrs := make(map[string]string, len(event.Attributes))
		for _, attr := range event.Attributes {
			attrs[attr.Key] = attr.Value
		}
		switch event.Type {
		case app.EventTx:
			status.RequestID = attrs["request_id"]
			status.Type = attrs["type"]
			status.Sender = attrs["sender"]
		case settlement.EventItemCreated, settlement.EventStateChanged:
			status.Events = append(status.Events, LifecycleEvent{Type: event.Type, Attributes: attrs})
		}
	}

	block, err := ws.chain.Block(ctx, &tx.Height)
	if err != nil {
		return nil, fmt.Errorf("error getting block: %w", err)
	}
	if block.Block != nil {
		status.BlockHash = block.BlockID.Hash.String()
		status.BlockTime = block.Block.Time
	}

	return status, nil
}

func generateRequestID() string {
	return uuid.NewString()
}

func normalizeHash(s string) (string, bool) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	if len(s) != 2*common.HashLength {
		return "", false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return "", false
		}
	}
	return "0x" + s, true
}

// extractPortFromAddress extracts the port from an address string
func extractPortFromAddress(address string) string {
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == ':' {
			return address[i+1:]
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any, logger cmtlog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		logger.Error("Failed to encode response", "err", err)
	}
}

// JSONError sends a JSON formatted error response with the given status code and message
func JSONError(w http.ResponseWriter, message string, statusCode int) {
	errorResponse := struct {
		Error string `json:"error"`
	}{
		Error: message,
	}
	jsonBytes, err := json.Marshal(errorResponse)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Set content type and status code
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	// Write JSON response
	w.Write(jsonBytes)
}
