package app

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ahmadzakiakmal/escrow-ledger/settlement"
	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	// AppVersion is the protocol version reported to CometBFT in Info
	AppVersion uint64 = 1

	// Version is the software version reported in Info
	Version = "1.0.0"

	// Codespace marks results produced by the settlement ledger
	Codespace = "escrow"

	// EventTx is the ABCI event carried by every executed transaction
	EventTx = "escrow_tx"

	// CodeNotFound is the query code for a unit or transaction that does not exist
	CodeNotFound uint32 = 4
)

// ErrNotFound is returned by queries for objects the ledger does not hold
var ErrNotFound = errors.New("not found")

// Application implements the ABCI interface for the nodes
type Application struct {
	badgerDB     *badger.DB
	onGoingBlock *badger.Txn
	ledger       *settlement.Ledger
	indexer      Indexer
	metrics      *Metrics
	nodeID       string
	mu           sync.Mutex
	indexMu      sync.Mutex
	config       *AppConfig
	logger       cmtlog.Logger

	lastHeight  int64
	lastAppHash []byte
	pending     *BlockResult
	pendingHash []byte
}

// AppConfig contains configuration for the application
type AppConfig struct {
	NodeID    string
	LogAllTxs bool // Whether to log every executed transaction, not just failed ones
	// IndexTimeout bounds how long Commit waits for the indexer
	IndexTimeout time.Duration
}

// GenesisAccount is a funded account in the chain's app_state
type GenesisAccount struct {
	Address common.Address `json:"address"`
	Balance string         `json:"balance"`
}

// GenesisState is the app_state section of the CometBFT genesis file
type GenesisState struct {
	Accounts []GenesisAccount `json:"accounts"`
}

// NewABCIApplication creates the application and restores the ledger from badgerDB
func NewABCIApplication(badgerDB *badger.DB, config *AppConfig, logger cmtlog.Logger, metrics *Metrics) (*Application, error) {
	if config == nil {
		config = &AppConfig{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	ledger, err := loadLedger(badgerDB)
	if err != nil {
		return nil, fmt.Errorf("restore ledger: %w", err)
	}
	height, appHash, err := lastBlock(badgerDB)
	if err != nil {
		return nil, fmt.Errorf("read last block: %w", err)
	}
	logger.Info("Ledger restored", "height", height, "app_hash", fmt.Sprintf("%X", appHash))

	return &Application{
		badgerDB:    badgerDB,
		ledger:      ledger,
		metrics:     metrics,
		nodeID:      config.NodeID,
		config:      config,
		logger:      logger,
		lastHeight:  height,
		lastAppHash: appHash,
	}, nil
}

func (app *Application) SetNodeID(id string) {
	app.nodeID = id
}

// SetIndexer registers the indexer that receives committed blocks
func (app *Application) SetIndexer(indexer Indexer) {
	app.indexer = indexer
}

// Info implements the ABCI Info method
func (app *Application) Info(_ context.Context, info *abcitypes.InfoRequest) (*abcitypes.InfoResponse, error) {
	lastBlockHeight, lastBlockAppHash, err := lastBlock(app.badgerDB)
	if err != nil {
		app.logger.Error("Error getting last block info", "err", err)
	}

	return &abcitypes.InfoResponse{
		Data:             "escrow-ledger",
		Version:          Version,
		AppVersion:       AppVersion,
		LastBlockHeight:  lastBlockHeight,
		LastBlockAppHash: lastBlockAppHash,
	}, nil
}

// Query implements the ABCI Query method. It reads committed state only.
func (app *Application) Query(_ context.Context, req *abcitypes.QueryRequest) (*abcitypes.QueryResponse, error) {
	path := strings.Trim(req.Path, "/")
	if path == "" {
		path = strings.Trim(string(req.Data), "/")
	}
	if path == "" {
		return &abcitypes.QueryResponse{
			Code: 1,
			Log:  "Empty query path",
		}, nil
	}

	value, err := app.query(strings.Split(path, "/"))
	if err != nil {
		resp := &abcitypes.QueryResponse{Code: settlement.CodeOf(err), Log: err.Error()}
		if errors.Is(err, ErrNotFound) {
			resp.Code = CodeNotFound
		}
		if kernelErr, ok := settlement.AsError(err); ok {
			resp.Codespace = Codespace
			resp.Info = kernelErr.ID
		}
		return resp, nil
	}

	b, err := json.Marshal(value)
	if err != nil {
		return &abcitypes.QueryResponse{Code: 1, Log: fmt.Sprintf("encode result: %v", err)}, nil
	}
	return &abcitypes.QueryResponse{
		Key:    []byte(path),
		Value:  b,
		Log:    "exists",
		Height: app.committedHeight(),
	}, nil
}

// CheckTx implements the ABCI CheckTx method
func (app *Application) CheckTx(
	_ context.Context,
	check *abcitypes.CheckTxRequest,
) (*abcitypes.CheckTxResponse, error) {
	tx, err := settlement.DecodeTx(check.Tx)
	if err == nil {
		app.mu.Lock()
		err = app.ledger.CheckTx(tx)
		app.mu.Unlock()
	}
	if err != nil {
		return &abcitypes.CheckTxResponse{
			Code:      settlement.CodeOf(err),
			Log:       err.Error(),
			Codespace: Codespace,
		}, nil
	}

	return &abcitypes.CheckTxResponse{
		Code: 0,
	}, nil
}

// InitChain implements the ABCI InitChain method. It replaces whatever the
// ledger held with the genesis allocation.
func (app *Application) InitChain(_ context.Context, chain *abcitypes.InitChainRequest) (*abcitypes.InitChainResponse, error) {
	genesis, err := ParseGenesis(chain.AppStateBytes)
	if err != nil {
		return nil, err
	}

	ledger := settlement.NewLedger()
	for _, acct := range genesis.Accounts {
		balance, err := uint256.FromDecimal(acct.Balance)
		if err != nil {
			return nil, fmt.Errorf("genesis account %s: balance %q: %w", acct.Address.Hex(), acct.Balance, err)
		}
		ledger.Mint(acct.Address, balance)
	}

	cs := ledger.Changes()
	appHash := calculateAppHash(nil, cs, nil)
	err = app.badgerDB.Update(func(txn *badger.Txn) error {
		if err := writeChanges(txn, cs); err != nil {
			return err
		}
		return txn.Set(keyLastBlockAppHash, appHash)
	})
	if err != nil {
		return nil, fmt.Errorf("store genesis state: %w", err)
	}
	ledger.ResetChanges()

	app.mu.Lock()
	app.ledger = ledger
	app.lastAppHash = appHash
	app.mu.Unlock()

	app.logger.Info("Genesis state loaded", "accounts", len(genesis.Accounts), "app_hash", fmt.Sprintf("%X", appHash))
	return &abcitypes.InitChainResponse{AppHash: appHash}, nil
}

// ParseGenesis decodes the app_state of the genesis file. Empty state is valid.
func ParseGenesis(appState []byte) (*GenesisState, error) {
	var genesis GenesisState
	if len(appState) == 0 {
		return &genesis, nil
	}
	if err := json.Unmarshal(appState, &genesis); err != nil {
		return nil, fmt.Errorf("decode genesis app_state: %w", err)
	}
	return &genesis, nil
}

// PrepareProposal implements the ABCI PrepareProposal method. Transactions that
// ProcessProposal would reject are left out of the block.
func (app *Application) PrepareProposal(_ context.Context, proposal *abcitypes.PrepareProposalRequest) (*abcitypes.PrepareProposalResponse, error) {
	txs := make([][]byte, 0, len(proposal.Txs))
	var size int64
	for _, txBytes := range proposal.Txs {
		tx, err := settlement.DecodeTx(txBytes)
		if err != nil {
			continue
		}
		if _, err := tx.Sender(); err != nil {
			continue
		}
		size += int64(len(txBytes))
		if size > proposal.MaxTxBytes {
			break
		}
		txs = append(txs, txBytes)
	}
	return &abcitypes.PrepareProposalResponse{Txs: txs}, nil
}

// ProcessProposal implements the ABCI ProcessProposal method
func (app *Application) ProcessProposal(
	_ context.Context,
	proposal *abcitypes.ProcessProposalRequest,
) (*abcitypes.ProcessProposalResponse, error) {
	for _, txBytes := range proposal.Txs {
		tx, err := settlement.DecodeTx(txBytes)
		if err == nil {
			_, err = tx.Sender()
		}
		if err != nil {
			app.logger.Info("Voted invalid", "height", proposal.Height, "err", err)
			return &abcitypes.ProcessProposalResponse{
				Status: abcitypes.PROCESS_PROPOSAL_STATUS_REJECT,
			}, nil
		}
	}
	return &abcitypes.ProcessProposalResponse{Status: abcitypes.
		PROCESS_PROPOSAL_STATUS_ACCEPT,
	}, nil
}

// FinalizeBlock implements the ABCI FinalizeBlock method
func (app *Application) FinalizeBlock(
	_ context.Context,
	req *abcitypes.FinalizeBlockRequest,
) (*abcitypes.FinalizeBlockResponse, error) {
	start := time.Now()
	var txResults = make([]*abcitypes.ExecTxResult, len(req.Txs))

	app.mu.Lock()
	defer app.mu.Unlock()

	if app.onGoingBlock != nil {
		app.onGoingBlock.Discard()
	}
	app.onGoingBlock = app.badgerDB.NewTransaction(true)
	block := &BlockResult{Height: req.Height, Time: req.Time}

	codes := make([]byte, 0, 4*len(req.Txs))
	for i, txBytes := range req.Txs {
		txResults[i] = app.executeTx(block, i, txBytes)
		codes = binary.BigEndian.AppendUint32(codes, txResults[i].Code)
	}

	changes := app.ledger.Changes()
	if err := writeChanges(app.onGoingBlock, changes); err != nil {
		return nil, fmt.Errorf("stage block %d: %w", req.Height, err)
	}
	block.Registries = changes.Registries
	block.Entries = changes.Entries

	if app.indexer != nil && (len(block.Txs) > 0 || len(block.Registries) > 0) {
		if err := setJSON(app.onGoingBlock, unindexedKey(req.Height), block); err != nil {
			return nil, fmt.Errorf("stage block %d for indexing: %w", req.Height, err)
		}
	}

	// calculate application hash
	appHash := app.lastAppHash
	if len(req.Txs) > 0 || !changes.Empty() {
		appHash = calculateAppHash(app.lastAppHash, changes, codes)
	}

	if err := app.onGoingBlock.Set(keyLastBlockHeight, int64ToBytes(req.Height)); err != nil {
		return nil, fmt.Errorf("store block height: %w", err)
	}
	if err := app.onGoingBlock.Set(keyLastBlockAppHash, appHash); err != nil {
		return nil, fmt.Errorf("store app hash: %w", err)
	}

	app.pending = block
	app.pendingHash = appHash

	app.metrics.BlockTxs.Observe(float64(len(req.Txs)))
	app.metrics.FinalizeSeconds.Observe(time.Since(start).Seconds())

	return &abcitypes.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   appHash,
	}, nil
}

// Commit implements the ABCI Commit method
func (app *Application) Commit(ctx context.Context, commit *abcitypes.CommitRequest) (*abcitypes.CommitResponse, error) {
	app.mu.Lock()
	if app.onGoingBlock == nil {
		app.mu.Unlock()
		return &abcitypes.CommitResponse{}, nil
	}
	err := app.onGoingBlock.Commit()
	app.onGoingBlock = nil
	if err != nil {
		app.mu.Unlock()
		return nil, fmt.Errorf("commit block: %w", err)
	}
	app.ledger.ResetChanges()

	block := app.pending
	app.lastHeight = block.Height
	app.lastAppHash = app.pendingHash
	app.pending = nil
	app.pendingHash = nil
	app.mu.Unlock()

	app.metrics.BlockHeight.Set(float64(block.Height))

	if app.indexer != nil {
		if app.config.IndexTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, app.config.IndexTimeout)
			defer cancel()
		}
		if err := app.CatchUpIndex(ctx); err != nil {
			app.logger.Error("Indexing blocks", "height", block.Height, "err", err)
		}
	}

	return &abcitypes.CommitResponse{}, nil
}

// CatchUpIndex hands the indexer every committed block it has not taken yet,
// oldest first. It stops at the first block the indexer fails on, which is
// then retried by the next call.
func (app *Application) CatchUpIndex(ctx context.Context) error {
	if app.indexer == nil {
		return nil
	}
	app.indexMu.Lock()
	defer app.indexMu.Unlock()

	var backlog []*BlockResult
	err := app.badgerDB.View(func(txn *badger.Txn) error {
		return scan(txn, prefixUnindexed, func(val []byte) error {
			block := &BlockResult{}
			if err := json.Unmarshal(val, block); err != nil {
				return err
			}
			backlog = append(backlog, block)
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("load index backlog: %w", err)
	}
	app.metrics.IndexBacklog.Set(float64(len(backlog)))

	for i, block := range backlog {
		if err := app.indexer.IndexBlock(ctx, block); err != nil {
			return fmt.Errorf("index block %d: %w", block.Height, err)
		}
		err := app.badgerDB.Update(func(txn *badger.Txn) error {
			return txn.Delete(unindexedKey(block.Height))
		})
		if err != nil {
			return fmt.Errorf("clear indexed block %d: %w", block.Height, err)
		}
		app.metrics.IndexBacklog.Set(float64(len(backlog) - i - 1))
	}
	return nil
}

// ListSnapshots implements the ABCI ListSnapshots method
func (app *Application) ListSnapshots(_ context.Context, snapshots *abcitypes.ListSnapshotsRequest) (*abcitypes.ListSnapshotsResponse, error) {
	return &abcitypes.ListSnapshotsResponse{}, nil
}

// OfferSnapshot implements the ABCI OfferSnapshot method
func (app *Application) OfferSnapshot(_ context.Context, snapshot *abcitypes.OfferSnapshotRequest) (*abcitypes.OfferSnapshotResponse, error) {
	return &abcitypes.OfferSnapshotResponse{}, nil
}

// LoadSnapshotChunk implements the ABCI LoadSnapshotChunk method
func (app *Application) LoadSnapshotChunk(_ context.Context, chunk *abcitypes.LoadSnapshotChunkRequest) (*abcitypes.LoadSnapshotChunkResponse, error) {
	return &abcitypes.LoadSnapshotChunkResponse{}, nil
}

// ApplySnapshotChunk implements the ABCI ApplySnapshotChunk method
func (app *Application) ApplySnapshotChunk(_ context.Context, chunk *abcitypes.ApplySnapshotChunkRequest) (*abcitypes.ApplySnapshotChunkResponse, error) {
	return &abcitypes.ApplySnapshotChunkResponse{
		Result: abcitypes.APPLY_SNAPSHOT_CHUNK_RESULT_ACCEPT,
	}, nil
}

// ExtendVote implements the ABCI ExtendVote method
func (app *Application) ExtendVote(_ context.Context, extend *abcitypes.ExtendVoteRequest) (*abcitypes.ExtendVoteResponse, error) {
	return &abcitypes.ExtendVoteResponse{}, nil
}

// VerifyVoteExtension implements the ABCI VerifyVoteExtension method
func (app *Application) VerifyVoteExtension(_ context.Context, verify *abcitypes.VerifyVoteExtensionRequest) (*abcitypes.VerifyVoteExtensionResponse, error) {
	return &abcitypes.VerifyVoteExtensionResponse{}, nil
}

// Helper Functions

// executeTx applies one transaction to the ledger and stages its record
func (app *Application) executeTx(block *BlockResult, index int, txBytes []byte) *abcitypes.ExecTxResult {
	tx, err := settlement.DecodeTx(txBytes)
	if err != nil {
		app.metrics.Txs.WithLabelValues("unknown", settlement.ErrInvalidTx.ID).Inc()
		return &abcitypes.ExecTxResult{
			Code:      settlement.CodeOf(err),
			Log:       settlement.ErrInvalidTx.ID,
			Info:      err.Error(),
			Codespace: Codespace,
		}
	}

	receipt := app.ledger.ApplyTx(tx)
	result := resultID(receipt.Err)
	app.metrics.Txs.WithLabelValues(string(tx.Type), result).Inc()

	record := TxRecord{
		Hash:      receipt.TxHash,
		Height:    block.Height,
		Index:     index,
		Type:      tx.Type,
		Sender:    receipt.Sender,
		RequestID: tx.RequestID,
		Code:      receipt.Code(),
	}
	if receipt.Err != nil {
		record.Error = receipt.Err.Error()
	}
	if receipt.Created != (common.Address{}) {
		created := receipt.Created
		record.Created = &created
	}

	events := []abcitypes.Event{
		{
			Type: EventTx,
			Attributes: []abcitypes.EventAttribute{
				{Key: "hash", Value: receipt.TxHash.Hex(), Index: true},
				{Key: "type", Value: string(tx.Type), Index: true},
				{Key: "sender", Value: receipt.Sender.Hex(), Index: true},
				{Key: "request_id", Value: tx.RequestID, Index: true},
				{Key: "result", Value: result, Index: true},
			},
		},
	}

	for i, log := range receipt.Logs {
		parsed, err := settlement.ParseLog(log)
		if err != nil {
			app.logger.Error("Undecodable ledger log", "tx", receipt.TxHash.Hex(), "err", err)
			continue
		}
		var name string
		var attrs []settlement.Attribute
		switch ev := parsed.(type) {
		case settlement.ItemCreated:
			name, attrs = settlement.EventItemCreated, ev.Attributes()
			app.metrics.LifecycleEvents.WithLabelValues(name, settlement.Created.String()).Inc()
		case settlement.StateChanged:
			name, attrs = settlement.EventStateChanged, ev.Attributes()
			app.metrics.LifecycleEvents.WithLabelValues(name, ev.NewState.String()).Inc()
		}
		event := abcitypes.Event{Type: name}
		for _, attr := range attrs {
			event.Attributes = append(event.Attributes, abcitypes.EventAttribute{Key: attr.Key, Value: attr.Value, Index: true})
		}
		events = append(events, event)
		block.Events = append(block.Events, LifecycleEvent{
			TxHash:   receipt.TxHash,
			Height:   block.Height,
			TxIndex:  index,
			LogIndex: i,
			Event:    parsed,
		})
	}
	block.Txs = append(block.Txs, record)

	if err := setJSON(app.onGoingBlock, txKey(receipt.TxHash), record); err != nil {
		app.logger.Error("Error storing transaction", "tx", receipt.TxHash.Hex(), "err", err)
	}

	if receipt.Err != nil || app.config.LogAllTxs {
		app.logger.Info("Executed tx", "hash", receipt.TxHash.Hex(), "type", tx.Type, "sender", receipt.Sender.Hex(), "result", result)
	}

	res := &abcitypes.ExecTxResult{
		Code:   receipt.Code(),
		Log:    result,
		Events: events,
	}
	if receipt.Err != nil {
		res.Info = receipt.Err.Error()
		res.Codespace = Codespace
	}
	if record.Created != nil {
		res.Data = record.Created.Bytes()
	}
	return res
}

// query resolves a committed-state query path
func (app *Application) query(parts []string) (any, error) {
	switch {
	case len(parts) == 2 && parts[0] == "account":
		addr, err := parseAddress(parts[1])
		if err != nil {
			return nil, err
		}
		rec := settlement.AccountRecord{Address: addr, Balance: "0"}
		if _, err := getJSON(app.badgerDB, accountKey(addr), &rec); err != nil {
			return nil, err
		}
		return rec, nil

	case len(parts) >= 2 && parts[0] == "registry":
		addr, err := parseAddress(parts[1])
		if err != nil {
			return nil, err
		}
		var rec settlement.RegistryRecord
		found, err := getJSON(app.badgerDB, registryKey(addr), &rec)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("registry %s: %w", addr.Hex(), settlement.ErrUnknownRegistry)
		}
		return app.queryRegistry(rec, parts[2:])

	case len(parts) == 2 && parts[0] == "unit":
		addr, err := parseAddress(parts[1])
		if err != nil {
			return nil, err
		}
		var rec settlement.UnitRecord
		found, err := getJSON(app.badgerDB, unitKey(addr), &rec)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("unit %s: %w", addr.Hex(), ErrNotFound)
		}
		return rec, nil

	case len(parts) == 2 && parts[0] == "tx":
		hash, err := parseHash(parts[1])
		if err != nil {
			return nil, err
		}
		var rec TxRecord
		found, err := getJSON(app.badgerDB, txKey(hash), &rec)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("tx %s: %w", parts[1], ErrNotFound)
		}
		return rec, nil
	}
	return nil, fmt.Errorf("unknown query path %q", strings.Join(parts, "/"))
}

// RegistryView is a registry header as returned by queries
type RegistryView struct {
	settlement.RegistryRecord
	NextUnit common.Address `json:"next_unit"`
}

// Prediction is the address the next created unit will receive
type Prediction struct {
	Registry common.Address `json:"registry"`
	Nonce    uint64         `json:"nonce"`
	Address  common.Address `json:"address"`
}

func (app *Application) queryRegistry(rec settlement.RegistryRecord, rest []string) (any, error) {
	switch {
	case len(rest) == 0:
		return RegistryView{RegistryRecord: rec, NextUnit: settlement.PredictAddress(rec.Address, rec.Nonce)}, nil

	case len(rest) == 1 && rest[0] == "predict":
		return Prediction{
			Registry: rec.Address,
			Nonce:    rec.Nonce,
			Address:  settlement.PredictAddress(rec.Address, rec.Nonce),
		}, nil

	case len(rest) == 1 && rest[0] == "items":
		entries := make([]settlement.EntryRecord, 0, rec.Size)
		prefix := append(append([]byte{}, prefixEntry...), rec.Address.Bytes()...)
		err := app.badgerDB.View(func(txn *badger.Txn) error {
			return scan(txn, prefix, func(val []byte) error {
				var e settlement.EntryRecord
				if err := json.Unmarshal(val, &e); err != nil {
					return err
				}
				entries = append(entries, e)
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
		return entries, nil

	case len(rest) == 2 && rest[0] == "items":
		index, err := strconv.ParseUint(rest[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("index %q: %w", rest[1], settlement.ErrUnknownItem)
		}
		var e settlement.EntryRecord
		found, err := getJSON(app.badgerDB, entryKey(rec.Address, index), &e)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("registry %s: index %d: %w", rec.Address.Hex(), index, settlement.ErrUnknownItem)
		}
		return e, nil
	}
	return nil, fmt.Errorf("unknown registry query %q", strings.Join(rest, "/"))
}

func (app *Application) committedHeight() int64 {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.lastHeight
}

// resultID is the stable identifier reported for a receipt error
func resultID(err error) string {
	if err == nil {
		return "OK"
	}
	if kernelErr, ok := settlement.AsError(err); ok {
		return kernelErr.ID
	}
	return "Internal"
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseHash(s string) (common.Hash, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid tx hash %q", s)
	}
	return common.BytesToHash(b), nil
}

// calculateAppHash chains the previous app hash with everything the block
// changed and the result code of every transaction
func calculateAppHash(prev []byte, changes *settlement.ChangeSet, codes []byte) []byte {
	hasher := sha256.New()
	hasher.Write(prev)
	b, _ := json.Marshal(changes)
	hasher.Write(b)
	hasher.Write(codes)
	return hasher.Sum(nil)
}
