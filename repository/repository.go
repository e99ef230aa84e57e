package repository

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ahmadzakiakmal/escrow-ledger/app"
	"github.com/ahmadzakiakmal/escrow-ledger/repository/models"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	cmtrpctypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// PostgreSQL error codes as constants
const (
	// Class 23: Integrity Constraint Violation
	PgErrForeignKeyViolation = "23503" // foreign_key_violation
	PgErrUniqueViolation     = "23505" // unique_violation
	PgErrCheckViolation      = "23514" // check_violation
	PgErrNotNullViolation    = "23502" // not_null_violation

	// Class 22: Data Exception
	PgErrNumericValueOutOfRange = "22003" // numeric_value_out_of_range

	// Class 42: Syntax Error or Access Rule Violation
	PgErrUndefinedTable = "42P01" // undefined_table

	// Class 08: Connection Exception
	PgErrConnectionException = "08000" // connection_exception
	PgErrConnectionFailure   = "08006" // connection_failure
)

// Repository error codes that do not come from PostgreSQL
const (
	ErrCodeDatabase          = "DATABASE_ERROR"
	ErrCodeNotFound          = "ENTITY_NOT_FOUND"
	ErrCodeNotConnected      = "NOT_CONNECTED"
	ErrCodeSerialization     = "SERIALIZATION_ERROR"
	ErrCodeConsensus         = "CONSENSUS_ERROR"
	ErrCodeConsensusTimeout  = "CONSENSUS_TIMEOUT"
	ErrCodeConsensusRejected = "CONSENSUS_REJECTED"
)

// ConsensusResult contains the result of a consensus operation
type ConsensusResult struct {
	TxHash      string
	BlockHeight int64
	Code        uint32
	Log         string
	Info        string
	Data        []byte
	Error       error
}

// RepositoryError represent an error in the repository layer (db/rpc)
type RepositoryError struct {
	Code    string
	Message string
	Detail  string
}

func (e *RepositoryError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Detail)
}

// Broadcaster submits a transaction and waits until it is in a block.
// *local.Local and *http.HTTP from cometbft/rpc/client both satisfy it.
type Broadcaster interface {
	BroadcastTxCommit(ctx context.Context, tx cmttypes.Tx) (*cmtrpctypes.ResultBroadcastTxCommit, error)
}

// Repository owns the PostgreSQL catalogue projection and the path into consensus
type Repository struct {
	db        *gorm.DB
	rpcClient Broadcaster
	logger    cmtlog.Logger
}

func NewRepository(logger cmtlog.Logger) *Repository {
	return &Repository{
		logger: logger,
	}
}

// ConnectDB opens the PostgreSQL connection, retrying while the database starts up
func (r *Repository) ConnectDB(dsn string, attempts int) error {
	var err error
	for i := range attempts {
		r.logger.Info("Connecting to Postgres", "attempt", i+1)
		var db *gorm.DB
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err == nil {
			r.db = db
			r.logger.Info("Connected to Postgres")
			return nil
		}
		r.logger.Error("Connection attempt failed", "attempt", i+1, "err", err)
		time.Sleep(2 * time.Second)
	}
	return fmt.Errorf("connect to postgres after %d attempts: %w", attempts, err)
}

// Connected reports whether a projection database is configured
func (r *Repository) Connected() bool {
	return r.db != nil
}

// Migrate creates or updates the catalogue tables
func (r *Repository) Migrate() error {
	err := r.db.AutoMigrate(
		&models.Registry{},
		&models.Item{},
		&models.LifecycleEvent{},
		&models.Transaction{},
	)
	if err != nil {
		return fmt.Errorf("migrate catalogue: %w", err)
	}
	r.logger.Info("Database migration completed successfully")
	return nil
}

func (r *Repository) SetupRpcClient(rpcClient Broadcaster) {
	r.rpcClient = rpcClient
}

// DB Operations

// IndexBlock writes the projection of a committed block. Replaying a block
// that was already indexed leaves the tables unchanged.
func (r *Repository) IndexBlock(ctx context.Context, block *app.BlockResult) error {
	if r.db == nil {
		return nil
	}
	p := ProjectBlock(block)

	err := r.db.WithContext(ctx).Transaction(func(dbTx *gorm.DB) error {
		if len(p.Registries) > 0 {
			err := dbTx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "registry_address"}},
				DoUpdates: clause.AssignmentColumns([]string{"nonce", "size", "updated_height", "updated_at"}),
				Where:     clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "registries.updated_height <= excluded.updated_height"}}},
			}).Create(&p.Registries).Error
			if err != nil {
				return err
			}
		}
		if len(p.Items) > 0 {
			err := dbTx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "registry_address"}, {Name: "item_index"}},
				DoUpdates: clause.AssignmentColumns([]string{"state", "state_code", "updated_height", "updated_at"}),
				Where:     clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "items.updated_height <= excluded.updated_height"}}},
			}).Create(&p.Items).Error
			if err != nil {
				return err
			}
		}
		if len(p.Events) > 0 {
			err := dbTx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "tx_hash"}, {Name: "log_index"}},
				DoNothing: true,
			}).Create(&p.Events).Error
			if err != nil {
				return err
			}
		}
		if len(p.Transactions) > 0 {
			err := dbTx.Clauses(clause.OnConflict{DoNothing: true}).Create(&p.Transactions).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		repoErr := toRepositoryError(err, "Failed to index block")
		if repoErr.Code == PgErrUniqueViolation {
			r.logger.Info("Block already indexed", "height", block.Height, "detail", repoErr.Detail)
			return nil
		}
		return repoErr
	}
	return nil
}

// Catalogue lists the items of a registry in index order
func (r *Repository) Catalogue(registryAddress string) (*models.Registry, *RepositoryError) {
	if r.db == nil {
		return nil, &RepositoryError{
			Code:    ErrCodeNotConnected,
			Message: "Catalogue projection is disabled",
		}
	}

	var registry models.Registry
	err := r.db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("item_index ASC")
	}).Where("registry_address = ?", registryAddress).First(&registry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &RepositoryError{
				Code:    ErrCodeNotFound,
				Message: "Registry does not exist",
				Detail:  fmt.Sprintf("Registry with address %s is not indexed", registryAddress),
			}
		}
		return nil, toRepositoryError(err, "a database error occured")
	}
	return &registry, nil
}

// ItemHistory lists the lifecycle events of one settlement unit, oldest first
func (r *Repository) ItemHistory(unitAddress string) ([]models.LifecycleEvent, *RepositoryError) {
	if r.db == nil {
		return nil, &RepositoryError{
			Code:    ErrCodeNotConnected,
			Message: "Catalogue projection is disabled",
		}
	}

	var events []models.LifecycleEvent
	err := r.db.Where("unit_address = ?", unitAddress).
		Order("block_height ASC").Order("tx_index ASC").Order("log_index ASC").
		Find(&events).Error
	if err != nil {
		return nil, toRepositoryError(err, "a database error occured")
	}
	return events, nil
}

// RunConsensus submits a signed transaction to the chain and waits for the
// block that includes it
func (r *Repository) RunConsensus(ctx context.Context, rawTx []byte) (*ConsensusResult, *RepositoryError) {
	if r.rpcClient == nil {
		return nil, &RepositoryError{
			Code:    ErrCodeNotConnected,
			Message: "No consensus client configured",
		}
	}
	consensusTx := cmttypes.Tx(rawTx)

	// Use a channel to detect both context deadline and RPC completion
	done := make(chan struct {
		result *cmtrpctypes.ResultBroadcastTxCommit
		err    error
	}, 1)

	go func() {
		result, err := r.rpcClient.BroadcastTxCommit(ctx, consensusTx)
		done <- struct {
			result *cmtrpctypes.ResultBroadcastTxCommit
			err    error
		}{result, err}
	}()

	// Wait for either the operation to complete or context to be canceled
	select {
	case <-ctx.Done():
		return nil, &RepositoryError{
			Code:    ErrCodeConsensusTimeout,
			Message: "Consensus operation timed out",
			Detail:  ctx.Err().Error(),
		}
	case result := <-done:
		if result.err != nil {
			return nil, &RepositoryError{
				Code:    ErrCodeConsensus,
				Message: "Failed to commit to blockchain",
				Detail:  result.err.Error(),
			}
		}

		// A transaction refused by the mempool never reaches a block
		if result.result.CheckTx.Code != 0 {
			return &ConsensusResult{
					TxHash: hex.EncodeToString(result.result.Hash),
					Code:   result.result.CheckTx.Code,
					Log:    result.result.CheckTx.Log,
				}, &RepositoryError{
					Code:    ErrCodeConsensusRejected,
					Message: "Blockchain rejected transaction",
					Detail:  fmt.Sprintf("CheckTx code %d: %s", result.result.CheckTx.Code, result.result.CheckTx.Log),
				}
		}

		// A reverted ledger call is still a committed transaction
		return &ConsensusResult{
			TxHash:      hex.EncodeToString(result.result.Hash),
			BlockHeight: result.result.Height,
			Code:        result.result.TxResult.Code,
			Log:         result.result.TxResult.Log,
			Info:        result.result.TxResult.Info,
			Data:        result.result.TxResult.Data,
		}, nil
	}
}

// toRepositoryError keeps the PostgreSQL code of err when there is one
func toRepositoryError(err error, message string) *RepositoryError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &RepositoryError{
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Detail:  pgErr.Detail,
		}
	}
	return &RepositoryError{
		Code:    ErrCodeDatabase,
		Message: message,
		Detail:  err.Error(),
	}
}
