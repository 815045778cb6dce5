package repository

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	cmtbytes "github.com/cometbft/cometbft/libs/bytes"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	cmtrpctypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/agritrace/agritracechain/layer-1/repository/models"
)

// PostgreSQL error codes
const (
	PgErrForeignKeyViolation = "23503"
	PgErrUniqueViolation     = "23505"
)

// Repository error codes
const (
	CodeSubmitterNotFound   = "SUBMITTER_NOT_FOUND"
	CodeRecordExists        = "RECORD_EXISTS"
	CodeTransactionNotFound = "TRANSACTION_NOT_FOUND"
	CodeInvalidSubmission   = "INVALID_SUBMISSION"
	CodeSerialization       = "SERIALIZATION_ERROR"
	CodeConsensusTimeout    = "CONSENSUS_TIMEOUT"
	CodeConsensusError      = "CONSENSUS_ERROR"
	CodeDatabaseError       = "DATABASE_ERROR"
	CodeUnavailable         = "DB_UNAVAILABLE"
)

// Record kinds accepted on the ledger
var ValidKinds = map[string]bool{
	"product.register":  true,
	"product.update":    true,
	"product.transport": true,
	"payment":           true,
	"complaint":         true,
}

// ConsensusResult contains the result of L1 consensus
type ConsensusResult struct {
	TxHash      string
	BlockHeight int64
	Code        uint32
}

// RepositoryError represents repository layer errors
type RepositoryError struct {
	Code    string
	Message string
	Detail  string
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
}

// CommitRequest is a trace record submitted by an API node
type CommitRequest struct {
	SubmitterID string          `json:"submitter_id"`
	Kind        string          `json:"kind"`
	SubjectID   string          `json:"subject_id"`
	Actor       string          `json:"actor"`
	Payload     json.RawMessage `json:"payload"`
	Nonce       string          `json:"nonce"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Validate checks the fields every record must carry
func (c *CommitRequest) Validate() error {
	if c.SubmitterID == "" || c.Kind == "" || c.SubjectID == "" {
		return errors.New("missing required fields: submitter_id, kind, subject_id")
	}
	if !ValidKinds[c.Kind] {
		return fmt.Errorf("unknown record kind %q", c.Kind)
	}
	return nil
}

// SubjectRecords is the ledger view of one subject
type SubjectRecords struct {
	SubjectID string                `json:"subject_id"`
	Count     int                   `json:"count"`
	Records   []models.LedgerRecord `json:"records"`
}

// ChainClient is the part of the CometBFT RPC the repository uses
type ChainClient interface {
	BroadcastTxCommit(ctx context.Context, tx cmttypes.Tx) (*cmtrpctypes.ResultBroadcastTxCommit, error)
	ABCIQuery(ctx context.Context, path string, data cmtbytes.HexBytes) (*cmtrpctypes.ResultABCIQuery, error)
}

type Repository struct {
	db        *gorm.DB
	rpcClient ChainClient
	logger    cmtlog.Logger
}

func NewRepository(logger cmtlog.Logger) *Repository {
	return &Repository{logger: logger.With("module", "repository")}
}

// ConnectDB connects to PostgreSQL, retrying while the database starts up
func (r *Repository) ConnectDB(dsn string) error {
	return r.Open(postgres.Open(dsn), 10, 2*time.Second)
}

// Open connects through dialector, then migrates and seeds
func (r *Repository) Open(dialector gorm.Dialector, tries int, backoff time.Duration) error {
	var lastErr error
	for i := range tries {
		r.logger.Info("Connection attempt", "attempt", i+1)
		db, err := gorm.Open(dialector, &gorm.Config{
			TranslateError: true,
			Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			lastErr = err
			r.logger.Error("Connection attempt failed", "attempt", i+1, "err", err)
			time.Sleep(backoff)
			continue
		}
		r.db = db
		break
	}
	if r.db == nil {
		return fmt.Errorf("failed to connect to DB after %d attempts: %w", tries, lastErr)
	}

	if err := r.Migrate(); err != nil {
		return err
	}
	if err := r.Seed(); err != nil {
		return err
	}
	r.logger.Info("Connected to DB and completed setup")
	return nil
}

// Migrate performs database schema migrations
func (r *Repository) Migrate() error {
	// Submitter first, records reference it
	if err := r.db.AutoMigrate(&models.Submitter{}); err != nil {
		return fmt.Errorf("migrating submitters: %w", err)
	}
	if err := r.db.AutoMigrate(&models.LedgerRecord{}); err != nil {
		return fmt.Errorf("migrating ledger records: %w", err)
	}
	r.logger.Info("✓ Database migration completed")
	return nil
}

// Seed registers the known API nodes
func (r *Repository) Seed() error {
	var count int64
	if err := r.db.Model(&models.Submitter{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		r.logger.Info("Seed data already exists, skipping...")
		return nil
	}

	submitters := []models.Submitter{
		{SubmitterID: "agritrace-api-1", Name: "AgriTrace API node 1", Status: "active"},
		{SubmitterID: "agritrace-api-2", Name: "AgriTrace API node 2", Status: "active"},
	}
	for i := range submitters {
		if err := r.db.Create(&submitters[i]).Error; err != nil {
			return fmt.Errorf("creating submitter %s: %w", submitters[i].SubmitterID, err)
		}
	}
	r.logger.Info("Database seeding completed", "submitters", len(submitters))
	return nil
}

// SetupRpcClient configures the RPC client for BFT consensus
func (r *Repository) SetupRpcClient(rpcClient ChainClient) {
	r.rpcClient = rpcClient
}

func (r *Repository) ready() *RepositoryError {
	if r.db == nil {
		return &RepositoryError{Code: CodeUnavailable, Message: "Database is not connected", Detail: "ConnectDB has not succeeded"}
	}
	return nil
}

// CommitRecord runs a submission through consensus and indexes the confirmed record
func (r *Repository) CommitRecord(ctx context.Context, commitReq *CommitRequest) (*models.LedgerRecord, *RepositoryError) {
	if rerr := r.ready(); rerr != nil {
		return nil, rerr
	}
	if err := commitReq.Validate(); err != nil {
		return nil, &RepositoryError{Code: CodeInvalidSubmission, Message: "Invalid submission", Detail: err.Error()}
	}

	// Verify submitter is known
	var submitter models.Submitter
	err := r.db.WithContext(ctx).Where("submitter_id = ?", commitReq.SubmitterID).First(&submitter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &RepositoryError{
				Code:    CodeSubmitterNotFound,
				Message: "Unknown submitter",
				Detail:  fmt.Sprintf("Submitter %s not registered in L1", commitReq.SubmitterID),
			}
		}
		return nil, &RepositoryError{Code: CodeDatabaseError, Message: "Database error", Detail: err.Error()}
	}
	if submitter.Status != "active" {
		return nil, &RepositoryError{
			Code:    CodeSubmitterNotFound,
			Message: "Inactive submitter",
			Detail:  fmt.Sprintf("Submitter %s is %s", submitter.SubmitterID, submitter.Status),
		}
	}

	consensusResult, repoErr := r.RunConsensus(ctx, commitReq)
	if repoErr != nil {
		return nil, repoErr
	}

	record := models.LedgerRecord{
		TxHash:      consensusResult.TxHash,
		BlockHeight: consensusResult.BlockHeight,
		Kind:        commitReq.Kind,
		SubjectID:   commitReq.SubjectID,
		Actor:       commitReq.Actor,
		SubmitterID: commitReq.SubmitterID,
		Payload:     []byte(commitReq.Payload),
		Nonce:       commitReq.Nonce,
		Status:      "confirmed",
		Timestamp:   time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, &RepositoryError{
				Code:    CodeRecordExists,
				Message: "Record already exists",
				Detail:  fmt.Sprintf("Record %s already committed", record.TxHash),
			}
		}
		return nil, &RepositoryError{Code: CodeDatabaseError, Message: "Failed to index record", Detail: err.Error()}
	}

	return &record, nil
}

// RunConsensus submits data to L1 BFT consensus
func (r *Repository) RunConsensus(ctx context.Context, payload any) (*ConsensusResult, *RepositoryError) {
	if r.rpcClient == nil {
		return nil, &RepositoryError{Code: CodeConsensusError, Message: "Consensus client not configured", Detail: "SetupRpcClient was not called"}
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, &RepositoryError{
			Code:    CodeSerialization,
			Message: "Failed to serialize consensus payload",
			Detail:  err.Error(),
		}
	}

	consensusTx := cmttypes.Tx(payloadBytes)

	type broadcastResult struct {
		result *cmtrpctypes.ResultBroadcastTxCommit
		err    error
	}
	done := make(chan broadcastResult, 1)

	go func() {
		result, err := r.rpcClient.BroadcastTxCommit(ctx, consensusTx)
		done <- broadcastResult{result, err}
	}()

	select {
	case <-ctx.Done():
		return nil, &RepositoryError{
			Code:    CodeConsensusTimeout,
			Message: "Consensus operation timed out",
			Detail:  ctx.Err().Error(),
		}
	case result := <-done:
		if result.err != nil {
			return nil, &RepositoryError{
				Code:    CodeConsensusError,
				Message: "Failed to commit to blockchain",
				Detail:  result.err.Error(),
			}
		}
		if result.result.CheckTx.Code != 0 {
			return nil, &RepositoryError{
				Code:    CodeConsensusError,
				Message: "Blockchain rejected transaction",
				Detail:  fmt.Sprintf("CheckTx code %d: %s", result.result.CheckTx.Code, result.result.CheckTx.Log),
			}
		}
		if result.result.TxResult.Code != 0 {
			return nil, &RepositoryError{
				Code:    CodeConsensusError,
				Message: "Blockchain failed to execute transaction",
				Detail:  fmt.Sprintf("FinalizeBlock code %d: %s", result.result.TxResult.Code, result.result.TxResult.Log),
			}
		}

		return &ConsensusResult{
			TxHash:      hex.EncodeToString(result.result.Hash),
			BlockHeight: result.result.Height,
			Code:        result.result.CheckTx.Code,
		}, nil
	}
}

// GetRecord retrieves a record by transaction hash. Records committed through another
// validator's API are missing from the local index and are read from chain state.
func (r *Repository) GetRecord(ctx context.Context, txHash string) (*models.LedgerRecord, *RepositoryError) {
	if rerr := r.ready(); rerr != nil {
		return nil, rerr
	}
	txHash = normalizeHash(txHash)

	var record models.LedgerRecord
	err := r.db.WithContext(ctx).Where("tx_hash = ?", txHash).First(&record).Error
	if err == nil {
		return &record, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &RepositoryError{Code: CodeDatabaseError, Message: "Failed to query record", Detail: err.Error()}
	}

	onChain, rerr := r.queryChainRecord(ctx, txHash)
	if rerr != nil {
		return nil, rerr
	}
	if onChain == nil {
		return nil, &RepositoryError{
			Code:    CodeTransactionNotFound,
			Message: "Transaction not found",
			Detail:  fmt.Sprintf("Transaction with hash %s not found", txHash),
		}
	}
	return onChain, nil
}

// GetSubjectRecords lists the indexed records of a subject. Count comes from chain
// state when a consensus client is available.
func (r *Repository) GetSubjectRecords(ctx context.Context, subjectID string) (*SubjectRecords, *RepositoryError) {
	if rerr := r.ready(); rerr != nil {
		return nil, rerr
	}

	var records []models.LedgerRecord
	err := r.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("block_height ASC").
		Find(&records).Error
	if err != nil {
		return nil, &RepositoryError{Code: CodeDatabaseError, Message: "Failed to query subject records", Detail: err.Error()}
	}

	result := &SubjectRecords{SubjectID: subjectID, Count: len(records), Records: records}
	if r.rpcClient != nil {
		count, rerr := r.queryChainCount(ctx, subjectID)
		if rerr != nil {
			return nil, rerr
		}
		if count > result.Count {
			result.Count = count
		}
	}
	return result, nil
}

// GetAllSubmitters returns the registered API nodes
func (r *Repository) GetAllSubmitters(ctx context.Context) ([]models.Submitter, *RepositoryError) {
	if rerr := r.ready(); rerr != nil {
		return nil, rerr
	}
	var submitters []models.Submitter
	if err := r.db.WithContext(ctx).Order("submitter_id ASC").Find(&submitters).Error; err != nil {
		return nil, &RepositoryError{Code: CodeDatabaseError, Message: "Failed to query submitters", Detail: err.Error()}
	}
	return submitters, nil
}

func (r *Repository) queryChainRecord(ctx context.Context, txHash string) (*models.LedgerRecord, *RepositoryError) {
	if r.rpcClient == nil {
		return nil, nil
	}
	res, err := r.rpcClient.ABCIQuery(ctx, "", []byte("verify:"+txHash))
	if err != nil {
		return nil, &RepositoryError{Code: CodeConsensusError, Message: "Failed to query chain state", Detail: err.Error()}
	}
	if res.Response.Code != 0 || len(res.Response.Value) == 0 {
		return nil, nil
	}

	var record models.LedgerRecord
	if err := json.Unmarshal(res.Response.Value, &record); err != nil {
		return nil, &RepositoryError{Code: CodeSerialization, Message: "Malformed chain record", Detail: err.Error()}
	}
	return &record, nil
}

func (r *Repository) queryChainCount(ctx context.Context, subjectID string) (int, *RepositoryError) {
	res, err := r.rpcClient.ABCIQuery(ctx, "", []byte("subject:"+subjectID))
	if err != nil {
		return 0, &RepositoryError{Code: CodeConsensusError, Message: "Failed to query chain state", Detail: err.Error()}
	}
	if res.Response.Code != 0 {
		return 0, nil
	}
	var count SubjectRecords
	if err := json.Unmarshal(res.Response.Value, &count); err != nil {
		return 0, &RepositoryError{Code: CodeSerialization, Message: "Malformed subject count", Detail: err.Error()}
	}
	return count.Count, nil
}

// normalizeHash accepts hashes with or without a 0x prefix, in either case
func normalizeHash(txHash string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(txHash, "0x"), "0X"))
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == PgErrUniqueViolation {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
