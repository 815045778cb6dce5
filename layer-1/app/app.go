package app

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/dgraph-io/badger/v4"

	"github.com/agritrace/agritracechain/layer-1/repository"
	"github.com/agritrace/agritracechain/layer-1/repository/models"
)

// Response codes
const (
	CodeOK uint32 = iota
	CodeInvalidTx
	CodeDatabaseError
	CodeNotFound
)

// Key prefixes in the state store
var (
	prefixTx      = []byte("tx:")
	prefixSubject = []byte("subject:")
	prefixStatus  = []byte("status:")
	prefixVerify  = []byte("verify:")

	keyLastHeight  = []byte("last_block_height")
	keyLastAppHash = []byte("last_block_app_hash")
)

// Application implements the ABCI interface for the trace ledger
type Application struct {
	badgerDB     *badger.DB
	onGoingBlock *badger.Txn
	nodeID       string
	mu           sync.Mutex
	config       *AppConfig
	logger       cmtlog.Logger
}

// AppConfig contains configuration for the L1 application
type AppConfig struct {
	NodeID    string
	LogAllTxs bool
}

// NewABCIApplication creates a new L1 ABCI application
func NewABCIApplication(badgerDB *badger.DB, config *AppConfig, logger cmtlog.Logger) *Application {
	return &Application{
		badgerDB: badgerDB,
		nodeID:   config.NodeID,
		config:   config,
		logger:   logger.With("module", "abci"),
	}
}

func (app *Application) SetNodeID(id string) {
	app.nodeID = id
}

// Info implements the ABCI Info method
func (app *Application) Info(_ context.Context, info *abcitypes.InfoRequest) (*abcitypes.InfoResponse, error) {
	lastBlockHeight := int64(0)
	var lastBlockAppHash []byte

	err := app.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyLastHeight)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		err = item.Value(func(val []byte) error {
			lastBlockHeight = bytesToInt64(val)
			return nil
		})
		if err != nil {
			return err
		}

		item, err = txn.Get(keyLastAppHash)
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err == nil {
			lastBlockAppHash, err = item.ValueCopy(nil)
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		app.logger.Error("Error getting last block info", "err", err)
	}

	return &abcitypes.InfoResponse{
		LastBlockHeight:  lastBlockHeight,
		LastBlockAppHash: lastBlockAppHash,
	}, nil
}

// Query implements the ABCI Query method.
// "verify:<hash>" returns the stored record, "subject:<id>" its record count,
// anything else is a raw key lookup.
func (app *Application) Query(_ context.Context, req *abcitypes.QueryRequest) (*abcitypes.QueryResponse, error) {
	if len(req.Data) == 0 {
		return &abcitypes.QueryResponse{
			Code: CodeInvalidTx,
			Log:  "Empty query data",
		}, nil
	}

	if hash, ok := bytes.CutPrefix(req.Data, prefixVerify); ok {
		return app.verifyTransaction(hash), nil
	}
	if subjectID, ok := bytes.CutPrefix(req.Data, prefixSubject); ok && !bytes.Contains(subjectID, []byte(":")) {
		return app.countSubject(string(subjectID)), nil
	}

	resp := abcitypes.QueryResponse{Key: req.Data}
	dbErr := app.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(req.Data)
		if err != nil {
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			resp.Code = CodeNotFound
			resp.Log = "key doesn't exist"
			return nil
		}

		resp.Log = "exists"
		resp.Value, err = item.ValueCopy(nil)
		return err
	})

	if dbErr != nil {
		app.logger.Error("Error reading database", "err", dbErr)
		return &abcitypes.QueryResponse{
			Code: CodeDatabaseError,
			Log:  fmt.Sprintf("Database error: %v", dbErr),
		}, nil
	}

	return &resp, nil
}

// verifyTransaction returns the stored record for a hash, with its status as Log
func (app *Application) verifyTransaction(txHash []byte) *abcitypes.QueryResponse {
	var resp abcitypes.QueryResponse

	err := app.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(prefixTx, string(txHash)))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				resp.Log = "Transaction not found"
				resp.Code = CodeNotFound
				return nil
			}
			return err
		}

		txData, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		status := "confirmed"
		item, err = txn.Get(key(prefixStatus, string(txHash)))
		if err == nil {
			err = item.Value(func(val []byte) error {
				status = string(val)
				return nil
			})
			if err != nil {
				return err
			}
		}

		resp.Value = txData
		resp.Log = status
		resp.Code = CodeOK
		return nil
	})

	if err != nil {
		resp.Code = CodeDatabaseError
		resp.Log = fmt.Sprintf("Database error: %v", err)
	}
	return &resp
}

// countSubject counts the records indexed under a subject
func (app *Application) countSubject(subjectID string) *abcitypes.QueryResponse {
	count := 0
	prefix := key(prefixSubject, subjectID+":")

	err := app.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return &abcitypes.QueryResponse{Code: CodeDatabaseError, Log: fmt.Sprintf("Database error: %v", err)}
	}

	value, err := json.Marshal(repository.SubjectRecords{SubjectID: subjectID, Count: count})
	if err != nil {
		return &abcitypes.QueryResponse{Code: CodeDatabaseError, Log: err.Error()}
	}
	return &abcitypes.QueryResponse{Code: CodeOK, Value: value, Log: "found"}
}

// CheckTx implements the ABCI CheckTx method
func (app *Application) CheckTx(_ context.Context, check *abcitypes.CheckTxRequest) (*abcitypes.CheckTxResponse, error) {
	if _, err := decodeCommit(check.Tx); err != nil {
		return &abcitypes.CheckTxResponse{Code: CodeInvalidTx, Log: err.Error()}, nil
	}
	return &abcitypes.CheckTxResponse{Code: CodeOK}, nil
}

// InitChain implements the ABCI InitChain method
func (app *Application) InitChain(_ context.Context, chain *abcitypes.InitChainRequest) (*abcitypes.InitChainResponse, error) {
	return &abcitypes.InitChainResponse{}, nil
}

// PrepareProposal implements the ABCI PrepareProposal method
func (app *Application) PrepareProposal(_ context.Context, proposal *abcitypes.PrepareProposalRequest) (*abcitypes.PrepareProposalResponse, error) {
	return &abcitypes.PrepareProposalResponse{Txs: proposal.Txs}, nil
}

// ProcessProposal rejects blocks carrying malformed submissions
func (app *Application) ProcessProposal(_ context.Context, proposal *abcitypes.ProcessProposalRequest) (*abcitypes.ProcessProposalResponse, error) {
	for i, txBytes := range proposal.Txs {
		commit, err := decodeCommit(txBytes)
		if err != nil {
			app.logger.Error("Invalid transaction in proposal", "index", i, "err", err)
			return &abcitypes.ProcessProposalResponse{
				Status: abcitypes.PROCESS_PROPOSAL_STATUS_REJECT,
			}, nil
		}
		if app.config.LogAllTxs {
			app.logger.Info("Validated record", "index", i, "kind", commit.Kind, "subject", commit.SubjectID)
		}
	}

	return &abcitypes.ProcessProposalResponse{
		Status: abcitypes.PROCESS_PROPOSAL_STATUS_ACCEPT,
	}, nil
}

// FinalizeBlock stores every record of the block in a pending write batch
func (app *Application) FinalizeBlock(_ context.Context, req *abcitypes.FinalizeBlockRequest) (*abcitypes.FinalizeBlockResponse, error) {
	txResults := make([]*abcitypes.ExecTxResult, len(req.Txs))

	app.mu.Lock()
	defer app.mu.Unlock()

	if app.onGoingBlock != nil {
		app.onGoingBlock.Discard()
	}
	app.onGoingBlock = app.badgerDB.NewTransaction(true)

	for i, txBytes := range req.Txs {
		commit, err := decodeCommit(txBytes)
		if err != nil {
			txResults[i] = &abcitypes.ExecTxResult{
				Code: CodeInvalidTx,
				Log:  err.Error(),
			}
			continue
		}

		record := models.LedgerRecord{
			TxHash:      TxHash(txBytes),
			BlockHeight: req.Height,
			Kind:        commit.Kind,
			SubjectID:   commit.SubjectID,
			Actor:       commit.Actor,
			SubmitterID: commit.SubmitterID,
			Payload:     []byte(commit.Payload),
			Nonce:       commit.Nonce,
			Status:      "confirmed",
			Timestamp:   req.Time.UTC(),
		}
		txResults[i] = app.storeRecord(&record)
	}

	appHash := calculateAppHash(txResults)

	if err := app.onGoingBlock.Set(keyLastHeight, int64ToBytes(req.Height)); err != nil {
		app.logger.Error("Error storing block height", "err", err)
	}
	if err := app.onGoingBlock.Set(keyLastAppHash, appHash); err != nil {
		app.logger.Error("Error storing app hash", "err", err)
	}

	return &abcitypes.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   appHash,
	}, nil
}

// storeRecord writes one record and its indexes into the ongoing block
func (app *Application) storeRecord(record *models.LedgerRecord) *abcitypes.ExecTxResult {
	raw, err := json.Marshal(record)
	if err != nil {
		return &abcitypes.ExecTxResult{Code: CodeInvalidTx, Log: err.Error()}
	}

	writes := []struct {
		key   []byte
		value []byte
	}{
		{key(prefixTx, record.TxHash), raw},
		{key(prefixSubject, record.SubjectID+":"+record.TxHash), []byte(record.TxHash)},
		{key(prefixStatus, record.TxHash), []byte(record.Status)},
	}
	for _, w := range writes {
		if err := app.onGoingBlock.Set(w.key, w.value); err != nil {
			app.logger.Error("Error storing record", "tx", record.TxHash, "err", err)
			return &abcitypes.ExecTxResult{
				Code: CodeDatabaseError,
				Log:  fmt.Sprintf("Database error: %v", err),
			}
		}
	}

	if app.config.LogAllTxs {
		app.logger.Info("Record stored", "tx", record.TxHash, "kind", record.Kind, "subject", record.SubjectID, "height", record.BlockHeight)
	}

	return &abcitypes.ExecTxResult{
		Code: CodeOK,
		Data: []byte(record.TxHash),
		Log:  record.Status,
		Events: []abcitypes.Event{
			{
				Type: "agritrace_record",
				Attributes: []abcitypes.EventAttribute{
					{Key: "tx_hash", Value: record.TxHash, Index: true},
					{Key: "kind", Value: record.Kind, Index: true},
					{Key: "subject_id", Value: record.SubjectID, Index: true},
					{Key: "submitter_id", Value: record.SubmitterID, Index: true},
				},
			},
		},
	}
}

// Commit implements the ABCI Commit method
func (app *Application) Commit(_ context.Context, commit *abcitypes.CommitRequest) (*abcitypes.CommitResponse, error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.onGoingBlock == nil {
		return &abcitypes.CommitResponse{}, nil
	}
	if err := app.onGoingBlock.Commit(); err != nil {
		app.logger.Error("Error committing block", "err", err)
		return nil, err
	}
	app.onGoingBlock = nil
	return &abcitypes.CommitResponse{}, nil
}

// Placeholder implementations for other ABCI methods
func (app *Application) ListSnapshots(_ context.Context, snapshots *abcitypes.ListSnapshotsRequest) (*abcitypes.ListSnapshotsResponse, error) {
	return &abcitypes.ListSnapshotsResponse{}, nil
}

func (app *Application) OfferSnapshot(_ context.Context, snapshot *abcitypes.OfferSnapshotRequest) (*abcitypes.OfferSnapshotResponse, error) {
	return &abcitypes.OfferSnapshotResponse{}, nil
}

func (app *Application) LoadSnapshotChunk(_ context.Context, chunk *abcitypes.LoadSnapshotChunkRequest) (*abcitypes.LoadSnapshotChunkResponse, error) {
	return &abcitypes.LoadSnapshotChunkResponse{}, nil
}

func (app *Application) ApplySnapshotChunk(_ context.Context, chunk *abcitypes.ApplySnapshotChunkRequest) (*abcitypes.ApplySnapshotChunkResponse, error) {
	return &abcitypes.ApplySnapshotChunkResponse{
		Result: abcitypes.APPLY_SNAPSHOT_CHUNK_RESULT_ACCEPT,
	}, nil
}

func (app *Application) ExtendVote(_ context.Context, extend *abcitypes.ExtendVoteRequest) (*abcitypes.ExtendVoteResponse, error) {
	return &abcitypes.ExtendVoteResponse{}, nil
}

func (app *Application) VerifyVoteExtension(_ context.Context, verify *abcitypes.VerifyVoteExtensionRequest) (*abcitypes.VerifyVoteExtensionResponse, error) {
	return &abcitypes.VerifyVoteExtensionResponse{}, nil
}

// Helper functions

// TxHash is the hex hash CometBFT reports for a transaction
func TxHash(txBytes []byte) string {
	return hex.EncodeToString(cmttypes.Tx(txBytes).Hash())
}

func decodeCommit(txBytes []byte) (*repository.CommitRequest, error) {
	var commit repository.CommitRequest
	if err := json.Unmarshal(txBytes, &commit); err != nil {
		return nil, fmt.Errorf("malformed record transaction: %w", err)
	}
	if err := commit.Validate(); err != nil {
		return nil, err
	}
	return &commit, nil
}

func key(prefix []byte, suffix string) []byte {
	k := make([]byte, 0, len(prefix)+len(suffix))
	k = append(k, prefix...)
	return append(k, suffix...)
}

// calculateAppHash calculates the application hash for the current block
func calculateAppHash(txResults []*abcitypes.ExecTxResult) []byte {
	allData := make([]byte, 0)
	for _, result := range txResults {
		allData = append(allData, result.Data...)
	}
	hash := sha256.Sum256(allData)
	return hash[:]
}

// int64ToBytes converts an int64 to bytes
func int64ToBytes(i int64) []byte {
	buf := make([]byte, 8)
	buf[0] = byte(i >> 56)
	buf[1] = byte(i >> 48)
	buf[2] = byte(i >> 40)
	buf[3] = byte(i >> 32)
	buf[4] = byte(i >> 24)
	buf[5] = byte(i >> 16)
	buf[6] = byte(i >> 8)
	buf[7] = byte(i)
	return buf
}

// bytesToInt64 converts bytes to an int64
func bytesToInt64(buf []byte) int64 {
	if len(buf) < 8 {
		return 0
	}
	return int64(buf[0])<<56 |
		int64(buf[1])<<48 |
		int64(buf[2])<<40 |
		int64(buf[3])<<32 |
		int64(buf[4])<<24 |
		int64(buf[5])<<16 |
		int64(buf[6])<<8 |
		int64(buf[7])
}
