package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtbytes "github.com/cometbft/cometbft/libs/bytes"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	cmtrpctypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"github.com/agritrace/agritracechain/layer-1/repository/models"
)

// fakeChain commits every tx into its own block and answers state queries from them
type fakeChain struct {
	mu       sync.Mutex
	height   int64
	records  map[string]models.LedgerRecord
	err      error
	execCode uint32
}

func newFakeChain() *fakeChain {
	return &fakeChain{records: map[string]models.LedgerRecord{}}
}

func (f *fakeChain) BroadcastTxCommit(_ context.Context, tx cmttypes.Tx) (*cmtrpctypes.ResultBroadcastTxCommit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.height++
	return &cmtrpctypes.ResultBroadcastTxCommit{
		TxResult: abcitypes.ExecTxResult{Code: f.execCode},
		Hash:     tx.Hash(),
		Height:   f.height,
	}, nil
}

func (f *fakeChain) ABCIQuery(_ context.Context, _ string, data cmtbytes.HexBytes) (*cmtrpctypes.ResultABCIQuery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	query := string(data)

	var hash string
	if _, err := fmt.Sscanf(query, "verify:%s", &hash); err == nil {
		rec, ok := f.records[hash]
		if !ok {
			return &cmtrpctypes.ResultABCIQuery{Response: abcitypes.QueryResponse{Code: 3}}, nil
		}
		value, _ := json.Marshal(rec)
		return &cmtrpctypes.ResultABCIQuery{Response: abcitypes.QueryResponse{Value: value}}, nil
	}

	var subject string
	if _, err := fmt.Sscanf(query, "subject:%s", &subject); err == nil {
		count := 0
		for _, rec := range f.records {
			if rec.SubjectID == subject {
				count++
			}
		}
		value, _ := json.Marshal(SubjectRecords{SubjectID: subject, Count: count})
		return &cmtrpctypes.ResultABCIQuery{Response: abcitypes.QueryResponse{Value: value}}, nil
	}
	return &cmtrpctypes.ResultABCIQuery{Response: abcitypes.QueryResponse{Code: 1}}, nil
}

func newTestRepository(t *testing.T) (*Repository, *fakeChain) {
	t.Helper()
	repo := NewRepository(cmtlog.NewNopLogger())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	require.NoError(t, repo.Open(sqlite.Open(dsn), 1, time.Millisecond))
	chain := newFakeChain()
	repo.SetupRpcClient(chain)
	return repo, chain
}

func submission(kind, subject, nonce string) *CommitRequest {
	return &CommitRequest{
		SubmitterID: "agritrace-api-1",
		Kind:        kind,
		SubjectID:   subject,
		Actor:       "0x1111111111111111111111111111111111111111",
		Payload:     json.RawMessage(`{"location":"Da Lat"}`),
		Nonce:       nonce,
		Timestamp:   time.Now().UTC(),
	}
}

func TestSeedSubmitters(t *testing.T) {
	repo, _ := newTestRepository(t)

	submitters, rerr := repo.GetAllSubmitters(context.Background())
	require.Nil(t, rerr)
	require.Len(t, submitters, 2)
	assert.Equal(t, "agritrace-api-1", submitters[0].SubmitterID)

	// seeding twice is a no-op
	require.NoError(t, repo.Seed())
	submitters, rerr = repo.GetAllSubmitters(context.Background())
	require.Nil(t, rerr)
	assert.Len(t, submitters, 2)
}

func TestCommitRecord(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	record, rerr := repo.CommitRecord(ctx, submission("product.register", "prod_1", "n1"))
	require.Nil(t, rerr)
	assert.Equal(t, int64(1), record.BlockHeight)
	assert.Len(t, record.TxHash, 64)
	assert.Equal(t, "confirmed", record.Status)

	got, rerr := repo.GetRecord(ctx, "0x"+record.TxHash)
	require.Nil(t, rerr)
	assert.Equal(t, record.TxHash, got.TxHash)
	assert.Equal(t, "product.register", got.Kind)
	assert.JSONEq(t, `{"location":"Da Lat"}`, string(got.Payload))
}

func TestCommitRecordRejections(t *testing.T) {
	repo, chain := newTestRepository(t)
	ctx := context.Background()

	_, rerr := repo.CommitRecord(ctx, submission("harvest", "prod_1", "n1"))
	require.NotNil(t, rerr)
	assert.Equal(t, CodeInvalidSubmission, rerr.Code)

	unknown := submission("payment", "prod_1", "n2")
	unknown.SubmitterID = "somebody-else"
	_, rerr = repo.CommitRecord(ctx, unknown)
	require.NotNil(t, rerr)
	assert.Equal(t, CodeSubmitterNotFound, rerr.Code)

	chain.execCode = 1
	_, rerr = repo.CommitRecord(ctx, submission("payment", "prod_1", "n3"))
	require.NotNil(t, rerr)
	assert.Equal(t, CodeConsensusError, rerr.Code)

	chain.execCode = 0
	chain.err = errors.New("connection refused")
	_, rerr = repo.CommitRecord(ctx, submission("payment", "prod_1", "n4"))
	require.NotNil(t, rerr)
	assert.Equal(t, CodeConsensusError, rerr.Code)
}

func TestCommitRecordDuplicate(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	sub := submission("product.update", "prod_1", "same")
	_, rerr := repo.CommitRecord(ctx, sub)
	require.Nil(t, rerr)

	_, rerr = repo.CommitRecord(ctx, sub)
	require.NotNil(t, rerr)
	assert.Equal(t, CodeRecordExists, rerr.Code)
}

func TestGetRecordFallsBackToChain(t *testing.T) {
	repo, chain := newTestRepository(t)
	ctx := context.Background()

	chain.records["abc123"] = models.LedgerRecord{TxHash: "abc123", BlockHeight: 42, Kind: "complaint", SubjectID: "prod_7"}

	record, rerr := repo.GetRecord(ctx, "ABC123")
	require.Nil(t, rerr)
	assert.Equal(t, int64(42), record.BlockHeight)

	_, rerr = repo.GetRecord(ctx, "ffff")
	require.NotNil(t, rerr)
	assert.Equal(t, CodeTransactionNotFound, rerr.Code)
}

func TestGetSubjectRecords(t *testing.T) {
	repo, chain := newTestRepository(t)
	ctx := context.Background()

	for i, kind := range []string{"product.register", "product.transport", "product.transport"} {
		_, rerr := repo.CommitRecord(ctx, submission(kind, "prod_1", fmt.Sprintf("n%d", i)))
		require.Nil(t, rerr)
	}
	_, rerr := repo.CommitRecord(ctx, submission("product.register", "prod_2", "other"))
	require.Nil(t, rerr)

	result, rerr := repo.GetSubjectRecords(ctx, "prod_1")
	require.Nil(t, rerr)
	require.Len(t, result.Records, 3)
	assert.Equal(t, 3, result.Count)
	assert.Equal(t, "product.register", result.Records[0].Kind)
	assert.Less(t, result.Records[0].BlockHeight, result.Records[2].BlockHeight)

	// records committed through other nodes only show up in the count
	chain.records["remote"] = models.LedgerRecord{TxHash: "remote", SubjectID: "prod_1"}
	for _, rec := range result.Records {
		chain.records[rec.TxHash] = rec
	}
	result, rerr = repo.GetSubjectRecords(ctx, "prod_1")
	require.Nil(t, rerr)
	assert.Len(t, result.Records, 3)
	assert.Equal(t, 4, result.Count)
}

func TestNotConnected(t *testing.T) {
	repo := NewRepository(cmtlog.NewNopLogger())

	_, rerr := repo.GetRecord(context.Background(), "abc")
	require.NotNil(t, rerr)
	assert.Equal(t, CodeUnavailable, rerr.Code)
}

func TestNormalizeHash(t *testing.T) {
	assert.Equal(t, "abcdef", normalizeHash("0xABCDEF"))
	assert.Equal(t, "abcdef", normalizeHash("abcdef"))
}
