package srvreg

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agritrace/agritracechain/layer-1/repository"
	"github.com/agritrace/agritracechain/layer-1/repository/models"
)

type fakeLedger struct {
	records   map[string]models.LedgerRecord
	commitErr *repository.RepositoryError
	lastCtx   context.Context
}

func (f *fakeLedger) CommitRecord(ctx context.Context, c *repository.CommitRequest) (*models.LedgerRecord, *repository.RepositoryError) {
	f.lastCtx = ctx
	if err := c.Validate(); err != nil {
		return nil, &repository.RepositoryError{Code: repository.CodeInvalidSubmission, Message: "Invalid submission", Detail: err.Error()}
	}
	if f.commitErr != nil {
		return nil, f.commitErr
	}
	rec := models.LedgerRecord{
		TxHash:      "ab12",
		BlockHeight: 5,
		Kind:        c.Kind,
		SubjectID:   c.SubjectID,
		SubmitterID: c.SubmitterID,
	}
	f.records[rec.TxHash] = rec
	return &rec, nil
}

func (f *fakeLedger) GetRecord(_ context.Context, txHash string) (*models.LedgerRecord, *repository.RepositoryError) {
	rec, ok := f.records[txHash]
	if !ok {
		return nil, &repository.RepositoryError{Code: repository.CodeTransactionNotFound, Detail: "Transaction with hash " + txHash + " not found"}
	}
	return &rec, nil
}

func (f *fakeLedger) GetSubjectRecords(_ context.Context, subjectID string) (*repository.SubjectRecords, *repository.RepositoryError) {
	out := &repository.SubjectRecords{SubjectID: subjectID, Records: []models.LedgerRecord{}}
	for _, rec := range f.records {
		if rec.SubjectID == subjectID {
			out.Records = append(out.Records, rec)
		}
	}
	out.Count = len(out.Records)
	return out, nil
}

func (f *fakeLedger) GetAllSubmitters(context.Context) ([]models.Submitter, *repository.RepositoryError) {
	return []models.Submitter{{SubmitterID: "agritrace-api-1", Status: "active"}}, nil
}

func newTestRegistry() (*ServiceRegistry, *fakeLedger) {
	ledger := &fakeLedger{records: map[string]models.LedgerRecord{}}
	sr := NewServiceRegistry(ledger, cmtlog.NewNopLogger())
	sr.RegisterDefaultServices()
	return sr, ledger
}

func do(t *testing.T, sr *ServiceRegistry, method, target, body string) (*Response, map[string]any) {
	t.Helper()
	httpReq := httptest.NewRequest(method, target, strings.NewReader(body))
	req, err := ConvertHttpRequestToConsensusRequest(httpReq, "req-1")
	require.NoError(t, err)

	resp, err := req.GenerateResponse(sr)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &decoded))
	return resp, decoded
}

const validCommit = `{"submitter_id":"agritrace-api-1","kind":"product.register","subject_id":"prod_1","actor":"0xabc","payload":{"name":"Tomato"},"nonce":"n1"}`

func TestMatchPath(t *testing.T) {
	assert.True(t, matchPath("/l1/transaction/:hash", "/l1/transaction/ab12"))
	assert.True(t, matchPath("/l1/subjects/:id/records", "/l1/subjects/prod_1/records"))
	assert.False(t, matchPath("/l1/subjects/:id/records", "/l1/subjects//records"))
	assert.False(t, matchPath("/l1/transaction/:hash", "/l1/transaction/ab12/extra"))
}

func TestCommitRecordHandler(t *testing.T) {
	sr, ledger := newTestRegistry()

	resp, body := do(t, sr, http.MethodPost, "/l1/commit", validCommit)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "ab12", body["tx_hash"])
	assert.Equal(t, "prod_1", body["subject_id"])
	assert.Equal(t, "product.register", body["kind"])
	assert.Equal(t, "agritrace-api-1", body["submitter_id"])
	assert.EqualValues(t, 5, body["block_height"])
	assert.NotNil(t, ledger.lastCtx)
}

func TestCommitRecordHandlerErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		commitErr *repository.RepositoryError
		want      int
	}{
		{name: "malformed", body: `{"kind":`, want: http.StatusBadRequest},
		{name: "missing fields", body: `{"kind":"payment"}`, want: http.StatusBadRequest},
		{name: "unknown submitter", body: validCommit, commitErr: &repository.RepositoryError{Code: repository.CodeSubmitterNotFound, Message: "Unknown submitter", Detail: "Submitter agritrace-api-1 not registered in L1"}, want: http.StatusBadRequest},
		{name: "duplicate", body: validCommit, commitErr: &repository.RepositoryError{Code: repository.CodeRecordExists, Message: "Record already exists", Detail: "Record ab12 already committed"}, want: http.StatusConflict},
		{name: "timeout", body: validCommit, commitErr: &repository.RepositoryError{Code: repository.CodeConsensusTimeout, Message: "Consensus operation timed out", Detail: "context deadline exceeded"}, want: http.StatusGatewayTimeout},
		{name: "consensus", body: validCommit, commitErr: &repository.RepositoryError{Code: repository.CodeConsensusError, Message: "Failed to commit to blockchain"}, want: http.StatusInternalServerError},
		{name: "duplicate without detail", body: validCommit, commitErr: &repository.RepositoryError{Code: repository.CodeRecordExists}, want: http.StatusConflict},
		{name: "timeout without message", body: validCommit, commitErr: &repository.RepositoryError{Code: repository.CodeConsensusTimeout}, want: http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr, ledger := newTestRegistry()
			ledger.commitErr = tt.commitErr

			resp, body := do(t, sr, http.MethodPost, "/l1/commit", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestRepoErrorMessage(t *testing.T) {
	assert.Equal(t, "detail", repoErrorMessage(&repository.RepositoryError{Message: "message", Detail: "detail"}, "fallback"))
	assert.Equal(t, "message", repoErrorMessage(&repository.RepositoryError{Message: "message"}, "fallback"))
	assert.Equal(t, "fallback", repoErrorMessage(&repository.RepositoryError{Code: repository.CodeRecordExists}, "fallback"))
}

func TestQueryHandlers(t *testing.T) {
	sr, _ := newTestRegistry()
	do(t, sr, http.MethodPost, "/l1/commit", validCommit)

	resp, body := do(t, sr, http.MethodGet, "/l1/transaction/ab12", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "prod_1", body["subject_id"])

	resp, _ = do(t, sr, http.MethodGet, "/l1/transaction/ffff", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, sr, http.MethodGet, "/l1/subjects/prod_1/records", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, body = do(t, sr, http.MethodGet, "/l1/subjects/prod_9/records", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["count"])

	resp, body = do(t, sr, http.MethodGet, "/l1/submitters", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, body = do(t, sr, http.MethodGet, "/l1/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "active", body["status"])
}

func TestUnknownRoute(t *testing.T) {
	sr, _ := newTestRegistry()

	resp, body := do(t, sr, http.MethodDelete, "/l1/commit", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["error"], "Service not found")
}
