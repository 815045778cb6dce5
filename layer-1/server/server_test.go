package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agritrace/agritracechain/layer-1/srvreg"
)

func TestBuildL1ResponseForCommit(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	resp := &srvreg.Response{
		StatusCode: http.StatusAccepted,
		Body:       `{"message":"Record committed successfully","tx_hash":"ab12","subject_id":"prod_1","kind":"payment","submitter_id":"agritrace-api-1","block_height":9}`,
	}

	out := buildL1Response(resp, "node-a", "api-node-1", now)
	assert.Equal(t, "node-a", out.NodeID)
	assert.Equal(t, "ab12", out.Meta.TxID)
	assert.Equal(t, "confirmed", out.Meta.Status)
	assert.Equal(t, int64(9), out.Meta.BlockHeight)
	assert.Equal(t, now, out.Meta.ConfirmTime)
	assert.Equal(t, "agritrace-api-1", out.Meta.SubmitterInfo.SubmitterID)
	assert.Equal(t, "api-node-1", out.Meta.SubmitterInfo.APINodeID)

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	var decoded struct {
		Data struct {
			TxHash      string `json:"tx_hash"`
			BlockHeight int64  `json:"block_height"`
		} `json:"data"`
		Meta struct {
			BlockHeight   int64 `json:"block_height"`
			SubmitterInfo struct {
				SubmitterID string `json:"submitter_id"`
			} `json:"submitter_info"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "ab12", decoded.Data.TxHash)
	assert.Equal(t, int64(9), decoded.Meta.BlockHeight)
	assert.Equal(t, "agritrace-api-1", decoded.Meta.SubmitterInfo.SubmitterID)
}

func TestBuildL1ResponseForQuery(t *testing.T) {
	resp := &srvreg.Response{StatusCode: http.StatusNotFound, Body: `{"error":"Transaction with hash ff not found"}`}

	out := buildL1Response(resp, "node-a", "", time.Now())
	assert.Equal(t, "processed", out.Meta.Status)
	assert.Empty(t, out.Meta.TxID)
	assert.Equal(t, http.StatusNotFound, out.StatusCode)
	assert.Equal(t, map[string]any{"error": "Transaction with hash ff not found"}, out.Data)
}

func TestExtractPortFromAddress(t *testing.T) {
	assert.Equal(t, "26657", ExtractPortFromAddress("tcp://0.0.0.0:26657"))
	assert.Equal(t, "", ExtractPortFromAddress("localhost"))
}

func TestJSONError(t *testing.T) {
	rec := httptest.NewRecorder()
	JSONError(rec, "Method not allowed", http.StatusMethodNotAllowed)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.JSONEq(t, `{"error":"Method not allowed"}`, rec.Body.String())
}
