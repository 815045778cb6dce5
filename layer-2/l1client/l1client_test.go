package l1client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeL1(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/l1/commit", func(w http.ResponseWriter, r *http.Request) {
		var sub Submission
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&sub))
		assert.Equal(t, "api-1", r.Header.Get("X-Node-ID"))
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"message":      "Record committed",
				"tx_hash":      "ABCDEF",
				"subject_id":   sub.SubjectID,
				"kind":         sub.Kind,
				"block_height": 7,
			},
			"meta": map[string]any{
				"tx_id":        "ABCDEF",
				"status":       "confirmed",
				"block_height": 7,
				"confirm_time": time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			},
			"node_id": "l1-node",
		})
	})
	mux.HandleFunc("/l1/transaction/", func(w http.ResponseWriter, r *http.Request) {
		hash := strings.TrimPrefix(r.URL.Path, "/l1/transaction/")
		if hash != "ABCDEF" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"data":{"error":"not found"}}`))
			return
		}
		w.Write([]byte(`{"data":{"tx_hash":"ABCDEF","block_height":7,"kind":"product.register","subject_id":"p1"},"node_id":"l1-node"}`))
	})
	mux.HandleFunc("/l1/subjects/p1/records", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"subject_id":"p1","count":3,"records":[]}}`))
	})
	mux.HandleFunc("/l1/status", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"status":"active"}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestL1ClientSubmit(t *testing.T) {
	srv := fakeL1(t)
	client := NewL1Client(srv.URL, "api-1", 5*time.Second)

	sub, err := NewSubmission("api-1", KindProductRegister, "p1", "0xabc", map[string]string{"name": "Tomato"})
	require.NoError(t, err)

	receipt, err := client.Submit(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, "ABCDEF", receipt.TxHash)
	assert.Equal(t, int64(7), receipt.BlockHeight)
	assert.Equal(t, 2026, receipt.ConfirmTime.Year())
}

func TestL1ClientSubmitRejectsIncomplete(t *testing.T) {
	client := NewL1Client("http://127.0.0.1:0", "api-1", time.Second)
	_, err := client.Submit(context.Background(), Submission{Kind: KindPayment})
	assert.Error(t, err)
}

func TestL1ClientVerifyAndCount(t *testing.T) {
	srv := fakeL1(t)
	client := NewL1Client(srv.URL, "api-1", 5*time.Second)
	ctx := context.Background()

	v, err := client.Verify(ctx, "ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.BlockHeight)
	assert.Equal(t, "p1", v.SubjectID)

	_, err = client.Verify(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	count, err := client.CountRecords(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = client.CountRecords(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	assert.NoError(t, client.HealthCheck(ctx))
}

func TestL1ClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewL1Client(srv.URL, "api-1", 50*time.Millisecond)
	sub, err := NewSubmission("api-1", KindPayment, "p1", "", nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = client.Submit(context.Background(), sub)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestMemoryClient(t *testing.T) {
	ledger := NewMemoryClient()
	ctx := context.Background()

	seen := map[string]bool{}
	var lastHeight int64
	for range 5 {
		sub, err := NewSubmission("api-1", KindProductUpdate, "p1", "0xabc", map[string]string{"same": "payload"})
		require.NoError(t, err)
		receipt, err := ledger.Submit(ctx, sub)
		require.NoError(t, err)

		assert.NotEmpty(t, receipt.TxHash)
		assert.False(t, seen[receipt.TxHash], "hash reused")
		seen[receipt.TxHash] = true
		assert.Greater(t, receipt.BlockHeight, lastHeight)
		lastHeight = receipt.BlockHeight

		v, err := ledger.Verify(ctx, receipt.TxHash)
		require.NoError(t, err)
		assert.Equal(t, "p1", v.SubjectID)
	}

	count, err := ledger.CountRecords(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	_, err = ledger.Verify(ctx, "0xdeadbeef")
	assert.ErrorIs(t, err, ErrNotFound)

	boom := errors.New("ledger down")
	ledger.FailWith(boom)
	sub, _ := NewSubmission("api-1", KindPayment, "p1", "", nil)
	_, err = ledger.Submit(ctx, sub)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, ledger.HealthCheck(ctx), boom)
}
