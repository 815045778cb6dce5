package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"github.com/agritrace/agritracechain/layer-2/auth"
	"github.com/agritrace/agritracechain/layer-2/identity"
	"github.com/agritrace/agritracechain/layer-2/l1client"
	"github.com/agritrace/agritracechain/layer-2/products"
	"github.com/agritrace/agritracechain/layer-2/repository"
	"github.com/agritrace/agritracechain/layer-2/srvreg"
	"github.com/agritrace/agritracechain/layer-2/transactions"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := cmtlog.NewNopLogger()
	repo := repository.NewRepository(repository.Options{
		Dialector:    sqlite.Open("file::memory:"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	t.Cleanup(func() { _ = repo.Close() })

	ledger := l1client.NewMemoryClient()
	authSvc, err := auth.NewService(auth.NewMemoryNonceStore(), auth.NewJWTManager(auth.JWTConfig{
		SecretKey:           "server-test-secret",
		AccessTokenDuration: time.Hour,
		Issuer:              "agritracechain",
	}), time.Minute, logger)
	require.NoError(t, err)
	txSvc, err := transactions.NewService(repo, ledger, "api-test", logger)
	require.NoError(t, err)

	registry := srvreg.NewServiceRegistry(srvreg.Services{
		Products:     products.NewService(repo, ledger, "api-test", logger),
		Identities:   identity.NewService(repo),
		Auth:         authSvc,
		Transactions: txSvc,
		Ledger:       ledger,
	}, "api-test", "memory", logger)
	registry.RegisterDefaultServices()

	ws := NewWebServer("0", registry, "api-test", 5*time.Second, logger)
	ts := httptest.NewServer(ws.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestRootPage(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), "api-test")
	assert.Contains(t, string(body), "/scan/:code")

	resp, err = http.Post(ts.URL+"/", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRequestsReachRegistry(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/products", "application/json",
		strings.NewReader(`{"name":"Durian","type":"Fruit","quantity":4,"location":"Ben Tre"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var product map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&product))

	resp2, err := http.Get(ts.URL + "/products/" + product["id"].(string))
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	resp3, err := http.Get(ts.URL + "/nowhere")
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
	var errBody map[string]string
	require.NoError(t, json.NewDecoder(resp3.Body).Decode(&errBody))
	assert.NotEmpty(t, errBody["error"])
}

func TestOversizedBodyRejected(t *testing.T) {
	ts := newTestServer(t)

	big := strings.Repeat("a", maxBodyBytes+1)
	resp, err := http.Post(ts.URL+"/products", "application/json", strings.NewReader(big))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
