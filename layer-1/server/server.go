package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	nm "github.com/cometbft/cometbft/node"
	cmtrpc "github.com/cometbft/cometbft/rpc/client/local"

	"github.com/agritrace/agritracechain/layer-1/srvreg"
)

// commitTimeout bounds how long one request may wait for a block
const commitTimeout = 30 * time.Second

// WebServer handles HTTP requests for L1
type WebServer struct {
	httpAddr          string
	server            *http.Server
	logger            cmtlog.Logger
	node              *nm.Node
	startTime         time.Time
	serviceRegistry   *srvreg.ServiceRegistry
	cometBftRpcClient *cmtrpc.Local
}

// L1Response is the response format for L1 API calls
type L1Response struct {
	StatusCode int                 `json:"-"`
	Headers    map[string]string   `json:"-"`
	Data       any                 `json:"data"`
	Meta       L1TransactionStatus `json:"meta"`
	NodeID     string              `json:"node_id"`
}

// L1TransactionStatus represents the status of L1 BFT transactions
type L1TransactionStatus struct {
	TxID          string        `json:"tx_id"`
	Status        string        `json:"status"`
	BlockHeight   int64         `json:"block_height"`
	ConfirmTime   time.Time     `json:"confirm_time"`
	SubmitterInfo SubmitterInfo `json:"submitter_info"`
}

// SubmitterInfo identifies the API node that sent a record
type SubmitterInfo struct {
	SubmitterID string `json:"submitter_id"`
	APINodeID   string `json:"api_node_id"`
}

// NewWebServer creates a new L1 web server
func NewWebServer(httpPort string, logger cmtlog.Logger, node *nm.Node, serviceRegistry *srvreg.ServiceRegistry) *WebServer {
	mux := http.NewServeMux()

	server := &WebServer{
		httpAddr: ":" + httpPort,
		server: &http.Server{
			Addr:    ":" + httpPort,
			Handler: mux,
		},
		logger:            logger.With("module", "webserver"),
		node:              node,
		startTime:         time.Now(),
		serviceRegistry:   serviceRegistry,
		cometBftRpcClient: cmtrpc.New(node),
	}

	// Register routes
	mux.HandleFunc("/", server.handleRoot)
	mux.HandleFunc("/debug", server.handleDebug)
	mux.HandleFunc("/l1/", server.handleL1API)

	return server
}

// Start starts the L1 web server
func (ws *WebServer) Start() error {
	ws.logger.Info("Starting L1 web server", "addr", ws.httpAddr)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error("L1 web server error: ", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the web server
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.logger.Info("Shutting down L1 web server")
	return ws.server.Shutdown(ctx)
}

// handleRoot shows L1 node information
func (ws *WebServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte("<h1>AgriTrace Ledger - Byzantine Fault Tolerant Consensus Node</h1>"))
	_, _ = w.Write([]byte("<p>Node ID: " + string(ws.node.NodeInfo().ID()) + "</p>"))
	_, _ = w.Write([]byte("<p>Type: BFT Consensus Layer</p>"))

	rpcPort := ExtractPortFromAddress(ws.node.Config().RPC.ListenAddress)
	rpcAddrHtml := fmt.Sprintf("<p>RPC Address: <a href=\"http://localhost:%s\">http://localhost:%s</a></p>", rpcPort, rpcPort)
	_, _ = w.Write([]byte(rpcAddrHtml))

	apiDocs := `
	<h2>L1 API Endpoints</h2>
	<ul>
		<li><strong>POST /l1/commit</strong> - Commit a trace record from an API node</li>
		<li><strong>GET /l1/transaction/{hash}</strong> - Get a record by transaction hash</li>
		<li><strong>GET /l1/subjects/{id}/records</strong> - Get the records of a product</li>
		<li><strong>GET /l1/status</strong> - Get L1 status</li>
		<li><strong>GET /l1/submitters</strong> - Get registered API nodes</li>
	</ul>
	`
	_, _ = w.Write([]byte(apiDocs))
}

// handleDebug provides L1 debugging information
func (ws *WebServer) handleDebug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	nodeStatus := "online"
	if ws.node.ConsensusReactor().WaitSync() {
		nodeStatus = "syncing"
	}
	if !ws.node.IsListening() {
		nodeStatus = "offline"
	}

	debugInfo := map[string]any{
		"layer":       "L1",
		"type":        "Byzantine Fault Tolerant",
		"node_id":     string(ws.node.NodeInfo().ID()),
		"node_status": nodeStatus,
		"p2p_address": ws.node.Config().P2P.ListenAddress,
		"rpc_address": ws.node.Config().RPC.ListenAddress,
		"uptime":      time.Since(ws.startTime).String(),
	}

	// Get consensus info
	status, err := ws.cometBftRpcClient.Status(r.Context())
	outboundPeers, inboundPeers, dialingPeers := ws.node.Switch().NumPeers()
	debugInfo["num_peers_out"] = outboundPeers
	debugInfo["num_peers_in"] = inboundPeers
	debugInfo["num_peers_dialing"] = dialingPeers

	if err != nil {
		debugInfo["consensus_error"] = err.Error()
	} else {
		debugInfo["latest_block_height"] = status.SyncInfo.LatestBlockHeight
		debugInfo["latest_block_time"] = status.SyncInfo.LatestBlockTime
		debugInfo["catching_up"] = status.SyncInfo.CatchingUp
	}

	abciInfo, err := ws.cometBftRpcClient.ABCIInfo(r.Context())
	if err != nil {
		debugInfo["abci_error"] = err.Error()
	} else {
		debugInfo["abci_version"] = abciInfo.Response.Version
		debugInfo["app_version"] = abciInfo.Response.AppVersion
		debugInfo["last_block_height"] = abciInfo.Response.LastBlockHeight
		debugInfo["last_block_app_hash"] = fmt.Sprintf("%X", abciInfo.Response.LastBlockAppHash)
	}

	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(debugInfo); err != nil {
		JSONError(w, "Error encoding response: "+err.Error(), http.StatusInternalServerError)
		return
	}
}

// handleL1API handles all L1 API requests
func (ws *WebServer) handleL1API(w http.ResponseWriter, r *http.Request) {
	requestID, err := generateRequestID()
	if err != nil {
		JSONError(w, "Internal Server Error", http.StatusInternalServerError)
		ws.logger.Error("Failed to generate request ID", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commitTimeout)
	defer cancel()

	request, err := srvreg.ConvertHttpRequestToConsensusRequest(r.WithContext(ctx), requestID)
	if err != nil {
		JSONError(w, "Failed to convert request: "+err.Error(), http.StatusBadRequest)
		ws.logger.Error("Failed to convert HTTP request", "err", err)
		return
	}

	// Only /l1/commit goes through BFT consensus
	response, err := request.GenerateResponse(ws.serviceRegistry)
	if err != nil {
		JSONError(w, "Failed to generate response", http.StatusInternalServerError)
		ws.logger.Error("Failed to generate response", "err", err)
		return
	}

	l1Response := buildL1Response(response, string(ws.node.NodeInfo().ID()), r.Header.Get("X-Node-ID"), time.Now().UTC())

	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(response.StatusCode)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(l1Response); err != nil {
		ws.logger.Error("Failed to encode L1 response", "err", err)
	}

	ws.logger.Info("L1 API Request Processed",
		"request_id", requestID,
		"path", request.Path,
		"method", request.Method,
		"status", response.StatusCode,
		"api_node", r.Header.Get("X-Node-ID"),
	)
}

// buildL1Response wraps a handler response in the L1 envelope. Accepted commits
// carry their transaction status in meta.
func buildL1Response(response *srvreg.Response, nodeID, apiNodeID string, now time.Time) L1Response {
	var data map[string]any
	if err := json.Unmarshal([]byte(response.Body), &data); err != nil {
		var raw any
		_ = json.Unmarshal([]byte(response.Body), &raw)
		return L1Response{
			StatusCode: response.StatusCode,
			Headers:    response.Headers,
			Data:       raw,
			Meta:       L1TransactionStatus{Status: "processed"},
			NodeID:     nodeID,
		}
	}

	l1Response := L1Response{
		StatusCode: response.StatusCode,
		Headers:    response.Headers,
		Data:       data,
		Meta:       L1TransactionStatus{Status: "processed"},
		NodeID:     nodeID,
	}
	if response.StatusCode != http.StatusAccepted {
		return l1Response
	}

	txHash, _ := data["tx_hash"].(string)
	height, _ := data["block_height"].(float64)
	submitterID, _ := data["submitter_id"].(string)
	l1Response.Meta = L1TransactionStatus{
		TxID:        txHash,
		Status:      "confirmed",
		BlockHeight: int64(height),
		ConfirmTime: now,
		SubmitterInfo: SubmitterInfo{
			SubmitterID: submitterID,
			APINodeID:   apiNodeID,
		},
	}
	return l1Response
}

// Helper functions

func generateRequestID() (string, error) {
	bytes := make([]byte, 16)
	_, err := rand.Read(bytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// ExtractPortFromAddress extracts the port from an address string
func ExtractPortFromAddress(address string) string {
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == ':' {
			return address[i+1:]
		}
	}
	return ""
}

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

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(jsonBytes)
}
