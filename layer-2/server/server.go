package server

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/agritrace/agritracechain/layer-2/srvreg"
)

const maxBodyBytes = 1 << 20

// WebServer handles HTTP requests for an AgriTrace API node
type WebServer struct {
	httpAddr        string
	server          *http.Server
	serviceRegistry *srvreg.ServiceRegistry
	startTime       time.Time
	nodeID          string
	requestTimeout  time.Duration
	logger          cmtlog.Logger
}

// NewWebServer creates a new API web server
func NewWebServer(httpPort string, serviceRegistry *srvreg.ServiceRegistry, nodeID string, requestTimeout time.Duration, logger cmtlog.Logger) *WebServer {
	mux := http.NewServeMux()

	ws := &WebServer{
		httpAddr: ":" + httpPort,
		server: &http.Server{
			Addr:              ":" + httpPort,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		serviceRegistry: serviceRegistry,
		startTime:       time.Now(),
		nodeID:          nodeID,
		requestTimeout:  requestTimeout,
		logger:          logger.With("module", "server"),
	}

	// Everything except the landing page goes through the service registry
	mux.HandleFunc("/", ws.handleRoot)

	return ws
}

// Handler exposes the routing for tests
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Start starts the web server
func (ws *WebServer) Start() error {
	ws.logger.Info("🚀 Starting AgriTrace API server", "node", ws.nodeID, "addr", ws.httpAddr)

	go func() {
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ws.logger.Error("❌ API server error", "err", err)
		}
	}()

	ws.logger.Info("✓ API server started successfully")
	return nil
}

// Shutdown gracefully shuts down the web server
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.logger.Info("Shutting down API server...")
	return ws.server.Shutdown(ctx)
}

var rootPage = template.Must(template.New("root").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>AgriTraceChain - {{.NodeID}}</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; background: #f5f5f5; }
        .container { background: white; padding: 30px; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: #2e7d32; margin-top: 0; }
        .label { font-weight: bold; color: #555; }
        .value { color: #333; margin-left: 10px; }
        .endpoint { background: #f8f9fa; padding: 10px; margin: 8px 0; border-radius: 4px; font-family: monospace; }
        .method { font-weight: bold; color: #007bff; margin-right: 10px; }
    </style>
</head>
<body>
    <div class="container">
        <h1>🌾 AgriTraceChain API</h1>
        <div><span class="label">Node ID:</span><span class="value">{{.NodeID}}</span></div>
        <div><span class="label">Uptime:</span><span class="value">{{.Uptime}}</span></div>
        <h3>Available Endpoints:</h3>
        {{range .Endpoints}}<div class="endpoint"><span class="method">{{.Method}}</span>{{.Path}}</div>
        {{end}}
    </div>
</body>
</html>
`))

type endpoint struct {
	Method string
	Path   string
}

var endpoints = []endpoint{
	{"GET", "/products"},
	{"POST", "/products"},
	{"GET", "/products/:id"},
	{"PUT", "/products/:id"},
	{"DELETE", "/products/:id"},
	{"POST", "/products/:id/transport"},
	{"GET", "/products/:id/qrcode"},
	{"GET", "/products/:id/complaints"},
	{"GET", "/scan/:code"},
	{"GET", "/checkAddressWallet?addressWallet="},
	{"POST", "/identities"},
	{"GET", "/identities/:address"},
	{"GET", "/login/getNonce?addressWallet="},
	{"POST", "/login/verifySignature"},
	{"POST", "/transaction/pay"},
	{"POST", "/transaction/complaint"},
	{"GET", "/info"},
}

// handleRoot shows node information on "/" and dispatches everything else
func (ws *WebServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		ws.handleAPI(w, r)
		return
	}

	if r.Method != http.MethodGet {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	err := rootPage.Execute(w, map[string]any{
		"NodeID":    ws.nodeID,
		"Uptime":    time.Since(ws.startTime).Round(time.Second).String(),
		"Endpoints": endpoints,
	})
	if err != nil {
		ws.logger.Error("Failed to render root page", "err", err)
	}
}

// handleAPI hands a request to the service registry under the request timeout
func (ws *WebServer) handleAPI(w http.ResponseWriter, r *http.Request) {
	bodyBytes, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		jsonError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	ctx := r.Context()
	if ws.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ws.requestTimeout)
		defer cancel()
	}

	req := (&srvreg.Request{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.Query(),
		Headers: r.Header,
		Body:    string(bodyBytes),
	}).WithContext(ctx)

	start := time.Now()
	response, err := req.GenerateResponse(ws.serviceRegistry)
	if err != nil {
		ws.logger.Error("Error generating response", "method", r.Method, "path", r.URL.Path, "err", err)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	ws.logger.Debug("Handled request", "method", r.Method, "path", r.URL.Path, "status", response.StatusCode, "took", time.Since(start))
	writeResponse(w, response)
}

// writeResponse writes a Response to http.ResponseWriter
func writeResponse(w http.ResponseWriter, resp *srvreg.Response) {
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write([]byte(resp.Body))
}

// jsonError writes a JSON error response
func jsonError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := map[string]string{
		"error": message,
	}
	_ = json.NewEncoder(w).Encode(errorResp)
}
