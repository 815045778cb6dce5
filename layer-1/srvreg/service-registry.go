package srvreg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/agritrace/agritracechain/layer-1/repository"
	"github.com/agritrace/agritracechain/layer-1/repository/models"
)

// Request represents the client's HTTP request
type Request struct {
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	RemoteAddr string            `json:"remote_addr"`
	RequestID  string            `json:"request_id"`
	Timestamp  time.Time         `json:"timestamp"`

	ctx context.Context
}

// Response represents the computed response from server
type Response struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	Error      string            `json:"error,omitempty"`
}

// ServiceHandler is a function type for service handlers
type ServiceHandler func(*Request) (*Response, error)

// RouteKey uniquely identifies a route
type RouteKey struct {
	Method string
	Path   string
}

// Ledger is what the handlers need from the repository
type Ledger interface {
	CommitRecord(ctx context.Context, commitReq *repository.CommitRequest) (*models.LedgerRecord, *repository.RepositoryError)
	GetRecord(ctx context.Context, txHash string) (*models.LedgerRecord, *repository.RepositoryError)
	GetSubjectRecords(ctx context.Context, subjectID string) (*repository.SubjectRecords, *repository.RepositoryError)
	GetAllSubmitters(ctx context.Context) ([]models.Submitter, *repository.RepositoryError)
}

// ServiceRegistry manages all service handlers for L1
type ServiceRegistry struct {
	handlers    map[RouteKey]ServiceHandler
	exactRoutes map[RouteKey]bool
	mu          sync.RWMutex
	ledger      Ledger
	logger      cmtlog.Logger
}

var defaultHeaders = map[string]string{"Content-Type": "application/json"}

// NewServiceRegistry creates a new service registry for L1
func NewServiceRegistry(ledger Ledger, logger cmtlog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		handlers:    make(map[RouteKey]ServiceHandler),
		exactRoutes: make(map[RouteKey]bool),
		ledger:      ledger,
		logger:      logger.With("module", "srvreg"),
	}
}

// Context returns the request context, never nil
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r bound to ctx
func (r *Request) WithContext(ctx context.Context) *Request {
	r2 := *r
	r2.ctx = ctx
	return &r2
}

// RegisterHandler registers a new service handler
func (sr *ServiceRegistry) RegisterHandler(method, path string, isExactPath bool, handler ServiceHandler) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	key := RouteKey{Method: strings.ToUpper(method), Path: path}
	sr.handlers[key] = handler
	sr.exactRoutes[key] = isExactPath
}

// GetHandlerForPath finds the appropriate handler for a given path
func (sr *ServiceRegistry) GetHandlerForPath(method, path string) (ServiceHandler, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	// Try exact match first
	key := RouteKey{Method: strings.ToUpper(method), Path: path}
	if handler, ok := sr.handlers[key]; ok {
		if sr.exactRoutes[key] {
			return handler, true
		}
	}

	// Try pattern matching
	for routeKey, handler := range sr.handlers {
		if routeKey.Method != strings.ToUpper(method) {
			continue
		}

		if sr.exactRoutes[routeKey] {
			continue
		}

		if matchPath(routeKey.Path, path) {
			return handler, true
		}
	}

	return nil, false
}

// matchPath does simple pattern matching for routes
func matchPath(pattern, path string) bool {
	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")

	if len(patternParts) != len(pathParts) {
		return false
	}

	for i := range len(patternParts) {
		if strings.HasPrefix(patternParts[i], ":") {
			if pathParts[i] == "" {
				return false
			}
			continue
		}
		if patternParts[i] != pathParts[i] {
			return false
		}
	}

	return true
}

// pathParam returns the unescaped path segment at index
func pathParam(path string, index int) (string, bool) {
	parts := strings.Split(path, "/")
	if index >= len(parts) {
		return "", false
	}
	value, err := url.PathUnescape(parts[index])
	if err != nil || value == "" {
		return "", false
	}
	return value, true
}

// RegisterDefaultServices sets up default services for L1
func (sr *ServiceRegistry) RegisterDefaultServices() {
	// Main endpoint: receive records from API nodes
	sr.RegisterHandler("POST", "/l1/commit", true, sr.CommitRecordHandler)

	// Query endpoints
	sr.RegisterHandler("GET", "/l1/transaction/:hash", false, sr.GetTransactionHandler)
	sr.RegisterHandler("GET", "/l1/subjects/:id/records", false, sr.GetSubjectRecordsHandler)

	// System endpoints
	sr.RegisterHandler("GET", "/l1/status", true, sr.StatusHandler)
	sr.RegisterHandler("GET", "/l1/submitters", true, sr.GetSubmittersHandler)
}

// CommitRecordHandler runs a record from an API node through consensus
func (sr *ServiceRegistry) CommitRecordHandler(req *Request) (*Response, error) {
	var commitReq repository.CommitRequest
	if err := json.Unmarshal([]byte(req.Body), &commitReq); err != nil {
		sr.logger.Error("Failed to parse commit request", "error", err.Error())
		return errorResponse(http.StatusBadRequest, "Invalid request format: "+err.Error()), nil
	}

	record, repoErr := sr.ledger.CommitRecord(req.Context(), &commitReq)
	if repoErr != nil {
		switch repoErr.Code {
		case repository.CodeInvalidSubmission, repository.CodeSubmitterNotFound:
			return errorResponse(http.StatusBadRequest, repoErrorMessage(repoErr, "Invalid submission")), nil
		case repository.CodeRecordExists:
			return errorResponse(http.StatusConflict, repoErrorMessage(repoErr, "Record already exists")), nil
		case repository.CodeConsensusTimeout:
			sr.logger.Error("Consensus timed out", "subject", commitReq.SubjectID, "detail", repoErr.Detail)
			return errorResponse(http.StatusGatewayTimeout, firstNonEmpty(repoErr.Message, "Consensus operation timed out")), nil
		default:
			sr.logger.Error("Commit failed", "code", repoErr.Code, "detail", repoErr.Detail)
			return errorResponse(http.StatusInternalServerError, "Internal server error"), nil
		}
	}

	sr.logger.Info("Record committed", "tx", record.TxHash, "kind", record.Kind, "subject", record.SubjectID, "height", record.BlockHeight)
	return jsonResponse(http.StatusAccepted, map[string]any{
		"message":      "Record committed successfully",
		"tx_hash":      record.TxHash,
		"subject_id":   record.SubjectID,
		"kind":         record.Kind,
		"submitter_id": record.SubmitterID,
		"block_height": record.BlockHeight,
	})
}

// GetTransactionHandler retrieves a record by transaction hash
func (sr *ServiceRegistry) GetTransactionHandler(req *Request) (*Response, error) {
	txHash, ok := pathParam(req.Path, 3)
	if !ok {
		return errorResponse(http.StatusBadRequest, "Invalid path format"), nil
	}

	record, repoErr := sr.ledger.GetRecord(req.Context(), txHash)
	if repoErr != nil {
		if repoErr.Code == repository.CodeTransactionNotFound {
			return errorResponse(http.StatusNotFound, repoErrorMessage(repoErr, "Transaction not found")), nil
		}
		sr.logger.Error("Failed to get transaction", "tx", txHash, "detail", repoErr.Detail)
		return errorResponse(http.StatusInternalServerError, "Internal server error"), nil
	}
	return jsonResponse(http.StatusOK, record)
}

// GetSubjectRecordsHandler lists the records committed for a subject
func (sr *ServiceRegistry) GetSubjectRecordsHandler(req *Request) (*Response, error) {
	subjectID, ok := pathParam(req.Path, 3)
	if !ok {
		return errorResponse(http.StatusBadRequest, "Invalid path format"), nil
	}

	records, repoErr := sr.ledger.GetSubjectRecords(req.Context(), subjectID)
	if repoErr != nil {
		sr.logger.Error("Failed to get subject records", "subject", subjectID, "detail", repoErr.Detail)
		return errorResponse(http.StatusInternalServerError, "Internal server error"), nil
	}
	return jsonResponse(http.StatusOK, records)
}

// StatusHandler provides L1 system status
func (sr *ServiceRegistry) StatusHandler(req *Request) (*Response, error) {
	return jsonResponse(http.StatusOK, map[string]any{
		"status": "active",
		"layer":  "L1",
		"type":   "Byzantine Fault Tolerant",
		"time":   time.Now(),
	})
}

// GetSubmittersHandler returns the API nodes allowed to write records
func (sr *ServiceRegistry) GetSubmittersHandler(req *Request) (*Response, error) {
	submitters, repoErr := sr.ledger.GetAllSubmitters(req.Context())
	if repoErr != nil {
		sr.logger.Error("Failed to retrieve submitters", "error", repoErr.Detail)
		return errorResponse(http.StatusInternalServerError, "Failed to retrieve submitters"), nil
	}

	return jsonResponse(http.StatusOK, map[string]any{
		"submitters": submitters,
		"count":      len(submitters),
	})
}

// ConvertHttpRequestToConsensusRequest converts an http.Request to Request
func ConvertHttpRequestToConsensusRequest(r *http.Request, requestID string) (*Request, error) {
	headers := make(map[string]string)
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	body := ""
	if r.Body != nil {
		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		raw := strings.TrimSpace(string(bodyBytes))
		body = compactJSON(raw)
	}

	return &Request{
		Method:     r.Method,
		Path:       r.URL.EscapedPath(),
		Headers:    headers,
		Body:       body,
		RemoteAddr: r.RemoteAddr,
		RequestID:  requestID,
		Timestamp:  time.Now(),
		ctx:        r.Context(),
	}, nil
}

// GenerateResponse executes the request and generates a response
func (req *Request) GenerateResponse(services *ServiceRegistry) (*Response, error) {
	handler, found := services.GetHandlerForPath(req.Method, req.Path)
	if !found {
		return errorResponse(http.StatusNotFound, fmt.Sprintf("Service not found for %s %s", req.Method, req.Path)), nil
	}

	return handler(req)
}

// repoErrorMessage picks the most specific non-empty text of a repository error
func repoErrorMessage(repoErr *repository.RepositoryError, fallback string) string {
	return firstNonEmpty(repoErr.Detail, repoErr.Message, fallback)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func jsonResponse(status int, v any) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, "Failed to serialize response"), err
	}
	return &Response{StatusCode: status, Headers: defaultHeaders, Body: string(body)}, nil
}

func errorResponse(status int, message string) *Response {
	body, _ := json.Marshal(map[string]string{"error": message})
	return &Response{
		StatusCode: status,
		Headers:    defaultHeaders,
		Body:       string(body),
		Error:      message,
	}
}

func compactJSON(body string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(body)); err != nil {
		return strings.TrimSpace(body)
	}
	return buf.String()
}
