package srvreg

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/agritrace/agritracechain/layer-2/apperror"
	"github.com/agritrace/agritracechain/layer-2/auth"
	"github.com/agritrace/agritracechain/layer-2/identity"
	"github.com/agritrace/agritracechain/layer-2/l1client"
	"github.com/agritrace/agritracechain/layer-2/products"
	"github.com/agritrace/agritracechain/layer-2/transactions"
)

// Request represents an incoming HTTP request
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers http.Header
	Body    string

	// Params holds the values of ":name" path segments
	Params map[string]string

	ctx context.Context
}

// Context returns the request context, never nil
func (req *Request) Context() context.Context {
	if req.ctx == nil {
		return context.Background()
	}
	return req.ctx
}

// WithContext returns a shallow copy of req using ctx
func (req *Request) WithContext(ctx context.Context) *Request {
	r := *req
	r.ctx = ctx
	return &r
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

// HandlerFunc is a function that handles a request
type HandlerFunc func(*Request) (*Response, error)

// Services are the domain services the handlers call into
type Services struct {
	Products     *products.Service
	Identities   *identity.Service
	Auth         *auth.Service
	Transactions *transactions.Service
	Ledger       l1client.LedgerClient
}

// ServiceRegistry manages all service handlers
type ServiceRegistry struct {
	handlers map[string]map[string]HandlerFunc
	patterns map[string][]string // registration order, for deterministic matching
	services Services
	nodeID   string
	mode     string
	logger   cmtlog.Logger
}

var defaultHeaders = map[string]string{
	"Content-Type": "application/json",
}

// NewServiceRegistry creates a new service registry
func NewServiceRegistry(services Services, nodeID, ledgerMode string, logger cmtlog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		handlers: make(map[string]map[string]HandlerFunc),
		patterns: make(map[string][]string),
		services: services,
		nodeID:   nodeID,
		mode:     ledgerMode,
		logger:   logger.With("module", "srvreg"),
	}
}

// RegisterHandler registers a handler for a specific method and path
func (sr *ServiceRegistry) RegisterHandler(method, path string, handler HandlerFunc) {
	if sr.handlers[method] == nil {
		sr.handlers[method] = make(map[string]HandlerFunc)
	}
	if _, exists := sr.handlers[method][path]; !exists {
		sr.patterns[method] = append(sr.patterns[method], path)
	}
	sr.handlers[method][path] = handler
	sr.logger.Debug("Registered handler", "method", method, "path", path)
}

// GetHandlerForPath finds the handler for a given method and path, along with its path parameters
func (sr *ServiceRegistry) GetHandlerForPath(method, path string) (HandlerFunc, map[string]string, bool) {
	methodHandlers, exists := sr.handlers[method]
	if !exists {
		return nil, nil, false
	}

	// Try exact match first
	if handler, exists := methodHandlers[path]; exists {
		return handler, map[string]string{}, true
	}

	for _, pattern := range sr.patterns[method] {
		if params, ok := matchPath(pattern, path); ok {
			return methodHandlers[pattern], params, true
		}
	}

	return nil, nil, false
}

// matchPath checks if a path matches a pattern with parameters.
// "/products/:id" matches "/products/123" with id=123.
func matchPath(pattern, path string) (map[string]string, bool) {
	patternParts := strings.Split(strings.TrimSuffix(pattern, "/"), "/")
	pathParts := strings.Split(strings.TrimSuffix(path, "/"), "/")

	if len(patternParts) != len(pathParts) {
		return nil, false
	}

	params := make(map[string]string)
	for i := 0; i < len(patternParts); i++ {
		if name, ok := strings.CutPrefix(patternParts[i], ":"); ok {
			if pathParts[i] == "" {
				return nil, false
			}
			value, err := url.PathUnescape(pathParts[i])
			if err != nil {
				return nil, false
			}
			params[name] = value
			continue
		}
		if patternParts[i] != pathParts[i] {
			return nil, false
		}
	}

	return params, true
}

// RegisterDefaultServices sets up all default endpoints
func (sr *ServiceRegistry) RegisterDefaultServices() {
	sr.logger.Info("Registering AgriTrace services...")

	// Products
	sr.RegisterHandler("GET", "/products", sr.ListProductsHandler)
	sr.RegisterHandler("POST", "/products", sr.CreateProductHandler)
	sr.RegisterHandler("GET", "/products/:id", sr.GetProductHandler)
	sr.RegisterHandler("PUT", "/products/:id", sr.UpdateProductHandler)
	sr.RegisterHandler("DELETE", "/products/:id", sr.DeleteProductHandler)
	sr.RegisterHandler("POST", "/products/:id/transport", sr.TransportHandler)
	sr.RegisterHandler("GET", "/products/:id/qrcode", sr.QRCodeHandler)
	sr.RegisterHandler("GET", "/products/:id/complaints", sr.ListComplaintsHandler)
	sr.RegisterHandler("GET", "/scan/:code", sr.ScanHandler)

	// Identities
	sr.RegisterHandler("GET", "/checkAddressWallet", sr.CheckAddressWalletHandler)
	sr.RegisterHandler("POST", "/identities", sr.RegisterIdentityHandler)
	sr.RegisterHandler("GET", "/identities/:address", sr.GetIdentityHandler)

	// Login
	sr.RegisterHandler("GET", "/login/getNonce", sr.GetNonceHandler)
	sr.RegisterHandler("POST", "/login/verifySignature", sr.VerifySignatureHandler)

	// Transactions
	sr.RegisterHandler("POST", "/transaction/pay", sr.PayHandler)
	sr.RegisterHandler("POST", "/transaction/complaint", sr.ComplaintHandler)

	// Info endpoints
	sr.RegisterHandler("GET", "/info", sr.InfoHandler)

	sr.logger.Info("All services registered", "routes", sr.routeCount())
}

func (sr *ServiceRegistry) routeCount() int {
	n := 0
	for _, patterns := range sr.patterns {
		n += len(patterns)
	}
	return n
}

// GenerateResponse executes the request and generates a response
func (req *Request) GenerateResponse(services *ServiceRegistry) (*Response, error) {
	handler, params, found := services.GetHandlerForPath(req.Method, req.Path)

	if !found {
		return errorBody(http.StatusNotFound, fmt.Sprintf("Service not found for %s %s", req.Method, req.Path)), nil
	}

	req.Params = params
	return handler(req)
}

// jsonResponse marshals v as the response body
func jsonResponse(status int, v any) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return &Response{
		StatusCode: status,
		Headers:    defaultHeaders,
		Body:       string(body),
	}, nil
}

func errorBody(status int, message string) *Response {
	body, _ := json.Marshal(map[string]string{"error": message})
	return &Response{
		StatusCode: status,
		Headers:    defaultHeaders,
		Body:       string(body),
	}
}

// errorResponse maps a service error to its status code. Internal details are logged, not returned.
func (sr *ServiceRegistry) errorResponse(req *Request, err error) (*Response, error) {
	status := apperror.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		sr.logger.Error("Request failed", "method", req.Method, "path", req.Path, "err", err)
	}
	return errorBody(status, apperror.PublicMessage(err)), nil
}

// decodeBody unmarshals the request body into v
func decodeBody(req *Request, v any) error {
	if strings.TrimSpace(req.Body) == "" {
		return apperror.Validation("request body is required")
	}
	if err := json.Unmarshal([]byte(req.Body), v); err != nil {
		return apperror.Validation("invalid request body: %v", err)
	}
	return nil
}

// actor returns the wallet of the bearer token, or "" when the request is anonymous.
// A present but invalid token is an error.
func (sr *ServiceRegistry) actor(req *Request) (string, error) {
	header := req.Headers.Get("Authorization")
	if header == "" {
		return "", nil
	}
	claims, err := sr.services.Auth.Authenticate(header)
	if err != nil {
		return "", err
	}
	return claims.AddressWallet, nil
}
