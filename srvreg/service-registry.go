package srvreg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ahmadzakiakmal/escrow-ledger/repository"
	"github.com/ahmadzakiakmal/escrow-ledger/repository/models"
	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
)

// Request represents the client's original HTTP request
type Request struct {
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	RemoteAddr string            `json:"remote_addr"`
	RequestID  string            `json:"request_id"` // Unique ID for the request
	Timestamp  time.Time         `json:"timestamp"`
}

// Response represents the computed response from a server
type Response struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	Error      string            `json:"error,omitempty"`
}

// ServiceHandler is a function type for service handlers
type ServiceHandler func(*Request) (*Response, error)

// RouteKey is used to uniquely identify a route
type RouteKey struct {
	Method string
	Path   string
}

// Querier reads committed ledger state. *app.Application satisfies it.
type Querier interface {
	Query(ctx context.Context, req *abcitypes.QueryRequest) (*abcitypes.QueryResponse, error)
}

// Submitter puts signed transactions through consensus
type Submitter interface {
	RunConsensus(ctx context.Context, rawTx []byte) (*repository.ConsensusResult, *repository.RepositoryError)
}

// Catalogue serves the PostgreSQL projection
type Catalogue interface {
	Catalogue(registryAddress string) (*models.Registry, *repository.RepositoryError)
	ItemHistory(unitAddress string) ([]models.LifecycleEvent, *repository.RepositoryError)
}

// ServiceRegistry manages all service handlers
type ServiceRegistry struct {
	handlers    map[RouteKey]ServiceHandler
	exactRoutes map[RouteKey]bool // Whether a route is exact or pattern-based
	mu          sync.RWMutex
	querier     Querier
	submitter   Submitter
	catalogue   Catalogue
	logger      cmtlog.Logger
	txTimeout   time.Duration
}

// ConvertHttpRequest converts an http.Request to Request
func ConvertHttpRequest(r *http.Request, requestID string) (*Request, error) {
	// Extract headers
	headers := make(map[string]string)
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	// Read body if present
	body := ""
	if r.Body != nil {
		bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			return nil, err
		}
		raw := strings.TrimSpace(string(bodyBytes))
		body = compactJSON(raw)
	}

	return &Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		Headers:    headers,
		Body:       body,
		RemoteAddr: r.RemoteAddr,
		RequestID:  requestID,
		Timestamp:  time.Now(),
	}, nil
}

const maxBodyBytes = 1 << 20

// NewServiceRegistry creates a new service registry. catalogue may be nil when
// the node runs without a projection database.
func NewServiceRegistry(
	querier Querier,
	submitter Submitter,
	catalogue Catalogue,
	logger cmtlog.Logger,
	txTimeout time.Duration,
) *ServiceRegistry {
	return &ServiceRegistry{
		handlers:    make(map[RouteKey]ServiceHandler),
		exactRoutes: make(map[RouteKey]bool),
		querier:     querier,
		submitter:   submitter,
		catalogue:   catalogue,
		logger:      logger,
		txTimeout:   txTimeout,
	}
}

// RegisterHandler registers a new service handler
func (sr *ServiceRegistry) RegisterHandler(method, path string, isExactPath bool, handler ServiceHandler) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	key := RouteKey{Method: strings.ToUpper(method), Path: path}
	sr.handlers[key] = handler
	sr.exactRoutes[key] = isExactPath
}

// GetHandlerForPath finds the appropriate handler for a given path and a boolean of whether or not the handler was found
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

		// Skip exact routes in pattern matching
		if sr.exactRoutes[routeKey] {
			continue
		}

		if matchPath(routeKey.Path, path) {
			return handler, true
		}
	}

	return nil, false
}

// matchPath does simple pattern matching for routes.
// It supports patterns like "/unit/:address" matching "/unit/0xabc"
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

// RegisterDefaultServices sets up the ledger API
func (sr *ServiceRegistry) RegisterDefaultServices() {
	// Submit a signed transaction
	sr.RegisterHandler("POST", "/tx", true, sr.SubmitTxHandler)
	sr.RegisterHandler("GET", "/tx/:hash", false, sr.TxHandler)

	// Committed ledger state
	sr.RegisterHandler("GET", "/account/:address", false, sr.AccountHandler)
	sr.RegisterHandler("GET", "/registry/:address", false, sr.RegistryHandler)
	sr.RegisterHandler("GET", "/registry/:address/items", false, sr.ItemsHandler)
	sr.RegisterHandler("GET", "/registry/:address/items/:index", false, sr.ItemHandler)
	sr.RegisterHandler("GET", "/registry/:address/predict", false, sr.PredictHandler)
	sr.RegisterHandler("GET", "/unit/:address", false, sr.UnitHandler)

	// Catalogue projection
	sr.RegisterHandler("GET", "/catalogue/:address", false, sr.CatalogueHandler)
	sr.RegisterHandler("GET", "/unit/:address/history", false, sr.HistoryHandler)
}

// GenerateResponse executes the request and generates a response
func (req *Request) GenerateResponse(services *ServiceRegistry) (*Response, error) {
	handler, found := services.GetHandlerForPath(req.Method, req.Path)
	if !found {
		return &Response{
			StatusCode: http.StatusNotFound,
			Headers:    map[string]string{"Content-Type": "text/plain"},
			Body:       fmt.Sprintf("Service not found for %s %s", req.Method, req.Path),
		}, nil
	}

	return handler(req)
}

func compactJSON(body string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(body)); err != nil {
		// If it's not JSON, return trimmed original
		return strings.TrimSpace(body)
	}
	return buf.String()
}
