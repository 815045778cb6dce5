package l1client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Ledger record kinds
const (
	KindProductRegister  = "product.register"
	KindProductUpdate    = "product.update"
	KindProductTransport = "product.transport"
	KindPayment          = "payment"
	KindComplaint        = "complaint"
)

// ErrNotFound is returned when the ledger has no record for a hash
var ErrNotFound = errors.New("ledger record not found")

// LedgerClient writes trace records to the ledger and reads them back
type LedgerClient interface {
	// Submit writes one record and blocks until it is confirmed in a block
	Submit(ctx context.Context, sub Submission) (*Receipt, error)
	Verify(ctx context.Context, txHash string) (*Verification, error)
	CountRecords(ctx context.Context, subjectID string) (int, error)
	HealthCheck(ctx context.Context) error
}

// Submission is the body of a ledger write
type Submission struct {
	SubmitterID string          `json:"submitter_id"`
	Kind        string          `json:"kind"`
	SubjectID   string          `json:"subject_id"`
	Actor       string          `json:"actor"`
	Payload     json.RawMessage `json:"payload"`
	Nonce       string          `json:"nonce"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Receipt is the confirmation of a submitted record
type Receipt struct {
	TxHash      string
	BlockHeight int64
	ConfirmTime time.Time
}

// Verification describes a record found on the ledger
type Verification struct {
	TxHash      string    `json:"tx_hash"`
	BlockHeight int64     `json:"block_height"`
	Kind        string    `json:"kind"`
	SubjectID   string    `json:"subject_id"`
	Actor       string    `json:"actor"`
	SubmitterID string    `json:"submitter_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewSubmission builds a submission with a fresh nonce so identical payloads hash differently
func NewSubmission(submitterID, kind, subjectID, actor string, payload any) (Submission, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Submission{}, fmt.Errorf("failed to marshal ledger payload: %w", err)
	}
	return Submission{
		SubmitterID: submitterID,
		Kind:        kind,
		SubjectID:   subjectID,
		Actor:       actor,
		Payload:     raw,
		Nonce:       uuid.NewString(),
		Timestamp:   time.Now().UTC(),
	}, nil
}

func (s Submission) validate() error {
	if s.SubmitterID == "" || s.Kind == "" || s.SubjectID == "" {
		return fmt.Errorf("submission requires submitter_id, kind and subject_id")
	}
	return nil
}

// L1Client handles communication with the layer-1 ledger node
type L1Client struct {
	endpoint   string
	httpClient *http.Client
	nodeID     string
}

// CommitResponse represents the response from L1
type CommitResponse struct {
	Data struct {
		Message     string `json:"message"`
		TxHash      string `json:"tx_hash"`
		SubjectID   string `json:"subject_id"`
		Kind        string `json:"kind"`
		BlockHeight int64  `json:"block_height"`
	} `json:"data"`
	Meta struct {
		TxID          string    `json:"tx_id"`
		Status        string    `json:"status"`
		BlockHeight   int64     `json:"block_height"`
		ConfirmTime   time.Time `json:"confirm_time"`
		SubmitterInfo struct {
			SubmitterID string `json:"submitter_id"`
		} `json:"submitter_info"`
	} `json:"meta"`
	NodeID string `json:"node_id"`
}

type envelope struct {
	Data   json.RawMessage `json:"data"`
	NodeID string          `json:"node_id"`
}

type subjectRecords struct {
	SubjectID string `json:"subject_id"`
	Count     int    `json:"count"`
}

// NewL1Client creates a new L1 client. Every call is bounded by timeout.
func NewL1Client(endpoint, nodeID string, timeout time.Duration) *L1Client {
	return &L1Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		nodeID: nodeID,
	}
}

// Submit commits a record to L1 and returns once it is in a block
func (c *L1Client) Submit(ctx context.Context, sub Submission) (*Receipt, error) {
	if err := sub.validate(); err != nil {
		return nil, err
	}

	jsonData, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal commit request: %w", err)
	}

	reqURL := fmt.Sprintf("%s/l1/commit", c.endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return nil, fmt.Errorf("L1 returned error status %d: %s", status, string(body))
	}

	var commitResp CommitResponse
	if err := json.Unmarshal(body, &commitResp); err != nil {
		return nil, fmt.Errorf("failed to parse L1 response: %w", err)
	}
	if commitResp.Data.TxHash == "" {
		return nil, fmt.Errorf("L1 response carried no transaction hash")
	}

	height := commitResp.Meta.BlockHeight
	if height == 0 {
		height = commitResp.Data.BlockHeight
	}
	confirmed := commitResp.Meta.ConfirmTime
	if confirmed.IsZero() {
		confirmed = time.Now().UTC()
	}
	return &Receipt{
		TxHash:      commitResp.Data.TxHash,
		BlockHeight: height,
		ConfirmTime: confirmed,
	}, nil
}

// Verify looks a record up by transaction hash
func (c *L1Client) Verify(ctx context.Context, txHash string) (*Verification, error) {
	reqURL := fmt.Sprintf("%s/l1/transaction/%s", c.endpoint, url.PathEscape(txHash))
	data, err := c.getData(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var v Verification
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse L1 transaction: %w", err)
	}
	return &v, nil
}

// CountRecords returns how many records the ledger holds for a subject
func (c *L1Client) CountRecords(ctx context.Context, subjectID string) (int, error) {
	reqURL := fmt.Sprintf("%s/l1/subjects/%s/records", c.endpoint, url.PathEscape(subjectID))
	data, err := c.getData(ctx, reqURL)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var records subjectRecords
	if err := json.Unmarshal(data, &records); err != nil {
		return 0, fmt.Errorf("failed to parse L1 subject records: %w", err)
	}
	return records.Count, nil
}

// HealthCheck checks if L1 is reachable
func (c *L1Client) HealthCheck(ctx context.Context) error {
	reqURL := fmt.Sprintf("%s/l1/status", c.endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}

	status, _, err := c.do(req)
	if err != nil {
		return fmt.Errorf("L1 is unreachable: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("L1 health check failed with status: %d", status)
	}
	return nil
}

func (c *L1Client) getData(ctx context.Context, reqURL string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("L1 returned error status %d: %s", status, string(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse L1 response: %w", err)
	}
	return env.Data, nil
}

func (c *L1Client) do(req *http.Request) (int, []byte, error) {
	if c.nodeID != "" {
		req.Header.Set("X-Node-ID", c.nodeID)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send request to L1: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read L1 response: %w", err)
	}
	return resp.StatusCode, body, nil
}
