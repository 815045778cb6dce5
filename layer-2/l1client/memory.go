package l1client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryClient is an in-process ledger. Every submission lands in its own block.
type MemoryClient struct {
	mu        sync.Mutex
	height    int64
	records   map[string]Verification
	bySubject map[string]int
	failWith  error
}

// NewMemoryClient creates an empty in-memory ledger
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		records:   make(map[string]Verification),
		bySubject: make(map[string]int),
	}
}

// FailWith makes every following call return err until it is called with nil
func (m *MemoryClient) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Height returns the latest block height
func (m *MemoryClient) Height() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.height
}

func (m *MemoryClient) Submit(ctx context.Context, sub Submission) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := sub.validate(); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal submission: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}

	m.height++
	sum := sha256.Sum256(append(raw, []byte(fmt.Sprintf("@%d", m.height))...))
	txHash := "0x" + hex.EncodeToString(sum[:])
	now := time.Now().UTC()

	m.records[txHash] = Verification{
		TxHash:      txHash,
		BlockHeight: m.height,
		Kind:        sub.Kind,
		SubjectID:   sub.SubjectID,
		Actor:       sub.Actor,
		SubmitterID: sub.SubmitterID,
		Timestamp:   now,
	}
	m.bySubject[sub.SubjectID]++

	return &Receipt{TxHash: txHash, BlockHeight: m.height, ConfirmTime: now}, nil
}

func (m *MemoryClient) Verify(ctx context.Context, txHash string) (*Verification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	v, ok := m.records[txHash]
	if !ok {
		return nil, ErrNotFound
	}
	return &v, nil
}

func (m *MemoryClient) CountRecords(ctx context.Context, subjectID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return 0, m.failWith
	}
	return m.bySubject[subjectID], nil
}

func (m *MemoryClient) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failWith
}
