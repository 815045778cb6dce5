// Package workflow drives the register, transport and scan journey of one
// product against an API node.
package workflow

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Step names
const (
	StepRegister  = "Register Product"
	StepTransport = "Transport Update"
	StepScan      = "Scan Product"
	StepComplete  = "Complete Workflow"
)

// Options describe the product each run registers
type Options struct {
	ProductType string
	Location    string
	Handler     string
	// Pause is slept between steps
	Pause time.Duration
}

// Result is the latency of one step
type Result struct {
	Step        string
	Latency     time.Duration
	BlockHeight int64
}

type productResponse struct {
	ID          string `json:"id"`
	TxHash      string `json:"txHash"`
	BlockHeight string `json:"blockHeight"`
}

type scanResponse struct {
	Verified               bool `json:"verified"`
	BlockchainVerification struct {
		BlockHeight       string `json:"blockHeight"`
		VerificationCount int    `json:"verificationCount"`
	} `json:"blockchainVerification"`
}

// Run executes one journey. Results gathered before a failure are returned with the error.
func Run(ctx context.Context, client *HTTPClient, opts Options) ([]Result, error) {
	var results []Result
	totalStart := time.Now()

	// 1. Register product
	start := time.Now()
	resp, err := client.POST(ctx, "/products", map[string]any{
		"name":     fmt.Sprintf("%s batch %d", opts.ProductType, time.Now().UnixNano()),
		"type":     opts.ProductType,
		"quantity": 100,
		"unit":     "kg",
		"location": opts.Location,
	})
	if err != nil {
		return results, fmt.Errorf("register product: %w", err)
	}
	var product productResponse
	if err := UnmarshalBody(resp, &product); err != nil {
		return results, fmt.Errorf("register product: %w", err)
	}
	results = append(results, Result{StepRegister, time.Since(start), parseHeight(product.BlockHeight)})
	pause(ctx, opts.Pause)

	// 2. Transport update
	start = time.Now()
	resp, err = client.POST(ctx, "/products/"+product.ID+"/transport", map[string]any{
		"status":   "In Transit",
		"location": opts.Location,
		"handler":  opts.Handler,
	})
	if err != nil {
		return results, fmt.Errorf("transport update: %w", err)
	}
	var moved productResponse
	if err := UnmarshalBody(resp, &moved); err != nil {
		return results, fmt.Errorf("transport update: %w", err)
	}
	results = append(results, Result{StepTransport, time.Since(start), parseHeight(moved.BlockHeight)})
	pause(ctx, opts.Pause)

	// 3. Scan
	start = time.Now()
	resp, err = client.GET(ctx, "/scan/"+product.ID)
	if err != nil {
		return results, fmt.Errorf("scan product: %w", err)
	}
	var scan scanResponse
	if err := UnmarshalBody(resp, &scan); err != nil {
		return results, fmt.Errorf("scan product: %w", err)
	}
	if !scan.Verified {
		return results, fmt.Errorf("scan product: %s not verified on the ledger", product.ID)
	}
	results = append(results, Result{StepScan, time.Since(start), parseHeight(scan.BlockchainVerification.BlockHeight)})

	results = append(results, Result{StepComplete, time.Since(totalStart), 0})
	return results, nil
}

func parseHeight(s string) int64 {
	h, _ := strconv.ParseInt(s, 10, 64)
	return h
}

func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
