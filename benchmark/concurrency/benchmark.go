package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agritrace/agritracechain/benchmark/workflow"
)

type WorkflowResult struct {
	Success  bool
	Latency  time.Duration
	ErrorMsg string
}

func main() {
	l1Nodes := flag.Int("l1", 4, "Number of L1 nodes")
	l2Nodes := flag.Int("l2", 2, "Number of API nodes")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	duration := flag.Int("duration", 30, "Test duration in seconds")
	l2Port := flag.String("port", "7000", "API node port")
	productType := flag.String("type", "Vegetable", "Product type to register")
	location := flag.String("location", "Da Lat", "Product location")
	flag.Parse()

	recordsDir := "./records"
	if err := os.MkdirAll(recordsDir, 0755); err != nil {
		fmt.Printf("Error creating records dir: %v\n", err)
		return
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := filepath.Join(recordsDir, fmt.Sprintf(
		"concurrency_%s_w%d_d%ds_l1-%d_l2-%d.csv",
		timestamp, *workers, *duration, *l1Nodes, *l2Nodes,
	))

	fmt.Println("========================================")
	fmt.Println("   CONCURRENCY BENCHMARK")
	fmt.Println("========================================")
	fmt.Printf("L1 Nodes:   %d\n", *l1Nodes)
	fmt.Printf("API Nodes:  %d\n", *l2Nodes)
	fmt.Printf("Workers:    %d\n", *workers)
	fmt.Printf("Duration:   %ds\n", *duration)
	fmt.Printf("API URL:    http://127.0.0.1:%s\n", *l2Port)
	fmt.Printf("Product:    %s @ %s\n", *productType, *location)
	fmt.Printf("Output:     %s\n", filename)
	fmt.Println("========================================")
	fmt.Println("")

	baseURL := fmt.Sprintf("http://127.0.0.1:%s", *l2Port)
	opts := workflow.Options{
		ProductType: *productType,
		Location:    *location,
		Handler:     "Benchmark Logistics",
	}

	ctx, stop := context.WithTimeout(context.Background(), time.Duration(*duration)*time.Second)
	defer stop()
	resultsChan := make(chan WorkflowResult, *workers*10)

	// Counters
	var totalReqs int64
	var successReqs int64
	var failedReqs int64
	var totalLatency int64
	var minLatency int64 = 1<<63 - 1
	var maxLatency int64 = 0

	// Start worker goroutines
	fmt.Println("Starting workers...")
	startTime := time.Now()
	var workerGroup errgroup.Group
	for i := 0; i < *workers; i++ {
		workerGroup.Go(func() error {
			worker(ctx, workflow.NewHTTPClient(baseURL), opts, resultsChan)
			return nil
		})
	}

	// Start result collector
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for result := range resultsChan {
			atomic.AddInt64(&totalReqs, 1)

			if result.Success {
				atomic.AddInt64(&successReqs, 1)
				latencyNs := result.Latency.Nanoseconds()
				atomic.AddInt64(&totalLatency, latencyNs)

				// Update min latency
				for {
					old := atomic.LoadInt64(&minLatency)
					if latencyNs >= old || atomic.CompareAndSwapInt64(&minLatency, old, latencyNs) {
						break
					}
				}

				// Update max latency
				for {
					old := atomic.LoadInt64(&maxLatency)
					if latencyNs <= old || atomic.CompareAndSwapInt64(&maxLatency, old, latencyNs) {
						break
					}
				}
			} else {
				atomic.AddInt64(&failedReqs, 1)
			}

			// Progress indicator
			if n := atomic.LoadInt64(&totalReqs); n%10 == 0 {
				fmt.Printf("\rRequests: %d | Success: %d | Failed: %d | TPS: %.2f",
					n, atomic.LoadInt64(&successReqs), atomic.LoadInt64(&failedReqs),
					float64(n)/time.Since(startTime).Seconds())
			}
		}
	}()

	fmt.Printf("Running benchmark for %d seconds...\n", *duration)

	// Workers stop when ctx expires
	_ = workerGroup.Wait()
	close(resultsChan)
	<-collectorDone

	elapsed := time.Since(startTime)

	// Calculate results
	tps := float64(successReqs) / elapsed.Seconds()
	avgLatency := time.Duration(0)
	if successReqs > 0 {
		avgLatency = time.Duration(totalLatency / successReqs)
	}

	// Print results
	fmt.Println("\n\n========================================")
	fmt.Println("   BENCHMARK RESULTS")
	fmt.Println("========================================")
	fmt.Printf("Total Requests:    %d\n", totalReqs)
	fmt.Printf("Successful:        %d (%.2f%%)\n", successReqs, percent(successReqs, totalReqs))
	fmt.Printf("Failed:            %d (%.2f%%)\n", failedReqs, percent(failedReqs, totalReqs))
	fmt.Printf("Duration:          %v\n", elapsed)
	fmt.Printf("Throughput (TPS):  %.2f\n", tps)
	fmt.Printf("Avg Latency:       %v\n", avgLatency)
	fmt.Printf("Min Latency:       %v\n", time.Duration(minLatency))
	fmt.Printf("Max Latency:       %v\n", time.Duration(maxLatency))
	fmt.Println("========================================")

	// Save to CSV
	file, err := os.Create(filename)
	if err != nil {
		fmt.Printf("Error creating file: %v\n", err)
		return
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	_ = writer.Write([]string{
		"L1_Nodes", "L2_Nodes", "Workers", "Duration_s",
		"Total_Requests", "Successful", "Failed",
		"TPS", "Avg_Latency_ms", "Min_Latency_ms", "Max_Latency_ms",
	})

	_ = writer.Write([]string{
		fmt.Sprintf("%d", *l1Nodes),
		fmt.Sprintf("%d", *l2Nodes),
		fmt.Sprintf("%d", *workers),
		fmt.Sprintf("%d", *duration),
		fmt.Sprintf("%d", totalReqs),
		fmt.Sprintf("%d", successReqs),
		fmt.Sprintf("%d", failedReqs),
		fmt.Sprintf("%.2f", tps),
		fmt.Sprintf("%.2f", float64(avgLatency.Milliseconds())),
		fmt.Sprintf("%.2f", float64(time.Duration(minLatency).Milliseconds())),
		fmt.Sprintf("%.2f", float64(time.Duration(maxLatency).Milliseconds())),
	})

	fmt.Printf("\nResults saved to: %s\n", filename)
}

func worker(ctx context.Context, client *workflow.HTTPClient, opts workflow.Options, resultsChan chan<- WorkflowResult) {
	for ctx.Err() == nil {
		start := time.Now()
		_, err := workflow.Run(ctx, client, opts)
		latency := time.Since(start)

		// a journey cut off by the deadline is not counted
		if ctx.Err() != nil {
			return
		}

		result := WorkflowResult{
			Success: err == nil,
			Latency: latency,
		}
		if err != nil {
			result.ErrorMsg = err.Error()
		}

		resultsChan <- result
	}
}

func percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
