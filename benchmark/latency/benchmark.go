package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/agritrace/agritracechain/benchmark/workflow"
)

func main() {
	l1Nodes := flag.Int("l1", 4, "Number of L1 nodes")
	l2Nodes := flag.Int("l2", 2, "Number of API nodes")
	iterations := flag.Int("n", 100, "Number of iterations")
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
		"latency_%s_n%d_l1-%d_l2-%d.csv",
		timestamp, *iterations, *l1Nodes, *l2Nodes,
	))

	file, err := os.Create(filename)
	if err != nil {
		fmt.Printf("Error creating file: %v\n", err)
		return
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	_ = writer.Write([]string{"Iteration", "Step", "Latency_ms", "BlockHeight"})

	baseURL := fmt.Sprintf("http://127.0.0.1:%s", *l2Port)
	client := workflow.NewHTTPClient(baseURL)
	opts := workflow.Options{
		ProductType: *productType,
		Location:    *location,
		Handler:     "Benchmark Logistics",
		Pause:       100 * time.Millisecond,
	}

	fmt.Println("========================================")
	fmt.Println("   LATENCY BENCHMARK")
	fmt.Println("========================================")
	fmt.Printf("L1 Nodes:   %d\n", *l1Nodes)
	fmt.Printf("API Nodes:  %d\n", *l2Nodes)
	fmt.Printf("Iterations: %d\n", *iterations)
	fmt.Printf("API URL:    %s\n", baseURL)
	fmt.Printf("Product:    %s @ %s\n", *productType, *location)
	fmt.Printf("Output:     %s\n", filename)
	fmt.Println("========================================")
	fmt.Println("")

	successCount := 0
	failCount := 0

	for i := 0; i < *iterations; i++ {
		fmt.Printf("\r[%d/%d] ", i+1, *iterations)

		results, err := workflow.Run(context.Background(), client, opts)
		if err == nil {
			successCount++
			fmt.Print("✓")
			for _, r := range results {
				_ = writer.Write([]string{
					strconv.Itoa(i + 1),
					r.Step,
					strconv.FormatInt(r.Latency.Milliseconds(), 10),
					strconv.FormatInt(r.BlockHeight, 10),
				})
			}
		} else {
			failCount++
			fmt.Printf("✗ %v\n", err)
		}

		time.Sleep(50 * time.Millisecond)
	}

	fmt.Printf("\n\n========================================\n")
	fmt.Printf("Success: %d/%d\n", successCount, *iterations)
	if failCount > 0 {
		fmt.Printf("Failed:  %d\n", failCount)
	}
	fmt.Printf("Results: %s\n", filename)
	fmt.Println("========================================")
}
