// Benchmark tool for replaying the labeled credit card dataset against Aura.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/creditcard.csv -url http://localhost:8080
//
// This tool:
//  1. Reads transactions with their Class label (1 = fraud)
//  2. Sends each transaction to POST /predict
//  3. Compares Aura's verdict with the label
//  4. Optionally submits the label as feedback, seeding the next retraining run
//  5. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/aura/internal/domain"
)

// Transaction is one labeled row of the dataset.
type Transaction struct {
	Row      int
	Features map[string]float64
	IsFraud  bool
}

// PredictResponse is the Aura API response format.
type PredictResponse struct {
	PredictionID string  `json:"prediction_id"`
	Source       string  `json:"source"`
	IsFraud      bool    `json:"is_fraud"`
	FraudScore   float64 `json:"fraud_score"`
	Explanation  string  `json:"explanation"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Fraud flagged as fraud
	FalsePositives int64 // Legitimate flagged as fraud
	TrueNegatives  int64 // Legitimate passed
	FalseNegatives int64 // Fraud passed (missed fraud!)

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64
	RuleBased      int64
	FeedbackSent   int64

	ProcessingTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to the labeled creditcard CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Aura base URL")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Only test fraud transactions")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for non-fraud (0.0-1.0)")
	sendFeedback := flag.Bool("feedback", false, "Submit each label as feedback after the prediction")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/creditcard.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("AURA BENCHMARK - credit card fraud detection")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Aura URL:    %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Fraud Only:  %v\n", *fraudOnly)
	fmt.Printf("Sample Rate: %.2f\n", *sampleRate)
	fmt.Printf("Feedback:    %v\n", *sendFeedback)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Aura not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Aura is running:")
		fmt.Println("  go run ./cmd/aura serve")
		os.Exit(1)
	}
	fmt.Println("Aura is healthy")

	fmt.Printf("\nReading data from %s...\n", *csvPath)
	transactions, err := readCSV(*csvPath, *limit, *fraudOnly, *sampleRate)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(transactions) == 0 {
		fmt.Println("ERROR: no transactions selected")
		os.Exit(1)
	}
	fmt.Printf("Loaded %d transactions\n", len(transactions))

	fraudCount := 0
	for _, tx := range transactions {
		if tx.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(transactions)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(transactions)-fraudCount, 100*float64(len(transactions)-fraudCount)/float64(len(transactions)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(context.Background(), transactions, *baseURL, *workers, *sendFeedback, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readCSV(path string, limit int, fraudOnly bool, sampleRate float64) ([]Transaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[col] = i
	}
	classIdx, ok := colIndex["Class"]
	if !ok {
		return nil, errors.New("missing Class column")
	}
	for _, col := range domain.FeatureColumns {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing %s column", col)
		}
	}

	var transactions []Transaction
	sampleCounter := 0
	row := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			continue // Skip malformed rows
		}

		isFraud := record[classIdx] == "1" || record[classIdx] == "1.0"

		if fraudOnly && !isFraud {
			continue
		}

		// Sample non-fraud transactions
		if !isFraud && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		features := make(map[string]float64, len(domain.FeatureColumns))
		valid := true
		for _, col := range domain.FeatureColumns {
			v, err := strconv.ParseFloat(record[colIndex[col]], 64)
			if err != nil {
				valid = false
				break
			}
			features[col] = v
		}
		if !valid {
			continue
		}

		transactions = append(transactions, Transaction{Row: row, Features: features, IsFraud: isFraud})

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

func runBenchmark(ctx context.Context, transactions []Transaction, baseURL string, numWorkers int, sendFeedback, verbose bool) *Metrics {
	metrics := &Metrics{}
	client := &http.Client{Timeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(numWorkers, 1))

	for _, tx := range transactions {
		g.Go(func() error {
			start := time.Now()
			result, err := predict(ctx, client, baseURL, tx)
			elapsed := time.Since(start).Milliseconds()

			atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
			atomic.AddInt64(&metrics.TotalProcessed, 1)

			if err != nil {
				atomic.AddInt64(&metrics.TotalErrors, 1)
				if verbose {
					fmt.Printf("ERROR: row %d -> %v\n", tx.Row, err)
				}
				return nil
			}

			if tx.IsFraud {
				atomic.AddInt64(&metrics.TotalFraud, 1)
			} else {
				atomic.AddInt64(&metrics.TotalNonFraud, 1)
			}
			if domain.IsSentinel(result.PredictionID) {
				atomic.AddInt64(&metrics.RuleBased, 1)
			}

			predicted := result.IsFraud
			actual := tx.IsFraud

			switch {
			case predicted && actual:
				atomic.AddInt64(&metrics.TruePositives, 1)
			case predicted && !actual:
				atomic.AddInt64(&metrics.FalsePositives, 1)
			case !predicted && !actual:
				atomic.AddInt64(&metrics.TrueNegatives, 1)
			default:
				atomic.AddInt64(&metrics.FalseNegatives, 1)
			}

			// Rule-based decisions do not accept feedback.
			if sendFeedback && !domain.IsSentinel(result.PredictionID) {
				if err := submitFeedback(ctx, client, baseURL, result.PredictionID, actual); err != nil {
					if verbose {
						fmt.Printf("FEEDBACK ERROR: row %d -> %v\n", tx.Row, err)
					}
				} else {
					atomic.AddInt64(&metrics.FeedbackSent, 1)
				}
			}

			if verbose {
				status := "ok "
				if predicted != actual {
					status = "ERR"
				}
				fmt.Printf("%s row %-7d | Amount: $%12.2f | Fraud: %-5v | Aura: %-5v (%.2f, %s)\n",
					status,
					tx.Row,
					tx.Features[domain.ColumnAmount],
					tx.IsFraud,
					result.IsFraud,
					result.FraudScore,
					result.Source,
				)
			}
			return nil
		})
	}

	g.Wait()
	return metrics
}

func predict(ctx context.Context, client *http.Client, baseURL string, tx Transaction) (*PredictResponse, error) {
	var result PredictResponse
	if err := postJSON(ctx, client, baseURL+"/predict", tx.Features, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func submitFeedback(ctx context.Context, client *http.Client, baseURL, predictionID string, fraud bool) error {
	label := 0
	if fraud {
		label = 1
	}
	return postJSON(ctx, client, baseURL+"/feedback", map[string]any{
		"prediction_id": predictionID,
		"correct_label": label,
	}, nil)
}

func postJSON(ctx context.Context, client *http.Client, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)
	fmt.Printf("   Rule-Based:       %d\n", m.RuleBased)
	fmt.Printf("   Feedback Sent:    %d\n", m.FeedbackSent)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   FRAUD     LEGIT")
	fmt.Printf("   Actual  F   %9d %9d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("          NF   %9d %9d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of alerts, how many were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	if m.TotalFraud > 0 {
		fmt.Printf("\n   Fraud Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFraud, float64(m.TruePositives)/float64(m.TotalFraud)*100)
		fmt.Printf("   Fraud Missed:      %d / %d (%.2f%%)\n", m.FalseNegatives, m.TotalFraud, float64(m.FalseNegatives)/float64(m.TotalFraud)*100)
	}
	if m.TotalNonFraud > 0 {
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalNonFraud, float64(m.FalsePositives)/float64(m.TotalNonFraud)*100)
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	fmt.Println()
}
