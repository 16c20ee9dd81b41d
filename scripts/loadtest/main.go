// Loadtest sends concurrent text processing requests to a running service
// and reports throughput, latency percentiles, cache hit ratio and error
// code distribution.
//
// Usage:
//
//	go run ./scripts/loadtest --url http://localhost:8000 --api-key KEY --requests 500 --concurrency 20
//	go run ./scripts/loadtest --operation sentiment --unique 10 --csv results.csv --out summary.json
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const processPath = "/v1/text_processing/process"

type result struct {
	idx       int
	status    int
	cached    bool
	errorCode string
	duration  time.Duration
	err       error
}

type summary struct {
	Target        string         `json:"target"`
	Operation     string         `json:"operation"`
	Requests      int            `json:"requests"`
	Concurrency   int            `json:"concurrency"`
	Success       int            `json:"success"`
	Failure       int            `json:"failure"`
	CacheHits     int            `json:"cache_hits"`
	CacheHitRatio float64        `json:"cache_hit_ratio"`
	DurationMS    int64          `json:"duration_ms"`
	Throughput    float64        `json:"throughput_rps"`
	StatusCodes   map[string]int `json:"status_codes"`
	ErrorCodes    map[string]int `json:"error_codes"`
	P50           float64        `json:"p50_ms"`
	P90           float64        `json:"p90_ms"`
	P95           float64        `json:"p95_ms"`
	P99           float64        `json:"p99_ms"`
}

func main() {
	app := kingpin.New("loadtest", "Load test the text processing API")
	target := app.Flag("url", "Service base URL").Default("http://localhost:8000").String()
	apiKey := app.Flag("api-key", "API key sent as a Bearer token").Envar("API_KEY").String()
	operation := app.Flag("operation", "Operation to request").Default("summarize").
		Enum("summarize", "sentiment", "key_points", "questions", "qa")
	requests := app.Flag("requests", "Total number of requests").Default("100").Int()
	concurrency := app.Flag("concurrency", "Number of concurrent workers").Default("10").Int()
	unique := app.Flag("unique", "Number of distinct texts; repeats exercise the cache").Default("0").Int()
	timeout := app.Flag("timeout", "Per-request timeout").Default("60s").Duration()
	outJSON := app.Flag("out", "Write JSON summary to this file").String()
	outCSV := app.Flag("csv", "Write per-request CSV to this file").String()
	verbose := app.Flag("verbose", "Print every request").Short('v').Bool()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	client := &http.Client{Timeout: *timeout}
	url := *target + processPath
	runID := uuid.NewString()

	jobs := make(chan int)
	results := make(chan result, *concurrency)

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		defer close(jobs)
		for i := range *requests {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	var workers sync.WaitGroup
	for range *concurrency {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for idx := range jobs {
				body := requestBody(*operation, textFor(runID, idx, *unique))
				res := send(ctx, client, url, *apiKey, idx, body)
				if *verbose {
					fmt.Printf("idx=%d status=%d cached=%t code=%s dur=%v err=%v\n",
						res.idx, res.status, res.cached, res.errorCode, res.duration, res.err)
				}
				results <- res
			}
			return nil
		})
	}

	go func() {
		workers.Wait()
		close(results)
	}()

	start := time.Now()
	var collected []result
	for res := range results {
		collected = append(collected, res)
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "load test aborted: %v\n", err)
		os.Exit(1)
	}
	elapsed := time.Since(start)

	s := summarize(collected, elapsed)
	s.Target = url
	s.Operation = *operation
	s.Requests = *requests
	s.Concurrency = *concurrency
	printSummary(s)

	if *outCSV != "" {
		if err := writeCSV(*outCSV, collected); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write csv: %v\n", err)
			os.Exit(1)
		}
	}
	if *outJSON != "" {
		if err := writeJSON(*outJSON, s); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write json: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if s.Failure > 0 {
		os.Exit(2)
	}
}

func textFor(runID string, idx, unique int) string {
	n := idx
	if unique > 0 {
		n = idx % unique
	}
	return fmt.Sprintf("Load test %s document %d. The quarterly report shows steady growth "+
		"in subscriptions while support costs fell after the new onboarding flow shipped.", runID, n)
}

func requestBody(operation, text string) []byte {
	req := map[string]any{"text": text, "operation": operation}
	if operation == "qa" {
		req["question"] = "What happened to support costs?"
	}
	b, _ := json.Marshal(req)
	return b
}

func send(ctx context.Context, client *http.Client, url, apiKey string, idx int, body []byte) result {
	res := result{idx: idx}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		res.err = err
		return res
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		res.err = err
		res.duration = time.Since(start)
		return res
	}
	defer resp.Body.Close()

	res.status = resp.StatusCode
	var payload struct {
		Cached    bool   `json:"cached"`
		ErrorCode string `json:"error_code"`
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &payload)
	res.cached = payload.Cached
	res.errorCode = payload.ErrorCode
	res.duration = time.Since(start)
	return res
}

func summarize(results []result, elapsed time.Duration) summary {
	s := summary{
		DurationMS:  elapsed.Milliseconds(),
		StatusCodes: make(map[string]int),
		ErrorCodes:  make(map[string]int),
	}

	latencies := make([]time.Duration, 0, len(results))
	for _, r := range results {
		latencies = append(latencies, r.duration)
		switch {
		case r.err != nil:
			s.Failure++
			s.StatusCodes["transport_error"]++
			continue
		case r.status >= 200 && r.status < 300:
			s.Success++
		default:
			s.Failure++
		}
		s.StatusCodes[strconv.Itoa(r.status)]++
		if r.cached {
			s.CacheHits++
		}
		if r.errorCode != "" {
			s.ErrorCodes[r.errorCode]++
		}
	}

	if elapsed > 0 {
		s.Throughput = float64(len(results)) / elapsed.Seconds()
	}
	if s.Success > 0 {
		s.CacheHitRatio = float64(s.CacheHits) / float64(s.Success)
	}

	if len(latencies) > 0 {
		slices.Sort(latencies)
		pick := func(p float64) float64 {
			d := latencies[int(float64(len(latencies)-1)*p)]
			return float64(d.Microseconds()) / 1000
		}
		s.P50, s.P90, s.P95, s.P99 = pick(0.50), pick(0.90), pick(0.95), pick(0.99)
	}
	return s
}

func printSummary(s summary) {
	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s  Operation: %s\n", s.Target, s.Operation)
	fmt.Printf("Requests: %d  Concurrency: %d\n", s.Requests, s.Concurrency)
	fmt.Printf("Success: %d  Failure: %d  Cache hits: %d (%.1f%%)\n",
		s.Success, s.Failure, s.CacheHits, s.CacheHitRatio*100)
	fmt.Printf("Duration: %dms  Throughput: %.2f req/s\n", s.DurationMS, s.Throughput)
	fmt.Printf("Latency ms: p50=%.1f p90=%.1f p95=%.1f p99=%.1f\n", s.P50, s.P90, s.P95, s.P99)

	fmt.Println("\nStatus codes:")
	for _, k := range sortedKeys(s.StatusCodes) {
		fmt.Printf("  %s -> %d\n", k, s.StatusCodes[k])
	}
	if len(s.ErrorCodes) > 0 {
		fmt.Println("\nError codes:")
		for _, k := range sortedKeys(s.ErrorCodes) {
			fmt.Printf("  %s -> %d\n", k, s.ErrorCodes[k])
		}
	}
	fmt.Printf("\nGOMAXPROCS=%d\n", runtime.GOMAXPROCS(0))
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func writeCSV(path string, results []result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	_ = w.Write([]string{"idx", "status", "cached", "error_code", "duration_ms"})
	for _, r := range results {
		_ = w.Write([]string{
			strconv.Itoa(r.idx),
			strconv.Itoa(r.status),
			strconv.FormatBool(r.cached),
			r.errorCode,
			fmt.Sprintf("%.3f", float64(r.duration.Microseconds())/1000),
		})
	}
	w.Flush()
	return w.Error()
}

func writeJSON(path string, s summary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
