package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/selhaddad/paystream/internal/backend"
	"github.com/selhaddad/paystream/internal/ledger"
	"github.com/selhaddad/paystream/internal/notify"
	"github.com/selhaddad/paystream/internal/payment"
	"github.com/selhaddad/paystream/internal/session"
)

// Full-pipeline load generator: every worker runs a real client stack
// (session, router, ledger, orchestrator) against a bankd instance and
// drives payments end to end, OTP wait included.
var (
	targetURL   string
	streamURL   string
	concurrency int
	duration    time.Duration
)

var (
	totalIntents uint64
	committed    uint64
	failed       uint64
	errs         uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "bankd base URL")
	flag.StringVar(&streamURL, "stream", "ws://localhost:8080/stream", "bankd stream URL")
	flag.IntVar(&concurrency, "workers", 5, "Number of concurrent clients")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark | Workers: %d | Duration: %s", concurrency, duration)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx, cancel := context.WithTimeout(context.Background(), duration+30*time.Second)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(ctx, i, logger, &wg, start)
	}
	wg.Wait()
	printResults(time.Since(start))
}

func worker(ctx context.Context, idx int, logger *slog.Logger, wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()

	accountID, err := createAccount()
	if err != nil {
		log.Printf("worker %d: account setup failed: %v", idx, err)
		atomic.AddUint64(&errs, 1)
		return
	}

	identity := fmt.Sprintf("06%08d", idx)
	sess, err := session.New(session.DefaultConfig(streamURL), identity, logger)
	if err != nil {
		log.Printf("worker %d: %v", idx, err)
		atomic.AddUint64(&errs, 1)
		return
	}
	if err := sess.Connect(ctx); err != nil {
		atomic.AddUint64(&errs, 1)
		return
	}
	defer sess.Disconnect()

	led, _ := ledger.New(accountID, nil, logger)
	router := notify.NewRouter(led, nil, logger)
	go router.Run(ctx, sess.Events())

	for !sess.IsReady() {
		if ctx.Err() != nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	client := backend.NewClient(targetURL, accountID, sess.Identity(), logger)
	orch := payment.New(client, sess, led, payment.Config{OtpWait: 10 * time.Second}, logger)

	for time.Since(start) < duration && ctx.Err() == nil {
		updates, err := orch.SubmitIntent(ctx, payment.Request{
			Amount:          "1.00",
			CounterpartyRef: fmt.Sprintf("bench-%d", idx),
		})
		if err != nil {
			atomic.AddUint64(&errs, 1)
			continue
		}
		var last payment.Intent
		for intent := range updates {
			last = intent
		}
		atomic.AddUint64(&totalIntents, 1)
		if last.State == payment.StateCommitted {
			atomic.AddUint64(&committed, 1)
		} else {
			atomic.AddUint64(&failed, 1)
		}
	}
}

func createAccount() (string, error) {
	body := bytes.NewBufferString(`{"balance_minor": 10000000}`)
	resp, err := http.Post(targetURL+"/api/v1/accounts", "application/json", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var acc struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&acc); err != nil {
		return "", err
	}
	return acc.ID, nil
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalIntents)
	ok := atomic.LoadUint64(&committed)
	bad := atomic.LoadUint64(&failed)
	er := atomic.LoadUint64(&errs)

	results := map[string]interface{}{
		"duration_sec":    d.Seconds(),
		"total_intents":   total,
		"throughput_ips":  float64(total) / d.Seconds(),
		"committed":       ok,
		"failed":          bad,
		"errors":          er,
		"commit_rate_pct": pct(ok, total),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)
}

func pct(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
