package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

// loadConfig holds the load generator settings, read from environment
// variables.
type loadConfig struct {
	TargetURL       string
	NumWorkers      int
	OrdersPerWorker int
	RatePerSecond   int
	PriceBase       int64
	PriceSpread     int64
	MaxQuantity     int64
	HTTPTimeout     time.Duration
}

func loadConfigFromEnv() (*loadConfig, error) {
	v := viper.New()

	v.SetDefault("TARGET_URL", "http://localhost:8080")
	v.SetDefault("NUM_WORKERS", 16)
	v.SetDefault("ORDERS_PER_WORKER", 1000)
	v.SetDefault("RATE_PER_SECOND", 2000)
	v.SetDefault("PRICE_BASE", 10000)
	v.SetDefault("PRICE_SPREAD", 50)
	v.SetDefault("MAX_QUANTITY", 10)
	v.SetDefault("HTTP_TIMEOUT_SECONDS", 5)

	v.AutomaticEnv()

	cfg := &loadConfig{
		TargetURL:       v.GetString("TARGET_URL"),
		NumWorkers:      v.GetInt("NUM_WORKERS"),
		OrdersPerWorker: v.GetInt("ORDERS_PER_WORKER"),
		RatePerSecond:   v.GetInt("RATE_PER_SECOND"),
		PriceBase:       v.GetInt64("PRICE_BASE"),
		PriceSpread:     v.GetInt64("PRICE_SPREAD"),
		MaxQuantity:     v.GetInt64("MAX_QUANTITY"),
		HTTPTimeout:     time.Duration(v.GetInt("HTTP_TIMEOUT_SECONDS")) * time.Second,
	}

	if cfg.TargetURL == "" {
		return nil, fmt.Errorf("TARGET_URL must not be empty")
	}
	if cfg.NumWorkers <= 0 {
		return nil, fmt.Errorf("NUM_WORKERS must be positive")
	}
	if cfg.OrdersPerWorker <= 0 {
		return nil, fmt.Errorf("ORDERS_PER_WORKER must be positive")
	}
	if cfg.RatePerSecond <= 0 {
		return nil, fmt.Errorf("RATE_PER_SECOND must be positive")
	}
	if cfg.PriceBase <= cfg.PriceSpread {
		return nil, fmt.Errorf("PRICE_BASE must exceed PRICE_SPREAD")
	}
	if cfg.MaxQuantity <= 0 {
		return nil, fmt.Errorf("MAX_QUANTITY must be positive")
	}
	return cfg, nil
}

type submitRequest struct {
	OrderID  string `json:"order_id"`
	Side     string `json:"side"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

func main() {
	cfg, err := loadConfigFromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		log.Println("Received interrupt signal, stopping...")
		cancel()
	}()

	client := &http.Client{Timeout: cfg.HTTPTimeout}
	limiter := rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RatePerSecond)

	// Latency recorded in microseconds, up to one minute.
	hist := hdrhistogram.New(1, 60_000_000, 3)
	var histMu sync.Mutex
	var accepted, rejected, failed atomic.Int64

	total := cfg.NumWorkers * cfg.OrdersPerWorker
	log.Printf("Starting %d workers, %d orders per worker against %s...",
		cfg.NumWorkers, cfg.OrdersPerWorker, cfg.TargetURL)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < cfg.NumWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
			local := hdrhistogram.New(1, 60_000_000, 3)

			for j := 0; j < cfg.OrdersPerWorker; j++ {
				if err := limiter.Wait(ctx); err != nil {
					break
				}

				req := randomOrder(cfg, rng, workerID*cfg.OrdersPerWorker+j)
				sent := time.Now()
				status, err := postOrder(ctx, client, cfg.TargetURL, req)
				elapsed := time.Since(sent)

				switch {
				case err != nil:
					failed.Add(1)
				case status == http.StatusAccepted:
					accepted.Add(1)
					_ = local.RecordValue(elapsed.Microseconds())
				default:
					rejected.Add(1)
				}
			}

			histMu.Lock()
			hist.Merge(local)
			histMu.Unlock()
		}(i)
	}

	wg.Wait()
	duration := time.Since(start)

	log.Printf("Load test completed in %v", duration)
	log.Printf("Total orders attempted: %d", total)
	log.Printf("Accepted: %d, rejected: %d, transport failures: %d",
		accepted.Load(), rejected.Load(), failed.Load())
	if n := accepted.Load(); n > 0 {
		log.Printf("Throughput: %.0f accepts/sec", float64(n)/duration.Seconds())
		log.Printf("Latency p50=%dus p90=%dus p99=%dus p99.9=%dus max=%dus",
			hist.ValueAtQuantile(50),
			hist.ValueAtQuantile(90),
			hist.ValueAtQuantile(99),
			hist.ValueAtQuantile(99.9),
			hist.Max())
	}

	if failed.Load() > 0 {
		os.Exit(1)
	}
}

// randomOrder builds an order near the configured mid price so a
// healthy share of the flow crosses and trades.
func randomOrder(cfg *loadConfig, rng *rand.Rand, orderNum int) submitRequest {
	side := "BUY"
	if rng.Float64() < 0.5 {
		side = "SELL"
	}

	return submitRequest{
		OrderID:  fmt.Sprintf("load-%d-%d", os.Getpid(), orderNum),
		Side:     side,
		Price:    cfg.PriceBase + rng.Int63n(2*cfg.PriceSpread+1) - cfg.PriceSpread,
		Quantity: 1 + rng.Int63n(cfg.MaxQuantity),
	}
}

func postOrder(ctx context.Context, client *http.Client, baseURL string, order submitRequest) (int, error) {
	body, err := json.Marshal(order)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
