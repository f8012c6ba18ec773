package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/math"
	dbm "github.com/cosmos/cosmos-db"

	"github.com/Matty-7/StockTradingSystem/exchange/book"
	"github.com/Matty-7/StockTradingSystem/exchange/engine"
	"github.com/Matty-7/StockTradingSystem/exchange/store"
)

// BenchmarkResults holds all test results
type BenchmarkResults struct {
	BuyOrders   int64
	SellOrders  int64
	BuySuccess  int64
	SellSuccess int64
	BuyFailed   int64
	SellFailed  int64

	BuyLatencies  []time.Duration
	SellLatencies []time.Duration
	mu            sync.Mutex
}

func (r *BenchmarkResults) AddBuy(latency time.Duration, success bool) {
	atomic.AddInt64(&r.BuyOrders, 1)
	if success {
		atomic.AddInt64(&r.BuySuccess, 1)
	} else {
		atomic.AddInt64(&r.BuyFailed, 1)
	}
	r.mu.Lock()
	r.BuyLatencies = append(r.BuyLatencies, latency)
	r.mu.Unlock()
}

func (r *BenchmarkResults) AddSell(latency time.Duration, success bool) {
	atomic.AddInt64(&r.SellOrders, 1)
	if success {
		atomic.AddInt64(&r.SellSuccess, 1)
	} else {
		atomic.AddInt64(&r.SellFailed, 1)
	}
	r.mu.Lock()
	r.SellLatencies = append(r.SellLatencies, latency)
	r.mu.Unlock()
}

// tally counts fills as they commit
type tally struct {
	executions atomic.Int64

	mu     sync.Mutex
	shares math.LegacyDec
	value  math.LegacyDec
}

func newTally() *tally {
	return &tally{shares: math.LegacyZeroDec(), value: math.LegacyZeroDec()}
}

func (t *tally) ExecutionCommitted(_ string, shares, price math.LegacyDec, _ time.Time) {
	t.executions.Add(1)
	t.mu.Lock()
	t.shares = t.shares.Add(shares)
	t.value = t.value.Add(shares.Mul(price))
	t.mu.Unlock()
}

func (t *tally) BookChanged(string, *engine.Quote, *engine.Quote) {}

func percentile(latencies []time.Duration, p float64) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func avg(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	return total / time.Duration(len(latencies))
}

func minOf(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	m := latencies[0]
	for _, l := range latencies {
		if l < m {
			m = l
		}
	}
	return m
}

func maxOf(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	m := latencies[0]
	for _, l := range latencies {
		if l > m {
			m = l
		}
	}
	return m
}

func main() {
	orderCount := flag.Int("n", 10000, "Number of orders per side (buy and sell)")
	concurrency := flag.Int("c", 100, "Concurrency level")
	symbolCount := flag.Int("symbols", 4, "Number of symbols to spread orders across")
	bookKind := flag.String("book", "btree", "Order book implementation (btree|skiplist)")
	basePrice := flag.Int("price", 100, "Center of the limit price band")
	priceBand := flag.Int("band", 5, "Half-width of the limit price band")
	quantity := flag.String("qty", "10", "Shares per order")
	seed := flag.Int64("seed", 42, "Random seed")
	outputFile := flag.String("o", "", "Output JSON report file")
	flag.Parse()

	kind, err := book.ParseKind(*bookKind)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	qty, err := math.LegacyNewDecFromStr(*quantity)
	if err != nil {
		fmt.Printf("invalid -qty: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("╔══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║        Exchange Matching Engine Benchmark - Buy/Sell Flow        ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Book:         %s\n", kind)
	fmt.Printf("  Orders/Side:  %d (total: %d)\n", *orderCount, *orderCount*2)
	fmt.Printf("  Concurrency:  %d\n", *concurrency)
	fmt.Printf("  Symbols:      %d\n", *symbolCount)
	fmt.Printf("  Price Band:   %d ± %d\n", *basePrice, *priceBand)
	fmt.Printf("  Quantity:     %s\n", *quantity)
	fmt.Println()

	st := store.New(dbm.NewMemDB(), store.DefaultConfig(), log.NewNopLogger())
	eng := engine.New(st, book.NewRegistry(kind), log.NewNopLogger())
	fills := newTally()
	eng.SetEventSink(fills)

	symbols := make([]string, *symbolCount)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("SYM%d", i)
	}

	// Buyers are accounts 1..n, sellers n+1..2n. Every seller holds
	// enough shares of its symbol; every buyer holds enough cash for
	// the worst-case limit.
	fmt.Print("Seeding accounts... ")
	buyerFunds := math.LegacyNewDec(int64(*basePrice + *priceBand)).Mul(qty)
	sc := st.Begin()
	for i := 1; i <= *orderCount; i++ {
		buyer := strconv.Itoa(i)
		seller := strconv.Itoa(*orderCount + i)
		if err := sc.CreateAccount(buyer, buyerFunds); err != nil {
			fmt.Printf("FAILED: %v\n", err)
			os.Exit(1)
		}
		if err := sc.CreateAccount(seller, math.LegacyZeroDec()); err != nil {
			fmt.Printf("FAILED: %v\n", err)
			os.Exit(1)
		}
		if err := sc.CreateSymbol(symbols[(i-1)%len(symbols)], seller, qty); err != nil {
			fmt.Printf("FAILED: %v\n", err)
			os.Exit(1)
		}
	}
	if err := sc.Commit(); err != nil {
		fmt.Printf("FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
	fmt.Println()

	results := &BenchmarkResults{
		BuyLatencies:  make([]time.Duration, 0, *orderCount),
		SellLatencies: make([]time.Duration, 0, *orderCount),
	}

	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup

	var processed int64
	total := int64(*orderCount * 2)
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				p := atomic.LoadInt64(&processed)
				pct := float64(p) / float64(total) * 100
				fmt.Printf("\r  Progress: %d/%d (%.1f%%) | Executions: %d    ",
					p, total, pct, fills.executions.Load())
			}
		}
	}()

	fmt.Println("Starting benchmark...")
	rng := rand.New(rand.NewSource(*seed))
	prices := make([]math.LegacyDec, *orderCount*2)
	for i := range prices {
		prices[i] = math.LegacyNewDec(int64(*basePrice - *priceBand + rng.Intn(2**priceBand+1)))
	}

	startTime := time.Now()
	for i := 0; i < *orderCount; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			buyer := strconv.Itoa(idx + 1)
			symbol := symbols[idx%len(symbols)]
			start := time.Now()
			_, err := eng.PlaceOrder(buyer, symbol, qty, prices[idx])
			results.AddBuy(time.Since(start), err == nil)
			atomic.AddInt64(&processed, 1)
		}(i)

		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			seller := strconv.Itoa(*orderCount + idx + 1)
			symbol := symbols[idx%len(symbols)]
			start := time.Now()
			_, err := eng.PlaceOrder(seller, symbol, qty.Neg(), prices[*orderCount+idx])
			results.AddSell(time.Since(start), err == nil)
			atomic.AddInt64(&processed, 1)
		}(i)
	}

	wg.Wait()
	close(done)
	elapsed := time.Since(startTime)

	fmt.Printf("\r                                                                              \r")
	fmt.Println()
	fmt.Println()

	allLatencies := append(results.BuyLatencies, results.SellLatencies...)
	totalOrders := results.BuyOrders + results.SellOrders
	totalSuccess := results.BuySuccess + results.SellSuccess
	totalFailed := results.BuyFailed + results.SellFailed
	successRate := float64(totalSuccess) / float64(totalOrders) * 100
	throughput := float64(totalOrders) / elapsed.Seconds()

	fmt.Println("╔══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                       BENCHMARK RESULTS                          ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════════╝")
	fmt.Println()

	fmt.Printf("Test Duration:        %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Throughput:           %.2f orders/sec\n", throughput)
	fmt.Println()

	fmt.Println("── Order Statistics ───────────────────────────────────────────────")
	fmt.Printf("  Total Orders:       %d\n", totalOrders)
	fmt.Printf("  Buy Orders:         %d (success: %d, failed: %d)\n", results.BuyOrders, results.BuySuccess, results.BuyFailed)
	fmt.Printf("  Sell Orders:        %d (success: %d, failed: %d)\n", results.SellOrders, results.SellSuccess, results.SellFailed)
	fmt.Printf("  Success Rate:       %.2f%%\n", successRate)
	fmt.Println()

	fmt.Println("── Matching Statistics ────────────────────────────────────────────")
	fmt.Printf("  Executions:         %d\n", fills.executions.Load())
	fmt.Printf("  Executed Shares:    %s\n", fills.shares.String())
	fmt.Printf("  Executed Value:     %s\n", fills.value.String())
	fmt.Println()

	fmt.Println("── Overall Latency (all orders) ───────────────────────────────────")
	fmt.Printf("  Min:                %v\n", minOf(allLatencies))
	fmt.Printf("  Max:                %v\n", maxOf(allLatencies))
	fmt.Printf("  Average:            %v\n", avg(allLatencies))
	fmt.Printf("  P50 (Median):       %v\n", percentile(allLatencies, 0.50))
	fmt.Printf("  P90:                %v\n", percentile(allLatencies, 0.90))
	fmt.Printf("  P95:                %v\n", percentile(allLatencies, 0.95))
	fmt.Printf("  P99:                %v\n", percentile(allLatencies, 0.99))
	fmt.Println()

	fmt.Println("── Buy Order Latency ──────────────────────────────────────────────")
	fmt.Printf("  Min:                %v\n", minOf(results.BuyLatencies))
	fmt.Printf("  Max:                %v\n", maxOf(results.BuyLatencies))
	fmt.Printf("  Average:            %v\n", avg(results.BuyLatencies))
	fmt.Printf("  P99:                %v\n", percentile(results.BuyLatencies, 0.99))
	fmt.Println()

	fmt.Println("── Sell Order Latency ─────────────────────────────────────────────")
	fmt.Printf("  Min:                %v\n", minOf(results.SellLatencies))
	fmt.Printf("  Max:                %v\n", maxOf(results.SellLatencies))
	fmt.Printf("  Average:            %v\n", avg(results.SellLatencies))
	fmt.Printf("  P99:                %v\n", percentile(results.SellLatencies, 0.99))
	fmt.Println()

	fmt.Println("══════════════════════════════════════════════════════════════════")

	if *outputFile != "" {
		report := map[string]interface{}{
			"config": map[string]interface{}{
				"book":            kind,
				"orders_per_side": *orderCount,
				"concurrency":     *concurrency,
				"symbols":         *symbolCount,
				"base_price":      *basePrice,
				"price_band":      *priceBand,
				"quantity":        *quantity,
				"seed":            *seed,
			},
			"summary": map[string]interface{}{
				"duration_ms":        elapsed.Milliseconds(),
				"throughput_per_sec": throughput,
				"total_orders":       totalOrders,
				"success_orders":     totalSuccess,
				"failed_orders":      totalFailed,
				"success_rate":       successRate,
				"executions":         fills.executions.Load(),
				"executed_shares":    fills.shares.String(),
				"executed_value":     fills.value.String(),
			},
			"latency_all": map[string]interface{}{
				"min_us": minOf(allLatencies).Microseconds(),
				"max_us": maxOf(allLatencies).Microseconds(),
				"avg_us": avg(allLatencies).Microseconds(),
				"p50_us": percentile(allLatencies, 0.50).Microseconds(),
				"p90_us": percentile(allLatencies, 0.90).Microseconds(),
				"p95_us": percentile(allLatencies, 0.95).Microseconds(),
				"p99_us": percentile(allLatencies, 0.99).Microseconds(),
			},
			"latency_buy": map[string]interface{}{
				"min_us": minOf(results.BuyLatencies).Microseconds(),
				"max_us": maxOf(results.BuyLatencies).Microseconds(),
				"avg_us": avg(results.BuyLatencies).Microseconds(),
				"p99_us": percentile(results.BuyLatencies, 0.99).Microseconds(),
			},
			"latency_sell": map[string]interface{}{
				"min_us": minOf(results.SellLatencies).Microseconds(),
				"max_us": maxOf(results.SellLatencies).Microseconds(),
				"avg_us": avg(results.SellLatencies).Microseconds(),
				"p99_us": percentile(results.SellLatencies, 0.99).Microseconds(),
			},
			"timestamp": time.Now().Format(time.RFC3339),
		}

		file, err := os.Create(*outputFile)
		if err != nil {
			fmt.Printf("Failed to create report file: %v\n", err)
		} else {
			defer file.Close()
			encoder := json.NewEncoder(file)
			encoder.SetIndent("", "  ")
			_ = encoder.Encode(report)
			fmt.Printf("\nReport saved to: %s\n", *outputFile)
		}
	}
}
