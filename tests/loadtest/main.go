// Load generator for the exchange TCP protocol. Each worker owns one
// connection and an account, places randomized orders, and mixes in
// queries and cancels against its own recent order ids.
package main

import (
	"encoding/json"
	"encoding/xml"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds test configuration
type Config struct {
	Addr        string
	Concurrency int
	Duration    time.Duration
	RampUp      time.Duration
	Symbols     []string
	Seed        int64
}

// Results holds test results
type Results struct {
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	TotalLatency    int64 // microseconds
	MinLatency      int64
	MaxLatency      int64
	Latencies       []int64
	ReplyTags       map[string]int64
	Errors          map[string]int64
	StartTime       time.Time
	EndTime         time.Time
	RequestsPerSec  float64
	mu              sync.Mutex
}

// reply mirrors one <results> document
type reply struct {
	XMLName  xml.Name    `xml:"results"`
	Children []replyNode `xml:",any"`
}

type replyNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
}

func (n replyNode) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// LoadTester drives the workers
type LoadTester struct {
	config  *Config
	results *Results
	wg      sync.WaitGroup
	stopCh  chan struct{}
}

func NewLoadTester(config *Config) *LoadTester {
	return &LoadTester{
		config: config,
		results: &Results{
			MinLatency: int64(^uint64(0) >> 1),
			ReplyTags:  make(map[string]int64),
			Errors:     make(map[string]int64),
			Latencies:  make([]int64, 0),
		},
		stopCh: make(chan struct{}),
	}
}

func (lt *LoadTester) Run() {
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║           Exchange Load Test - XML Order Protocol            ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()

	fmt.Printf("Configuration:\n")
	fmt.Printf("  Address:      %s\n", lt.config.Addr)
	fmt.Printf("  Concurrency:  %d workers\n", lt.config.Concurrency)
	fmt.Printf("  Duration:     %v\n", lt.config.Duration)
	fmt.Printf("  Ramp-up:      %v\n", lt.config.RampUp)
	fmt.Printf("  Symbols:      %v\n", lt.config.Symbols)
	fmt.Println()

	fmt.Print("Checking server... ")
	if err := lt.checkConnect(); err != nil {
		fmt.Printf("FAILED: %v\n", err)
		fmt.Println("\nPlease ensure the exchange server is running:")
		fmt.Println("  exchanged serve")
		return
	}
	fmt.Println("OK")
	fmt.Println()

	fmt.Println("Starting load test...")
	lt.results.StartTime = time.Now()

	workersPerInterval := lt.config.Concurrency / 10
	if workersPerInterval < 1 {
		workersPerInterval = 1
	}
	rampUpInterval := lt.config.RampUp / 10

	currentWorkers := 0
	for currentWorkers < lt.config.Concurrency {
		toAdd := workersPerInterval
		if currentWorkers+toAdd > lt.config.Concurrency {
			toAdd = lt.config.Concurrency - currentWorkers
		}

		for i := 0; i < toAdd; i++ {
			lt.wg.Add(1)
			go lt.worker(currentWorkers + i)
		}
		currentWorkers += toAdd

		fmt.Printf("\r  Workers: %d/%d", currentWorkers, lt.config.Concurrency)

		if currentWorkers < lt.config.Concurrency {
			time.Sleep(rampUpInterval)
		}
	}
	fmt.Println()
	fmt.Println()

	go lt.reportProgress()

	time.Sleep(lt.config.Duration)

	close(lt.stopCh)
	lt.wg.Wait()

	lt.results.EndTime = time.Now()
	lt.calculateMetrics()
	lt.printResults()
}

func (lt *LoadTester) checkConnect() error {
	conn, err := net.DialTimeout("tcp", lt.config.Addr, 5*time.Second)
	if err != nil {
		return err
	}
	return conn.Close()
}

// worker owns one connection and one account. Requests on a
// connection are sequential, so each worker measures full round trips.
func (lt *LoadTester) worker(id int) {
	defer lt.wg.Done()

	conn, err := net.DialTimeout("tcp", lt.config.Addr, 5*time.Second)
	if err != nil {
		lt.recordError("dial_error")
		return
	}
	defer conn.Close()

	rng := rand.New(rand.NewSource(lt.config.Seed + int64(id)))
	account := strconv.Itoa(100000 + id)

	// Setup: one funded account holding shares of every symbol. Setup
	// round trips are not recorded.
	setup := fmt.Sprintf(`<create><account id="%s" balance="1000000000"/>`, account)
	for _, sym := range lt.config.Symbols {
		setup += fmt.Sprintf(`<symbol sym="%s"><account id="%s">1000000</account></symbol>`, sym, account)
	}
	setup += `</create>`
	if _, err := roundTrip(conn, setup); err != nil {
		lt.recordError("setup_error")
		return
	}

	// Recent open order ids, fodder for queries and cancels
	var openIDs []string

	for {
		select {
		case <-lt.stopCh:
			return
		default:
			var payload string
			roll := rng.Float32()
			switch {
			case roll < 0.70 || len(openIDs) == 0:
				sym := lt.config.Symbols[rng.Intn(len(lt.config.Symbols))]
				amount := strconv.Itoa(1 + rng.Intn(50))
				if rng.Float32() > 0.5 {
					amount = "-" + amount
				}
				limit := strconv.Itoa(90 + rng.Intn(21))
				payload = fmt.Sprintf(`<transactions id="%s"><order sym="%s" amount="%s" limit="%s"/></transactions>`,
					account, sym, amount, limit)
			case roll < 0.90:
				oid := openIDs[rng.Intn(len(openIDs))]
				payload = fmt.Sprintf(`<transactions id="%s"><query id="%s"/></transactions>`, account, oid)
			default:
				idx := rng.Intn(len(openIDs))
				oid := openIDs[idx]
				openIDs = append(openIDs[:idx], openIDs[idx+1:]...)
				payload = fmt.Sprintf(`<transactions id="%s"><cancel id="%s"/></transactions>`, account, oid)
			}

			start := time.Now()
			doc, err := roundTrip(conn, payload)
			latency := time.Since(start).Microseconds()

			if err != nil {
				lt.recordError("round_trip_error")
				lt.recordLatency(latency, false, nil)
				return
			}
			lt.recordLatency(latency, true, doc)

			for _, child := range doc.Children {
				if child.XMLName.Local == "opened" {
					if oid := child.attr("id"); oid != "" {
						openIDs = append(openIDs, oid)
						if len(openIDs) > 256 {
							openIDs = openIDs[1:]
						}
					}
				}
			}

			time.Sleep(time.Duration(rng.Intn(10)) * time.Millisecond)
		}
	}
}

// roundTrip frames and sends one request, then reads the unframed
// reply until it parses as a complete document.
func roundTrip(conn net.Conn, payload string) (*reply, error) {
	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		return nil, err
	}
	if _, err := fmt.Fprintf(conn, "%d\n%s", len(payload), payload); err != nil {
		return nil, err
	}

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			var doc reply
			if xml.Unmarshal(buf, &doc) == nil {
				return &doc, nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

func (lt *LoadTester) recordLatency(latency int64, success bool, doc *reply) {
	atomic.AddInt64(&lt.results.TotalRequests, 1)
	atomic.AddInt64(&lt.results.TotalLatency, latency)

	if success {
		atomic.AddInt64(&lt.results.SuccessRequests, 1)
	} else {
		atomic.AddInt64(&lt.results.FailedRequests, 1)
	}

	lt.results.mu.Lock()
	lt.results.Latencies = append(lt.results.Latencies, latency)

	if latency < lt.results.MinLatency {
		lt.results.MinLatency = latency
	}
	if latency > lt.results.MaxLatency {
		lt.results.MaxLatency = latency
	}
	if doc != nil {
		for _, child := range doc.Children {
			lt.results.ReplyTags[child.XMLName.Local]++
		}
	}
	lt.results.mu.Unlock()
}

func (lt *LoadTester) recordError(errType string) {
	lt.results.mu.Lock()
	lt.results.Errors[errType]++
	lt.results.mu.Unlock()
}

func (lt *LoadTester) reportProgress() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-lt.stopCh:
			return
		case <-ticker.C:
			total := atomic.LoadInt64(&lt.results.TotalRequests)
			success := atomic.LoadInt64(&lt.results.SuccessRequests)
			failed := atomic.LoadInt64(&lt.results.FailedRequests)
			elapsed := time.Since(lt.results.StartTime).Seconds()
			rps := float64(total) / elapsed

			fmt.Printf("\r  Progress: %d requests (%.0f/s), Success: %d, Failed: %d",
				total, rps, success, failed)
		}
	}
}

func (lt *LoadTester) calculateMetrics() {
	elapsed := lt.results.EndTime.Sub(lt.results.StartTime).Seconds()
	lt.results.RequestsPerSec = float64(lt.results.TotalRequests) / elapsed

	sort.Slice(lt.results.Latencies, func(i, j int) bool {
		return lt.results.Latencies[i] < lt.results.Latencies[j]
	})
}

func (lt *LoadTester) getPercentile(p float64) float64 {
	if len(lt.results.Latencies) == 0 {
		return 0
	}
	index := int(float64(len(lt.results.Latencies)) * p)
	if index >= len(lt.results.Latencies) {
		index = len(lt.results.Latencies) - 1
	}
	return float64(lt.results.Latencies[index]) / 1000 // ms
}

func (lt *LoadTester) printResults() {
	fmt.Println()
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      LOAD TEST RESULTS                       ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()

	elapsed := lt.results.EndTime.Sub(lt.results.StartTime)
	avgLatency := float64(0)
	if lt.results.TotalRequests > 0 {
		avgLatency = float64(lt.results.TotalLatency) / float64(lt.results.TotalRequests) / 1000
	}

	successRate := float64(0)
	if lt.results.TotalRequests > 0 {
		successRate = float64(lt.results.SuccessRequests) / float64(lt.results.TotalRequests) * 100
	}

	fmt.Printf("Test Duration:        %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Concurrency:          %d workers\n", lt.config.Concurrency)
	fmt.Println()

	fmt.Println("── Request Statistics ─────────────────────────────────────────")
	fmt.Printf("  Total Requests:     %d\n", lt.results.TotalRequests)
	fmt.Printf("  Successful:         %d (%.2f%%)\n", lt.results.SuccessRequests, successRate)
	fmt.Printf("  Failed:             %d (%.2f%%)\n", lt.results.FailedRequests, 100-successRate)
	fmt.Printf("  Requests/Second:    %.2f\n", lt.results.RequestsPerSec)
	fmt.Println()

	fmt.Println("── Latency Statistics (ms) ────────────────────────────────────")
	fmt.Printf("  Min:                %.2f ms\n", float64(lt.results.MinLatency)/1000)
	fmt.Printf("  Max:                %.2f ms\n", float64(lt.results.MaxLatency)/1000)
	fmt.Printf("  Average:            %.2f ms\n", avgLatency)
	fmt.Printf("  P50 (Median):       %.2f ms\n", lt.getPercentile(0.50))
	fmt.Printf("  P90:                %.2f ms\n", lt.getPercentile(0.90))
	fmt.Printf("  P95:                %.2f ms\n", lt.getPercentile(0.95))
	fmt.Printf("  P99:                %.2f ms\n", lt.getPercentile(0.99))
	fmt.Println()

	fmt.Println("── Reply Distribution ─────────────────────────────────────────")
	for tag, count := range lt.results.ReplyTags {
		percentage := float64(count) / float64(lt.results.TotalRequests) * 100
		fmt.Printf("  <%s>:%s%d (%.2f%%)\n", tag, spaces(14-len(tag)), count, percentage)
	}
	fmt.Println()

	if len(lt.results.Errors) > 0 {
		fmt.Println("── Error Distribution ─────────────────────────────────────────")
		for errType, count := range lt.results.Errors {
			fmt.Printf("  %s: %d\n", errType, count)
		}
		fmt.Println()
	}

	fmt.Println("── Assessment ─────────────────────────────────────────────────")
	if successRate >= 99.9 {
		fmt.Println("  ✅ Excellent: >99.9% success rate")
	} else if successRate >= 99 {
		fmt.Println("  ✅ Good: >99% success rate")
	} else if successRate >= 95 {
		fmt.Println("  ⚠️  Acceptable: >95% success rate")
	} else {
		fmt.Println("  ❌ Poor: <95% success rate")
	}

	if avgLatency < 10 {
		fmt.Println("  ✅ Excellent latency: <10ms average")
	} else if avgLatency < 50 {
		fmt.Println("  ✅ Good latency: <50ms average")
	} else if avgLatency < 200 {
		fmt.Println("  ⚠️  Acceptable latency: <200ms average")
	} else {
		fmt.Println("  ❌ High latency: >200ms average")
	}

	if lt.results.RequestsPerSec > 1000 {
		fmt.Println("  ✅ High throughput: >1000 req/s")
	} else if lt.results.RequestsPerSec > 500 {
		fmt.Println("  ✅ Good throughput: >500 req/s")
	} else if lt.results.RequestsPerSec > 100 {
		fmt.Println("  ⚠️  Moderate throughput: >100 req/s")
	} else {
		fmt.Println("  ❌ Low throughput: <100 req/s")
	}

	fmt.Println()
	fmt.Println("══════════════════════════════════════════════════════════════")
}

func spaces(n int) string {
	if n < 1 {
		n = 1
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = ' '
	}
	return string(out)
}

func (lt *LoadTester) SaveReport(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	elapsed := lt.results.EndTime.Sub(lt.results.StartTime)
	avgLatency := float64(0)
	if lt.results.TotalRequests > 0 {
		avgLatency = float64(lt.results.TotalLatency) / float64(lt.results.TotalRequests) / 1000
	}
	successRate := float64(0)
	if lt.results.TotalRequests > 0 {
		successRate = float64(lt.results.SuccessRequests) / float64(lt.results.TotalRequests) * 100
	}

	report := map[string]interface{}{
		"test_config": map[string]interface{}{
			"addr":        lt.config.Addr,
			"concurrency": lt.config.Concurrency,
			"duration":    lt.config.Duration.String(),
			"symbols":     lt.config.Symbols,
			"seed":        lt.config.Seed,
		},
		"summary": map[string]interface{}{
			"test_duration":       elapsed.String(),
			"total_requests":      lt.results.TotalRequests,
			"success_requests":    lt.results.SuccessRequests,
			"failed_requests":     lt.results.FailedRequests,
			"success_rate":        fmt.Sprintf("%.2f%%", successRate),
			"requests_per_second": lt.results.RequestsPerSec,
		},
		"latency": map[string]interface{}{
			"min_ms": float64(lt.results.MinLatency) / 1000,
			"max_ms": float64(lt.results.MaxLatency) / 1000,
			"avg_ms": avgLatency,
			"p50_ms": lt.getPercentile(0.50),
			"p90_ms": lt.getPercentile(0.90),
			"p95_ms": lt.getPercentile(0.95),
			"p99_ms": lt.getPercentile(0.99),
		},
		"reply_tags": lt.results.ReplyTags,
		"errors":     lt.results.Errors,
		"timestamp":  time.Now().Format(time.RFC3339),
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

func main() {
	addr := flag.String("addr", "localhost:12345", "Exchange server address")
	concurrency := flag.Int("c", 50, "Number of concurrent workers")
	duration := flag.Duration("d", 60*time.Second, "Test duration")
	rampUp := flag.Duration("ramp", 5*time.Second, "Ramp-up time")
	symbolCount := flag.Int("symbols", 3, "Number of symbols")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	outputFile := flag.String("o", "", "Output JSON report file")
	flag.Parse()

	symbols := make([]string, *symbolCount)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("SYM%d", i)
	}

	config := &Config{
		Addr:        *addr,
		Concurrency: *concurrency,
		Duration:    *duration,
		RampUp:      *rampUp,
		Symbols:     symbols,
		Seed:        *seed,
	}

	tester := NewLoadTester(config)
	tester.Run()

	if *outputFile != "" {
		if err := tester.SaveReport(*outputFile); err != nil {
			fmt.Printf("Failed to save report: %v\n", err)
		} else {
			fmt.Printf("\nReport saved to: %s\n", *outputFile)
		}
	}
}
