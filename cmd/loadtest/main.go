package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultQty = int32(1)

type loadMode string

const (
	modeCreate          loadMode = "create"
	modeCreateProcess   loadMode = "create-process"
	modeCreatePayDelete loadMode = "create-pay-delete"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	storeCode   string
	productID   string
	variantID   string
	artworkID   string
	ownerTag    string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	DuplicateNames    int64                   `json:"duplicate_names"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

// collector копит задержки по методам и имена созданных заказов: одно и то же
// имя у двух заказов означает сломанный счётчик.
type collector struct {
	mu         sync.Mutex
	methods    map[string]*methodStats
	names      map[string]struct{}
	duplicates int64
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
		names:   make(map[string]struct{}),
	}
}

func (c *collector) record(method string, latency time.Duration, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{codes: make(map[string]int64)}
		c.methods[method] = stats
	}

	stats.calls++
	if status >= 200 && status < 300 {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[statusLabel(status)]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) recordName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.names[name]; ok {
		c.duplicates++
		return
	}
	c.names[name] = struct{}{}
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		DuplicateNames:  c.duplicates,
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenarioStats := c.methods["scenario"]; scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}
	return result
}

func statusLabel(status int) string {
	if status == 0 {
		return "transport_error"
	}
	return strconv.Itoa(status)
}

func parseConfig(fs *flag.FlagSet, args []string) (config, error) {
	var cfg config
	var modeValue string

	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "order API base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-process | create-pay-delete")
	fs.StringVar(&cfg.storeCode, "store", "LT", "store code of created orders")
	fs.StringVar(&cfg.productID, "product", "", "catalog product id (required)")
	fs.StringVar(&cfg.variantID, "variant", "", "catalog variant id (required)")
	fs.StringVar(&cfg.artworkID, "artwork", "load-artwork", "front artwork id; empty creates no_artwork orders")
	fs.StringVar(&cfg.ownerTag, "owner-tag", "load", "owner id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("url is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case strings.TrimSpace(cfg.storeCode) == "":
		return cfg, errors.New("store is required")
	case strings.TrimSpace(cfg.productID) == "" || strings.TrimSpace(cfg.variantID) == "":
		return cfg, errors.New("product and variant are required")
	case strings.TrimSpace(cfg.ownerTag) == "":
		return cfg, errors.New("owner-tag is required")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeCreate, modeCreateProcess, modeCreatePayDelete:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

// orderClient - минимальный HTTP-клиент API заказов.
type orderClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

type createdOrder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *orderClient) call(method, path string, body any, out any) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func timed(col *collector, method string, fn func() (int, error)) error {
	start := time.Now()
	status, err := fn()
	col.record(method, time.Since(start), status)
	return err
}

func runScenario(client *orderClient, cfg config, index int, runID string, col *collector) error {
	scenarioStart := time.Now()
	scenarioStatus := http.StatusOK
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioStatus)
	}()

	fail := func(err error) error {
		scenarioStatus = http.StatusInternalServerError
		return err
	}

	body := map[string]any{
		"ownerId":    fmt.Sprintf("%s-%s-%d", cfg.ownerTag, runID, index%16),
		"storeCode":  cfg.storeCode,
		"externalId": fmt.Sprintf("lt-%s-%d", runID, index),
		"shippingAddress": map[string]string{
			"name": "Load Test", "line1": "1 Bench St", "city": "Loadville", "postalCode": "00000", "country": "US",
		},
		"items": []map[string]any{{
			"productId":      cfg.productID,
			"variantId":      cfg.variantID,
			"quantity":       defaultQty,
			"frontArtworkId": cfg.artworkID,
		}},
		"actor": "loadtest",
	}

	var order createdOrder
	if err := timed(col, "CreateOrder", func() (int, error) {
		return client.call(http.MethodPost, "/v1/orders", body, &order)
	}); err != nil {
		return fail(err)
	}
	if order.ID == "" {
		return fail(errors.New("create response returned empty order id"))
	}
	col.recordName(order.Name)

	switch cfg.mode {
	case modeCreateProcess:
		if err := timed(col, "ChangeStatus", func() (int, error) {
			return client.call(http.MethodPatch, "/v1/orders/"+order.ID+"/status",
				map[string]string{"status": "processing", "actor": "loadtest"}, nil)
		}); err != nil {
			return fail(err)
		}
	case modeCreatePayDelete:
		if err := timed(col, "MarkPaid", func() (int, error) {
			return client.call(http.MethodPost, "/v1/orders/"+order.ID+"/paid", nil, nil)
		}); err != nil {
			return fail(err)
		}
		if err := timed(col, "DeleteOrder", func() (int, error) {
			return client.call(http.MethodDelete, "/v1/orders/"+order.ID, nil, nil)
		}); err != nil {
			return fail(err)
		}
	}
	return nil
}

func run(cfg config, out io.Writer) (report, error) {
	client := &orderClient{
		baseURL: cfg.baseURL,
		http:    &http.Client{Transport: &http.Transport{MaxIdleConnsPerHost: cfg.concurrency}},
		timeout: cfg.timeout,
	}

	startedAt := time.Now()
	runID := strconv.FormatInt(startedAt.UnixNano(), 36)
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for range cfg.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				_ = runScenario(client, cfg, id, runID, col)
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))
	printReport(out, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			return result, fmt.Errorf("write report: %w", err)
		}
	}
	return result, nil
}

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result, err := run(cfg, os.Stdout)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if result.FailedScenarios > 0 || result.DuplicateNames > 0 {
		os.Exit(1)
	}
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}
		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(out io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(out, "Load test summary")
	_, _ = fmt.Fprintf(out, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f duplicate_names=%d\n",
		cfg.mode, runTarget(cfg),
		result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate,
		result.DuplicateNames,
	)
	_, _ = fmt.Fprintf(out, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(out, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min, result.ScenarioLatencyMs.Avg, result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95, result.ScenarioLatencyMs.P99, result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name != "scenario" {
			methodNames = append(methodNames, name)
		}
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(out, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.LatencyMs.P95)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
