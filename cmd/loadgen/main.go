// Command loadgen benchmarks the gateway and the claim queue against an
// in-process server backed by a temporary SQLite store.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iago/technoshare-commentator/internal/domain"
	httpserver "github.com/iago/technoshare-commentator/internal/http"
	"github.com/iago/technoshare-commentator/internal/http/handlers"
	"github.com/iago/technoshare-commentator/internal/logger"
	"github.com/iago/technoshare-commentator/internal/queue"
	"github.com/iago/technoshare-commentator/internal/repository"
	"github.com/iago/technoshare-commentator/internal/service"
	"github.com/iago/technoshare-commentator/internal/slack"
)

const (
	benchChannel = "CBENCH"
	benchSecret  = "loadgen-signing-secret"
	benchToken   = "loadgen-token"
)

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type claimResult struct {
	Claimers   int     `json:"claimers"`
	Pending    int     `json:"pending"`
	Claimed    int     `json:"claimed"`
	Duplicates int     `json:"duplicates"`
	ElapsedMS  float64 `json:"elapsed_ms"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	Results        []scenarioResult `json:"results"`
	Claims         claimResult      `json:"claims"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

type benchmarkEnv struct {
	server *httptest.Server
	repo   *repository.SQLiteJobsRepository
	dir    string
}

func (e *benchmarkEnv) Close() {
	e.server.Close()
	_ = e.repo.Close()
	_ = os.RemoveAll(e.dir)
}

func main() {
	eventsTotal := flag.Int("events-total", 400, "total distinct signed events")
	eventsConcurrency := flag.Int("events-concurrency", 16, "concurrency for distinct events")
	redeliveryTotal := flag.Int("redelivery-total", 200, "total redelivered events")
	redeliveryConcurrency := flag.Int("redelivery-concurrency", 16, "concurrency for redelivered events")
	statsTotal := flag.Int("stats-total", 200, "total operator stats requests")
	statsConcurrency := flag.Int("stats-concurrency", 8, "concurrency for stats requests")
	claimers := flag.Int("claimers", 8, "concurrent claimers draining the queue")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	log, err := logger.New("prod")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	env, err := startBenchmarkEnvironment()
	if err != nil {
		log.Fatal("failed to start local benchmark environment", "error", err)
	}
	defer env.Close()

	client := &http.Client{Timeout: 10 * time.Second}
	base := time.Now().Unix()

	eventsScenario := runScenario("events_ingest", *eventsTotal, *eventsConcurrency, func(index int) error {
		return postEvent(client, env.server.URL, messageTS(base, index))
	})
	redeliveryScenario := runScenario("events_redelivery", *redeliveryTotal, *redeliveryConcurrency, func(index int) error {
		return postEvent(client, env.server.URL, messageTS(base, index%max(*eventsTotal, 1)))
	})
	statsScenario := runScenario("operator_stats", *statsTotal, *statsConcurrency, func(int) error {
		return getJSON(client, env.server.URL+"/v1/stats", http.StatusOK)
	})

	claims, err := runClaimContention(env.repo, *claimers)
	if err != nil {
		log.Fatal("claim contention failed", "error", err)
	}

	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    "local-httptest-sqlite",
		Results:        []scenarioResult{eventsScenario, redeliveryScenario, statsScenario},
		Claims:         claims,
		SLOEvaluation: map[string]bool{
			"events_ack_p95_le_3000ms": eventsScenario.P95MS <= 3000,
			"claims_exactly_once":      claims.Duplicates == 0 && claims.Claimed == claims.Pending,
		},
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatal("failed to marshal benchmark report", "error", err)
	}
	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatal("failed to write output file", "error", err)
		}
	}
	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

func startBenchmarkEnvironment() (*benchmarkEnv, error) {
	dir, err := os.MkdirTemp("", "technoshare-loadgen-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	repo, err := repository.OpenSQLiteJobsRepository(context.Background(), filepath.Join(dir, "bench.sqlite"))
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	signal := queue.NewLocalSignal()
	ingest := service.NewIngestService(service.IngestDependencies{
		Messages:  repo,
		Verifier:  slack.NewVerifier(benchSecret, 5*time.Minute),
		Notifier:  signal,
		ChannelID: benchChannel,
	})
	api := handlers.NewAPI(ingest, service.NewJobsService(repo, signal), nil)
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		AuthToken:      benchToken,
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	return &benchmarkEnv{server: httptest.NewServer(router), repo: repo, dir: dir}, nil
}

func messageTS(base int64, index int) string {
	return fmt.Sprintf("%d.%06d", base, index)
}

func runScenario(name string, total, concurrency int, requestFn func(index int) error) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	jobs := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	errorsCount := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

// runClaimContention drains the pending queue with concurrent claimers and
// counts jobs handed out more than once.
func runClaimContention(repo *repository.SQLiteJobsRepository, claimers int) (claimResult, error) {
	if claimers <= 0 {
		claimers = 1
	}
	ctx := context.Background()
	counts, err := repo.CountByStatus(ctx)
	if err != nil {
		return claimResult{}, err
	}
	result := claimResult{Claimers: claimers, Pending: counts[domain.JobStatusPending]}

	var mu sync.Mutex
	seen := make(map[int64]int)
	startedAt := time.Now()
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < claimers; i++ {
		group.Go(func() error {
			for {
				job, err := repo.ClaimNextJob(groupCtx)
				if err != nil {
					return err
				}
				if job == nil {
					return nil
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		})
	}
	if err := group.Wait(); err != nil {
		return result, err
	}

	result.ElapsedMS = round2(float64(time.Since(startedAt).Microseconds()) / 1000.0)
	for _, n := range seen {
		result.Claimed++
		if n > 1 {
			result.Duplicates += n - 1
		}
	}
	return result, nil
}

func postEvent(client *http.Client, baseURL, ts string) error {
	body := fmt.Sprintf(`{"type":"event_callback","event":{"type":"message","channel":%q,"user":"ULOAD","ts":%q,"text":"bench https://example.com/%s"}}`, benchChannel, ts, ts)
	requestTS := strconv.FormatInt(time.Now().Unix(), 10)
	request, err := http.NewRequest(http.MethodPost, baseURL+"/events", strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(slack.HeaderTimestamp, requestTS)
	request.Header.Set(slack.HeaderSignature, slack.Sign([]byte(benchSecret), requestTS, []byte(body)))
	return do(client, request, http.StatusOK)
}

func getJSON(client *http.Client, url string, expectedStatus int) error {
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Authorization", "Bearer "+benchToken)
	return do(client, request, expectedStatus)
}

func do(client *http.Client, request *http.Request, expectedStatus int) error {
	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
