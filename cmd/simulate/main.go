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
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/nursing-fulfillment/internal/config"
	"github.com/carebridge/nursing-fulfillment/internal/db"
)

// The simulator drives the assignment race: many workers fight over a small
// nurse pool for overlapping appointment windows, which is exactly the
// contention the coordinator's check-and-set has to survive. After the run it
// verifies against Postgres that no appointment ended up with more than one
// active assignment.

type SimConfig struct {
	APIBaseURL        string
	Duration          time.Duration
	Workers           int
	AssignRatio       float64
	AvailabilityRatio float64
	AppointmentLimit  int
	NurseLimit        int
	PostgresDSN       string
}

type apptInfo struct {
	ID          uuid.UUID
	ServiceID   uuid.UUID
	WindowStart time.Time
	Duration    int
}

type DataPool struct {
	Appointments []apptInfo
	Nurses       []uuid.UUID
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]

	p50Idx := len(latencies) * 50 / 100
	if p50Idx >= len(latencies) {
		p50Idx = len(latencies) - 1
	}
	p50 = latencies[p50Idx]

	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]

	return avg, min, max, p50, p95
}

type Metrics struct {
	Assign       OperationMetrics
	Availability OperationMetrics
	ReadBinding  OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d assign=%.2f availability=%.2f",
		cfg.Duration, cfg.Workers, cfg.AssignRatio, cfg.AvailabilityRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d appointments, %d nurses", len(dataPool.Appointments), len(dataPool.Nurses))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	sim.Run()
	sim.PrintReport()

	if err := verifySingleActiveAssignments(context.Background(), pgPool); err != nil {
		log.Fatalf("invariant check failed: %v", err)
	}
	log.Println("invariant check passed: at most one active assignment per appointment")
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:        getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:          getDuration("SIM_DURATION", 30*time.Second),
		Workers:           getInt("SIM_WORKERS", 10),
		AssignRatio:       getFloat("SIM_ASSIGN_RATIO", 0.6),
		AvailabilityRatio: getFloat("SIM_AVAILABILITY_RATIO", 0.3),
		AppointmentLimit:  getInt("SIM_APPOINTMENT_LIMIT", 500),
		NurseLimit:        getInt("SIM_NURSE_LIMIT", 20),
		PostgresDSN:       baseCfg.PostgresDSN,
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT id, service_id, window_start, duration_minutes
		FROM appointments
		WHERE status IN ('unassigned', 'assigned') AND window_start > now()
		LIMIT $1
	`, cfg.AppointmentLimit)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a apptInfo
		if err := rows.Scan(&a.ID, &a.ServiceID, &a.WindowStart, &a.Duration); err != nil {
			return nil, err
		}
		dataPool.Appointments = append(dataPool.Appointments, a)
	}

	// A deliberately small nurse pool keeps the contention high.
	rows, err = pool.Query(ctx, `
		SELECT id FROM nurses LIMIT $1
	`, cfg.NurseLimit)
	if err != nil {
		return nil, fmt.Errorf("load nurses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Nurses = append(dataPool.Nurses, id)
	}

	if len(dataPool.Appointments) == 0 {
		return nil, fmt.Errorf("no appointments loaded")
	}
	if len(dataPool.Nurses) == 0 {
		return nil, fmt.Errorf("no nurses loaded")
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.AssignRatio:
				s.doAssign(ctx, rng)
			case r < s.config.AssignRatio+s.config.AvailabilityRatio:
				s.doAvailability(ctx, rng)
			default:
				s.doReadBinding(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doAssign(ctx context.Context, rng *rand.Rand) {
	appt := s.pool.Appointments[rng.Intn(len(s.pool.Appointments))]
	nurseID := s.pool.Nurses[rng.Intn(len(s.pool.Nurses))]

	start := time.Now()

	reqBody := map[string]string{
		"nurse_id": nurseID.String(),
	}
	body, _ := json.Marshal(reqBody)

	req, _ := http.NewRequestWithContext(ctx, "POST",
		fmt.Sprintf("%s/appointments/%s/assign", s.config.APIBaseURL, appt.ID.String()),
		bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		resp.Body.Close()
		success = resp.StatusCode == http.StatusCreated
		conflict = resp.StatusCode == http.StatusConflict
	}

	s.metrics.Assign.Record(latency, success, conflict)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	appt := s.pool.Appointments[rng.Intn(len(s.pool.Appointments))]

	start := time.Now()

	url := fmt.Sprintf("%s/nurses/available?service_id=%s&window_start=%s&duration_minutes=%d",
		s.config.APIBaseURL,
		appt.ServiceID.String(),
		appt.WindowStart.UTC().Format(time.RFC3339),
		appt.Duration)

	req, _ := http.NewRequestWithContext(ctx, "GET", url, nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.Availability.Record(latency, success, false)
}

func (s *Simulator) doReadBinding(ctx context.Context, rng *rand.Rand) {
	appt := s.pool.Appointments[rng.Intn(len(s.pool.Appointments))]

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/appointments/%s/assignment", s.config.APIBaseURL, appt.ID.String()), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		resp.Body.Close()
		// 404 is fine: nothing has been assigned yet.
		success = resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound
	}

	s.metrics.ReadBinding.Record(latency, success, false)
}

// verifySingleActiveAssignments is the post-run ground-truth check for the
// core invariant the race exercises.
func verifySingleActiveAssignments(ctx context.Context, pool *pgxpool.Pool) error {
	var violations int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM (
			SELECT appointment_id
			FROM assignments
			WHERE superseded_at IS NULL
			GROUP BY appointment_id
			HAVING count(*) > 1
		) v
	`).Scan(&violations)
	if err != nil {
		return fmt.Errorf("query violations: %w", err)
	}
	if violations > 0 {
		return fmt.Errorf("%d appointments hold more than one active assignment", violations)
	}
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Assign", &s.metrics.Assign)
	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("Read binding", &s.metrics.ReadBinding)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	errCount := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if errCount > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errCount, float64(errCount)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
