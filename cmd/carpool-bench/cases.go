// README: Check definitions: environment, trip lifecycle over HTTP,
// acceptance contention, and location-update load.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type Check struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	checks := r.checks()
	results := make([]Result, 0, len(checks))
	for _, c := range checks {
		res := c.Run(ctx, r)
		res.Name = c.Name
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, c.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) checks() []Check {
	return []Check{
		{
			Name: "env: postgres connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "env: redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "FAIL", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "migration: apply (optional)",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: "SKIP", Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, stmt := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, stmt); err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "migration: tables exist",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if !exists {
						return Result{Status: "FAIL", Note: "missing table: " + t}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "api: health endpoint",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				resp, err := r.httpc.Get(r.cfg.BaseURL + "/healthz")
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				_ = resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d", resp.StatusCode)}
				}
				return Result{Status: "PASS", Latency: time.Since(start)}
			},
		},
		{
			Name: "trip: full lifecycle",
			Run:  runLifecycle,
		},
		{
			Name: "trip: concurrent accept single winner",
			Run:  runConcurrentAccept,
		},
		{
			Name: "load: driver location updates",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.cfg.DriverToken == "" {
					return Result{Status: "SKIP", Note: "driver-token not set"}
				}
				return perfLoad(ctx, r, "/api/drivers/location", map[string]any{
					"name": "Load Driver",
					"lat":  25.033,
					"lng":  121.565,
				}, r.cfg.DriverToken)
			},
		},
	}
}

// runLifecycle walks one trip from creation to completion using the two
// configured identities.
func runLifecycle(ctx context.Context, r *Runner) Result {
	if r.cfg.PassengerToken == "" || r.cfg.DriverToken == "" {
		return Result{Status: "SKIP", Note: "passenger-token and driver-token required"}
	}
	start := time.Now()

	status, body, err := r.call(ctx, http.MethodPost, "/api/trips", map[string]any{
		"passenger_name": "Bench Passenger",
		"origin":         map[string]any{"name": "Bench Origin", "lat": 25.033, "lng": 121.565},
		"destination":    map[string]any{"name": "Bench Destination", "lat": 25.0478, "lng": 121.5318},
		"departure_time": time.Now().Add(time.Hour).Format(time.RFC3339),
		"headcount":      1,
		"price_per_seat": 40,
	}, r.cfg.PassengerToken)
	if err != nil || status != http.StatusCreated {
		return Result{Status: "FAIL", Note: fmt.Sprintf("create status=%d err=%v", status, err)}
	}
	tripID, _ := body["trip_id"].(string)
	if tripID == "" {
		return Result{Status: "FAIL", Note: "create returned no trip_id"}
	}

	steps := []struct {
		path  string
		token string
		body  map[string]any
	}{
		{"/api/trips/" + tripID + "/accept", r.cfg.DriverToken, map[string]any{"driver_name": "Bench Driver"}},
		{"/api/ledger/topup", r.cfg.PassengerToken, map[string]any{"amount": 1000}},
		{"/api/trips/" + tripID + "/pay", r.cfg.PassengerToken, nil},
		{"/api/trips/" + tripID + "/start", r.cfg.DriverToken, nil},
		{"/api/trips/" + tripID + "/complete", r.cfg.DriverToken, nil},
	}
	for _, step := range steps {
		status, _, err := r.call(ctx, http.MethodPost, step.path, step.body, step.token)
		if err != nil || status != http.StatusOK {
			return Result{Status: "FAIL", Note: fmt.Sprintf("%s status=%d err=%v", step.path, status, err)}
		}
	}
	return Result{Status: "PASS", Latency: time.Since(start)}
}

// runConcurrentAccept fires N accepts at one trip and expects exactly one
// 200 with the rest conflicting.
func runConcurrentAccept(ctx context.Context, r *Runner) Result {
	if r.cfg.PassengerToken == "" || r.cfg.DriverToken == "" {
		return Result{Status: "SKIP", Note: "passenger-token and driver-token required"}
	}
	status, body, err := r.call(ctx, http.MethodPost, "/api/trips", map[string]any{
		"passenger_name": "Bench Passenger",
		"origin":         map[string]any{"name": "Bench Origin", "lat": 25.033, "lng": 121.565},
		"destination":    map[string]any{"name": "Bench Destination", "lat": 25.0478, "lng": 121.5318},
		"departure_time": time.Now().Add(time.Hour).Format(time.RFC3339),
		"headcount":      1,
		"price_per_seat": 40,
	}, r.cfg.PassengerToken)
	if err != nil || status != http.StatusCreated {
		return Result{Status: "FAIL", Note: fmt.Sprintf("create status=%d err=%v", status, err)}
	}
	tripID, _ := body["trip_id"].(string)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succ, conflict := 0, 0
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _, err := r.call(ctx, http.MethodPost, "/api/trips/"+tripID+"/accept",
				map[string]any{"driver_name": "Bench Driver"}, r.cfg.DriverToken)
			if err != nil {
				return
			}
			mu.Lock()
			switch {
			case status == http.StatusOK:
				succ++
			case status == http.StatusConflict:
				conflict++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if succ != 1 {
		return Result{Status: "FAIL", Note: fmt.Sprintf("success=%d conflict=%d", succ, conflict)}
	}
	return Result{Status: "PASS", Note: fmt.Sprintf("success=1 conflict=%d", conflict)}
}

func perfLoad(ctx context.Context, r *Runner, path string, payload any, token string) Result {
	b, _ := json.Marshal(payload)
	end := time.Now().Add(r.cfg.Duration)
	var mu sync.Mutex
	var count, errCount int64
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) {
				req, _ := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+path, strings.NewReader(string(b)))
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("Authorization", "Bearer "+token)
				resp, err := r.httpc.Do(req)
				if err != nil {
					mu.Lock()
					errCount++
					mu.Unlock()
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
				mu.Lock()
				count++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: "FAIL", Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func (r *Runner) call(ctx context.Context, method, path string, body any, token string) (int, map[string]any, error) {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out, nil
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
