package main

import (
	"bytes"
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

type TestCase struct {
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

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
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

func (r *Runner) cases() []TestCase {
	base := r.cfg.BaseURL
	return []TestCase{
		{
			Name: "Env: Postgres connect",
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
			Name: "Env: Redis connect",
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
			Name: "Migration: apply (optional)",
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
			Name: "Migration: tables exist",
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
		r.httpCase("API: health", http.MethodGet, base+"/health", nil, false, 200),
		r.httpCase("API: metrics exposed", http.MethodGet, base+"/metrics", nil, false, 200),
		r.httpCase("Catalog: list places", http.MethodGet, base+"/api/places", nil, false, 200),
		r.httpCase("Catalog: search trips", http.MethodGet, base+"/api/trips", nil, false, 200),
		r.httpCase("Catalog: unknown trip -> 404", http.MethodGet, base+"/api/trips/doesnotexist", nil, false, 404),
		r.httpCase("Operator: create place (empty name -> 400)", http.MethodPost, base+"/api/places",
			map[string]any{"name": ""}, false, 400),
		r.httpCase("Operator: register vehicle (no capacity -> 400)", http.MethodPost, base+"/api/vehicles",
			map[string]any{"plate": "BENCH01", "location_id": "nowhere"}, false, 400),
		r.httpCase("Operator: assign trip (past departure -> 400)", http.MethodPost, base+"/api/trips",
			map[string]any{
				"origin_id":      "a",
				"destination_id": "b",
				"departure_at":   time.Now().Add(-time.Hour).Format(time.RFC3339),
				"arrival_at":     time.Now().Format(time.RFC3339),
				"price_cents":    1000,
			}, false, 400),
		r.httpCase("Auth: hold without token -> 401", http.MethodPost, base+"/api/trips/any/holds",
			map[string]any{"seat_numbers": []int{1}}, false, 401),
		{
			Name: "Contention: concurrent holds on one seat",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.concurrentHold(ctx)
			},
		},
		{
			Name: "Perf: trip search throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.perfLoad(ctx, http.MethodGet, base+"/api/trips", nil)
			},
		},
		{
			Name: "Perf: seat map throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				tripID, ok := r.anyTripID(ctx)
				if !ok {
					return Result{Status: "SKIP", Note: "no trips to probe"}
				}
				return r.perfLoad(ctx, http.MethodGet, base+"/api/trips/"+tripID+"/seats", nil)
			},
		},
	}
}

func (r *Runner) do(ctx context.Context, method, url string, body any, authed bool) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if authed && r.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}
	return r.httpc.Do(req)
}

func (r *Runner) httpCase(name, method, url string, body any, authed bool, want ...int) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			start := time.Now()
			resp, err := r.do(ctx, method, url, body, authed)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			latency := time.Since(start)
			note := fmt.Sprintf("status=%d", resp.StatusCode)
			if contains(want, resp.StatusCode) {
				return Result{Status: "PASS", Latency: latency, Note: note}
			}
			return Result{Status: "FAIL", Latency: latency, Note: note}
		},
	}
}

// concurrentHold fires many holds for the same seat of the first open trip
// and expects at most one to win.
func (r *Runner) concurrentHold(ctx context.Context) Result {
	if r.cfg.Token == "" {
		return Result{Status: "SKIP", Note: "no passenger token configured"}
	}
	tripID, ok := r.anyTripID(ctx)
	if !ok {
		return Result{Status: "SKIP", Note: "no trips to contend on"}
	}

	url := r.cfg.BaseURL + "/api/trips/" + tripID + "/holds"
	body := map[string]any{"seat_numbers": []int{1}}
	var mu sync.Mutex
	succ := 0
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := r.do(ctx, http.MethodPost, url, body, true)
			if err != nil {
				return
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusCreated {
				mu.Lock()
				succ++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succ <= 1 {
		return Result{Status: "PASS", Note: fmt.Sprintf("success=%d", succ)}
	}
	return Result{Status: "FAIL", Note: fmt.Sprintf("success=%d", succ)}
}

func (r *Runner) perfLoad(ctx context.Context, method, url string, body any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var mu sync.Mutex
	var count, errCount int64
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) {
				resp, err := r.do(ctx, method, url, body, false)
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

// anyTripID returns the first trip the public search reports, if any.
func (r *Runner) anyTripID(ctx context.Context) (string, bool) {
	resp, err := r.do(ctx, http.MethodGet, r.cfg.BaseURL+"/api/trips", nil, false)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	var trips []struct {
		TripID string `json:"trip_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&trips); err != nil || len(trips) == 0 {
		return "", false
	}
	return trips[0].TripID, true
}

func contains(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
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
