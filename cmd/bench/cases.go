// README: Bench cases: environment checks, a full booking lifecycle, race checks and load.
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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"quickassist/internal/infra"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
	jwt   *infra.JWTVerifier
	run   scenario
}

// scenario is the state the lifecycle cases build up in order.
type scenario struct {
	customer, provider, admin, stranger string
	serviceID, idleServiceID            int64
	bookingID                           string
	registered, onboarded               bool
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
	tag := strings.Split(uuid.NewString(), "-")[0]
	r := &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
		run: scenario{
			customer: "bench-cust-" + tag,
			provider: "bench-prov-" + tag,
			admin:    "bench-admin-" + tag,
			stranger: "bench-other-" + tag,
		},
	}
	if cfg.JWTSecret != "" {
		r.jwt = infra.NewJWTVerifier(cfg.JWTSecret)
	}
	return r
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
		if r.cfg.Filter != nil && !r.cfg.Filter.MatchString(tc.Name) {
			continue
		}
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
	return []TestCase{
		{Name: "Env: Postgres connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return fail("db not configured")
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.db.Ping(ctx); err != nil {
				return fail(err.Error())
			}
			return pass("")
		}},
		{Name: "Env: Redis connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return fail("redis not configured")
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.redis.Ping(ctx).Err(); err != nil {
				return fail(err.Error())
			}
			return pass("")
		}},
		{Name: "Migration: apply (optional)", Run: applyMigration},
		{Name: "Migration: tables exist", Run: tablesExist},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			start := time.Now()
			status, err := r.call(ctx, http.MethodGet, "/health", "", nil, nil)
			if err != nil {
				return fail(err.Error())
			}
			res := expect(status, http.StatusOK)
			res.Latency = time.Since(start)
			return res
		}},

		{Name: "Setup: register accounts", Run: registerAccounts},
		{Name: "Setup: catalog and provider onboarding", Run: onboardProvider},

		{Name: "Matching: no eligible provider -> 409", Run: func(ctx context.Context, r *Runner) Result {
			if !r.run.onboarded {
				return skip("onboarding did not complete")
			}
			status, err := r.call(ctx, http.MethodPost, "/api/bookings", r.run.customer, map[string]any{
				"service_id": r.run.idleServiceID, "latitude": -1.2864, "longitude": 36.8172,
			}, nil)
			if err != nil {
				return fail(err.Error())
			}
			return expect(status, http.StatusConflict)
		}},
		{Name: "Matching: nearest provider gets a PENDING booking", Run: func(ctx context.Context, r *Runner) Result {
			if !r.run.onboarded {
				return skip("onboarding did not complete")
			}
			id, res := r.requestBooking(ctx)
			if id != "" {
				r.run.bookingID = id
			}
			return res
		}},
		{Name: "Booking: non-member read -> 403", Run: func(ctx context.Context, r *Runner) Result {
			if r.run.bookingID == "" {
				return skip("no booking")
			}
			status, err := r.call(ctx, http.MethodGet, "/api/bookings/"+r.run.bookingID, r.run.stranger, nil, nil)
			if err != nil {
				return fail(err.Error())
			}
			return expect(status, http.StatusForbidden)
		}},
		{Name: "Concurrency: parallel accepts, one winner", Run: func(ctx context.Context, r *Runner) Result {
			if r.run.bookingID == "" {
				return skip("no booking")
			}
			return r.race(ctx, []raceCall{{path: "/api/bookings/" + r.run.bookingID + "/accept", uid: r.run.provider, times: r.cfg.Concurrency}})
		}},
		{Name: "Booking: start and complete", Run: func(ctx context.Context, r *Runner) Result {
			if r.run.bookingID == "" {
				return skip("no booking")
			}
			for _, action := range []string{"start", "complete"} {
				status, err := r.call(ctx, http.MethodPost, "/api/bookings/"+r.run.bookingID+"/"+action, r.run.provider, nil, nil)
				if err != nil {
					return fail(err.Error())
				}
				if status != http.StatusOK {
					return fail(fmt.Sprintf("%s status=%d", action, status))
				}
			}
			return pass("")
		}},
		{Name: "Booking: completed cannot be cancelled", Run: func(ctx context.Context, r *Runner) Result {
			if r.run.bookingID == "" {
				return skip("no booking")
			}
			var body struct {
				CurrentStatus string `json:"current_status"`
			}
			status, err := r.call(ctx, http.MethodPost, "/api/bookings/"+r.run.bookingID+"/cancel", r.run.customer, nil, &body)
			if err != nil {
				return fail(err.Error())
			}
			if status != http.StatusConflict || body.CurrentStatus != "COMPLETED" {
				return fail(fmt.Sprintf("status=%d current=%q", status, body.CurrentStatus))
			}
			return pass("")
		}},
		{Name: "Payment: cash settles once", Run: func(ctx context.Context, r *Runner) Result {
			if r.run.bookingID == "" {
				return skip("no booking")
			}
			path := "/api/bookings/" + r.run.bookingID + "/pay"
			var pay struct {
				Status string `json:"status"`
			}
			status, err := r.call(ctx, http.MethodPost, path, r.run.customer, map[string]any{"payment_method": "CASH"}, &pay)
			if err != nil {
				return fail(err.Error())
			}
			if status != http.StatusOK || pay.Status != "SUCCESS" {
				return fail(fmt.Sprintf("first status=%d payment=%s", status, pay.Status))
			}
			status, err = r.call(ctx, http.MethodPost, path, r.run.customer, map[string]any{"payment_method": "CASH"}, nil)
			if err != nil {
				return fail(err.Error())
			}
			return expect(status, http.StatusConflict)
		}},
		{Name: "Rating: one per booking, reputation recomputed", Run: rateProvider},
		{Name: "Concurrency: cancel vs accept, one winner", Run: func(ctx context.Context, r *Runner) Result {
			if !r.run.onboarded {
				return skip("onboarding did not complete")
			}
			id, res := r.requestBooking(ctx)
			if id == "" {
				return res
			}
			return r.race(ctx, []raceCall{
				{path: "/api/bookings/" + id + "/accept", uid: r.run.provider, times: 1},
				{path: "/api/bookings/" + id + "/cancel", uid: r.run.customer, times: 1},
			})
		}},

		{Name: "Perf: provider location update throughput", Run: func(ctx context.Context, r *Runner) Result {
			if !r.run.onboarded {
				return skip("onboarding did not complete")
			}
			return r.perfLoad(ctx, http.MethodPost, "/api/provider/location", r.run.provider, map[string]any{
				"latitude": -1.2921, "longitude": 36.8219,
			})
		}},
		{Name: "Perf: public directory throughput", Run: func(ctx context.Context, r *Runner) Result {
			return r.perfLoad(ctx, http.MethodGet, "/api/providers", "", nil)
		}},
	}
}

func registerAccounts(ctx context.Context, r *Runner) Result {
	if r.jwt == nil {
		return skip("jwt secret not set")
	}
	if r.db == nil {
		return skip("db needed to grant admin")
	}
	accounts := []struct {
		uid, role string
	}{
		{r.run.customer, "CUSTOMER"},
		{r.run.provider, "PROVIDER"},
		{r.run.admin, "CUSTOMER"},
		{r.run.stranger, "CUSTOMER"},
	}
	for _, a := range accounts {
		status, err := r.call(ctx, http.MethodPost, "/api/users/register", a.uid, map[string]any{
			"name": a.uid, "role": a.role, "phone_number": "0712345678",
		}, nil)
		if err != nil {
			return fail(err.Error())
		}
		if status != http.StatusCreated {
			return fail(fmt.Sprintf("register %s status=%d", a.uid, status))
		}
	}
	// There is no API path to the first admin; grant it directly.
	if _, err := r.db.Exec(ctx, `UPDATE users SET role = 'ADMIN' WHERE id = $1`, r.run.admin); err != nil {
		return fail(err.Error())
	}
	r.run.registered = true
	return pass("")
}

func onboardProvider(ctx context.Context, r *Runner) Result {
	if !r.run.registered {
		return skip("accounts not registered")
	}
	var cat struct {
		ID int64 `json:"id"`
	}
	status, err := r.call(ctx, http.MethodPost, "/api/admin/categories", r.run.admin, map[string]any{
		"name": "Bench " + r.run.admin,
	}, &cat)
	if err != nil || status != http.StatusCreated {
		return fail(fmt.Sprintf("create category status=%d err=%v", status, err))
	}
	for i, target := range []*int64{&r.run.serviceID, &r.run.idleServiceID} {
		var svc struct {
			ID int64 `json:"id"`
		}
		status, err := r.call(ctx, http.MethodPost, "/api/admin/services", r.run.admin, map[string]any{
			"category_id": cat.ID, "name": fmt.Sprintf("Bench service %d", i), "base_price": 150000,
		}, &svc)
		if err != nil || status != http.StatusCreated {
			return fail(fmt.Sprintf("create service status=%d err=%v", status, err))
		}
		*target = svc.ID
	}

	steps := []struct {
		method, path, uid string
		body              map[string]any
	}{
		{http.MethodPatch, "/api/provider/profile", r.run.provider, map[string]any{"bio": "bench", "service_id": r.run.serviceID}},
		{http.MethodPost, "/api/provider/location", r.run.provider, map[string]any{"latitude": -1.2921, "longitude": 36.8219}},
		{http.MethodPatch, "/api/admin/providers/" + r.run.provider + "/verify", r.run.admin, map[string]any{"is_verified": true}},
		{http.MethodPatch, "/api/provider/status", r.run.provider, map[string]any{"on_duty": true}},
	}
	for _, s := range steps {
		status, err := r.call(ctx, s.method, s.path, s.uid, s.body, nil)
		if err != nil {
			return fail(err.Error())
		}
		if status != http.StatusOK {
			return fail(fmt.Sprintf("%s %s status=%d", s.method, s.path, status))
		}
	}
	r.run.onboarded = true
	return pass("")
}

func (r *Runner) requestBooking(ctx context.Context) (string, Result) {
	var m struct {
		Booking struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"booking"`
		ProviderID string  `json:"provider_id"`
		DistanceKm float64 `json:"distance_km"`
	}
	start := time.Now()
	status, err := r.call(ctx, http.MethodPost, "/api/bookings", r.run.customer, map[string]any{
		"service_id": r.run.serviceID, "latitude": -1.2864, "longitude": 36.8172,
	}, &m)
	if err != nil {
		return "", fail(err.Error())
	}
	if status != http.StatusCreated || m.Booking.Status != "PENDING" || m.ProviderID != r.run.provider {
		return "", fail(fmt.Sprintf("status=%d booking=%s provider=%s", status, m.Booking.Status, m.ProviderID))
	}
	res := pass(fmt.Sprintf("distance=%.2fkm", m.DistanceKm))
	res.Latency = time.Since(start)
	return m.Booking.ID, res
}

func rateProvider(ctx context.Context, r *Runner) Result {
	if r.run.bookingID == "" {
		return skip("no booking")
	}
	path := "/api/bookings/" + r.run.bookingID + "/rate"
	status, err := r.call(ctx, http.MethodPost, path, r.run.customer, map[string]any{"score": 5, "comment": "bench"}, nil)
	if err != nil {
		return fail(err.Error())
	}
	if status != http.StatusCreated {
		return fail(fmt.Sprintf("rate status=%d", status))
	}
	status, err = r.call(ctx, http.MethodPost, path, r.run.customer, map[string]any{"score": 1}, nil)
	if err != nil {
		return fail(err.Error())
	}
	if status != http.StatusConflict {
		return fail(fmt.Sprintf("second rating status=%d", status))
	}
	var prof struct {
		AverageRating *float64 `json:"average_rating"`
	}
	if _, err := r.call(ctx, http.MethodGet, "/api/providers/"+r.run.provider, "", nil, &prof); err != nil {
		return fail(err.Error())
	}
	if prof.AverageRating == nil || *prof.AverageRating != 5 {
		return fail(fmt.Sprintf("average_rating=%v", prof.AverageRating))
	}
	return pass("")
}

type raceCall struct {
	path  string
	uid   string
	times int
}

// race fires every call at once and passes when exactly one succeeds and
// every loser gets 409.
func (r *Runner) race(ctx context.Context, calls []raceCall) Result {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		other   []int
		release = make(chan struct{})
	)
	for _, c := range calls {
		for i := 0; i < c.times; i++ {
			wg.Add(1)
			go func(c raceCall) {
				defer wg.Done()
				<-release
				status, err := r.call(ctx, http.MethodPost, c.path, c.uid, nil, nil)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					other = append(other, -1)
				case status == http.StatusOK:
					wins++
				case status != http.StatusConflict:
					other = append(other, status)
				}
			}(c)
		}
	}
	close(release)
	wg.Wait()

	if wins != 1 || len(other) > 0 {
		return fail(fmt.Sprintf("winners=%d unexpected=%v", wins, other))
	}
	return pass("winners=1")
}

func (r *Runner) perfLoad(ctx context.Context, method, path, uid string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var (
		count, errCount int64
		mu              sync.Mutex
		wg              sync.WaitGroup
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, err := r.call(ctx, method, path, uid, payload, nil)
				mu.Lock()
				if err != nil || status >= 400 {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return fail("no requests completed")
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return pass(fmt.Sprintf("rps=%.1f errors=%d", rps, errCount))
}

// call sends a JSON request as uid (anonymous when empty) and decodes a 2xx
// or 409 body into out.
func (r *Runner) call(ctx context.Context, method, path, uid string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		if r.jwt == nil {
			return 0, fmt.Errorf("jwt secret not set")
		}
		token, err := r.jwt.Issue(uid, time.Hour)
		if err != nil {
			return 0, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && (resp.StatusCode < 300 || resp.StatusCode == http.StatusConflict) {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func applyMigration(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return skip("apply-migration=false")
	}
	if r.db == nil {
		return fail("db not configured")
	}
	sql, err := os.ReadFile(r.cfg.MigrationPath)
	if err != nil {
		return fail(err.Error())
	}
	for _, s := range splitSQL(string(sql)) {
		if _, err := r.db.Exec(ctx, s); err != nil {
			return fail(err.Error())
		}
	}
	return pass("")
}

func tablesExist(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return fail("db not configured")
	}
	tables, err := extractTables(r.cfg.MigrationPath)
	if err != nil {
		return fail(err.Error())
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
			t,
		).Scan(&exists)
		if err != nil {
			return fail(err.Error())
		}
		if !exists {
			return fail("missing table: " + t)
		}
	}
	return pass(fmt.Sprintf("tables=%d", len(tables)))
}

func expect(status int, want int) Result {
	if status == want {
		return pass(fmt.Sprintf("status=%d", status))
	}
	return fail(fmt.Sprintf("status=%d want=%d", status, want))
}

func pass(note string) Result { return Result{Status: statusPass, Note: note} }
func fail(note string) Result { return Result{Status: statusFail, Note: note} }
func skip(note string) Result { return Result{Status: statusSkip, Note: note} }

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
