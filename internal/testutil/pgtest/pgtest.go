// README: Test helpers for DB-backed tests: connect via QA_TEST_DSN, apply migrations, reset tables, seed rows.
package pgtest

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Open connects to QA_TEST_DSN, applies every migration and truncates all tables.
// The test is skipped when the variable is unset.
func Open(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("QA_TEST_DSN")
	if dsn == "" {
		t.Skip("QA_TEST_DSN not set; skipping DB-backed test")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigrations(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	if _, err := db.Exec(ctx, `TRUNCATE TABLE chat_messages, ratings, payments, booking_events, bookings,
		provider_profiles, services, service_categories, users RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return db
}

// SeedUser inserts a user row with the given role.
func SeedUser(t *testing.T, db *pgxpool.Pool, id, role, phone string) {
	t.Helper()
	_, err := db.Exec(context.Background(),
		`INSERT INTO users (id, name, role, phone_number) VALUES ($1, $1, $2, $3)`, id, role, phone)
	if err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

// SeedService inserts a category (if needed) and a service, returning the service id.
func SeedService(t *testing.T, db *pgxpool.Pool, category, name string, basePrice int64) int64 {
	t.Helper()
	ctx := context.Background()
	var catID int64
	err := db.QueryRow(ctx, `
		INSERT INTO service_categories (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, category).Scan(&catID)
	if err != nil {
		t.Fatalf("seed category: %v", err)
	}
	var id int64
	if err := db.QueryRow(ctx, `
		INSERT INTO services (category_id, name, base_price) VALUES ($1, $2, $3)
		RETURNING id`, catID, name, basePrice).Scan(&id); err != nil {
		t.Fatalf("seed service: %v", err)
	}
	return id
}

// SeedProvider inserts a PROVIDER user and profile. A nil location leaves it unknown.
func SeedProvider(t *testing.T, db *pgxpool.Pool, id string, serviceID int64, verified, onDuty bool, lat, lng *float64) {
	t.Helper()
	SeedUser(t, db, id, "PROVIDER", "")
	_, err := db.Exec(context.Background(), `
		INSERT INTO provider_profiles (user_id, is_verified, on_duty, service_id, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, $6)`, id, verified, onDuty, serviceID, lat, lng)
	if err != nil {
		t.Fatalf("seed provider %s: %v", id, err)
	}
}

func applyMigrations(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	files, err := filepath.Glob(filepath.Join(root, "migrations", "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for _, stmt := range splitSQL(stripSQLComments(string(content))) {
			if _, err := db.Exec(ctx, stmt); err != nil {
				return err
			}
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 8; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func splitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if stmt := strings.TrimSpace(p); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
