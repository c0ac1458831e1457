//go:build integration

package postgres

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
)

// testPool is shared by the integration tests. TEST_DATABASE_URL points the
// suite at an existing database; otherwise a throwaway postgres container is
// started with docker.
var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	dsn := os.Getenv("TEST_DATABASE_URL")
	stop := func() {}
	if dsn == "" {
		var err error
		dsn, stop, err = startPostgres()
		if err != nil {
			log.Fatalf("start postgres: %v. Is Docker running?", err)
		}
	}

	pool, err := connectWithRetry(ctx, dsn, 15, 2*time.Second)
	if err != nil {
		stop()
		log.Fatalf("unable to connect to test database: %v", err)
	}
	testPool = pool

	if err := EnsureSchema(ctx, testPool); err != nil {
		testPool.Close()
		stop()
		log.Fatalf("could not apply schema: %v", err)
	}

	code := m.Run()

	testPool.Close()
	stop()
	os.Exit(code)
}

func startPostgres() (dsn string, stop func(), err error) {
	const (
		db       = "chat_budget_test"
		user     = "user"
		password = "password"
	)
	cmd := exec.Command("docker", "run", "-d", "--rm",
		"--network", "host",
		"-e", "POSTGRES_DB="+db,
		"-e", "POSTGRES_USER="+user,
		"-e", "POSTGRES_PASSWORD="+password,
		"postgres:14",
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", nil, err
	}
	id := strings.TrimSpace(out.String())
	if len(id) > 12 {
		id = id[:12]
	}
	stop = func() {
		if err := exec.Command("docker", "stop", id).Run(); err != nil {
			log.Printf("could not stop postgres container %s: %v", id, err)
		}
	}
	return fmt.Sprintf("postgres://%s:%s@localhost:5432/%s?sslmode=disable", user, password, db), stop, nil
}

func connectWithRetry(ctx context.Context, dsn string, attempts int, pause time.Duration) (*pgxpool.Pool, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		pool, err := NewPgxPool(ctx, dsn, 4)
		if err == nil {
			return pool, nil
		}
		lastErr = err
		log.Printf("waiting for database (attempt %d/%d)", i+1, attempts)
		time.Sleep(pause)
	}
	return nil, lastErr
}

func cleanup(t *testing.T) {
	t.Helper()
	if _, err := testPool.Exec(context.Background(), `TRUNCATE chat_sessions, chat_messages CASCADE`); err != nil {
		t.Fatalf("failed to clean up database: %v", err)
	}
}
