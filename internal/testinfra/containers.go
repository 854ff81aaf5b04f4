// Package testinfra starts throwaway Postgres and Redis containers for
// integration tests. Tests using it are skipped under -short.
package testinfra

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func skipShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

func start(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Terminate(context.Background())
	})

	endpoint, err := c.PortEndpoint(ctx, nat.Port(port), "")
	if err != nil {
		t.Fatalf("failed to resolve %s endpoint: %v", req.Image, err)
	}
	return endpoint
}

// Postgres returns a pool connected to a fresh database.
func Postgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	skipShort(t)

	endpoint := start(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "visionq",
			"POSTGRES_PASSWORD": "visionq",
			"POSTGRES_DB":       "visionq",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute),
	}, "5432/tcp")

	dsn := fmt.Sprintf("postgres://visionq:visionq@%s/visionq?sslmode=disable", endpoint)
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("failed to connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Ping(context.Background()); err != nil {
		t.Fatalf("failed to ping postgres: %v", err)
	}
	return pool
}

// Redis returns a client connected to a fresh server with AOF enabled.
func Redis(t *testing.T) *redis.Client {
	t.Helper()
	skipShort(t)

	endpoint := start(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		Cmd:          []string{"redis-server", "--appendonly", "yes"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
	}, "6379/tcp")

	rdb := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = rdb.Close() })

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}
	return rdb
}
