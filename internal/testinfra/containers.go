// Package testinfra starts throwaway Postgres and Redis containers for
// integration tests. Tests call it only when FERN_TEST_CONTAINERS is set so
// the default `go test ./...` run needs no Docker daemon.
package testinfra

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresUser     = "fern"
	postgresPassword = "fern"
	postgresDB       = "fern"
)

// Enabled reports whether container-backed tests should run.
func Enabled() bool {
	return os.Getenv("FERN_TEST_CONTAINERS") != ""
}

// Require skips t unless containers are enabled and the run is not -short.
func Require(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if !Enabled() {
		t.Skip("FERN_TEST_CONTAINERS not set")
	}
}

// Postgres is a running postgres:15-alpine container.
type Postgres struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	DSN      string
}

// StartPostgres starts Postgres and terminates it when t finishes.
func StartPostgres(ctx context.Context, t *testing.T) (*Postgres, error) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     postgresUser,
			"POSTGRES_PASSWORD": postgresPassword,
			"POSTGRES_DB":       postgresDB,
		},
		// the first "ready" line comes from the init-time server
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := start(ctx, t, req)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres: %w", err)
	}

	host, port, err := endpoint(ctx, container, "5432")
	if err != nil {
		return nil, err
	}

	return &Postgres{
		Host:     host,
		Port:     port,
		User:     postgresUser,
		Password: postgresPassword,
		Database: postgresDB,
		DSN: fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			postgresUser, postgresPassword, host, port, postgresDB),
	}, nil
}

// StartRedis starts redis:7-alpine and returns its host:port.
func StartRedis(ctx context.Context, t *testing.T) (string, error) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(30 * time.Second),
	}

	container, err := start(ctx, t, req)
	if err != nil {
		return "", fmt.Errorf("failed to start redis: %w", err)
	}

	host, port, err := endpoint(ctx, container, "6379")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", host, port), nil
}

func start(ctx context.Context, t *testing.T, req testcontainers.ContainerRequest) (testcontainers.Container, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, err
	}

	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate %s: %v", req.Image, err)
		}
	})
	return container, nil
}

func endpoint(ctx context.Context, container testcontainers.Container, port string) (string, int, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return "", 0, err
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		return "", 0, err
	}
	return host, mapped.Int(), nil
}
