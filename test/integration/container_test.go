package integration

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const defaultPostgresImage = "postgres:16-alpine"

// dockerAvailable reports whether the Docker CLI can reach a daemon.
func dockerAvailable(ctx context.Context) bool {
	return exec.CommandContext(ctx, "docker", "info").Run() == nil
}

// pgContainer is a throwaway Postgres started through the Docker CLI.
type pgContainer struct {
	id      string
	connStr string
}

// startPostgresContainer runs TEST_POSTGRES_IMAGE (postgres:16-alpine by
// default) on a free local port and waits until it answers queries.
func startPostgresContainer(ctx context.Context) (*pgContainer, error) {
	image := os.Getenv("TEST_POSTGRES_IMAGE")
	if image == "" {
		image = defaultPostgresImage
	}

	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return nil, fmt.Errorf("find free port: %w", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	out, err := exec.CommandContext(ctx, "docker", "run", "-d", "--rm",
		"--name", fmt.Sprintf("tx-integration-test-%d", port),
		"-p", fmt.Sprintf("%d:5432", port),
		"-e", "POSTGRES_USER=tx",
		"-e", "POSTGRES_PASSWORD=tx",
		"-e", "POSTGRES_DB=txtest",
		image,
	).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("docker run %s: %w: %s", image, err, strings.TrimSpace(string(out)))
	}

	c := &pgContainer{
		id:      strings.TrimSpace(string(out)),
		connStr: fmt.Sprintf("postgres://tx:tx@localhost:%d/txtest?sslmode=disable", port),
	}
	if err := c.waitReady(ctx, 30*time.Second); err != nil {
		c.stop()
		return nil, err
	}
	return c, nil
}

// waitReady polls with a fresh connection until SELECT 1 succeeds.
func (c *pgContainer) waitReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastErr error
	for {
		if lastErr = c.ping(ctx); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready after %v: %w", timeout, lastErr)
		case <-ticker.C:
		}
	}
}

func (c *pgContainer) ping(ctx context.Context) error {
	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	conn, err := pgx.Connect(connCtx, c.connStr)
	if err != nil {
		return err
	}
	defer conn.Close(connCtx)

	var one int
	return conn.QueryRow(connCtx, "SELECT 1").Scan(&one)
}

func (c *pgContainer) stop() {
	_ = exec.Command("docker", "rm", "-f", c.id).Run()
}
