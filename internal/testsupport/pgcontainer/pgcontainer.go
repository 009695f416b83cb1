// Package pgcontainer starts a throwaway Postgres container for integration
// tests through the Docker Engine API.
package pgcontainer

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5"
)

const (
	Image    = "postgres:16-alpine"
	user     = "portal"
	password = "portal"
	database = "portal"
)

var pgPort = nat.Port("5432/tcp")

// Start runs Postgres, waits until it accepts connections and returns a DSN.
// The container is force-removed when the test finishes. The test is skipped
// when no Docker daemon is reachable.
func Start(t *testing.T) string {
	t.Helper()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		t.Skipf("docker client unavailable: %v", err)
	}
	t.Cleanup(func() { cli.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	if _, err := cli.Ping(ctx); err != nil {
		t.Skipf("docker daemon unreachable: %v", err)
	}

	reader, err := cli.ImagePull(ctx, Image, image.PullOptions{})
	if err != nil {
		t.Fatalf("pulling %s: %v", Image, err)
	}
	// block until the pull completes
	io.Copy(io.Discard, reader)
	reader.Close()

	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image: Image,
		Env: []string{
			"POSTGRES_USER=" + user,
			"POSTGRES_PASSWORD=" + password,
			"POSTGRES_DB=" + database,
		},
		ExposedPorts: nat.PortSet{pgPort: struct{}{}},
	}, &container.HostConfig{
		PortBindings: nat.PortMap{
			pgPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: ""}},
		},
	}, nil, nil, "")
	if err != nil {
		t.Fatalf("creating container: %v", err)
	}
	t.Cleanup(func() {
		rmCtx, rmCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer rmCancel()
		_ = cli.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	})

	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		t.Fatalf("starting container: %v", err)
	}

	info, err := cli.ContainerInspect(ctx, resp.ID)
	if err != nil {
		t.Fatalf("inspecting container: %v", err)
	}
	bindings := info.NetworkSettings.Ports[pgPort]
	if len(bindings) == 0 {
		t.Fatalf("container has no binding for %s", pgPort)
	}

	dsn := fmt.Sprintf("postgres://%s:%s@127.0.0.1:%s/%s?sslmode=disable",
		user, password, bindings[0].HostPort, database)

	if err := waitReady(ctx, dsn); err != nil {
		t.Fatalf("postgres never became ready: %v", err)
	}
	return dsn
}

func waitReady(ctx context.Context, dsn string) error {
	var lastErr error
	for {
		conn, err := pgx.Connect(ctx, dsn)
		if err == nil {
			err = conn.Ping(ctx)
			conn.Close(ctx)
			if err == nil {
				return nil
			}
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		case <-time.After(500 * time.Millisecond):
		}
	}
}
