package infrastructure

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest) testcontainers.Container {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})
	return container
}

func setupRedis(t *testing.T) *redis.Client {
	container := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	})

	ctx := context.Background()
	endpoint, err := container.Endpoint(ctx, "redis")
	require.NoError(t, err)

	client, err := NewRedisClient(ctx, endpoint)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func setupNATS(t *testing.T) *NATSClient {
	container := startContainer(t, testcontainers.ContainerRequest{
		Image:        "nats:2.10-alpine",
		Cmd:          []string{"-js"},
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForLog("Server is ready"),
	})

	ctx := context.Background()
	endpoint, err := container.Endpoint(ctx, "nats")
	require.NoError(t, err)

	client := NewNATSClient(endpoint)
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(func() { client.Close() })
	return client
}
