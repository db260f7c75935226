//go:build integration

// This file exercises Sink against a real Redis-backed Pulse stream via
// testcontainers-go, the same container-per-test idiom used by
// statestore/mongostore and statestore/redislock's integration suites.
package pulsesink

import (
	"context"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/coopersmall/agentruntime/hooks"
)

var (
	testRedisClient    *redis.Client
	testRedisContainer testcontainers.Container
	skipPulseTests     bool
)

func setupRedisContainer(t *testing.T) {
	t.Helper()
	if testRedisClient != nil || skipPulseTests {
		return
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Printf("docker not available, skipping pulsesink integration tests: %v\n", err)
		skipPulseTests = true
		return
	}
	testRedisContainer = container

	host, err := container.Host(ctx)
	if err != nil {
		skipPulseTests = true
		return
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		skipPulseTests = true
		return
	}

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	if err := client.Ping(ctx).Err(); err != nil {
		skipPulseTests = true
		return
	}
	testRedisClient = client
}

func newTestSink(t *testing.T) *Sink {
	t.Helper()
	setupRedisContainer(t)
	if skipPulseTests {
		t.Skip("docker not available, skipping pulsesink integration test")
	}
	sink, err := New(Options{Redis: testRedisClient})
	require.NoError(t, err)
	return sink
}

func TestSinkPublishesEventToRunStream(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	event := hooks.NewAgentStarted("run-1", "mf-1", "run-1", "v1", "state-1")
	require.NoError(t, sink.HandleEvent(ctx, event))

	// A second event on the same run must reuse the cached stream handle
	// rather than erroring on re-creation.
	require.NoError(t, sink.HandleEvent(ctx, hooks.NewAssistantMessage("run-1", "mf-1", "run-1", 1, "hello")))

	require.NoError(t, sink.Forget(ctx, "run-1"))
}

func TestSinkKeepsRunsOnSeparateStreams(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	require.NoError(t, sink.HandleEvent(ctx, hooks.NewAgentStarted("run-a", "mf", "run-a", "v1", "state-a")))
	require.NoError(t, sink.HandleEvent(ctx, hooks.NewAgentStarted("run-b", "mf", "run-b", "v1", "state-b")))

	sink.mu.Lock()
	_, hasA := sink.streams["run-a"]
	_, hasB := sink.streams["run-b"]
	sink.mu.Unlock()
	require.True(t, hasA)
	require.True(t, hasB)

	require.NoError(t, sink.Forget(ctx, "run-a"))
	require.NoError(t, sink.Forget(ctx, "run-b"))
}
