package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/sifen-gateway/internal/domain"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/redis"
	"github.com/jhoicas/sifen-gateway/pkg/config"
)

// Requiere un Redis real: REDIS_TEST_ADDR=localhost:6379 go test ./...
func TestInflightLock_Redis(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR no definido")
	}
	ctx := context.Background()
	client, err := redis.Connect(ctx, config.RedisConfig{Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	lock := redis.NewInflightLock(client, 5*time.Second, zerolog.Nop())
	key := "test-" + time.Now().Format("150405.000000000")

	release, err := lock.Acquire(ctx, key)
	require.NoError(t, err)

	_, err = lock.Acquire(ctx, key)
	assert.ErrorIs(t, err, domain.ErrSubmissionInFlight)

	release()
	release2, err := lock.Acquire(ctx, key)
	require.NoError(t, err)
	release2()
}

func TestInflightLock_RedisSeRenuevaMientrasSigueTomado(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR no definido")
	}
	ctx := context.Background()
	client, err := redis.Connect(ctx, config.RedisConfig{Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	lock := redis.NewInflightLock(client, 600*time.Millisecond, zerolog.Nop())
	key := "test-renew-" + time.Now().Format("150405.000000000")

	release, err := lock.Acquire(ctx, key)
	require.NoError(t, err)
	time.Sleep(1500 * time.Millisecond) // más del doble del TTL

	_, err = lock.Acquire(ctx, key)
	assert.ErrorIs(t, err, domain.ErrSubmissionInFlight, "el lock sigue tomado pasado el TTL inicial")

	release()
	release() // idempotente
	release2, err := lock.Acquire(ctx, key)
	require.NoError(t, err)
	release2()
}
