package locker

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableExclusive(t *testing.T) {
	table := NewTable()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := table.Lock(context.Background(), Key("1", "p"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, table.Len())
}

func TestTableIndependentKeys(t *testing.T) {
	table := NewTable()
	unlockA, err := table.Lock(context.Background(), Key("1", "a"))
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	unlockB, err := table.Lock(ctx, Key("1", "b"))
	require.NoError(t, err)
	unlockB()
}

func TestTableContextCancel(t *testing.T) {
	table := NewTable()
	unlock, err := table.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = table.Lock(ctx, "k")
	require.Error(t, err)

	unlock()
	unlock()
	assert.Equal(t, 0, table.Len())
}

func TestChainReleasesOnFailure(t *testing.T) {
	first := NewTable()
	second := NewTable()
	held, err := second.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = Chain{first, second}.Lock(ctx, "k")
	require.Error(t, err)
	assert.Equal(t, 0, first.Len())
	held()
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	l, err := NewRedisLocker(ctx, RedisConfig{Addr: addr, TTL: 5 * time.Second})
	require.NoError(t, err)
	defer l.Close()

	unlock, err := l.Lock(ctx, Key("test", "redis"))
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx, Key("test", "redis"))
	require.Error(t, err)

	unlock()
	unlock2, err := l.Lock(ctx, Key("test", "redis"))
	require.NoError(t, err)
	unlock2()
}
