package resource

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Memory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	require.NoError(t, c.AcquireMemory(50))
	require.NoError(t, c.AcquireMemory(40))
	assert.Equal(t, int64(90), c.Stats().MemoryUsed)

	assert.ErrorIs(t, c.AcquireMemory(20), ErrMemoryLimitExceeded)
	assert.Equal(t, int64(90), c.Stats().MemoryUsed)

	c.ReleaseMemory(50)
	assert.True(t, c.TryAcquireMemory(20))
	assert.Equal(t, int64(60), c.Stats().MemoryUsed)
}

func TestController_Nil(t *testing.T) {
	var c *Controller

	assert.True(t, c.TryAcquireMemory(1<<40))
	c.ReleaseMemory(1)
	require.NoError(t, c.AcquireIO(context.Background(), 1<<20))

	ran := false
	require.NoError(t, c.RunBackground(context.Background(), func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
	assert.Equal(t, Stats{}, c.Stats())
}

func TestController_Background(t *testing.T) {
	c := NewController(Config{MaxBackgroundTasks: 1})

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- c.RunBackground(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.Equal(t, int64(1), c.Stats().BackgroundRunning)

	ran, err := c.TryRunBackground(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.False(t, ran)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = c.RunBackground(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-done)

	boom := errors.New("boom")
	ran, err = c.TryRunBackground(context.Background(), func(context.Context) error { return boom })
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)
}

func TestController_IO(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})
	// Larger than the burst: admitted in chunks instead of failing.
	require.NoError(t, c.AcquireIO(context.Background(), 1<<20+10))
}
