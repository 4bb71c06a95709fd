package resource

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation would exceed the memory limit.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Config holds resource limits. Zero values mean "no limit" except for
// MaxBackgroundTasks, which defaults to 1.
type Config struct {
	MemoryLimitBytes   int64
	MaxBackgroundTasks int64
	IOLimitBytesPerSec int64
}

// Stats is a point-in-time view of resource usage.
type Stats struct {
	MemoryUsed        int64
	BackgroundRunning int64
}

// Controller manages memory, background concurrency and IO throughput.
// A nil *Controller imposes no limits.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted
	memUsed atomic.Int64

	bgSem     *semaphore.Weighted
	bgRunning atomic.Int64

	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundTasks <= 0 {
		cfg.MaxBackgroundTasks = 1
	}

	c := &Controller{
		cfg:   cfg,
		bgSem: semaphore.NewWeighted(cfg.MaxBackgroundTasks),
	}
	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// TryAcquireMemory reserves bytes without blocking.
func (c *Controller) TryAcquireMemory(bytes int64) bool {
	if c == nil || bytes <= 0 {
		return true
	}
	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return false
	}
	c.memUsed.Add(bytes)
	return true
}

// AcquireMemory is TryAcquireMemory with an error result.
func (c *Controller) AcquireMemory(bytes int64) error {
	if !c.TryAcquireMemory(bytes) {
		return ErrMemoryLimitExceeded
	}
	return nil
}

// ReleaseMemory releases reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// RunBackground blocks until a background slot is free and then runs fn
// on the calling goroutine.
func (c *Controller) RunBackground(ctx context.Context, fn func(context.Context) error) error {
	if c == nil {
		return fn(ctx)
	}
	if err := c.bgSem.Acquire(ctx, 1); err != nil {
		return err
	}
	c.bgRunning.Add(1)
	defer func() {
		c.bgRunning.Add(-1)
		c.bgSem.Release(1)
	}()
	return fn(ctx)
}

// TryRunBackground runs fn only if a slot is immediately available.
// It reports whether fn ran.
func (c *Controller) TryRunBackground(ctx context.Context, fn func(context.Context) error) (bool, error) {
	if c == nil {
		return true, fn(ctx)
	}
	if !c.bgSem.TryAcquire(1) {
		return false, nil
	}
	c.bgRunning.Add(1)
	defer func() {
		c.bgRunning.Add(-1)
		c.bgSem.Release(1)
	}()
	return true, fn(ctx)
}

// AcquireIO waits until the IO limit admits n bytes. Requests larger than the
// burst are admitted in burst-sized chunks.
func (c *Controller) AcquireIO(ctx context.Context, n int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for n > 0 {
		chunk := min(n, burst)
		if err := c.ioLimiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// Stats returns current usage.
func (c *Controller) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		MemoryUsed:        c.memUsed.Load(),
		BackgroundRunning: c.bgRunning.Load(),
	}
}
