package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"igharvest/pkg/logger"
)

func TestPoolRunsTasks(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := New(3, logger.NewNopLogger())
	p.Start()
	defer p.Stop()

	var count atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Do(context.Background(), func(ctx context.Context) error {
				count.Add(1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 20, count.Load())
}

func TestPoolBoundsConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := New(2, logger.NewNopLogger())
	p.Start()
	defer p.Stop()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func(ctx context.Context) error {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 2, p.Size())
}

func TestPoolReturnsTaskErrorAndRecoversPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	tl := logger.NewTestLogger()
	p := New(1, tl)
	p.Start()
	defer p.Stop()

	boom := errors.New("boom")
	assert.ErrorIs(t, p.Do(context.Background(), func(ctx context.Context) error { return boom }), boom)

	err := p.Do(context.Background(), func(ctx context.Context) error { panic("bad") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.True(t, tl.HasMessage("Worker recovered from panic"))

	assert.NoError(t, p.Do(context.Background(), func(ctx context.Context) error { return nil }))
}

func TestPoolPassesContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := New(1, logger.NewNopLogger())
	p.Start()
	defer p.Stop()

	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	err := p.Do(ctx, func(ctx context.Context) error {
		assert.Equal(t, "v", ctx.Value(key{}))
		return nil
	})
	assert.NoError(t, err)
}

func TestPoolStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := New(2, logger.NewNopLogger())
	assert.ErrorIs(t, p.Do(context.Background(), func(ctx context.Context) error { return nil }), ErrClosed)

	p.Start()
	p.Start()

	started := make(chan struct{})
	var finished atomic.Bool
	go func() {
		_ = p.Do(context.Background(), func(ctx context.Context) error {
			close(started)
			time.Sleep(20 * time.Millisecond)
			finished.Store(true)
			return nil
		})
	}()
	<-started
	p.Stop()
	assert.True(t, finished.Load(), "Stop waits for running tasks")

	p.Stop()
	assert.ErrorIs(t, p.Do(context.Background(), func(ctx context.Context) error { return nil }), ErrClosed)
}
