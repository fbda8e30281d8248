package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelstock/backend/internal/domain"
)

func TestReadThroughCachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	rt := NewReadThrough(NewMemoryBarcodeCache(), time.Minute, nil)

	var loads atomic.Int32
	load := func(context.Context) ([]domain.Barcode, error) {
		loads.Add(1)
		return []domain.Barcode{{Code: "RC0001230001-01-001"}}, nil
	}

	first, err := rt.Load(ctx, "r1", load)
	require.NoError(t, err)
	second, err := rt.Load(ctx, "r1", load)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), loads.Load())

	rt.Invalidate(ctx, "r1")
	_, err = rt.Load(ctx, "r1", load)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loads.Load())
}

func TestReadThroughCoalescesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	rt := NewReadThrough(NoopBarcodeCache{}, time.Minute, nil)

	release := make(chan struct{})
	var loads atomic.Int32
	load := func(context.Context) ([]domain.Barcode, error) {
		loads.Add(1)
		<-release
		return []domain.Barcode{{Code: "B1"}}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := rt.Load(ctx, "r1", load)
			assert.NoError(t, err)
			assert.Len(t, got, 1)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, loads.Load(), int32(8))
	assert.GreaterOrEqual(t, loads.Load(), int32(1))
}

func TestMemoryBarcodeCacheExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryBarcodeCache()
	require.NoError(t, c.Set(ctx, "r1", []domain.Barcode{{Code: "B1"}}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, ok, err := c.Get(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadThroughDropsLoadThatOverlapsInvalidate(t *testing.T) {
	ctx := context.Background()
	rt := NewReadThrough(NewMemoryBarcodeCache(), time.Minute, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	slow := func(context.Context) ([]domain.Barcode, error) {
		close(started)
		<-release
		return []domain.Barcode{{Code: "OLD"}}, nil
	}

	done := make(chan []domain.Barcode)
	go func() {
		got, err := rt.Load(ctx, "r1", slow)
		assert.NoError(t, err)
		done <- got
	}()

	<-started
	rt.Invalidate(ctx, "r1")
	close(release)
	stale := <-done
	require.Len(t, stale, 1)
	assert.Equal(t, "OLD", stale[0].Code)

	fresh, err := rt.Load(ctx, "r1", func(context.Context) ([]domain.Barcode, error) {
		return []domain.Barcode{{Code: "NEW"}}, nil
	})
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "NEW", fresh[0].Code)
}

func TestReadThroughCallersDoNotShareBarcodePointers(t *testing.T) {
	ctx := context.Background()
	rt := NewReadThrough(NoopBarcodeCache{}, time.Minute, nil)

	serial := "SN-1"
	shared := []domain.Barcode{{Code: "B1", StockItem: domain.StockItem{SerialNumber: &serial}}}
	release := make(chan struct{})
	load := func(context.Context) ([]domain.Barcode, error) {
		<-release
		return shared, nil
	}

	results := make(chan []domain.Barcode, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := rt.Load(ctx, "r1", load)
			assert.NoError(t, err)
			results <- got
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for got := range results {
		require.Len(t, got, 1)
		require.NotNil(t, got[0].StockItem.SerialNumber)
		assert.Equal(t, "SN-1", *got[0].StockItem.SerialNumber)
		assert.NotSame(t, &serial, got[0].StockItem.SerialNumber)
		*got[0].StockItem.SerialNumber = "MUTATED"
	}
	assert.Equal(t, "SN-1", serial)
}
