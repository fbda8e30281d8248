package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"labelstock/backend/internal/domain"
)

// ReadThrough serves barcode sets from a BarcodeCache and loads misses from
// the store. Concurrent misses for the same receipt share one load. Cache
// failures are logged and never fail the read. A load that overlaps an
// Invalidate never leaves its result in the cache.
type ReadThrough struct {
	cache  BarcodeCache
	ttl    time.Duration
	logger *zap.Logger
	group  singleflight.Group

	mu          sync.Mutex
	generations map[string]uint64
}

func NewReadThrough(c BarcodeCache, ttl time.Duration, logger *zap.Logger) *ReadThrough {
	if c == nil {
		c = NoopBarcodeCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReadThrough{cache: c, ttl: ttl, logger: logger, generations: make(map[string]uint64)}
}

func (r *ReadThrough) generation(receiptID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generations[receiptID]
}

func (r *ReadThrough) Load(ctx context.Context, receiptID string, load func(context.Context) ([]domain.Barcode, error)) ([]domain.Barcode, error) {
	cached, ok, err := r.cache.Get(ctx, receiptID)
	if err != nil {
		r.logger.Warn("barcode cache read failed", zap.String("receipt_id", receiptID), zap.Error(err))
	}
	if ok {
		return cached, nil
	}

	v, err, _ := r.group.Do(receiptID, func() (any, error) {
		gen := r.generation(receiptID)
		barcodes, err := load(ctx)
		if err != nil {
			return nil, err
		}
		r.store(ctx, receiptID, gen, barcodes)
		return barcodes, nil
	})
	if err != nil {
		return nil, err
	}
	shared := v.([]domain.Barcode)
	out := make([]domain.Barcode, len(shared))
	for i := range shared {
		out[i] = shared[i].Clone()
	}
	return out, nil
}

// store writes a loaded set unless an Invalidate ran since gen was taken.
// An Invalidate racing the write is caught by the second check.
func (r *ReadThrough) store(ctx context.Context, receiptID string, gen uint64, barcodes []domain.Barcode) {
	if r.generation(receiptID) != gen {
		return
	}
	if err := r.cache.Set(ctx, receiptID, barcodes, r.ttl); err != nil {
		r.logger.Warn("barcode cache write failed", zap.String("receipt_id", receiptID), zap.Error(err))
		return
	}
	if r.generation(receiptID) != gen {
		if err := r.cache.Invalidate(ctx, receiptID); err != nil {
			r.logger.Warn("barcode cache invalidation failed", zap.String("receipt_id", receiptID), zap.Error(err))
		}
	}
}

func (r *ReadThrough) Invalidate(ctx context.Context, receiptID string) {
	r.mu.Lock()
	r.generations[receiptID]++
	r.mu.Unlock()
	r.group.Forget(receiptID)
	if err := r.cache.Invalidate(ctx, receiptID); err != nil {
		r.logger.Warn("barcode cache invalidation failed", zap.String("receipt_id", receiptID), zap.Error(err))
	}
}
