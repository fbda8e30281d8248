package cache

import (
	"context"
	"sync"
	"time"

	"labelstock/backend/internal/domain"
)

// BarcodeCache holds the barcode set of a receipt. It is disposable: every
// mutation of a receipt's barcodes invalidates the entry and readers always
// fall back to the store on a miss.
type BarcodeCache interface {
	Get(ctx context.Context, receiptID string) ([]domain.Barcode, bool, error)
	Set(ctx context.Context, receiptID string, barcodes []domain.Barcode, ttl time.Duration) error
	Invalidate(ctx context.Context, receiptID string) error
}

func barcodeKey(receiptID string) string {
	return "labelstock:barcodes:" + receiptID
}

type NoopBarcodeCache struct{}

func (NoopBarcodeCache) Get(_ context.Context, _ string) ([]domain.Barcode, bool, error) {
	return nil, false, nil
}

func (NoopBarcodeCache) Set(_ context.Context, _ string, _ []domain.Barcode, _ time.Duration) error {
	return nil
}

func (NoopBarcodeCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

// MemoryBarcodeCache is a process-local cache used in tests and single-node
// dev mode. Entries expire lazily on read.
type MemoryBarcodeCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	barcodes  []domain.Barcode
	expiresAt time.Time
}

func NewMemoryBarcodeCache() *MemoryBarcodeCache {
	return &MemoryBarcodeCache{entries: make(map[string]memoryEntry)}
}

func (c *MemoryBarcodeCache) Get(_ context.Context, receiptID string) ([]domain.Barcode, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[barcodeKey(receiptID)]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(c.entries, barcodeKey(receiptID))
		return nil, false, nil
	}
	out := make([]domain.Barcode, len(entry.barcodes))
	copy(out, entry.barcodes)
	return out, true, nil
}

func (c *MemoryBarcodeCache) Set(_ context.Context, receiptID string, barcodes []domain.Barcode, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]domain.Barcode, len(barcodes))
	copy(stored, barcodes)
	entry := memoryEntry{barcodes: stored}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	c.entries[barcodeKey(receiptID)] = entry
	return nil
}

func (c *MemoryBarcodeCache) Invalidate(_ context.Context, receiptID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, barcodeKey(receiptID))
	return nil
}
