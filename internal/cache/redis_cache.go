package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"labelstock/backend/internal/domain"
)

type RedisBarcodeCache struct {
	client *redis.Client
}

func NewRedisBarcodeCache(addr string, password string, db int) *RedisBarcodeCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisBarcodeCache{client: client}
}

func (c *RedisBarcodeCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisBarcodeCache) Close() error {
	return c.client.Close()
}

func (c *RedisBarcodeCache) Get(ctx context.Context, receiptID string) ([]domain.Barcode, bool, error) {
	val, err := c.client.Get(ctx, barcodeKey(receiptID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var barcodes []domain.Barcode
	if err := json.Unmarshal(val, &barcodes); err != nil {
		return nil, false, err
	}
	return barcodes, true, nil
}

func (c *RedisBarcodeCache) Set(ctx context.Context, receiptID string, barcodes []domain.Barcode, ttl time.Duration) error {
	if barcodes == nil {
		return nil
	}
	payload, err := json.Marshal(barcodes)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, barcodeKey(receiptID), payload, ttl).Err()
}

func (c *RedisBarcodeCache) Invalidate(ctx context.Context, receiptID string) error {
	return c.client.Del(ctx, barcodeKey(receiptID)).Err()
}
