package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/reyhq/rentledger/internal/reconcile"
)

// AckCache stores resolved webhook acknowledgments so repeat deliveries for
// the same tracking id skip the gateway status call. Only terminal outcomes
// are cached; pending payments must be re-queried.
type AckCache struct {
	client *Client
	logger *zap.Logger
	ttl    time.Duration
}

const defaultAckTTL = 24 * time.Hour

func NewAckCache(client *Client, logger *zap.Logger, ttl time.Duration) *AckCache {
	if ttl == 0 {
		ttl = defaultAckTTL
	}
	return &AckCache{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

func ackKey(trackingID string) string {
	return key("webhook", "ack", trackingID)
}

// Get returns the cached acknowledgment for a tracking id, or nil on a miss.
func (c *AckCache) Get(ctx context.Context, trackingID string) (*reconcile.Ack, error) {
	data, err := c.client.rdb.Get(ctx, ackKey(trackingID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ack cache get failed: %w", err)
	}

	var ack reconcile.Ack
	if err := json.Unmarshal(data, &ack); err != nil {
		// A corrupt entry is treated as a miss.
		c.logger.Warn("discarding malformed ack cache entry",
			zap.String("tracking_id", trackingID),
			zap.Error(err),
		)
		return nil, nil
	}

	return &ack, nil
}

// Put caches an acknowledgment for the configured TTL.
func (c *AckCache) Put(ctx context.Context, trackingID string, ack *reconcile.Ack) error {
	data, err := json.Marshal(ack)
	if err != nil {
		return fmt.Errorf("ack cache marshal failed: %w", err)
	}

	if err := c.client.rdb.Set(ctx, ackKey(trackingID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("ack cache set failed: %w", err)
	}

	return nil
}
