package cache

import (
	"context"

	"bazaar/internal/gateway"
)

// IntentCache remembers the payment intent issued for a transaction, so a
// buyer reopening the checkout gets the client secret without a gateway
// round trip. Entries expire with the service's default TTL.
type IntentCache struct {
	cache *CacheService
}

func NewIntentCache(cache *CacheService) *IntentCache {
	return &IntentCache{cache: cache}
}

func (c *IntentCache) key(transactionID string) string {
	return c.cache.GenerateKey("escrow", "intent", transactionID)
}

func (c *IntentCache) Get(ctx context.Context, transactionID string) (*gateway.Intent, bool, error) {
	var intent gateway.Intent
	found, err := c.cache.Get(ctx, c.key(transactionID), &intent)
	if err != nil || !found {
		return nil, false, err
	}
	return &intent, true, nil
}

func (c *IntentCache) Put(ctx context.Context, transactionID string, intent *gateway.Intent) error {
	return c.cache.Set(ctx, c.key(transactionID), intent)
}
