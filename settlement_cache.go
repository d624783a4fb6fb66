package x402

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// SettlementCache deduplicates settle calls process-locally. A retried
// payload identical to one already settled (or currently settling) gets the
// first call's result instead of a second contract submission. On-chain
// replay protection stays with the settlement contract; this cache only
// absorbs client retries after timeouts.
type SettlementCache struct {
	mu       sync.Mutex
	results  map[string]SettleResponse
	errs     map[string]error
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
}

// NewSettlementCache creates a settlement cache. Entries expire ttl after
// their settlement completes.
func NewSettlementCache(ttl time.Duration) *SettlementCache {
	return &SettlementCache{
		results:  make(map[string]SettleResponse),
		errs:     make(map[string]error),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
	}
}

// SettlementKey derives the cache key for a payload/requirements pair. The
// signature covers every permit field, so signature plus routing fields
// uniquely identifies one payment attempt.
func SettlementKey(payload PaymentPayload, requirements PaymentRequirements) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s",
		requirements.Scheme, requirements.Network, requirements.Asset,
		requirements.PayTo, payload.Payload.Signature)
	return hex.EncodeToString(h.Sum(nil))
}

// CheckAndMark atomically consults the cache. It returns a cached result when
// one exists, reports an in-flight settlement for the same key, or marks the
// key in-flight and tells the caller to proceed.
func (c *SettlementCache) CheckAndMark(key string) (cached *SettleResponse, inFlight bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, exists := c.expiry[key]; exists {
		if time.Now().Before(expiry) {
			if result, ok := c.results[key]; ok {
				return &result, false
			}
		}
		c.evictLocked(key)
	}

	// Cached errors never block a fresh attempt.
	if _, failed := c.errs[key]; failed {
		c.evictLocked(key)
	}

	if _, exists := c.inFlight[key]; exists {
		return nil, true
	}

	c.inFlight[key] = make(chan struct{})
	return nil, false
}

// WaitForResult blocks until the in-flight settlement for key finishes, then
// returns its outcome. Honors context cancellation.
func (c *SettlementCache) WaitForResult(ctx context.Context, key string) (SettleResponse, error) {
	c.mu.Lock()
	done, exists := c.inFlight[key]
	c.mu.Unlock()

	if !exists {
		return c.get(key)
	}

	select {
	case <-done:
		return c.get(key)
	case <-ctx.Done():
		return SettleResponse{}, ctx.Err()
	}
}

func (c *SettlementCache) get(key string) (SettleResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.errs[key]; ok {
		return SettleResponse{}, err
	}
	if result, ok := c.results[key]; ok {
		if time.Now().Before(c.expiry[key]) {
			return result, nil
		}
		c.evictLocked(key)
	}
	return SettleResponse{}, fmt.Errorf("settlement result for %s no longer available", key)
}

// Complete records the settlement outcome and releases waiters.
func (c *SettlementCache) Complete(key string, response SettleResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[key] = response
	c.expiry[key] = time.Now().Add(c.ttl)
	c.releaseLocked(key)
	c.cleanupExpiredLocked()
}

// Fail records a settlement error and releases waiters. Concurrent waiters
// observe the error; the next fresh attempt for the same key evicts it and
// proceeds.
func (c *SettlementCache) Fail(key string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.errs[key] = err
	c.expiry[key] = time.Now().Add(c.ttl)
	c.releaseLocked(key)
}

func (c *SettlementCache) releaseLocked(key string) {
	if done, exists := c.inFlight[key]; exists {
		delete(c.inFlight, key)
		close(done)
	}
}

func (c *SettlementCache) evictLocked(key string) {
	delete(c.results, key)
	delete(c.errs, key)
	delete(c.expiry, key)
}

func (c *SettlementCache) cleanupExpiredLocked() {
	now := time.Now()
	for key, expiry := range c.expiry {
		if now.After(expiry) {
			c.evictLocked(key)
		}
	}
}
