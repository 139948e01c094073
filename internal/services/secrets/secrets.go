// Package secrets resolves named credentials (provider API keys, webhook
// secrets) through a small TTL cache so hot paths never wait on the backing
// store.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/singleflight"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
)

// cacheTTL bounds how stale a rotated secret can be observed.
const cacheTTL = 5 * time.Minute

type cacheEntry struct {
	value     string
	fetchedAt time.Time
}

// Cache fronts a SecretSource with a TTL cache. Concurrent misses for the
// same name collapse into one fetch via singleflight.
type Cache struct {
	source interfaces.SecretSource
	logger arbor.ILogger

	mu      sync.RWMutex
	entries map[string]cacheEntry
	group   singleflight.Group
	ttl     time.Duration
}

// NewCache wraps the source.
func NewCache(source interfaces.SecretSource, logger arbor.ILogger) *Cache {
	return &Cache{
		source:  source,
		logger:  logger,
		entries: make(map[string]cacheEntry),
		ttl:     cacheTTL,
	}
}

// Get returns the secret, fetching through the source on a cold or expired
// entry.
func (c *Cache) Get(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	entry, ok := c.entries[name]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < c.ttl {
		return entry.value, nil
	}

	value, err, _ := c.group.Do(name, func() (interface{}, error) {
		// Another waiter may have refreshed while we queued.
		c.mu.RLock()
		entry, ok := c.entries[name]
		c.mu.RUnlock()
		if ok && time.Since(entry.fetchedAt) < c.ttl {
			return entry.value, nil
		}

		fetched, err := c.source.Get(ctx, name)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.entries[name] = cacheEntry{value: fetched, fetchedAt: time.Now()}
		c.mu.Unlock()
		return fetched, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// ResetForTest drops every cached entry.
func (c *Cache) ResetForTest() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// EnvSource resolves secrets from environment variables: the name is
// uppercased with dashes mapped to underscores, so "tasks-webhook-secret"
// reads TASKS_WEBHOOK_SECRET.
type EnvSource struct{}

// Get reads the mapped environment variable.
func (EnvSource) Get(_ context.Context, name string) (string, error) {
	key := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("secret %s not set in environment (%s)", name, key)
	}
	return value, nil
}

// StoreSource resolves secrets from the key/value table under a "secret/"
// prefix.
type StoreSource struct {
	kv interfaces.KVStorage
}

// NewStoreSource creates a database-backed source.
func NewStoreSource(kv interfaces.KVStorage) *StoreSource {
	return &StoreSource{kv: kv}
}

// Get reads "secret/{name}" from the store.
func (s *StoreSource) Get(ctx context.Context, name string) (string, error) {
	value, err := s.kv.Get(ctx, "secret/"+name)
	if err == interfaces.ErrNotFound {
		return "", fmt.Errorf("secret %s not found in store", name)
	}
	return value, err
}

// ChainSource tries each source in order, returning the first hit.
type ChainSource []interfaces.SecretSource

// Get resolves through the chain.
func (c ChainSource) Get(ctx context.Context, name string) (string, error) {
	var lastErr error
	for _, source := range c {
		value, err := source.Get(ctx, name)
		if err == nil {
			return value, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("secret %s: no sources configured", name)
	}
	return "", lastErr
}

// Well-known secret names.
const (
	NameCalendarAPIKey     = "calendar-api-key"
	NameTasksAPIKey        = "tasks-api-key"
	NameTasksWebhookSecret = "tasks-webhook-secret"
	NameDocsAPIKey         = "docs-api-key"
	NameLLMAPIKey          = "llm-api-key"
)
