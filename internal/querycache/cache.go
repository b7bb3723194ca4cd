// Package querycache fronts the registry repositories with a Redis backed
// cache. Query results are keyed by a fingerprint of the query plus a
// per-namespace version; bumping the version on write makes every cached
// result of that namespace unreachable. Saved records are also kept in an
// instance cache keyed by primary key.
package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	keyPrefix   = "avocado"
	bumpChannel = "avocado.cache.bump"

	// resetPayload tells listeners that every version was dropped.
	resetPayload = "*"
)

// Cache wraps Redis based caching with versioning controls.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	group   singleflight.Group
	prefix  string
	channel string

	// versions memoises namespace versions while a listener keeps them
	// current; without one every lookup reads Redis.
	mu        sync.RWMutex
	versions  map[string]int64
	listening atomic.Bool

	lookups *prometheus.CounterVec
}

// New instantiates the cache helper. A nil client yields a pass-through
// cache that always calls the loader.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{
		client:   client,
		ttl:      ttl,
		prefix:   keyPrefix,
		channel:  bumpChannel,
		versions: make(map[string]int64),
	}
}

// WithScope isolates the cache's keys and bump channel under scope so that
// processes with private stores can share one Redis without seeing each
// other's entries.
func (c *Cache) WithScope(scope string) *Cache {
	if c == nil || scope == "" {
		return c
	}
	c.prefix = keyPrefix + "@" + scope
	c.channel = bumpChannel + "@" + scope
	return c
}

// WithMetrics registers hit/miss counters on reg.
func (c *Cache) WithMetrics(reg prometheus.Registerer) *Cache {
	if c == nil || reg == nil {
		return c
	}
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "avocado_cache_lookups_total",
		Help: "Query and instance cache lookups partitioned by namespace and result.",
	}, []string{"namespace", "result"})
	if err := reg.Register(lookups); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			lookups = already.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	c.lookups = lookups
	return c
}

// Fingerprint derives a stable, compact identifier for a query description.
func Fingerprint(parts ...string) string {
	return strconv.FormatUint(xxhash.Sum64String(strings.Join(parts, "\x1f")), 16)
}

func (c *Cache) versionKey(namespace string) string {
	return c.prefix + ":version:" + namespace
}

func (c *Cache) instanceKey(namespace string, id int64) string {
	return c.prefix + ":instance:" + namespace + ":" + strconv.FormatInt(id, 10)
}

// Version returns the current cache version of namespace, initialising it
// when missing.
func (c *Cache) Version(ctx context.Context, namespace string) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	if c.listening.Load() {
		c.mu.RLock()
		ver, ok := c.versions[namespace]
		c.mu.RUnlock()
		if ok {
			return ver, nil
		}
	}
	ver, err := c.client.Get(ctx, c.versionKey(namespace)).Int64()
	if errors.Is(err, redis.Nil) {
		// SetNX keeps a concurrent Bump from being overwritten.
		if err := c.client.SetNX(ctx, c.versionKey(namespace), 1, 0).Err(); err != nil {
			return 0, err
		}
		ver, err = c.client.Get(ctx, c.versionKey(namespace)).Int64()
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, c.versionKey(namespace), ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	c.remember(namespace, ver)
	return ver, nil
}

// remember records a version read from Redis. It never lowers a known
// version since a bump may have been applied while the read was in flight.
func (c *Cache) remember(namespace string, ver int64) {
	c.mu.Lock()
	if cur, ok := c.versions[namespace]; !ok || ver > cur {
		c.versions[namespace] = ver
	}
	c.mu.Unlock()
}

// store records a version published by a bump as-is. After a Clear the
// counter restarts, so a lower version is still the current one.
func (c *Cache) store(namespace string, ver int64) {
	c.mu.Lock()
	c.versions[namespace] = ver
	c.mu.Unlock()
}

func (c *Cache) forget() {
	c.mu.Lock()
	c.versions = make(map[string]int64)
	c.mu.Unlock()
}

// BuildKey composes the cache key for a query fingerprint with the current
// namespace version.
func (c *Cache) BuildKey(ctx context.Context, namespace string, parts ...string) (string, error) {
	fp := Fingerprint(parts...)
	if c == nil || c.client == nil {
		return strings.Join([]string{keyPrefix, "query", namespace, fp}, ":"), nil
	}
	ver, err := c.Version(ctx, namespace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:query:%s:%s:%d", c.prefix, namespace, fp, ver), nil
}

// FetchJSON loads a cached value or populates it using the loader.
// Concurrent fills of the same key share one loader call.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest interface{}, loader func(context.Context) (interface{}, error)) error {
	if loader == nil {
		return errors.New("querycache: loader required")
	}
	if c == nil || c.client == nil {
		raw, err := load(ctx, loader)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, dest)
	}
	namespace := c.namespaceOf(key)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		c.observe(namespace, "hit")
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return err
	}
	c.observe(namespace, "miss")
	res, err, _ := c.group.Do(key, func() (interface{}, error) {
		raw, err := load(ctx, loader)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return nil, err
		}
		return raw, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(res.([]byte), dest)
}

func load(ctx context.Context, loader func(context.Context) (interface{}, error)) ([]byte, error) {
	value, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(value)
}

// Bump invalidates every cached query of namespace by incrementing its
// version and publishing the new version to other processes.
func (c *Cache) Bump(ctx context.Context, namespace string) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, c.versionKey(namespace)).Result()
	if err != nil {
		return err
	}
	c.store(namespace, ver)
	return c.client.Publish(ctx, c.channel, namespace+":"+strconv.FormatInt(ver, 10)).Err()
}

// ListenForInvalidation subscribes to version bumps published by other
// processes and refreshes the in-process version table. Bumps published
// while the subscription was down are lost, so the table is dropped every
// time the subscription is (re)established.
func (c *Cache) ListenForInvalidation(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, c.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	c.forget()
	c.listening.Store(true)
	go func() {
		defer func() {
			c.listening.Store(false)
			_ = pubsub.Close()
		}()
		ch := pubsub.ChannelWithSubscriptions()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				switch m := msg.(type) {
				case *redis.Subscription:
					// Sent again after go-redis reconnects.
					c.forget()
				case *redis.Message:
					c.applyBump(m.Payload)
				}
			}
		}
	}()
	return nil
}

func (c *Cache) applyBump(payload string) {
	if payload == resetPayload {
		c.forget()
		return
	}
	idx := strings.LastIndexByte(payload, ':')
	if idx <= 0 {
		return
	}
	namespace := payload[:idx]
	ver, err := strconv.ParseInt(payload[idx+1:], 10, 64)
	if err != nil {
		c.mu.Lock()
		delete(c.versions, namespace)
		c.mu.Unlock()
		return
	}
	c.store(namespace, ver)
}

// GetInstance loads the cached record id of namespace into dest. It reports
// false on a miss.
func (c *Cache) GetInstance(ctx context.Context, namespace string, id int64, dest interface{}) (bool, error) {
	if c == nil || c.client == nil {
		return false, nil
	}
	payload, err := c.client.Get(ctx, c.instanceKey(namespace, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.observe(namespace, "miss")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return false, err
	}
	c.observe(namespace, "hit")
	return true, nil
}

// SetInstance stores value as the cached record id of namespace.
func (c *Cache) SetInstance(ctx context.Context, namespace string, id int64, value interface{}) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.instanceKey(namespace, id), raw, c.ttl).Err()
}

// DeleteInstance evicts the cached record id of namespace.
func (c *Cache) DeleteInstance(ctx context.Context, namespace string, id int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, c.instanceKey(namespace, id)).Err()
}

// Clear drops every key owned by the cache and tells every listening
// process to forget its known versions.
func (c *Cache) Clear(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 200).Iterator()
	batch := make([]string, 0, 200)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return err
		}
	}
	c.forget()
	return c.client.Publish(ctx, c.channel, resetPayload).Err()
}

func (c *Cache) observe(namespace, result string) {
	if c.lookups == nil {
		return
	}
	c.lookups.WithLabelValues(namespace, result).Inc()
}

func (c *Cache) namespaceOf(key string) string {
	rest, ok := strings.CutPrefix(key, c.prefix+":query:")
	if !ok {
		return "unknown"
	}
	namespace, _, _ := strings.Cut(rest, ":")
	return namespace
}
