package querycache

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, time.Minute), mr
}

func TestFetchJSONCachesUntilBump(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	calls := 0
	value := []record{{ID: 7, Name: "is_manager"}}
	loader := func(context.Context) (interface{}, error) {
		calls++
		return value, nil
	}

	key, err := cache.BuildKey(ctx, "fields", "published")
	require.NoError(t, err)

	var got []record
	require.NoError(t, cache.FetchJSON(ctx, key, &got, loader))
	require.Equal(t, value, got)
	require.Equal(t, 1, calls)

	got = nil
	require.NoError(t, cache.FetchJSON(ctx, key, &got, loader))
	require.Equal(t, value, got)
	require.Equal(t, 1, calls, "second fetch should be served from cache")

	require.NoError(t, cache.Bump(ctx, "fields"))
	value = []record{{ID: 7, Name: "is_manager"}, {ID: 8, Name: "salary"}}

	key2, err := cache.BuildKey(ctx, "fields", "published")
	require.NoError(t, err)
	require.NotEqual(t, key, key2)

	got = nil
	require.NoError(t, cache.FetchJSON(ctx, key2, &got, loader))
	require.Len(t, got, 2)
	require.Equal(t, 2, calls)
}

func TestBumpIsolatedPerNamespace(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	before, err := cache.BuildKey(ctx, "concepts", "published")
	require.NoError(t, err)
	require.NoError(t, cache.Bump(ctx, "fields"))
	after, err := cache.BuildKey(ctx, "concepts", "published")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestFetchJSONPropagatesLoaderError(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	boom := errors.New("boom")

	key, err := cache.BuildKey(ctx, "fields", "all")
	require.NoError(t, err)
	var got []record
	err = cache.FetchJSON(ctx, key, &got, func(context.Context) (interface{}, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists(key))
}

func TestInstanceRoundTripAndClear(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	var got record
	ok, err := cache.GetInstance(ctx, "fields", 7, &got)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.SetInstance(ctx, "fields", 7, record{ID: 7, Name: "is_manager"}))
	ok, err = cache.GetInstance(ctx, "fields", 7, &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(7), got.ID)

	require.NoError(t, cache.Clear(ctx))
	ok, err = cache.GetInstance(ctx, "fields", 7, &got)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.SetInstance(ctx, "fields", 8, record{ID: 8}))
	require.NoError(t, cache.DeleteInstance(ctx, "fields", 8))
	ok, err = cache.GetInstance(ctx, "fields", 8, &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNilCachePassesThrough(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	key, err := cache.BuildKey(ctx, "fields", "all")
	require.NoError(t, err)
	calls := 0
	var got record
	for i := 0; i < 2; i++ {
		require.NoError(t, cache.FetchJSON(ctx, key, &got, func(context.Context) (interface{}, error) {
			calls++
			return record{ID: 1}, nil
		}))
	}
	require.Equal(t, 2, calls)
	require.NoError(t, cache.Bump(ctx, "fields"))
	ok, err := cache.GetInstance(ctx, "fields", 1, &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFingerprintStable(t *testing.T) {
	require.Equal(t, Fingerprint("a", "b"), Fingerprint("a", "b"))
	require.NotEqual(t, Fingerprint("ab", ""), Fingerprint("a", "b"))
}

func TestApplyBumpStoresPublishedVersion(t *testing.T) {
	cache, _ := newTestCache(t)
	cache.applyBump("fields:5")
	require.Equal(t, int64(5), cache.versions["fields"])
	// a lower version follows a Clear and wins
	cache.applyBump("fields:3")
	require.Equal(t, int64(3), cache.versions["fields"])
	cache.applyBump("garbage")
	require.Equal(t, int64(3), cache.versions["fields"])
	cache.applyBump(resetPayload)
	require.Empty(t, cache.versions)
}

func TestListenerFollowsClearAcrossProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return client
	}
	server := New(newClient(), time.Minute)
	writer := New(newClient(), time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, server.ListenForInvalidation(ctx))

	waitVersion := func(want int64) {
		t.Helper()
		require.Eventually(t, func() bool {
			ver, err := server.Version(ctx, "fields")
			return err == nil && ver == want
		}, 2*time.Second, 10*time.Millisecond)
	}
	fetch := func(value string) string {
		t.Helper()
		key, err := server.BuildKey(ctx, "fields", "published")
		require.NoError(t, err)
		var got record
		require.NoError(t, server.FetchJSON(ctx, key, &got, func(context.Context) (interface{}, error) {
			return record{Name: value}, nil
		}))
		return got.Name
	}

	for i := 0; i < 7; i++ {
		require.NoError(t, writer.Bump(ctx, "fields"))
	}
	waitVersion(7)
	require.Equal(t, "seven", fetch("seven"))

	require.NoError(t, writer.Clear(ctx))
	require.NoError(t, writer.Bump(ctx, "fields"))
	require.NoError(t, writer.Bump(ctx, "fields"))
	waitVersion(2)
	require.Equal(t, "two", fetch("two"))

	require.NoError(t, writer.Bump(ctx, "fields"))
	waitVersion(3)
	require.Equal(t, "three", fetch("three"))
}

func TestScopedCachesDoNotShareKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	a := New(client, time.Minute).WithScope("a")
	b := New(client, time.Minute).WithScope("b")

	require.NoError(t, a.SetInstance(ctx, "fields", 1, record{ID: 1, Name: "salary"}))
	var got record
	ok, err := b.GetInstance(ctx, "fields", 1, &got)
	require.NoError(t, err)
	require.False(t, ok)

	keyA, err := a.BuildKey(ctx, "fields", "published")
	require.NoError(t, err)
	keyB, err := b.BuildKey(ctx, "fields", "published")
	require.NoError(t, err)
	require.NotEqual(t, keyA, keyB)
	require.Equal(t, "fields", a.namespaceOf(keyA))

	require.NoError(t, b.Clear(ctx))
	ok, err = a.GetInstance(ctx, "fields", 1, &got)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMetricsCountHitsAndMisses(t *testing.T) {
	cache, _ := newTestCache(t)
	reg := prometheus.NewRegistry()
	cache.WithMetrics(reg)
	ctx := context.Background()

	key, err := cache.BuildKey(ctx, "fields", "all")
	require.NoError(t, err)
	var got record
	loader := func(context.Context) (interface{}, error) { return record{ID: 1}, nil }
	require.NoError(t, cache.FetchJSON(ctx, key, &got, loader))
	require.NoError(t, cache.FetchJSON(ctx, key, &got, loader))

	families, err := reg.Gather()
	require.NoError(t, err)
	counts := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "avocado_cache_lookups_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "result" {
					counts[label.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	require.Equal(t, map[string]float64{"hit": 1, "miss": 1}, counts)
}
