// Package cache provides benchmarks for Ristretto L1 cache.
package cache

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

// BenchmarkL1CacheGet benchmarks L1 cache Get performance
func BenchmarkL1CacheGet(b *testing.B) {
	logger := zaptest.NewLogger(b)
	cache, err := NewL1Cache(10000, 5*time.Minute, nil, logger)
	if err != nil {
		b.Fatal(err)
	}
	defer cache.Close()

	ctx := context.Background()
	// Pre-fill cache
	for i := 0; i < 1000; i++ {
		key := string(rune(i%26 + 'a')) + string(rune((i/26)%26 + 'a'))
		cache.Set(ctx, key, []byte("test-data"))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := string(rune(i%26 + 'a')) + string(rune((i/26)%26 + 'a'))
			cache.Get(ctx, key)
			i++
		}
	})
}

// BenchmarkL1CacheSet benchmarks L1 cache Set performance
func BenchmarkL1CacheSet(b *testing.B) {
	logger := zaptest.NewLogger(b)
	cache, err := NewL1Cache(10000, 5*time.Minute, nil, logger)
	if err != nil {
		b.Fatal(err)
	}
	defer cache.Close()

	ctx := context.Background()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := string(rune(i%26 + 'a')) + string(rune((i/26)%26 + 'a'))
			cache.Set(ctx, key, []byte("test-data"))
			i++
		}
	})
}

// BenchmarkConcurrentAccess benchmarks concurrent cache access
func BenchmarkConcurrentAccess(b *testing.B) {
	logger := zaptest.NewLogger(b)
	cache, err := NewL1Cache(10000, 5*time.Minute, nil, logger)
	if err != nil {
		b.Fatal(err)
	}
	defer cache.Close()

	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := string(rune(i%26 + 'a')) + string(rune((i/26)%26 + 'a'))
			switch i % 3 {
			case 0:
				cache.Get(ctx, key)
			case 1:
				cache.Set(ctx, key, []byte("data"))
			case 2:
				cache.Delete(ctx, key)
			}
			i++
		}
	})
}
