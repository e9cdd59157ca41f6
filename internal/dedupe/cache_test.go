// ABOUTME: Tests for the event-id dedupe cache.
// ABOUTME: Validates TTL expiry, size eviction, sweeping and concurrent CheckAndMark.

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_CheckAndMark(t *testing.T) {
	cache := New(time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.CheckAndMark("evt-1"), "first sighting is not a duplicate")
	assert.True(t, cache.CheckAndMark("evt-1"), "second sighting is a duplicate")
	assert.True(t, cache.Seen("evt-1"))
	assert.False(t, cache.Seen("evt-2"))
}

func TestCache_Expiry(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("evt-1")
	assert.True(t, cache.Seen("evt-1"))

	time.Sleep(20 * time.Millisecond)

	assert.False(t, cache.Seen("evt-1"))
	assert.False(t, cache.CheckAndMark("evt-1"), "expired key is accepted again")
}

func TestCache_EvictsOldest(t *testing.T) {
	cache := New(time.Minute, 3)
	defer cache.Close()

	for i := 1; i <= 3; i++ {
		cache.Mark(fmt.Sprintf("evt-%d", i))
	}
	// Re-marking moves evt-1 to the back, so evt-2 is now oldest.
	cache.Mark("evt-1")
	cache.Mark("evt-4")

	assert.Equal(t, 3, cache.Len())
	assert.True(t, cache.Seen("evt-1"))
	assert.False(t, cache.Seen("evt-2"))
	assert.True(t, cache.Seen("evt-3"))
	assert.True(t, cache.Seen("evt-4"))
}

func TestCache_Sweep(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("old-1")
	cache.Mark("old-2")
	time.Sleep(20 * time.Millisecond)
	cache.Mark("fresh")

	cache.sweep()

	assert.Equal(t, 1, cache.Len())
	assert.True(t, cache.Seen("fresh"))
}

func TestCache_Forget(t *testing.T) {
	cache := New(time.Minute, 100)
	defer cache.Close()

	cache.Mark("evt-1")
	cache.Forget("evt-1")
	cache.Forget("never-marked")

	assert.False(t, cache.Seen("evt-1"))
	assert.Equal(t, 0, cache.Len())
}

func TestCache_Defaults(t *testing.T) {
	cache := New(0, 0)
	defer cache.Close()

	assert.Equal(t, DefaultTTL, cache.ttl)
	assert.Equal(t, DefaultMaxSize, cache.maxSize)
}

func TestCache_ConcurrentCheckAndMark(t *testing.T) {
	cache := New(time.Minute, 1000)
	defer cache.Close()

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !cache.CheckAndMark("same-event") {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
}

func TestCache_CloseTwice(t *testing.T) {
	cache := New(time.Minute, 10)
	cache.Close()
	assert.NotPanics(t, cache.Close)
}
