package fec

import (
	"fmt"
	"sync"

	"github.com/klauspost/reedsolomon"
	"github.com/sirupsen/logrus"
)

// DefaultCodecCacheCapacity is the number of (k, n) codecs kept before eviction.
const DefaultCodecCacheCapacity = 512

type codecKey struct {
	k, n int
}

// codecCache shares Reed-Solomon codecs between all groups, encoders and
// decoders of the process. Codecs are evicted oldest first once the cache
// holds capacity entries.
type codecCache struct {
	mu       sync.Mutex
	codecs   map[codecKey]reedsolomon.Encoder
	order    []codecKey
	capacity int
}

var sharedCodecs = newCodecCache(DefaultCodecCacheCapacity)

func newCodecCache(capacity int) *codecCache {
	return &codecCache{
		codecs:   make(map[codecKey]reedsolomon.Encoder),
		capacity: capacity,
	}
}

// get returns the codec for k original and n total shards, building it on first use.
// Invalid (k, n) pairs are a caller bug and panic.
func (c *codecCache) get(k, n int) reedsolomon.Encoder {
	key := codecKey{k: k, n: n}

	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.codecs[key]; ok {
		return enc
	}

	enc, err := reedsolomon.New(k, n-k)
	if err != nil {
		panic(fmt.Sprintf("fec: cannot build reed-solomon codec k=%d n=%d: %v", k, n, err))
	}

	for len(c.order) >= c.capacity && len(c.order) > 0 {
		evicted := c.order[0]
		c.order = c.order[1:]
		delete(c.codecs, evicted)
		logrus.WithFields(logrus.Fields{
			"function": "codecCache.get",
			"k":        evicted.k,
			"n":        evicted.n,
		}).Debug("Evicted reed-solomon codec")
	}

	c.codecs[key] = enc
	c.order = append(c.order, key)
	return enc
}

// len returns the number of cached codecs.
func (c *codecCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.codecs)
}

// reset drops every cached codec.
func (c *codecCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codecs = make(map[codecKey]reedsolomon.Encoder)
	c.order = nil
}

// setCapacity changes the capacity and returns the previous value.
// Values below 1 are ignored.
func (c *codecCache) setCapacity(capacity int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.capacity
	if capacity > 0 {
		c.capacity = capacity
	}
	return prev
}

// ResetCodecCache releases every cached Reed-Solomon codec.
// Call it on teardown, or in tests that measure cache behavior.
func ResetCodecCache() {
	sharedCodecs.reset()
}

// CodecCacheLen reports how many codecs are currently cached.
func CodecCacheLen() int {
	return sharedCodecs.len()
}

// SetCodecCacheCapacity bounds the shared codec cache and returns the previous bound.
func SetCodecCacheCapacity(capacity int) int {
	return sharedCodecs.setCapacity(capacity)
}
