package measurement

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/banshee-data/auv.localiser/internal/pose"
)

// DefaultCacheSize is used when NewCachedSimulator is given a non-positive
// size.
const DefaultCacheSize = 4096

type cacheKey struct {
	pose  [6]int64
	beams uint64
}

// CachedSimulator memoises a RangeSimulator on sensor poses quantised to
// Resolution. After resampling many particles share a pose, so repeated
// lookups are common.
type CachedSimulator struct {
	inner      RangeSimulator
	resolution float64
	cache      *lru.Cache[cacheKey, []float64]
}

// NewCachedSimulator wraps inner with an LRU of the given size. Poses
// that round to the same multiple of resolution on every axis share an
// entry; a non-positive resolution caches exact poses only.
func NewCachedSimulator(inner RangeSimulator, size int, resolution float64) (*CachedSimulator, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[cacheKey, []float64](size)
	if err != nil {
		return nil, err
	}
	return &CachedSimulator{inner: inner, resolution: resolution, cache: c}, nil
}

// ExpectedRanges implements RangeSimulator. The returned slice may be
// shared with other callers and must not be modified.
func (c *CachedSimulator) ExpectedRanges(ctx context.Context, sensor pose.Pose, beams []float64) ([]float64, error) {
	key := c.key(sensor, beams)
	if r, ok := c.cache.Get(key); ok {
		return r, nil
	}
	r, err := c.inner.ExpectedRanges(ctx, sensor, beams)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, r)
	return r, nil
}

// Len reports the number of cached entries.
func (c *CachedSimulator) Len() int {
	return c.cache.Len()
}

func (c *CachedSimulator) key(sensor pose.Pose, beams []float64) cacheKey {
	var k cacheKey
	for i, v := range sensor.Vector() {
		if c.resolution <= 0 {
			k.pose[i] = int64(math.Float64bits(v))
			continue
		}
		k.pose[i] = int64(math.Round(v / c.resolution))
	}

	h := fnv.New64a()
	var buf [8]byte
	for _, b := range beams {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(b))
		h.Write(buf[:])
	}
	k.beams = h.Sum64()
	return k
}
