package reactor

import (
	"math"
	"math/rand"
	"testing"
)

func BenchmarkJumpHash(b *testing.B) {
	const buckets = 20
	key := rand.Int63n(math.MaxInt64)
	hash := JumpHash(uint64(key), buckets)
	if hash < 0 || hash >= buckets {
		b.Fatalf("Hash: %d", hash)
	}
}

func TestJumpHashRange(t *testing.T) {
	const buckets = 20
	for i := 0; i < 100000; i++ {
		key := rand.Int63n(math.MaxInt64)
		hash := JumpHash(uint64(key), buckets)
		if hash < 0 || hash >= buckets {
			t.Fatalf("Hash: %d", hash)
		}
	}
}

func TestJumpHashDistribution(t *testing.T) {
	const buckets = 10
	var counts [buckets]int
	const iterations = 1000000
	for i := 0; i < iterations; i++ {
		key := rand.Int63n(math.MaxInt64)
		hash := JumpHash(uint64(key), buckets)
		if hash < 0 || hash >= buckets {
			t.Fatalf("Hash: %d", hash)
		}
		counts[hash]++
	}
	for i, c := range counts {
		t.Logf("%d: %d", i, c)
	}
}

func TestJumpHashZeroKeyIsBucketZero(t *testing.T) {
	// key 0 always lands on bucket 0 regardless of numBuckets: the loop
	// body's first key*jumpHashMagic+1 step is the only one that matters
	// when key starts at 0, and it always picks jump=bucket=0 first.
	if got := JumpHash(0, 1); got != 0 {
		t.Fatalf("JumpHash(0, 1) = %d, want 0", got)
	}
}

func TestJumpHashSingleBucket(t *testing.T) {
	for i := 0; i < 1000; i++ {
		key := rand.Uint64()
		if got := JumpHash(key, 1); got != 0 {
			t.Fatalf("JumpHash(%d, 1) = %d, want 0", key, got)
		}
	}
}

func TestJumpHashZeroBucketsReturnsZero(t *testing.T) {
	if got := JumpHash(42, 0); got != 0 {
		t.Fatalf("JumpHash(42, 0) = %d, want 0", got)
	}
}

// TestJumpHashStableUnderGrowth exercises the property GetLoopForHash
// actually relies on: growing the bucket count by one should only remap
// a small fraction of keys, not scramble the whole assignment.
func TestJumpHashStableUnderGrowth(t *testing.T) {
	const before = 8
	const after = 9
	const sampleSize = 20000

	remapped := 0
	for i := 0; i < sampleSize; i++ {
		key := rand.Uint64()
		if JumpHash(key, before) != JumpHash(key, after) {
			remapped++
		}
	}

	// Expected remap rate is ~1/after; allow generous slack since this
	// is a statistical property, not an exact bound.
	maxExpected := sampleSize/after + sampleSize/4
	if remapped > maxExpected {
		t.Fatalf("remapped %d/%d keys growing %d->%d buckets, want <= %d", remapped, sampleSize, before, after, maxExpected)
	}
}

func TestHashKeyDeterministic(t *testing.T) {
	a := HashKey([]byte("127.0.0.1:9000"))
	b := HashKey([]byte("127.0.0.1:9000"))
	if a != b {
		t.Fatalf("HashKey not deterministic: %d != %d", a, b)
	}
}

func TestHashKeyDiffersAcrossInputs(t *testing.T) {
	a := HashKey([]byte("127.0.0.1:9000"))
	b := HashKey([]byte("127.0.0.1:9001"))
	if a == b {
		t.Fatalf("HashKey collided for distinct inputs: %d", a)
	}
}
