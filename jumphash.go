package reactor

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// jumpHashMagic is Lamping & Veach's multiplier, not a project constant.
const jumpHashMagic = uint64(2862933555777941757)

// JumpHash implements Google's jump consistent hash: it maps key onto
// one of numBuckets buckets such that growing numBuckets by one only
// ever remaps ~1/numBuckets of keys, which is exactly the stability
// EventLoopThreadPool.GetLoopForHash needs when the pool size changes
// between process restarts.
func JumpHash(key uint64, numBuckets int) int {
	if numBuckets <= 0 {
		return 0
	}
	var bucket int64 = -1
	var jump int64 = 0
	for jump < int64(numBuckets) {
		bucket = jump
		key = key*jumpHashMagic + 1
		jump = int64(float64(bucket+1) * (float64(int64(1)<<31) / float64((key>>33)+1)))
	}
	return int(bucket)
}

// HashKey derives a JumpHash input from an arbitrary byte string (a
// connection's peer address, typically) using an unkeyed 8-byte
// blake2b digest rather than a weak sum.
func HashKey(b []byte) uint64 {
	h, err := blake2b.New(8, nil)
	if err != nil {
		// blake2b.New only errors on an oversized key or output size;
		// both are compile-time constants here, so this is unreachable.
		panic(err)
	}
	_, _ = h.Write(b)
	return binary.BigEndian.Uint64(h.Sum(nil))
}
