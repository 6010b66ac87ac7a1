package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferInitialState(t *testing.T) {
	b := NewBuffer()
	assert.Equal(t, 0, b.ReadableBytes())
	assert.Equal(t, initialBufferSize, b.WritableBytes())
	assert.Equal(t, initialPrependSize, b.PrependableBytes())
}

func TestBufferAppendRetrieve(t *testing.T) {
	b := NewBuffer()
	b.AppendString("hello world")
	assert.Equal(t, 11, b.ReadableBytes())
	assert.Equal(t, "hello world", string(b.Peek()))

	b.Retrieve(6)
	assert.Equal(t, "world", string(b.Peek()))
	assert.Equal(t, initialPrependSize+6, b.PrependableBytes())

	s := b.RetrieveAllAsString()
	assert.Equal(t, "world", s)
	assert.Equal(t, 0, b.ReadableBytes())
}

func TestBufferRetrieveAllOnExactDrain(t *testing.T) {
	b := NewBuffer()
	b.AppendString("abc")
	b.Retrieve(3)
	assert.Equal(t, initialPrependSize, b.PrependableBytes())
	assert.Equal(t, initialPrependSize, b.readIndex)
}

func TestBufferPrepend(t *testing.T) {
	b := NewBuffer()
	b.AppendString("payload")
	require.NoError(t, b.Prepend([]byte{0, 0, 0, 7}))
	assert.Equal(t, initialPrependSize-4, b.PrependableBytes())
	assert.Equal(t, []byte{0, 0, 0, 7}, b.Peek()[:4])
}

func TestBufferPrependTooLarge(t *testing.T) {
	b := NewBuffer()
	err := b.Prepend(make([]byte, initialPrependSize+1))
	assert.Error(t, err)
}

func TestBufferGrowsWhenOutOfSpace(t *testing.T) {
	b := NewBuffer()
	big := make([]byte, initialBufferSize*3)
	for i := range big {
		big[i] = byte(i)
	}
	b.Append(big)
	assert.Equal(t, len(big), b.ReadableBytes())
	assert.Equal(t, big, b.Peek())
}

func TestBufferMakeSpaceShiftsInsteadOfGrowing(t *testing.T) {
	b := NewBuffer()
	b.AppendString("0123456789")
	b.Retrieve(10)
	// Retrieve(10) drained the whole readable region, which resets
	// readIndex and writeIndex to initialPrependSize; appending should
	// then reuse the existing storage rather than reallocate, since
	// prependable+writable is already far larger than needed.
	before := len(b.buf)
	b.AppendString("x")
	assert.Equal(t, before, len(b.buf))
	assert.Equal(t, "x", string(b.Peek()))
}

func TestBufferReadFd(t *testing.T) {
	r, w, err := pipeFds(t)
	require.NoError(t, err)
	defer closeFd(r)
	defer closeFd(w)

	payload := []byte("the quick brown fox jumps over the lazy dog")
	n, err := writeAll(w, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	b := NewBuffer()
	read, err := b.ReadFd(r)
	require.NoError(t, err)
	assert.Equal(t, len(payload), read)
	assert.Equal(t, string(payload), string(b.Peek()))
}

func TestBufferReadFdLargerThanWritable(t *testing.T) {
	r, w, err := pipeFds(t)
	require.NoError(t, err)
	defer closeFd(r)
	defer closeFd(w)

	payload := make([]byte, initialBufferSize+4096)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	go writeAll(w, payload)

	b := NewBuffer()
	total := 0
	for total < len(payload) {
		n, err := b.ReadFd(r)
		require.NoError(t, err)
		total += n
	}
	assert.Equal(t, payload, b.Peek())
}
