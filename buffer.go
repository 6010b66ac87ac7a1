package reactor

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	initialPrependSize = 8
	initialBufferSize  = 1024
)

// Buffer is a growable byte ring: a contiguous store split into
// [prependable | readable | writable] regions.
type Buffer struct {
	buf        []byte
	readIndex  int
	writeIndex int
}

// NewBuffer returns a Buffer with the default 8-byte prependable
// region and 1024-byte writable region.
func NewBuffer() *Buffer {
	return &Buffer{
		buf:        make([]byte, initialPrependSize+initialBufferSize),
		readIndex:  initialPrependSize,
		writeIndex: initialPrependSize,
	}
}

func (b *Buffer) ReadableBytes() int    { return b.writeIndex - b.readIndex }
func (b *Buffer) WritableBytes() int    { return len(b.buf) - b.writeIndex }
func (b *Buffer) PrependableBytes() int { return b.readIndex }

// Peek returns a slice over the readable region without consuming it.
// The slice aliases the Buffer's storage and is invalidated by any
// subsequent mutator.
func (b *Buffer) Peek() []byte {
	return b.buf[b.readIndex:b.writeIndex]
}

// Retrieve advances the read index by n bytes.
func (b *Buffer) Retrieve(n int) {
	if n > b.ReadableBytes() {
		n = b.ReadableBytes()
	}
	if n < b.ReadableBytes() {
		b.readIndex += n
		return
	}
	b.RetrieveAll()
}

// RetrieveAll resets both indices to the initial prepend offset.
func (b *Buffer) RetrieveAll() {
	b.readIndex = initialPrependSize
	b.writeIndex = initialPrependSize
}

// RetrieveAllAsString drains the entire readable region into a string.
func (b *Buffer) RetrieveAllAsString() string {
	return b.RetrieveAsString(b.ReadableBytes())
}

func (b *Buffer) RetrieveAsString(n int) string {
	s := string(b.buf[b.readIndex : b.readIndex+n])
	b.Retrieve(n)
	return s
}

// Append copies p onto the writable region, growing the buffer first
// via makeSpace if necessary.
func (b *Buffer) Append(p []byte) {
	b.makeSpace(len(p))
	copy(b.buf[b.writeIndex:], p)
	b.writeIndex += len(p)
}

func (b *Buffer) AppendString(s string) { b.Append([]byte(s)) }

// Prepend writes p immediately before the readable region. It requires
// (and consumes) exactly len(p) prependable bytes.
func (b *Buffer) Prepend(p []byte) error {
	if len(p) > b.PrependableBytes() {
		return errors.New("goreactor: not enough prependable space")
	}
	b.readIndex -= len(p)
	copy(b.buf[b.readIndex:], p)
	return nil
}

// makeSpace guarantees at least n writable bytes: shift readable bytes
// to the front if the combined prependable+writable space is enough;
// otherwise grow the underlying slice.
func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+b.PrependableBytes() < n+initialPrependSize {
		newBuf := make([]byte, b.writeIndex+n)
		copy(newBuf, b.buf[:b.writeIndex])
		b.buf = newBuf
		return
	}
	readable := b.ReadableBytes()
	copy(b.buf[initialPrependSize:], b.buf[b.readIndex:b.writeIndex])
	b.readIndex = initialPrependSize
	b.writeIndex = b.readIndex + readable
}

// scatterReadExtraSize is an on-stack extra iovec so that a read
// larger than the current writable region still completes in a
// single readv(2) call.
const scatterReadExtraSize = 65536

// ReadFd performs a scatter read into the buffer's writable tail plus a
// 64 KiB extra buffer, appending any bytes that landed in the extra
// buffer. It returns the number of bytes read and the error recorded
// when n < 0.
func (b *Buffer) ReadFd(fd int) (int, error) {
	var extra [scatterReadExtraSize]byte
	writable := b.WritableBytes()

	iovs := make([][]byte, 0, 2)
	iovs = append(iovs, b.buf[b.writeIndex:])
	if writable < scatterReadExtraSize {
		iovs = append(iovs, extra[:])
	}

	n, err := readv(fd, iovs)
	if err != nil {
		return -1, err
	}
	if n <= writable {
		b.writeIndex += n
	} else {
		b.writeIndex += writable
		b.Append(extra[:n-writable])
	}
	return n, nil
}

// readv wraps the readv(2) syscall over up to two buffers.
func readv(fd int, iovs [][]byte) (int, error) {
	raw := make([]unix.Iovec, 0, len(iovs))
	for i := range iovs {
		if len(iovs[i]) == 0 {
			continue
		}
		iov := unix.Iovec{Base: &iovs[i][0]}
		iov.SetLen(len(iovs[i]))
		raw = append(raw, iov)
	}
	if len(raw) == 0 {
		return 0, nil
	}
	n, _, errno := unix.Syscall(unix.SYS_READV, uintptr(fd), uintptr(unsafe.Pointer(&raw[0])), uintptr(len(raw)))
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}
