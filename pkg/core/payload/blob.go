package payload

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Blob is the bundle transmitted between nodes. It owns an ordered sequence
// of shared Buffers, addressed by position, and the routing fields the
// scheduler steers by. A Blob may hold zero, one or many Buffers of
// unrelated types.
//
// Call flow:
//   - Created by: a producer worker (NewBlob, then Emplace or Push)
//   - Transferred by: OutPort.Send into the linked InPort queue
//   - Consumed by: a downstream worker through Get, then Release
type Blob struct {
	// StreamID routes the blob to a shard under stream batching.
	StreamID int
	// FrameID orders blobs within one stream.
	FrameID int
	// Timestamp is the producer-assigned time in milliseconds.
	Timestamp int64
	// TypeID is a free-form application type discriminator.
	TypeID int
	// Ctx is free-form application context.
	Ctx int

	mu       sync.Mutex
	bufs     []*Buffer
	released atomic.Bool
}

// NewBlob creates an empty Blob.
func NewBlob() *Blob {
	return &Blob{}
}

// Push appends a pre-built Buffer, taking a shared reference to it.
func (b *Blob) Push(buf *Buffer) error {
	if buf == nil {
		return errors.New("payload: cannot push nil buffer")
	}
	buf.retain()
	b.mu.Lock()
	b.bufs = append(b.bufs, buf)
	b.mu.Unlock()
	return nil
}

// Len returns the number of Buffers in the blob.
func (b *Blob) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bufs)
}

// At returns the i-th Buffer without a type check. Most callers want Get.
func (b *Blob) At(i int) (*Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= len(b.bufs) {
		return nil, fmt.Errorf("payload: buffer index %d out of range [0,%d)", i, len(b.bufs))
	}
	return b.bufs[i], nil
}

// Release drops the blob's references to all contained Buffers. Hooks fire
// on Buffers this blob was the last owner of. Release is idempotent; the
// framework calls it for blobs it discards, and final consumers call it
// when done.
func (b *Blob) Release() {
	if !b.released.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	bufs := b.bufs
	b.bufs = nil
	b.mu.Unlock()
	for _, buf := range bufs {
		buf.drop()
	}
}

// Emplace constructs a metadata-free Buffer inside the blob and returns a
// shared handle to it. See New for the release-hook rules.
func Emplace[T any](b *Blob, payloadVal T, size int, release func(T)) (*Buffer, error) {
	buf, err := New(payloadVal, size, release)
	if err != nil {
		return nil, err
	}
	if err := b.Push(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// EmplaceWithMeta constructs a Buffer with metadata inside the blob and
// returns a shared handle to it. See NewWithMeta for the release-hook
// rules.
func EmplaceWithMeta[T, M any](b *Blob, payloadVal T, size int, meta M, release func(T, M)) (*Buffer, error) {
	buf, err := NewWithMeta(payloadVal, size, meta, release)
	if err != nil {
		return nil, err
	}
	if err := b.Push(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Get returns a typed view of the i-th Buffer for a metadata-free pair.
// A stored pair that does not match (T, None) fails without disturbing the
// slot; a later Get with the right pair succeeds.
func Get[T any](b *Blob, i int) (View[T, None], error) {
	return GetWithMeta[T, None](b, i)
}

// GetWithMeta returns a typed view of the i-th Buffer for the declared
// (T, M) pair, failing on tag mismatch.
func GetWithMeta[T, M any](b *Blob, i int) (View[T, M], error) {
	buf, err := b.At(i)
	if err != nil {
		return View[T, M]{}, err
	}
	return ViewOf[T, M](buf)
}
