// Package payload provides the typed payload containers transmitted across
// Flowgraph pipeline edges. A Buffer is the elementary cell holding one
// payload value and optional metadata together with a release hook that
// runs exactly once when the last owner lets go. A Blob is the unit a node
// actually sends: an ordered bundle of shared Buffers plus the routing
// fields (stream id, frame id, timestamp) the scheduler steers by.
//
// Type identity is carried as an interned tag per (payload, metadata) type
// pair; retrieving a Buffer with a declared pair is a tag check followed by
// a typed view, so a mismatch fails cleanly without disturbing the slot.
package payload

import (
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
)

// Buffer holds one payload value, optional metadata and a release hook.
//
// A Buffer is shared by reference between the Blobs that contain it; the
// hook fires exactly once, when the final owning Blob releases it. Buffers
// whose payload or metadata slot is opaque (interface-typed) must install a
// hook at construction, because the framework cannot reason about what the
// value owns.
//
// Call flow:
//   - Created by: New, NewWithMeta, Emplace, EmplaceWithMeta
//   - Shared by: Blob.Push, Blob ownership transfer across ports
//   - Released by: the last Blob.Release dropping its reference
type Buffer struct {
	tag     *Tag
	payload any

	mu      sync.Mutex
	meta    any
	hasMeta bool
	size    int

	release  func(payload, meta any)
	refs     atomic.Int64
	released atomic.Bool
}

// None is the metadata type of Buffers that carry no metadata.
type None struct{}

var errNilPayload = errors.New("payload: opaque or nil payload requires a release hook")

// New constructs a Buffer without metadata. size is a declared indicator
// only; the framework never allocates or frees through it. release may be
// nil for concrete payload types; it is mandatory when T is interface-typed
// or the payload value is nil.
func New[T any](payloadVal T, size int, release func(T)) (*Buffer, error) {
	var erased func(p, m any)
	if release != nil {
		erased = func(p, _ any) { release(p.(T)) }
	}
	return newBuffer(TagFor[T, None](), payloadVal, nil, false, size, erased,
		isOpaque(typeOf[T]()) || isNilValue(payloadVal))
}

// NewWithMeta constructs a Buffer carrying metadata. release, when
// installed, receives both the payload and the metadata and must dispose of
// both; it is mandatory when either type is interface-typed.
func NewWithMeta[T, M any](payloadVal T, size int, meta M, release func(T, M)) (*Buffer, error) {
	var erased func(p, m any)
	if release != nil {
		erased = func(p, m any) { release(p.(T), m.(M)) }
	}
	hookRequired := isOpaque(typeOf[T]()) || isOpaque(typeOf[M]()) || isNilValue(payloadVal)
	return newBuffer(TagFor[T, M](), payloadVal, meta, true, size, erased, hookRequired)
}

func newBuffer(tag *Tag, payloadVal, meta any, hasMeta bool, size int, release func(p, m any), hookRequired bool) (*Buffer, error) {
	if hookRequired && release == nil {
		return nil, errNilPayload
	}
	return &Buffer{
		tag:     tag,
		payload: payloadVal,
		meta:    meta,
		hasMeta: hasMeta,
		size:    size,
		release: release,
	}, nil
}

func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// KeyString returns the stable name of this Buffer's (payload, metadata)
// type pair.
func (b *Buffer) KeyString() string {
	return b.tag.KeyString()
}

// UID returns the stable integer assigned to this Buffer's type pair.
func (b *Buffer) UID() int {
	return b.tag.UID()
}

// Size returns the declared size indicator.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// SetSize replaces the declared size indicator.
func (b *Buffer) SetSize(size int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.size = size
}

// ConvertTo converts the Buffer to the target key string through a
// converter previously installed with RegisterConversion. Without one the
// call fails.
func (b *Buffer) ConvertTo(targetKey string) (*Buffer, error) {
	fn, ok := conversionFor(b.KeyString(), targetKey)
	if !ok {
		return nil, errors.New("payload: no conversion registered from " + b.KeyString() + " to " + targetKey)
	}
	return fn(b)
}

// retain adds one owning reference. Driven by Blob insertion.
func (b *Buffer) retain() {
	b.refs.Add(1)
}

// drop removes one owning reference and fires the release hook when the
// count reaches zero. The released guard keeps the hook to a single
// invocation even under racing final drops.
func (b *Buffer) drop() {
	if b.refs.Add(-1) > 0 {
		return
	}
	if b.release == nil {
		return
	}
	if b.released.CompareAndSwap(false, true) {
		b.mu.Lock()
		meta := b.meta
		b.mu.Unlock()
		b.release(b.payload, meta)
	}
}

// Clone produces an independent copy of the Buffer. When a clone function
// was registered for the type pair it supplies the copied values; otherwise
// the payload and metadata are shared as-is. The release hook is never
// carried onto the clone, so the original stays the sole owner of whatever
// the hook disposes of.
func (b *Buffer) Clone() *Buffer {
	b.mu.Lock()
	meta, hasMeta, size := b.meta, b.hasMeta, b.size
	b.mu.Unlock()

	payloadVal := b.payload
	if fn, ok := cloneFor(b.tag); ok {
		payloadVal, meta = fn(payloadVal, meta)
	}
	return &Buffer{
		tag:     b.tag,
		payload: payloadVal,
		meta:    meta,
		hasMeta: hasMeta,
		size:    size,
	}
}

// View is a typed window onto a Buffer whose tag matched the declared
// (T, M) pair. It is the only way to reach the payload with its static
// type restored.
type View[T, M any] struct {
	buf *Buffer
}

// Payload returns the payload value with its concrete type.
func (v View[T, M]) Payload() T {
	return v.buf.payload.(T)
}

// Meta returns the metadata value; ok is false when none was ever set.
func (v View[T, M]) Meta() (M, bool) {
	v.buf.mu.Lock()
	defer v.buf.mu.Unlock()
	if !v.buf.hasMeta || v.buf.meta == nil {
		var zero M
		return zero, false
	}
	return v.buf.meta.(M), true
}

// SetMeta replaces the metadata value. The stored release hook is not run
// for the value replaced; the installer keeps ownership of replaced
// metadata, matching the hook-owns-final-state rule.
func (v View[T, M]) SetMeta(meta M) {
	v.buf.mu.Lock()
	defer v.buf.mu.Unlock()
	v.buf.meta = meta
	v.buf.hasMeta = true
}

// Size returns the declared size indicator.
func (v View[T, M]) Size() int {
	return v.buf.Size()
}

// SetSize replaces the declared size indicator.
func (v View[T, M]) SetSize(size int) {
	v.buf.SetSize(size)
}

// KeyString returns the Buffer's key string.
func (v View[T, M]) KeyString() string {
	return v.buf.KeyString()
}

// UID returns the Buffer's type UID.
func (v View[T, M]) UID() int {
	return v.buf.UID()
}

// Buffer returns the underlying shared Buffer.
func (v View[T, M]) Buffer() *Buffer {
	return v.buf
}

// ViewOf checks the Buffer's tag against the declared (T, M) pair and
// returns the typed view on match.
func ViewOf[T, M any](b *Buffer) (View[T, M], error) {
	if b == nil {
		return View[T, M]{}, errors.New("payload: nil buffer")
	}
	if b.tag != TagFor[T, M]() {
		return View[T, M]{}, errors.New("payload: type mismatch: buffer holds " + b.tag.KeyString())
	}
	return View[T, M]{buf: b}, nil
}
