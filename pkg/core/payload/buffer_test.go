package payload

import (
	"testing"
)

type framePayload struct {
	data []byte
}

type frameMeta struct {
	width  int
	height int
}

func TestNewBufferBasics(t *testing.T) {
	buf, err := New(framePayload{data: []byte{1, 2, 3}}, 3, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if buf.Size() != 3 {
		t.Errorf("Expected size 3, got %d", buf.Size())
	}
	buf.SetSize(16)
	if buf.Size() != 16 {
		t.Errorf("Expected size 16 after SetSize, got %d", buf.Size())
	}
}

func TestKeyStringStable(t *testing.T) {
	a, err := New(framePayload{}, 0, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	b, err := New(framePayload{}, 0, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if a.KeyString() != b.KeyString() {
		t.Errorf("Key strings differ for same type: %q vs %q", a.KeyString(), b.KeyString())
	}
	if a.UID() != b.UID() {
		t.Errorf("UIDs differ for same type: %d vs %d", a.UID(), b.UID())
	}

	c, err := NewWithMeta(framePayload{}, 0, frameMeta{}, nil)
	if err != nil {
		t.Fatalf("NewWithMeta failed: %v", err)
	}
	if c.KeyString() == a.KeyString() {
		t.Error("Meta-carrying pair should have a distinct key string")
	}
	if c.UID() == a.UID() {
		t.Error("Meta-carrying pair should have a distinct UID")
	}
}

func TestRegisterKeyString(t *testing.T) {
	type customPayload struct{ v int }

	if err := RegisterKeyString[customPayload, None]("CustomPayloadKey"); err != nil {
		t.Fatalf("RegisterKeyString failed: %v", err)
	}
	// Re-registering the same name for the same pair is idempotent.
	if err := RegisterKeyString[customPayload, None]("CustomPayloadKey"); err != nil {
		t.Fatalf("idempotent re-registration failed: %v", err)
	}

	buf, err := New(customPayload{v: 1}, 0, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if buf.KeyString() != "CustomPayloadKey" {
		t.Errorf("Expected pinned key string, got %q", buf.KeyString())
	}

	type otherPayload struct{ v string }
	if err := RegisterKeyString[otherPayload, None]("CustomPayloadKey"); err == nil {
		t.Error("Claiming a key owned by another pair should fail")
	}
}

func TestNilPayloadRequiresHook(t *testing.T) {
	if _, err := New[*framePayload](nil, 0, nil); err == nil {
		t.Error("nil payload without hook should fail construction")
	}

	released := false
	buf, err := New[*framePayload](nil, 0, func(p *framePayload) { released = true })
	if err != nil {
		t.Fatalf("nil payload with hook should construct: %v", err)
	}
	_ = buf
	if released {
		t.Error("hook must not run at construction")
	}
}

func TestOpaquePayloadRequiresHook(t *testing.T) {
	if _, err := New[any]("something", 4, nil); err == nil {
		t.Error("opaque payload without hook should fail construction")
	}
	if _, err := New[any]("something", 4, func(any) {}); err != nil {
		t.Errorf("opaque payload with hook should construct: %v", err)
	}
}

func TestConvertTo(t *testing.T) {
	type rgbFrame struct{ px []byte }
	type grayFrame struct{ px []byte }
	RegisterKeyString[rgbFrame, None]("RGBFrame")
	RegisterKeyString[grayFrame, None]("GrayFrame")

	src, err := New(rgbFrame{px: []byte{9, 9, 9}}, 3, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := src.ConvertTo("GrayFrame"); err == nil {
		t.Fatal("conversion without a registered converter should fail")
	}

	RegisterConversion("RGBFrame", "GrayFrame", func(b *Buffer) (*Buffer, error) {
		v, err := ViewOf[rgbFrame, None](b)
		if err != nil {
			return nil, err
		}
		return New(grayFrame{px: v.Payload().px}, b.Size(), nil)
	})

	out, err := src.ConvertTo("GrayFrame")
	if err != nil {
		t.Fatalf("conversion failed: %v", err)
	}
	if out.KeyString() != "GrayFrame" {
		t.Errorf("Expected GrayFrame key, got %q", out.KeyString())
	}
}

func TestClone(t *testing.T) {
	type clonable struct{ v int }
	RegisterClone[clonable, None](func(p clonable, m None) (clonable, None) {
		return clonable{v: p.v + 1000}, m
	})

	hookRuns := 0
	buf, err := New(clonable{v: 1}, 4, func(clonable) { hookRuns++ })
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	cp := buf.Clone()
	v, err := ViewOf[clonable, None](cp)
	if err != nil {
		t.Fatalf("ViewOf on clone failed: %v", err)
	}
	if v.Payload().v != 1001 {
		t.Errorf("registered clone function not applied, got %d", v.Payload().v)
	}

	// The clone does not carry the hook: releasing it must not fire the
	// original's release.
	blob := NewBlob()
	blob.Push(cp)
	blob.Release()
	if hookRuns != 0 {
		t.Errorf("clone release ran the original hook %d times", hookRuns)
	}
}
