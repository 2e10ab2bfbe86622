package node

import (
	"testing"
	"time"

	"github.com/TheEntropyCollective/flowgraph/pkg/core/payload"
	"github.com/TheEntropyCollective/flowgraph/pkg/core/status"
)

func newTestNode(t *testing.T, inPorts, outPorts int) *Node {
	t.Helper()
	n := New(inPorts, outPorts, 1, nil)
	n.Setup()
	return n
}

func blobWithFrame(frameID int) *payload.Blob {
	b := payload.NewBlob()
	b.FrameID = frameID
	return b
}

func TestPushPopFIFO(t *testing.T) {
	n := newTestNode(t, 1, 0)
	in, err := n.In(0)
	if err != nil {
		t.Fatalf("In failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		if st := in.Push(blobWithFrame(i), 0); st != status.Success {
			t.Fatalf("Push %d returned %s", i, st)
		}
	}
	for i := 0; i < 10; i++ {
		blob, ok := in.tryPop(0)
		if !ok {
			t.Fatalf("tryPop %d found empty queue", i)
		}
		if blob.FrameID != i {
			t.Errorf("FIFO violated: expected frame %d, got %d", i, blob.FrameID)
		}
	}
}

func TestQueueBounded(t *testing.T) {
	n := New(1, 0, 1, nil)
	in, _ := n.In(0)
	in.SetQueueSize(4)
	n.Setup()

	for i := 0; i < 4; i++ {
		if st := in.Push(blobWithFrame(i), 0); st != status.Success {
			t.Fatalf("Push %d returned %s", i, st)
		}
	}
	if in.Occupancy() != 4 {
		t.Fatalf("Expected occupancy 4, got %d", in.Occupancy())
	}

	// Full queue: a bounded wait must time out without raising occupancy.
	if st := in.Push(blobWithFrame(4), 20*time.Millisecond); st != status.PortFullTimeout {
		t.Errorf("Expected PortFullTimeout, got %s", st)
	}
	if in.Occupancy() != 4 {
		t.Errorf("Occupancy exceeded capacity: %d", in.Occupancy())
	}

	// A blocked push proceeds once space appears.
	done := make(chan status.Status, 1)
	go func() {
		done <- in.Push(blobWithFrame(5), 0)
	}()
	time.Sleep(10 * time.Millisecond)
	if _, ok := in.tryPop(0); !ok {
		t.Fatal("tryPop on full queue failed")
	}
	select {
	case st := <-done:
		if st != status.Success {
			t.Errorf("Unblocked push returned %s", st)
		}
	case <-time.After(time.Second):
		t.Fatal("push did not unblock after space appeared")
	}
}

func TestTryPush(t *testing.T) {
	n := New(1, 0, 1, nil)
	in, _ := n.In(0)
	in.SetQueueSize(1)
	n.Setup()

	if st := in.TryPush(blobWithFrame(0)); st != status.Success {
		t.Fatalf("TryPush returned %s", st)
	}
	if st := in.TryPush(blobWithFrame(1)); st != status.Failure {
		t.Errorf("TryPush on full Block queue should return Failure, got %s", st)
	}

	in.SetPolicy(DiscardIfFull)
	if st := in.TryPush(blobWithFrame(2)); st != status.PortFullDiscarded {
		t.Errorf("TryPush on full Discard queue should return PortFullDiscarded, got %s", st)
	}
}

func TestDiscardPolicyReleasesBlob(t *testing.T) {
	n := New(1, 0, 1, nil)
	in, _ := n.In(0)
	in.SetQueueSize(1)
	in.SetPolicy(DiscardIfFull)
	n.Setup()

	if st := in.Push(blobWithFrame(0), 0); st != status.Success {
		t.Fatalf("first push returned %s", st)
	}

	released := false
	blob := payload.NewBlob()
	if _, err := payload.Emplace(blob, 7, 4, func(int) { released = true }); err != nil {
		t.Fatalf("Emplace failed: %v", err)
	}
	if st := in.Push(blob, 0); st != status.PortFullDiscarded {
		t.Fatalf("Expected PortFullDiscarded, got %s", st)
	}
	if !released {
		t.Error("discarded blob was not released")
	}
}

func TestPushNil(t *testing.T) {
	n := newTestNode(t, 1, 0)
	in, _ := n.In(0)
	if st := in.Push(nil, 0); st != status.PortNullPtr {
		t.Errorf("Expected PortNullPtr, got %s", st)
	}
}

func TestClearReleasesQueued(t *testing.T) {
	n := newTestNode(t, 1, 0)
	in, _ := n.In(0)

	released := 0
	for i := 0; i < 5; i++ {
		blob := payload.NewBlob()
		if _, err := payload.Emplace(blob, i, 4, func(int) { released++ }); err != nil {
			t.Fatalf("Emplace failed: %v", err)
		}
		in.Push(blob, 0)
	}

	in.Clear()
	if in.Occupancy() != 0 {
		t.Errorf("Expected empty port after Clear, occupancy %d", in.Occupancy())
	}
	if released != 5 {
		t.Errorf("Expected 5 release hooks after Clear, got %d", released)
	}
}

func TestStopWakesBlockedPush(t *testing.T) {
	n := New(1, 0, 1, nil)
	in, _ := n.In(0)
	in.SetQueueSize(1)
	n.Setup()
	in.Push(blobWithFrame(0), 0)

	done := make(chan status.Status, 1)
	go func() {
		done <- in.Push(blobWithFrame(1), 0)
	}()
	time.Sleep(10 * time.Millisecond)
	in.TransitStateTo(status.Stop)

	select {
	case st := <-done:
		if st != status.Failure {
			t.Errorf("Push observing stop should return Failure, got %s", st)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked push not woken by stop")
	}

	// Pushes after stop fail immediately.
	if st := in.Push(blobWithFrame(2), 0); st != status.Failure {
		t.Errorf("Push on stopped port should return Failure, got %s", st)
	}
}

func TestOutPortSendUnlinked(t *testing.T) {
	n := newTestNode(t, 0, 1)
	out, _ := n.Out(0)
	if st := out.Send(payload.NewBlob(), 0); st != status.PortNullPtr {
		t.Errorf("Send on unlinked port should return PortNullPtr, got %s", st)
	}
}

func TestOutPortConverter(t *testing.T) {
	producer := newTestNode(t, 0, 1)
	consumer := newTestNode(t, 1, 0)
	out, _ := producer.Out(0)
	in, _ := consumer.In(0)

	out.Bind(in, func(b *payload.Blob) (*payload.Blob, error) {
		converted := payload.NewBlob()
		converted.FrameID = b.FrameID + 1000
		return converted, nil
	})
	if !out.IsConvertValid() {
		t.Fatal("IsConvertValid should be true")
	}

	if st := out.Send(blobWithFrame(1), 0); st != status.Success {
		t.Fatalf("Send returned %s", st)
	}
	got, ok := in.tryPop(0)
	if !ok {
		t.Fatal("converted blob not queued")
	}
	if got.FrameID != 1001 {
		t.Errorf("converter not applied: frame %d", got.FrameID)
	}
}
