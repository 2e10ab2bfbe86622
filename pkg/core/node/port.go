package node

import (
	"time"

	"github.com/TheEntropyCollective/flowgraph/pkg/core/payload"
	"github.com/TheEntropyCollective/flowgraph/pkg/core/status"
	"github.com/TheEntropyCollective/flowgraph/pkg/logging"
)

// Policy decides what a push does when it finds a full queue.
type Policy int

const (
	// BlockIfFull makes pushes wait for queue space. This is the default.
	BlockIfFull Policy = iota
	// DiscardIfFull makes pushes drop the blob and return immediately.
	DiscardIfFull
)

// DefaultQueueSize is the per-sub-queue capacity an InPort is built with.
const DefaultQueueSize = 1024

// InPort is the receiving endpoint of an edge. It owns one bounded FIFO
// sub-queue per stream shard (a single sub-queue outside stream batching)
// and applies the port's back-pressure policy on push. Sub-queues are
// buffered channels, so the capacity bound and per-edge FIFO order hold by
// construction, and a stopped port wakes every waiter through its stop
// channel.
type InPort struct {
	parent    *Node
	prev      *OutPort
	queueSize int
	policy    Policy
	state     status.State

	// queues is allocated by setup once the owning node's batching config
	// is final. Until then the port accepts no data.
	queues []chan *payload.Blob

	stop chan struct{}
	log  *logging.Logger
}

func newInPort(parent *Node) *InPort {
	return &InPort{
		parent:    parent,
		queueSize: DefaultQueueSize,
		policy:    BlockIfFull,
		state:     status.Idle,
		stop:      make(chan struct{}),
		log:       logging.GetGlobalLogger().WithComponent("port"),
	}
}

// setup allocates the sub-queues. Called during pipeline prepare, after
// the batching config fixed the shard count.
func (p *InPort) setup(subQueueNum int) {
	if subQueueNum < 1 {
		subQueueNum = 1
	}
	p.parent.mu.Lock()
	defer p.parent.mu.Unlock()
	if len(p.queues) == subQueueNum {
		return
	}
	p.queues = make([]chan *payload.Blob, subQueueNum)
	for i := range p.queues {
		p.queues[i] = make(chan *payload.Blob, p.queueSize)
	}
}

// SetQueueSize replaces the per-sub-queue capacity. Only effective before
// prepare allocates the queues.
func (p *InPort) SetQueueSize(size int) {
	p.parent.mu.Lock()
	defer p.parent.mu.Unlock()
	if size > 0 && len(p.queues) == 0 {
		p.queueSize = size
	}
}

// SetPolicy replaces the back-pressure policy.
func (p *InPort) SetPolicy(policy Policy) {
	p.parent.mu.Lock()
	defer p.parent.mu.Unlock()
	p.policy = policy
}

// Policy returns the current back-pressure policy.
func (p *InPort) Policy() Policy {
	p.parent.mu.Lock()
	defer p.parent.mu.Unlock()
	return p.policy
}

// queueFor picks the sub-queue a blob routes to. Outside stream batching
// there is one sub-queue; under it the shard is streamID mod shard count.
func (p *InPort) queueFor(blob *payload.Blob) chan *payload.Blob {
	p.parent.mu.Lock()
	defer p.parent.mu.Unlock()
	if len(p.queues) == 0 {
		return nil
	}
	if len(p.queues) == 1 {
		return p.queues[0]
	}
	shard := blob.StreamID % len(p.queues)
	if shard < 0 {
		shard += len(p.queues)
	}
	return p.queues[shard]
}

// TryPush attempts a non-blocking enqueue. On a full sub-queue it returns
// PortFullDiscarded under the Discard policy (the blob is released) and
// Failure under Block.
func (p *InPort) TryPush(blob *payload.Blob) status.Status {
	if blob == nil {
		return status.PortNullPtr
	}
	if p.stopped() {
		return status.Failure
	}
	q := p.queueFor(blob)
	if q == nil {
		return status.Failure
	}
	select {
	case q <- blob:
		return status.Success
	default:
	}
	if p.Policy() == DiscardIfFull {
		p.log.Warningf("in port of node %q full, blob discarded (stream %d frame %d)",
			p.parent.Name(), blob.StreamID, blob.FrameID)
		blob.Release()
		return status.PortFullDiscarded
	}
	return status.Failure
}

// Push enqueues the blob, honoring the port policy. timeout zero blocks
// until space appears or the port stops; a positive timeout bounds the
// wait and expiry returns PortFullTimeout. Under the Discard policy a full
// queue returns PortFullDiscarded without waiting.
func (p *InPort) Push(blob *payload.Blob, timeout time.Duration) status.Status {
	if blob == nil {
		return status.PortNullPtr
	}
	if p.stopped() {
		return status.Failure
	}
	q := p.queueFor(blob)
	if q == nil {
		return status.Failure
	}

	// Fast path covers both policies when there is room.
	select {
	case q <- blob:
		return status.Success
	default:
	}

	if p.Policy() == DiscardIfFull {
		p.log.Warningf("in port of node %q full, blob discarded (stream %d frame %d)",
			p.parent.Name(), blob.StreamID, blob.FrameID)
		blob.Release()
		return status.PortFullDiscarded
	}

	if timeout == 0 {
		select {
		case q <- blob:
			return status.Success
		case <-p.stop:
			return status.Failure
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case q <- blob:
		return status.Success
	case <-p.stop:
		return status.Failure
	case <-timer.C:
		return status.PortFullTimeout
	}
}

// pop takes the oldest blob from the sub-queue, waiting until one arrives
// or any of the stop channels close. ok is false when the wait was broken
// by stop.
func (p *InPort) pop(subIdx int, batchStop <-chan struct{}) (*payload.Blob, bool) {
	p.parent.mu.Lock()
	if subIdx < 0 || subIdx >= len(p.queues) {
		p.parent.mu.Unlock()
		return nil, false
	}
	q := p.queues[subIdx]
	p.parent.mu.Unlock()

	select {
	case blob := <-q:
		return blob, true
	case <-p.stop:
		return nil, false
	case <-batchStop:
		return nil, false
	}
}

// tryPop takes the oldest blob without waiting.
func (p *InPort) tryPop(subIdx int) (*payload.Blob, bool) {
	p.parent.mu.Lock()
	if subIdx < 0 || subIdx >= len(p.queues) {
		p.parent.mu.Unlock()
		return nil, false
	}
	q := p.queues[subIdx]
	p.parent.mu.Unlock()

	select {
	case blob := <-q:
		return blob, true
	default:
		return nil, false
	}
}

// Clear drops every queued blob in every sub-queue, releasing each.
// Callable in any state.
func (p *InPort) Clear() {
	p.parent.mu.Lock()
	queues := p.queues
	p.parent.mu.Unlock()
	for _, q := range queues {
	drain:
		for {
			select {
			case blob := <-q:
				blob.Release()
			default:
				break drain
			}
		}
	}
}

// Occupancy returns the total number of blobs currently queued across all
// sub-queues.
func (p *InPort) Occupancy() int {
	p.parent.mu.Lock()
	defer p.parent.mu.Unlock()
	total := 0
	for _, q := range p.queues {
		total += len(q)
	}
	return total
}

// SubQueueNum returns the number of sub-queues allocated.
func (p *InPort) SubQueueNum() int {
	p.parent.mu.Lock()
	defer p.parent.mu.Unlock()
	return len(p.queues)
}

// TransitStateTo moves the port to the state and wakes all blocked pushers
// and poppers so they re-check. Entering Stop is final.
func (p *InPort) TransitStateTo(s status.State) {
	p.parent.mu.Lock()
	prev := p.state
	p.state = s
	p.parent.mu.Unlock()
	if s == status.Stop && prev != status.Stop {
		close(p.stop)
	}
}

// State returns the current port state.
func (p *InPort) State() status.State {
	p.parent.mu.Lock()
	defer p.parent.mu.Unlock()
	return p.state
}

func (p *InPort) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

func (p *InPort) setPrevPort(prev *OutPort) {
	p.parent.mu.Lock()
	defer p.parent.mu.Unlock()
	p.prev = prev
}

// HasPrevPort reports whether an upstream out port is bound.
func (p *InPort) HasPrevPort() bool {
	p.parent.mu.Lock()
	defer p.parent.mu.Unlock()
	return p.prev != nil
}

// ClearPrevPort detaches the upstream binding. The pipeline uses this when
// a re-link steals the out port.
func (p *InPort) ClearPrevPort() {
	p.setPrevPort(nil)
}

// ConvertFunc transforms a blob crossing an edge whose producer and
// consumer disagree on payload layout.
type ConvertFunc func(*payload.Blob) (*payload.Blob, error)

// OutPort is the sending endpoint of an edge. It points at one successor
// InPort (or none) and may carry a converter applied to every blob sent.
type OutPort struct {
	parent  *Node
	next    *InPort
	convert ConvertFunc
}

func newOutPort(parent *Node) *OutPort {
	return &OutPort{parent: parent}
}

// Send transfers the blob to the linked InPort, running the converter
// first when one is installed. Converter failures surface as Failure
// without touching the peer queue.
func (p *OutPort) Send(blob *payload.Blob, timeout time.Duration) status.Status {
	p.parent.mu.Lock()
	next, convert := p.next, p.convert
	p.parent.mu.Unlock()

	if next == nil {
		return status.PortNullPtr
	}
	if blob == nil {
		return status.PortNullPtr
	}
	if convert != nil {
		converted, err := convert(blob)
		if err != nil {
			logging.Errorf("edge converter on node %q failed: %v", p.parent.Name(), err)
			return status.Failure
		}
		blob = converted
	}
	return next.Push(blob, timeout)
}

// IsConvertValid reports whether a converter is installed.
func (p *OutPort) IsConvertValid() bool {
	p.parent.mu.Lock()
	defer p.parent.mu.Unlock()
	return p.convert != nil
}

// NextPort returns the linked successor InPort, or nil when unlinked.
func (p *OutPort) NextPort() *InPort {
	p.parent.mu.Lock()
	defer p.parent.mu.Unlock()
	return p.next
}

// Bind links the out port to the successor in port and installs the
// optional converter, replacing any earlier binding.
func (p *OutPort) Bind(next *InPort, convert ConvertFunc) {
	p.parent.mu.Lock()
	p.next = next
	p.convert = convert
	p.parent.mu.Unlock()
	if next != nil {
		next.setPrevPort(p)
	}
}
