// Package node implements the topological unit of a Flowgraph pipeline and
// the ports, batching algorithms and workers attached to it. A Node stores
// what is shared across its workers: port arrays, the batching
// configuration and book-keeping, the looping cadence and the event
// callbacks. The workers a Node spawns through its WorkerFactory do the
// actual processing, scheduled by executors.
package node

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheEntropyCollective/flowgraph/pkg/core/event"
	"github.com/TheEntropyCollective/flowgraph/pkg/core/payload"
	"github.com/TheEntropyCollective/flowgraph/pkg/core/status"
	"github.com/TheEntropyCollective/flowgraph/pkg/logging"
)

// CallbackEntry pairs an event with a handler registered on a node before
// prepare. The pipeline folds these into its event manager in registration
// order.
type CallbackEntry struct {
	Event   event.Event
	Handler event.HandlerFunc
}

// Node is one vertex of the pipeline graph. It owns its in and out ports
// exclusively and is shared, read-mostly, between the workers it spawns.
// Construction fixes the port counts and the worker pool size; batching
// and cadence are configurable until prepare.
type Node struct {
	mu   sync.Mutex
	name string

	inPorts  []*InPort
	outPorts []*OutPort

	inPortNum      int
	outPortNum     int
	totalThreadNum int

	batchingConfig  *BatchingConfig
	loopingInterval time.Duration
	prepared        atomic.Bool

	batchStopMu sync.Mutex
	batchStop   chan struct{}
	batchOff    bool

	streamMu    sync.Mutex
	lastFrameID map[int]int

	evMng     *event.Manager
	callbacks []CallbackEntry

	state   status.State
	factory WorkerFactory
	log     *logging.Logger
}

// New constructs a node with the given port counts and worker pool size.
// Ports may be left unconnected. factory is the single extension point:
// every physical worker of this node is the result of one CreateWorker
// call.
func New(inPortNum, outPortNum, totalThreadNum int, factory WorkerFactory) *Node {
	n := &Node{
		inPortNum:       inPortNum,
		outPortNum:      outPortNum,
		totalThreadNum:  totalThreadNum,
		batchingConfig:  NewBatchingConfig().normalized(),
		batchStop:       make(chan struct{}),
		lastFrameID:     make(map[int]int),
		state:           status.Idle,
		factory:         factory,
		log:             logging.GetGlobalLogger().WithComponent("node"),
	}
	n.inPorts = make([]*InPort, inPortNum)
	for i := range n.inPorts {
		n.inPorts[i] = newInPort(n)
	}
	n.outPorts = make([]*OutPort, outPortNum)
	for i := range n.outPorts {
		n.outPorts[i] = newOutPort(n)
	}
	return n
}

// Name returns the pipeline-assigned node name, empty before registration.
func (n *Node) Name() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.name
}

// SetName records the node's pipeline name.
func (n *Node) SetName(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.name = name
}

// InPortNum returns the number of in ports.
func (n *Node) InPortNum() int { return n.inPortNum }

// OutPortNum returns the number of out ports.
func (n *Node) OutPortNum() int { return n.outPortNum }

// TotalThreadNum returns the worker pool size fixed at construction.
func (n *Node) TotalThreadNum() int { return n.totalThreadNum }

// In returns the i-th in port.
func (n *Node) In(i int) (*InPort, error) {
	if i < 0 || i >= len(n.inPorts) {
		return nil, fmt.Errorf("node %q: in port index %d out of range [0,%d)", n.Name(), i, len(n.inPorts))
	}
	return n.inPorts[i], nil
}

// Out returns the i-th out port.
func (n *Node) Out(i int) (*OutPort, error) {
	if i < 0 || i >= len(n.outPorts) {
		return nil, fmt.Errorf("node %q: out port index %d out of range [0,%d)", n.Name(), i, len(n.outPorts))
	}
	return n.outPorts[i], nil
}

// ConfigBatch replaces the batching configuration. Only valid before the
// pipeline prepares; afterwards the shard layout is frozen.
func (n *Node) ConfigBatch(cfg *BatchingConfig) error {
	if n.prepared.Load() {
		return fmt.Errorf("node %q: batching config cannot change after prepare", n.Name())
	}
	if cfg == nil {
		return fmt.Errorf("node %q: nil batching config", n.Name())
	}
	n.mu.Lock()
	n.batchingConfig = cfg.normalized()
	n.mu.Unlock()
	return nil
}

// BatchingConfig returns the active batching configuration.
func (n *Node) BatchingConfig() *BatchingConfig {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.batchingConfig
}

// ConfigLoopingInterval sets the minimum spacing between successive
// Process invocations of this node's workers. Zero re-enters as soon as
// the prior call returns.
func (n *Node) ConfigLoopingInterval(interval time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if interval < 0 {
		interval = 0
	}
	n.loopingInterval = interval
}

// LoopingInterval returns the configured process spacing.
func (n *Node) LoopingInterval() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.loopingInterval
}

// Setup freezes the batching layout and allocates port sub-queues. The
// pipeline calls this during prepare; calling it twice is harmless.
func (n *Node) Setup() {
	cfg := n.BatchingConfig()
	for _, p := range n.inPorts {
		p.setup(cfg.subQueueNum())
	}
	n.prepared.Store(true)
}

// GetBatchedInput runs the node's batching algorithm against the requested
// in ports and returns the gathered blobs, empty when batching is stopped.
// When stop breaks a wait, the blobs gathered before it are returned.
func (n *Node) GetBatchedInput(batchIdx int, portIndices []int) []*payload.Blob {
	if n.batchingStopped() {
		return nil
	}
	cfg := n.BatchingConfig()
	return cfg.Algo(batchIdx, portIndices, n)
}

// SendOutput forwards the blob to the out port at portID. timeout zero
// blocks until the downstream queue accepts it or the pipeline stops.
func (n *Node) SendOutput(blob *payload.Blob, portID int, timeout time.Duration) status.Status {
	port, err := n.Out(portID)
	if err != nil {
		return status.PortNullPtr
	}
	return port.Send(blob, timeout)
}

// StopBatching makes every following GetBatchedInput return empty
// immediately and wakes all batching waiters.
func (n *Node) StopBatching() {
	n.batchStopMu.Lock()
	defer n.batchStopMu.Unlock()
	if !n.batchOff {
		n.batchOff = true
		close(n.batchStop)
	}
}

// TurnOnBatching re-arms batching after StopBatching.
func (n *Node) TurnOnBatching() {
	n.batchStopMu.Lock()
	defer n.batchStopMu.Unlock()
	if n.batchOff {
		n.batchOff = false
		n.batchStop = make(chan struct{})
	}
}

func (n *Node) batchingStopped() bool {
	n.batchStopMu.Lock()
	defer n.batchStopMu.Unlock()
	return n.batchOff
}

func (n *Node) batchStopChan() <-chan struct{} {
	n.batchStopMu.Lock()
	defer n.batchStopMu.Unlock()
	return n.batchStop
}

// ClearAllPorts drops every queued blob on every in port.
func (n *Node) ClearAllPorts() {
	for _, p := range n.inPorts {
		p.Clear()
	}
}

// RegisterCallback attaches a handler to an event. Before prepare the pair
// is recorded and folded into the pipeline's event manager; afterwards it
// registers directly and the event must exist.
func (n *Node) RegisterCallback(e event.Event, cb event.HandlerFunc) status.Status {
	if cb == nil {
		return status.Failure
	}
	n.mu.Lock()
	mng := n.evMng
	n.mu.Unlock()
	if mng != nil {
		return mng.RegisterCallback(e, cb)
	}
	n.mu.Lock()
	n.callbacks = append(n.callbacks, CallbackEntry{Event: e, Handler: cb})
	n.mu.Unlock()
	return status.Success
}

// EmitEvent raises an event through the pipeline's event manager,
// triggering every registered callback on the calling goroutine.
func (n *Node) EmitEvent(e event.Event, data any) status.Status {
	n.mu.Lock()
	mng := n.evMng
	n.mu.Unlock()
	if mng == nil {
		return status.EventNotFound
	}
	return mng.EmitEvent(e, data)
}

// SetEventManager wires the pipeline's event manager into the node.
func (n *Node) SetEventManager(mng *event.Manager) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evMng = mng
}

// Callbacks returns the handlers registered before the event manager was
// assigned, in registration order.
func (n *Node) Callbacks() []CallbackEntry {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]CallbackEntry, len(n.callbacks))
	copy(out, n.callbacks)
	return out
}

// TransitStateTo moves the node and all its in ports to the state, waking
// any waiter parked on them.
func (n *Node) TransitStateTo(s status.State) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
	for _, p := range n.inPorts {
		p.TransitStateTo(s)
	}
}

// State returns the node's lifecycle state.
func (n *Node) State() status.State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// CreateWorker invokes the node's factory once.
func (n *Node) CreateWorker() (Worker, error) {
	if n.factory == nil {
		return nil, fmt.Errorf("node %q: no worker factory", n.Name())
	}
	w := n.factory.CreateWorker(n)
	if w == nil {
		return nil, fmt.Errorf("node %q: worker factory returned nil", n.Name())
	}
	return w, nil
}
