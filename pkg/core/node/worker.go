package node

import (
	"sync/atomic"
	"time"

	"github.com/TheEntropyCollective/flowgraph/pkg/core/payload"
	"github.com/TheEntropyCollective/flowgraph/pkg/core/status"
)

// Worker is the runtime actor of a node. Every worker is created by one
// WorkerFactory call and driven exclusively by its executor: the observed
// call sequence is Init, FirstRun, Process repeated, LastRun, Deinit.
// Workers never call their own lifecycle methods.
type Worker interface {
	// Init runs once per worker, on the executor goroutine, before any
	// Process.
	Init() error
	// FirstRun runs exactly once, just before the first Process.
	FirstRun(batchIdx int) error
	// Process is the workload, invoked repeatedly and spaced by the
	// node's looping interval until stop. Errors are logged and counted
	// by the executor; the worker keeps running.
	Process(batchIdx int) error
	// LastRun runs exactly once, just after the final Process.
	LastRun(batchIdx int) error
	// Deinit runs once per worker, on the executor goroutine, after
	// LastRun.
	Deinit() error

	// Parent returns the node the worker was spawned from.
	Parent() *Node
	// BreakProcessLoop asks the executor to stop invoking Process on
	// this worker.
	BreakProcessLoop()
	// IsStopped reports whether BreakProcessLoop was called.
	IsStopped() bool
}

// WorkerFactory produces workers for a node. It is the single extension
// point of the framework: implement it (or wrap a function with
// WorkerFactoryFunc) and return a fresh Worker per call.
type WorkerFactory interface {
	CreateWorker(parent *Node) Worker
}

// WorkerFactoryFunc adapts a function to the WorkerFactory interface.
type WorkerFactoryFunc func(parent *Node) Worker

// CreateWorker calls f.
func (f WorkerFactoryFunc) CreateWorker(parent *Node) Worker {
	return f(parent)
}

// defaultSendTimeout is applied by BaseWorker.SendOutput when the caller
// passes a negative timeout.
const defaultSendTimeout = time.Second

// BaseWorker supplies the no-op lifecycle methods, the parent back
// reference and the internal stop flag. Embed it and implement Process.
type BaseWorker struct {
	parent  *Node
	stopped atomic.Bool
}

// NewBaseWorker builds the embeddable base for a worker of parent.
func NewBaseWorker(parent *Node) BaseWorker {
	return BaseWorker{parent: parent}
}

// Init is a no-op default.
func (w *BaseWorker) Init() error { return nil }

// FirstRun is a no-op default.
func (w *BaseWorker) FirstRun(batchIdx int) error { return nil }

// LastRun is a no-op default.
func (w *BaseWorker) LastRun(batchIdx int) error { return nil }

// Deinit is a no-op default.
func (w *BaseWorker) Deinit() error { return nil }

// Parent returns the spawning node.
func (w *BaseWorker) Parent() *Node { return w.parent }

// BreakProcessLoop marks the worker stopped; its executor skips it from
// the next iteration on.
func (w *BaseWorker) BreakProcessLoop() { w.stopped.Store(true) }

// IsStopped reports whether the process loop was broken.
func (w *BaseWorker) IsStopped() bool { return w.stopped.Load() }

// SendOutput forwards a blob through the parent's out port. A negative
// timeout applies the framework default of one second; zero blocks until
// the downstream accepts or the pipeline stops.
func (w *BaseWorker) SendOutput(blob *payload.Blob, portID int, timeout time.Duration) status.Status {
	if w.parent == nil {
		return status.PortNullPtr
	}
	if timeout < 0 {
		timeout = defaultSendTimeout
	}
	return w.parent.SendOutput(blob, portID, timeout)
}

// GetBatchedInput gathers input for this worker through the parent's
// batching algorithm.
func (w *BaseWorker) GetBatchedInput(batchIdx int, portIndices []int) []*payload.Blob {
	if w.parent == nil {
		return nil
	}
	return w.parent.GetBatchedInput(batchIdx, portIndices)
}
