// Package pipeline assembles and runs Flowgraph dataflow graphs. A
// Pipeline owns its nodes, the linkage between their ports, the executors
// materialized from them and a single event manager. The lifecycle is
// strict: build the graph, Prepare, Start, Stop.
package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/TheEntropyCollective/flowgraph/pkg/core/event"
	"github.com/TheEntropyCollective/flowgraph/pkg/core/executor"
	"github.com/TheEntropyCollective/flowgraph/pkg/core/node"
	"github.com/TheEntropyCollective/flowgraph/pkg/core/payload"
	"github.com/TheEntropyCollective/flowgraph/pkg/core/status"
	"github.com/TheEntropyCollective/flowgraph/pkg/logging"
)

// Pipeline is the assembled graph plus everything needed to run it.
// Nodes are owned exclusively by the pipeline from registration on;
// executors share references to nodes and their workers.
type Pipeline struct {
	mu        sync.Mutex
	nodes     map[string]*node.Node
	nodeOrder []string
	sources   map[string]bool
	executors []*executor.Executor
	evMng     *event.Manager
	state     status.State
	log       *logging.Logger
}

// New creates an empty pipeline in the Idle state.
func New() *Pipeline {
	return &Pipeline{
		nodes:   make(map[string]*node.Node),
		sources: make(map[string]bool),
		evMng:   event.NewManager(),
		state:   status.Idle,
		log:     logging.GetGlobalLogger().WithComponent("pipeline"),
	}
}

// SetSource registers a node with no in ports under the name. Source
// nodes produce data on their own cadence; everything else should come in
// through AddNode.
func (p *Pipeline) SetSource(n *node.Node, name string) (*node.Node, error) {
	if n.InPortNum() != 0 {
		return nil, fmt.Errorf("pipeline: source node %q must have zero in ports, has %d", name, n.InPortNum())
	}
	if err := p.register(n, name); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.sources[name] = true
	p.mu.Unlock()
	return n, nil
}

// AddNode registers an interior node under the name. Duplicate names are
// rejected.
func (p *Pipeline) AddNode(n *node.Node, name string) (*node.Node, error) {
	if err := p.register(n, name); err != nil {
		return nil, err
	}
	return n, nil
}

func (p *Pipeline) register(n *node.Node, name string) error {
	if n == nil {
		return fmt.Errorf("pipeline: nil node %q", name)
	}
	if name == "" {
		return fmt.Errorf("pipeline: node name must not be empty")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != status.Idle {
		return fmt.Errorf("pipeline: cannot add node %q after prepare", name)
	}
	if _, ok := p.nodes[name]; ok {
		return fmt.Errorf("pipeline: duplicate node name %q", name)
	}
	p.nodes[name] = n
	p.nodeOrder = append(p.nodeOrder, name)
	n.SetName(name)
	return nil
}

// LinkNode binds the producer's out port to the consumer's in port,
// optionally installing a converter run on every blob crossing the edge.
// A second link on the same out port replaces the first.
func (p *Pipeline) LinkNode(prevName string, prevOut int, currName string, currIn int, convert node.ConvertFunc) error {
	p.mu.Lock()
	if p.state != status.Idle {
		p.mu.Unlock()
		return fmt.Errorf("pipeline: cannot link after prepare")
	}
	prev, ok := p.nodes[prevName]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("pipeline: unknown node %q", prevName)
	}
	curr, ok := p.nodes[currName]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("pipeline: unknown node %q", currName)
	}
	p.mu.Unlock()

	out, err := prev.Out(prevOut)
	if err != nil {
		return err
	}
	in, err := curr.In(currIn)
	if err != nil {
		return err
	}
	if old := out.NextPort(); old != nil {
		old.ClearPrevPort()
	}
	out.Bind(in, convert)
	return nil
}

// Prepare validates the topology, assigns the event manager, sizes the
// port queues and materializes workers into executors per each node's
// batching policy. Topology errors abort and leave the pipeline Idle.
func (p *Pipeline) Prepare() error {
	p.mu.Lock()
	if p.state != status.Idle {
		p.mu.Unlock()
		return fmt.Errorf("pipeline: prepare called in state %s", p.state)
	}
	names := make([]string, len(p.nodeOrder))
	copy(names, p.nodeOrder)
	p.mu.Unlock()

	// Every in port of every node needs exactly one upstream out port.
	for _, name := range names {
		n := p.node(name)
		for i := 0; i < n.InPortNum(); i++ {
			in, err := n.In(i)
			if err != nil {
				return err
			}
			if !in.HasPrevPort() {
				return fmt.Errorf("pipeline: node %q in port %d has no upstream link", name, i)
			}
		}
	}

	var execs []*executor.Executor
	for _, name := range names {
		n := p.node(name)
		n.SetEventManager(p.evMng)
		for _, cb := range n.Callbacks() {
			p.evMng.RegisterEvent(cb.Event)
			if st := p.evMng.RegisterCallback(cb.Event, cb.Handler); st != status.Success {
				return fmt.Errorf("pipeline: folding callback for event 0x%x on node %q: %s", uint64(cb.Event), name, st)
			}
		}
		n.Setup()

		cfg := n.BatchingConfig()
		built, err := buildExecutors(n, name, cfg)
		if err != nil {
			return err
		}
		execs = append(execs, built...)
	}
	for _, e := range execs {
		if err := e.GenerateSorted(); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.executors = execs
	p.state = status.Initialized
	p.mu.Unlock()
	for _, name := range names {
		p.node(name).TransitStateTo(status.Initialized)
	}
	p.log.Infof("pipeline prepared: %d nodes, %d executors", len(names), len(execs))
	return nil
}

// buildExecutors materializes a node's worker pool. Default batching puts
// each worker on its own executor. Stream batching builds streamNum times
// threadNumPerBatch executors, each bound to one batch index.
func buildExecutors(n *node.Node, name string, cfg *node.BatchingConfig) ([]*executor.Executor, error) {
	interval := n.LoopingInterval()
	if cfg.Policy&node.BatchingWithStream != 0 {
		total := cfg.StreamNum * cfg.ThreadNumPerBatch
		execs := make([]*executor.Executor, 0, total)
		for shard := 0; shard < cfg.StreamNum; shard++ {
			for t := 0; t < cfg.ThreadNumPerBatch; t++ {
				e := executor.New(total, interval, cfg)
				e.SetBatchIdx(shard)
				if _, err := e.AddNode(n, name); err != nil {
					return nil, err
				}
				execs = append(execs, e)
			}
		}
		return execs, nil
	}

	execs := make([]*executor.Executor, 0, n.TotalThreadNum())
	for i := 0; i < n.TotalThreadNum(); i++ {
		e := executor.New(n.TotalThreadNum(), interval, cfg)
		if _, err := e.AddNode(n, name); err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, nil
}

// Start launches one goroutine per executor. Non-blocking.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	if p.state != status.Initialized {
		p.mu.Unlock()
		return fmt.Errorf("pipeline: start called in state %s", p.state)
	}
	p.state = status.Running
	execs := p.executors
	names := make([]string, len(p.nodeOrder))
	copy(names, p.nodeOrder)
	p.mu.Unlock()

	for _, name := range names {
		p.node(name).TransitStateTo(status.Running)
	}
	for _, e := range execs {
		e.Start()
	}
	p.log.Infof("pipeline started: %d executors", len(execs))
	return nil
}

// Stop shuts the pipeline down and blocks until every executor finished
// its shutdown phase. Batching and ports are signalled first so blocked
// workers observe stop, then executors drain through last-run and deinit
// and are joined. Queued blobs left behind are released. Stop after Stop
// is a no-op returning success.
func (p *Pipeline) Stop() status.Status {
	p.mu.Lock()
	if p.state == status.Stop {
		p.mu.Unlock()
		return status.Success
	}
	p.state = status.Stop
	execs := p.executors
	names := make([]string, len(p.nodeOrder))
	copy(names, p.nodeOrder)
	p.mu.Unlock()

	for _, name := range names {
		n := p.node(name)
		n.StopBatching()
		n.TransitStateTo(status.Stop)
	}
	for _, e := range execs {
		e.Stop()
	}
	for _, e := range execs {
		e.Join()
	}
	for _, name := range names {
		p.node(name).ClearAllPorts()
	}
	p.log.Info("pipeline stopped")
	return status.Success
}

// SendToPort injects a blob from outside the pipeline into the named
// node's in port. timeout zero blocks until accepted or stop.
func (p *Pipeline) SendToPort(data *payload.Blob, nodeName string, portID int, timeout time.Duration) status.Status {
	n := p.node(nodeName)
	if n == nil {
		return status.PortNullPtr
	}
	in, err := n.In(portID)
	if err != nil {
		return status.PortNullPtr
	}
	return in.Push(data, timeout)
}

// RegisterEvent registers an event id with the pipeline's event manager.
func (p *Pipeline) RegisterEvent(e event.Event) status.Status {
	return p.evMng.RegisterEvent(e)
}

// RegisterCallback attaches a callback to a registered event.
func (p *Pipeline) RegisterCallback(e event.Event, cb event.HandlerFunc) status.Status {
	return p.evMng.RegisterCallback(e, cb)
}

// EmitEvent raises an event, running its callbacks on the calling
// goroutine and releasing waiters.
func (p *Pipeline) EmitEvent(e event.Event, data any) status.Status {
	return p.evMng.EmitEvent(e, data)
}

// WaitForEvent blocks until the event fires.
func (p *Pipeline) WaitForEvent(e event.Event) status.Status {
	return p.evMng.WaitForEvent(e)
}

// EventManager exposes the pipeline's event manager.
func (p *Pipeline) EventManager() *event.Manager {
	return p.evMng
}

// State returns the pipeline lifecycle state.
func (p *Pipeline) State() status.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Node returns the registered node of that name, nil when unknown.
func (p *Pipeline) Node(name string) *node.Node {
	return p.node(name)
}

// NodeNames returns the registered node names in registration order.
func (p *Pipeline) NodeNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.nodeOrder))
	copy(out, p.nodeOrder)
	return out
}

// IsSource reports whether the named node was registered as a source.
func (p *Pipeline) IsSource(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sources[name]
}

// Executors returns the executors materialized at prepare.
func (p *Pipeline) Executors() []*executor.Executor {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*executor.Executor, len(p.executors))
	copy(out, p.executors)
	return out
}

func (p *Pipeline) node(name string) *node.Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nodes[name]
}
