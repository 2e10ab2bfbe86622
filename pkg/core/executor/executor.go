// Package executor implements the execution unit of a Flowgraph pipeline.
// An executor owns one goroutine and an ordered set of node workers that
// share it: members run serially within an executor, and parallelism comes
// from duplicating the executor shape. The executor alone drives the
// worker lifecycle, in the order init, first-run, process loop, last-run,
// deinit.
package executor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheEntropyCollective/flowgraph/pkg/core/node"
	"github.com/TheEntropyCollective/flowgraph/pkg/logging"
	"github.com/TheEntropyCollective/flowgraph/pkg/util"
)

type member struct {
	name       string
	node       *node.Node
	worker     node.Worker
	initFailed bool
}

// Executor groups workers that share a goroutine. Under default batching
// the pipeline builds one executor per worker; under stream batching it
// builds streamNum times threadNumPerBatch duplicates of the shape, each
// bound to one batch index.
type Executor struct {
	mu      sync.Mutex
	members []*member
	sorted  []*member
	links   map[string][]string

	batchIdx        int
	duplicateNum    int
	loopingInterval time.Duration
	batchingConfig  *node.BatchingConfig

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  atomic.Bool

	processErrs atomic.Int64
	log         *logging.Logger
}

// New builds an empty executor. duplicateNum records how many copies of
// this executor shape the pipeline materializes; loopingInterval seeds the
// loop cadence and is lowered to the minimum across member nodes.
func New(duplicateNum int, loopingInterval time.Duration, cfg *node.BatchingConfig) *Executor {
	if duplicateNum < 1 {
		duplicateNum = 1
	}
	return &Executor{
		links:           make(map[string][]string),
		duplicateNum:    duplicateNum,
		loopingInterval: loopingInterval,
		batchingConfig:  cfg,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
		log:             logging.GetGlobalLogger().WithComponent("executor"),
	}
}

// AddNode populates one worker from the node and appends it to the
// executor. The returned worker is the instance this executor will drive.
func (e *Executor) AddNode(n *node.Node, name string) (node.Worker, error) {
	if e.started.Load() {
		return nil, errors.New("executor: cannot add node after start")
	}
	w, err := n.CreateWorker()
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range e.members {
		if m.name == name {
			return nil, fmt.Errorf("executor: duplicate member name %q", name)
		}
	}
	e.members = append(e.members, &member{name: name, node: n, worker: w})
	return w, nil
}

// LinkNode declares that the member prevName produces for the member
// currName, constraining GenerateSorted to schedule the producer first.
func (e *Executor) LinkNode(prevName, currName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.links[prevName] = append(e.links[prevName], currName)
}

// SetBatchIdx binds the executor to one batch index. Meaningful under
// stream batching only.
func (e *Executor) SetBatchIdx(batchIdx int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batchIdx = batchIdx
}

// BatchIdx returns the bound batch index.
func (e *Executor) BatchIdx() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batchIdx
}

// DuplicateNum returns how many copies of this executor shape exist.
func (e *Executor) DuplicateNum() int {
	return e.duplicateNum
}

// ThreadNumPerBatch returns the fan-out of the executor's batching config,
// one when none is attached.
func (e *Executor) ThreadNumPerBatch() int {
	if e.batchingConfig == nil {
		return 1
	}
	return e.batchingConfig.ThreadNumPerBatch
}

// BatchingPolicy returns the policy of the attached batching config, the
// default policy when none is attached.
func (e *Executor) BatchingPolicy() node.BatchingPolicy {
	if e.batchingConfig == nil {
		return node.BatchingIgnoringStream
	}
	return e.batchingConfig.Policy
}

// LoopingInterval returns the effective loop cadence: the minimum of the
// seed interval and every member node's interval.
func (e *Executor) LoopingInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	interval := e.loopingInterval
	for _, m := range e.members {
		if ni := m.node.LoopingInterval(); ni < interval {
			interval = ni
		}
	}
	return interval
}

// ProcessErrors returns how many Process errors and panics the executor
// absorbed so far.
func (e *Executor) ProcessErrors() int64 {
	return e.processErrs.Load()
}

// GenerateSorted computes a topological order over the members from the
// declared links so producers run before their consumers within the
// shared goroutine. Members outside any link keep insertion order.
func (e *Executor) GenerateSorted() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	indegree := make(map[string]int, len(e.members))
	byName := make(map[string]*member, len(e.members))
	for _, m := range e.members {
		indegree[m.name] = 0
		byName[m.name] = m
	}
	for prev, succs := range e.links {
		if _, ok := byName[prev]; !ok {
			return fmt.Errorf("executor: link references unknown member %q", prev)
		}
		for _, succ := range succs {
			if _, ok := byName[succ]; !ok {
				return fmt.Errorf("executor: link references unknown member %q", succ)
			}
			indegree[succ]++
		}
	}

	// Kahn's algorithm, scanning members in insertion order so the sort
	// is stable for unconstrained members.
	sorted := make([]*member, 0, len(e.members))
	ready := make([]*member, 0, len(e.members))
	for _, m := range e.members {
		if indegree[m.name] == 0 {
			ready = append(ready, m)
		}
	}
	for len(ready) > 0 {
		m := ready[0]
		ready = ready[1:]
		sorted = append(sorted, m)
		for _, succ := range e.links[m.name] {
			indegree[succ]--
			if indegree[succ] == 0 {
				ready = append(ready, byName[succ])
			}
		}
	}
	if len(sorted) != len(e.members) {
		return errors.New("executor: member links form a cycle")
	}
	e.sorted = sorted
	return nil
}

// Start launches the executor goroutine. The run loop drives every member
// through the full worker lifecycle and exits on Stop or once every
// member broke its process loop.
func (e *Executor) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	go e.run()
}

// Stop signals the run loop to leave its process phase. The shutdown
// phase (last-run, deinit) still runs on the executor goroutine; use Join
// to wait for it.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	// An executor never started still needs Join to return.
	if !e.started.Load() {
		if e.started.CompareAndSwap(false, true) {
			close(e.done)
		}
	}
}

// Join blocks until the executor goroutine finished its shutdown phase.
func (e *Executor) Join() {
	<-e.done
}

func (e *Executor) stopped() bool {
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

func (e *Executor) run() {
	defer close(e.done)

	e.mu.Lock()
	members := e.members
	sorted := e.sorted
	batchIdx := e.batchIdx
	e.mu.Unlock()
	if sorted == nil {
		sorted = members
	}

	for _, m := range members {
		if err := m.worker.Init(); err != nil {
			e.log.Errorf("worker init failed on %q: %v", m.name, err)
			m.initFailed = true
			m.worker.BreakProcessLoop()
		}
	}
	for _, m := range members {
		if m.initFailed {
			continue
		}
		if err := m.worker.FirstRun(batchIdx); err != nil {
			e.log.Errorf("worker first-run failed on %q: %v", m.name, err)
		}
	}

	interval := e.LoopingInterval()
	for !e.stopped() {
		active := false
		for _, m := range sorted {
			if m.worker.IsStopped() {
				continue
			}
			active = true
			e.process(m, batchIdx)
		}
		if !active {
			break
		}
		if interval > 0 && !e.sleep(interval) {
			break
		}
	}

	for _, m := range members {
		if m.initFailed {
			continue
		}
		if err := m.worker.LastRun(batchIdx); err != nil {
			e.log.Errorf("worker last-run failed on %q: %v", m.name, err)
		}
	}
	for i := len(members) - 1; i >= 0; i-- {
		m := members[i]
		if m.initFailed {
			continue
		}
		if err := m.worker.Deinit(); err != nil {
			e.log.Errorf("worker deinit failed on %q: %v", m.name, err)
		}
	}
}

// process invokes one member's Process, absorbing errors and panics so a
// failing worker never tears down the goroutine it shares.
func (e *Executor) process(m *member, batchIdx int) {
	defer func() {
		if r := recover(); r != nil {
			e.processErrs.Add(1)
			e.log.Errorf("worker process panic on %q: %v", m.name, r)
		}
	}()
	if err := m.worker.Process(batchIdx); err != nil {
		e.processErrs.Add(1)
		e.log.Errorf("worker process failed on %q: %v", m.name, err)
	}
}

// sleep waits the loop interval, returning false when stop broke the
// wait. Short intervals use the precise sleep so source cadences below
// timer granularity hold.
func (e *Executor) sleep(interval time.Duration) bool {
	if interval < 10*time.Millisecond {
		util.PreciseSleep(interval)
		return !e.stopped()
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-e.stop:
		return false
	}
}
