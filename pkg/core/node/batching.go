package node

import (
	"github.com/TheEntropyCollective/flowgraph/pkg/core/payload"
)

// BatchingPolicy selects how queued blobs are gathered for one worker
// invocation.
type BatchingPolicy uint

const (
	// BatchingIgnoringStream gathers blobs regardless of their stream id.
	// This is the default.
	BatchingIgnoringStream BatchingPolicy = 0x1
	// BatchingWithStream shards each in port by stream id; a worker bound
	// to batch index b consumes only shard b.
	BatchingWithStream BatchingPolicy = 0x2
	// BatchingReserved is reserved for user-defined policies.
	BatchingReserved BatchingPolicy = 0x4
)

// BatchingAlgo gathers zero or more blobs from the node's in ports for one
// worker call. Implementations own their locking; the framework only
// promises that stop (StopBatching or port stop) breaks any wait.
type BatchingAlgo func(batchIdx int, portIndices []int, n *Node) []*payload.Blob

// BatchingConfig carries the batching policy of one node and its sizing
// knobs. Algo may be left nil to pick the default matching the policy.
type BatchingConfig struct {
	Policy            BatchingPolicy
	BatchSize         int
	StreamNum         int
	ThreadNumPerBatch int
	Algo              BatchingAlgo
}

// NewBatchingConfig returns the default config: stream-agnostic batching,
// one blob per batch, one shard, one thread per batch.
func NewBatchingConfig() *BatchingConfig {
	return &BatchingConfig{
		Policy:            BatchingIgnoringStream,
		BatchSize:         1,
		StreamNum:         1,
		ThreadNumPerBatch: 1,
	}
}

// normalized fills zero fields with their defaults and resolves the
// batching algorithm.
func (c *BatchingConfig) normalized() *BatchingConfig {
	out := *c
	if out.Policy == 0 {
		out.Policy = BatchingIgnoringStream
	}
	if out.BatchSize < 1 {
		out.BatchSize = 1
	}
	if out.StreamNum < 1 {
		out.StreamNum = 1
	}
	if out.ThreadNumPerBatch < 1 {
		out.ThreadNumPerBatch = 1
	}
	if out.Algo == nil {
		if out.Policy&BatchingWithStream != 0 {
			out.Algo = StreamBatching
		} else {
			out.Algo = DefaultBatching
		}
	}
	return &out
}

// subQueueNum returns the shard count the node's in ports need under this
// config.
func (c *BatchingConfig) subQueueNum() int {
	if c.Policy&BatchingWithStream != 0 {
		return c.StreamNum
	}
	return 1
}

// DefaultBatching is the BatchingIgnoringStream algorithm: from each
// requested in port, in port-index order, it pops BatchSize blobs,
// blocking until each arrives or batching stops. batchIdx is ignored.
// Blobs gathered before a stop are still returned.
func DefaultBatching(batchIdx int, portIndices []int, n *Node) []*payload.Blob {
	cfg := n.BatchingConfig()
	batchStop := n.batchStopChan()

	var out []*payload.Blob
	for _, portIdx := range portIndices {
		port, err := n.In(portIdx)
		if err != nil {
			continue
		}
		for i := 0; i < cfg.BatchSize; i++ {
			blob, ok := port.pop(0, batchStop)
			if !ok {
				return out
			}
			out = append(out, blob)
		}
	}
	return out
}

// StreamBatching is the BatchingWithStream algorithm. A call with batch
// index b consumes only sub-queues whose shard index is b, so every blob of
// one stream is seen by exactly one worker. It also enforces in-order
// frame delivery per stream: a blob whose frame id is not beyond the last
// delivered frame of its stream is skipped with a warning.
func StreamBatching(batchIdx int, portIndices []int, n *Node) []*payload.Blob {
	cfg := n.BatchingConfig()
	batchStop := n.batchStopChan()
	if batchIdx < 0 || batchIdx >= cfg.StreamNum {
		return nil
	}

	var out []*payload.Blob
	for _, portIdx := range portIndices {
		port, err := n.In(portIdx)
		if err != nil {
			continue
		}
		for i := 0; i < cfg.BatchSize; i++ {
			blob, ok := n.popInOrder(port, batchIdx, batchStop)
			if !ok {
				return out
			}
			out = append(out, blob)
		}
	}
	return out
}

// popInOrder pops from the shard until it sees a blob in frame order for
// its stream, skipping and releasing stale ones.
func (n *Node) popInOrder(port *InPort, shard int, batchStop <-chan struct{}) (*payload.Blob, bool) {
	for {
		blob, ok := port.pop(shard, batchStop)
		if !ok {
			return nil, false
		}
		n.streamMu.Lock()
		last, seen := n.lastFrameID[blob.StreamID]
		if seen && blob.FrameID <= last {
			n.streamMu.Unlock()
			n.log.Warningf("node %q: out-of-order frame %d on stream %d (last delivered %d), skipped",
				n.Name(), blob.FrameID, blob.StreamID, last)
			blob.Release()
			continue
		}
		n.lastFrameID[blob.StreamID] = blob.FrameID
		n.streamMu.Unlock()
		return blob, true
	}
}
