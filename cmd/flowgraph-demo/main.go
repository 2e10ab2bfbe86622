// Demo command - builds and runs a two-node Flowgraph pipeline.
//
// A producer node emits counter payloads with integer metadata on a fixed
// cadence; a consumer node batches them off its in port and prints them.
// After the configured number of frames the producer raises the EOF event,
// the main goroutine's wait returns and the pipeline stops.
package main

import (
	"flag"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/TheEntropyCollective/flowgraph/pkg/core/event"
	"github.com/TheEntropyCollective/flowgraph/pkg/core/node"
	"github.com/TheEntropyCollective/flowgraph/pkg/core/payload"
	"github.com/TheEntropyCollective/flowgraph/pkg/core/pipeline"
	"github.com/TheEntropyCollective/flowgraph/pkg/infrastructure/config"
	"github.com/TheEntropyCollective/flowgraph/pkg/logging"
	"github.com/TheEntropyCollective/flowgraph/pkg/monitor"
)

// EventEOF is raised by the producer once all frames went out.
const EventEOF event.Event = 0x3

// Sample is the payload transmitted between the demo nodes.
type Sample struct {
	Name  string
	Value int
}

type producerWorker struct {
	node.BaseWorker
	counter *atomic.Int64
	frames  int
}

func (w *producerWorker) Process(batchIdx int) error {
	seq := int(w.counter.Add(1)) - 1
	if seq >= w.frames {
		if seq == w.frames {
			w.Parent().EmitEvent(EventEOF, seq)
		}
		w.BreakProcessLoop()
		return nil
	}

	blob := payload.NewBlob()
	blob.FrameID = seq
	blob.Timestamp = time.Now().UnixMilli()
	if _, err := payload.EmplaceWithMeta(blob, Sample{Name: "demo", Value: seq}, 8, seq+100, nil); err != nil {
		return err
	}

	if st := w.SendOutput(blob, 0, -1); !st.OK() {
		return fmt.Errorf("send frame %d: %s", seq, st)
	}
	return nil
}

type consumerWorker struct {
	node.BaseWorker
}

func (w *consumerWorker) Process(batchIdx int) error {
	blobs := w.GetBatchedInput(batchIdx, []int{0})
	for _, blob := range blobs {
		view, err := payload.GetWithMeta[Sample, int](blob, 0)
		if err != nil {
			return err
		}
		sample := view.Payload()
		meta, _ := view.Meta()
		fmt.Printf("frame %3d: %s value=%d meta=%d\n", blob.FrameID, sample.Name, sample.Value, meta)
		blob.Release()
	}
	return nil
}

func main() {
	var (
		frames     = flag.Int("frames", 100, "Number of frames the producer emits")
		interval   = flag.Duration("interval", 50*time.Millisecond, "Producer looping interval")
		configPath = flag.String("config", "", "Path to a flowgraph config file")
		logLevel   = flag.String("log-level", "info", "Log level (disabled, error, warning, info, debug)")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *configPath == "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.ApplyLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "logging setup failed: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, *frames, *interval); err != nil {
		fmt.Fprintf(os.Stderr, "demo failed: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, frames int, interval time.Duration) error {
	pl := pipeline.New()
	pl.RegisterEvent(EventEOF)

	var counter atomic.Int64
	producer := node.New(0, 1, 1, node.WorkerFactoryFunc(func(parent *node.Node) node.Worker {
		return &producerWorker{
			BaseWorker: node.NewBaseWorker(parent),
			counter:    &counter,
			frames:     frames,
		}
	}))
	producer.ConfigLoopingInterval(interval)

	consumer := node.New(1, 0, 1, node.WorkerFactoryFunc(func(parent *node.Node) node.Worker {
		return &consumerWorker{BaseWorker: node.NewBaseWorker(parent)}
	}))

	if _, err := pl.SetSource(producer, "producer"); err != nil {
		return err
	}
	if _, err := pl.AddNode(consumer, "consumer"); err != nil {
		return err
	}
	if err := pl.LinkNode("producer", 0, "consumer", 0, nil); err != nil {
		return err
	}
	if err := pl.Prepare(); err != nil {
		return err
	}

	var mon *monitor.Server
	if cfg.Monitor.Enabled {
		mon = monitor.NewServer(pl, cfg.Monitor.Host, cfg.Monitor.Port)
		mon.Start()
		defer mon.Stop()
	}

	if err := pl.Start(); err != nil {
		return err
	}
	logging.Infof("pipeline running, waiting for EOF after %d frames", frames)

	pl.WaitForEvent(EventEOF)
	if st := pl.Stop(); !st.OK() {
		return st
	}
	logging.Info("pipeline drained and stopped")
	return nil
}
