package monitor

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/TheEntropyCollective/flowgraph/pkg/core/node"
	"github.com/TheEntropyCollective/flowgraph/pkg/core/pipeline"
)

type idleWorker struct {
	node.BaseWorker
}

func (w *idleWorker) Process(batchIdx int) error {
	w.BreakProcessLoop()
	return nil
}

func buildPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	pl := pipeline.New()
	factory := node.WorkerFactoryFunc(func(parent *node.Node) node.Worker {
		return &idleWorker{BaseWorker: node.NewBaseWorker(parent)}
	})

	source := node.New(0, 1, 1, factory)
	sink := node.New(1, 0, 1, factory)
	if _, err := pl.SetSource(source, "reader"); err != nil {
		t.Fatalf("SetSource failed: %v", err)
	}
	if _, err := pl.AddNode(sink, "writer"); err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}
	if err := pl.LinkNode("reader", 0, "writer", 0, nil); err != nil {
		t.Fatalf("LinkNode failed: %v", err)
	}
	if err := pl.Prepare(); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	return pl
}

func TestStatusEndpoint(t *testing.T) {
	pl := buildPipeline(t)
	s := NewServer(pl, "localhost", 0)

	req := httptest.NewRequest("GET", "/api/status", nil)
	rr := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var resp APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !resp.Success {
		t.Fatalf("Expected success envelope: %+v", resp)
	}
	data, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatalf("re-marshal failed: %v", err)
	}
	var info StatusInfo
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("status payload malformed: %v", err)
	}
	if info.State != "initialized" {
		t.Errorf("Expected initialized state, got %s", info.State)
	}
	if info.NodeCount != 2 || info.ExecutorCount != 2 {
		t.Errorf("Expected 2 nodes / 2 executors, got %+v", info)
	}
}

func TestNodesEndpoint(t *testing.T) {
	pl := buildPipeline(t)
	s := NewServer(pl, "localhost", 0)

	req := httptest.NewRequest("GET", "/api/nodes", nil)
	rr := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var resp APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	data, _ := json.Marshal(resp.Data)
	var nodes []NodeInfo
	if err := json.Unmarshal(data, &nodes); err != nil {
		t.Fatalf("nodes payload malformed: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("Expected 2 nodes, got %d", len(nodes))
	}
	if nodes[0].Name != "reader" || !nodes[0].Source {
		t.Errorf("Expected reader source first, got %+v", nodes[0])
	}
	if len(nodes[1].InPorts) != 1 {
		t.Fatalf("Expected 1 in port on writer, got %+v", nodes[1])
	}
	if nodes[1].InPorts[0].Policy != "block" {
		t.Errorf("Expected block policy, got %s", nodes[1].InPorts[0].Policy)
	}
}
