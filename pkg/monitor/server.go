// Package monitor exposes a running pipeline over HTTP for inspection.
// It serves the pipeline state, per-node port occupancy and executor
// statistics as JSON, and streams event emissions to websocket clients.
// The monitor observes only; it cannot mutate the pipeline.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/TheEntropyCollective/flowgraph/pkg/core/event"
	"github.com/TheEntropyCollective/flowgraph/pkg/core/node"
	"github.com/TheEntropyCollective/flowgraph/pkg/core/pipeline"
	"github.com/TheEntropyCollective/flowgraph/pkg/logging"
)

// APIResponse is the JSON envelope of every monitor endpoint.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusInfo summarizes the pipeline.
type StatusInfo struct {
	State         string `json:"state"`
	NodeCount     int    `json:"node_count"`
	ExecutorCount int    `json:"executor_count"`
	ProcessErrors int64  `json:"process_errors"`
}

// PortInfo describes one in port of a node.
type PortInfo struct {
	Index       int    `json:"index"`
	Occupancy   int    `json:"occupancy"`
	SubQueueNum int    `json:"sub_queue_num"`
	Policy      string `json:"policy"`
	State       string `json:"state"`
}

// NodeInfo describes one node.
type NodeInfo struct {
	Name            string     `json:"name"`
	Source          bool       `json:"source"`
	InPortNum       int        `json:"in_port_num"`
	OutPortNum      int        `json:"out_port_num"`
	TotalThreadNum  int        `json:"total_thread_num"`
	LoopingInterval string     `json:"looping_interval"`
	InPorts         []PortInfo `json:"in_ports"`
}

// EventNotice is one websocket frame of the event feed.
type EventNotice struct {
	Event     uint64 `json:"event"`
	Data      string `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Server is the pipeline status server.
type Server struct {
	pl   *pipeline.Pipeline
	addr string
	http *http.Server

	wsUpgrader websocket.Upgrader
	wsMutex    sync.RWMutex
	wsClients  map[*websocket.Conn]chan EventNotice

	log *logging.Logger
}

// NewServer builds a monitor for the pipeline listening on host:port.
func NewServer(pl *pipeline.Pipeline, host string, port int) *Server {
	s := &Server{
		pl:   pl,
		addr: fmt.Sprintf("%s:%d", host, port),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		wsClients: make(map[*websocket.Conn]chan EventNotice),
		log:       logging.GetGlobalLogger().WithComponent("monitor"),
	}

	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/nodes", s.handleNodes).Methods("GET")
	api.HandleFunc("/events", s.handleWebSocket)

	s.http = &http.Server{Addr: s.addr, Handler: router}
	return s
}

// Start hooks the event feed into the pipeline and begins serving.
// Non-blocking; ListenAndServe failures are logged.
func (s *Server) Start() {
	s.pl.EventManager().SetObserver(s.broadcastEvent)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("monitor server failed: %v", err)
		}
	}()
	s.log.Infof("monitor listening on %s", s.addr)
}

// Stop detaches from the pipeline and shuts the server down.
func (s *Server) Stop() error {
	s.pl.EventManager().SetObserver(nil)

	s.wsMutex.Lock()
	for conn, ch := range s.wsClients {
		close(ch)
		conn.Close()
		delete(s.wsClients, conn)
	}
	s.wsMutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var errs int64
	for _, e := range s.pl.Executors() {
		errs += e.ProcessErrors()
	}
	writeJSON(w, APIResponse{Success: true, Data: StatusInfo{
		State:         s.pl.State().String(),
		NodeCount:     len(s.pl.NodeNames()),
		ExecutorCount: len(s.pl.Executors()),
		ProcessErrors: errs,
	}})
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	var nodes []NodeInfo
	for _, name := range s.pl.NodeNames() {
		n := s.pl.Node(name)
		if n == nil {
			continue
		}
		info := NodeInfo{
			Name:            name,
			Source:          s.pl.IsSource(name),
			InPortNum:       n.InPortNum(),
			OutPortNum:      n.OutPortNum(),
			TotalThreadNum:  n.TotalThreadNum(),
			LoopingInterval: n.LoopingInterval().String(),
		}
		for i := 0; i < n.InPortNum(); i++ {
			in, err := n.In(i)
			if err != nil {
				continue
			}
			policy := "block"
			if in.Policy() == node.DiscardIfFull {
				policy = "discard"
			}
			info.InPorts = append(info.InPorts, PortInfo{
				Index:       i,
				Occupancy:   in.Occupancy(),
				SubQueueNum: in.SubQueueNum(),
				Policy:      policy,
				State:       in.State().String(),
			})
		}
		nodes = append(nodes, info)
	}
	writeJSON(w, APIResponse{Success: true, Data: nodes})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warningf("websocket upgrade failed: %v", err)
		return
	}

	send := make(chan EventNotice, 32)
	s.wsMutex.Lock()
	s.wsClients[conn] = send
	s.wsMutex.Unlock()

	go s.writeLoop(conn, send)
	go s.readLoop(conn)
}

// writeLoop pushes event notices to one client until its channel closes
// or a write fails.
func (s *Server) writeLoop(conn *websocket.Conn, send chan EventNotice) {
	for notice := range send {
		if err := conn.WriteJSON(notice); err != nil {
			s.dropClient(conn)
			return
		}
	}
}

// readLoop consumes and discards client frames, detaching on error so
// closed connections are cleaned up.
func (s *Server) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.dropClient(conn)
			return
		}
	}
}

func (s *Server) dropClient(conn *websocket.Conn) {
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()
	if ch, ok := s.wsClients[conn]; ok {
		close(ch)
		delete(s.wsClients, conn)
	}
	conn.Close()
}

// broadcastEvent fans one event emission out to every connected client.
// Clients too slow to drain their buffer are dropped rather than allowed
// to stall the emitting goroutine.
func (s *Server) broadcastEvent(e event.Event, data any) {
	notice := EventNotice{
		Event:     uint64(e),
		Data:      fmt.Sprintf("%v", data),
		Timestamp: time.Now().UnixMilli(),
	}
	s.wsMutex.RLock()
	var slow []*websocket.Conn
	for conn, ch := range s.wsClients {
		select {
		case ch <- notice:
		default:
			slow = append(slow, conn)
		}
	}
	s.wsMutex.RUnlock()
	for _, conn := range slow {
		s.log.Warningf("dropping slow monitor client %s", conn.RemoteAddr())
		s.dropClient(conn)
	}
}

func writeJSON(w http.ResponseWriter, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	if !resp.Success {
		w.WriteHeader(http.StatusInternalServerError)
	}
	json.NewEncoder(w).Encode(resp)
}
