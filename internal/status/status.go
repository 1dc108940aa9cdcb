// Package status serves live progress of a running suite: a JSON snapshot
// endpoint for polling and a websocket stream of completed test results.
// Long matrix runs take hours; this is how one checks on them without
// touching the output directory.
package status

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/jellydator/ttlcache/v3"

	"github.com/castbench/castbench/internal/scheduler"
	"github.com/castbench/castbench/pkg/model"
)

// snapshotKey is the single cache key for the rendered snapshot. The cache
// exists to bound the cost of concurrent pollers re-marshaling the full
// result list.
const snapshotKey = "snapshot"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Snapshot is the /status response body.
type Snapshot struct {
	Metadata  model.SuiteMetadata `json:"metadata"`
	Completed int                 `json:"completed"`
	Results   []model.TestResult  `json:"results"`
}

// Server exposes suite progress over HTTP.
type Server struct {
	metadata model.SuiteMetadata
	results  *scheduler.Aggregator

	cache *ttlcache.Cache[string, []byte]

	mu   sync.Mutex
	subs map[*websocket.Conn]bool

	srv *http.Server
}

// NewServer builds a status server over the given aggregator.
func NewServer(metadata model.SuiteMetadata, results *scheduler.Aggregator) *Server {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, []byte](1*time.Second),
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	go cache.Start()
	return &Server{
		metadata: metadata,
		results:  results,
		cache:    cache,
		subs:     map[*websocket.Conn]bool{},
	}
}

// Start listens on addr in a background goroutine.
func (s *Server) Start(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.Status)
	mux.HandleFunc("/events", s.Events)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
	}
	log.Info("status server listening", "addr", addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("status server failed", "error", err)
		}
	}()
}

// Close stops the server, the cache janitor and every event subscriber.
func (s *Server) Close() {
	if s.srv != nil {
		s.srv.Close()
	}
	s.cache.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.subs {
		conn.Close()
	}
	s.subs = map[*websocket.Conn]bool{}
}

// Status writes the current suite snapshot, cached for one second.
func (s *Server) Status(rw http.ResponseWriter, req *http.Request) {
	if item := s.cache.Get(snapshotKey); item != nil {
		rw.Header().Set("Content-Type", "application/json")
		rw.Write(item.Value())
		return
	}
	snap := Snapshot{
		Metadata:  s.metadata,
		Completed: s.results.Len(),
		Results:   s.results.Sorted(),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	s.cache.Set(snapshotKey, data, ttlcache.DefaultTTL)
	rw.Header().Set("Content-Type", "application/json")
	rw.Write(data)
}

// Events upgrades to a websocket and streams each completed TestResult as
// a JSON message until the client disconnects.
func (s *Server) Events(rw http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(rw, req, nil)
	if err != nil {
		log.Debug("events upgrade failed", "error", err)
		return
	}
	s.mu.Lock()
	s.subs[conn] = true
	s.mu.Unlock()
	// Reads are only needed to notice the close handshake.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.drop(conn)
				return
			}
		}
	}()
}

// Notify pushes a completed result to every subscriber. Wired to the
// aggregator's OnAdd callback.
func (s *Server) Notify(result model.TestResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.subs {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(result); err != nil {
			conn.Close()
			delete(s.subs, conn)
		}
	}
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn.Close()
	delete(s.subs, conn)
}
