// Package dashboard serves a local monitoring endpoint for the sync daemon:
// a WebSocket stream of sync events, a JSON stats snapshot, and Prometheus
// metrics.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/coachtools/matchsync/internal/engine"
	"github.com/coachtools/matchsync/internal/importer"
	"github.com/coachtools/matchsync/internal/model"
	"github.com/coachtools/matchsync/internal/stats"
)

// MessageType classifies a dashboard broadcast.
type MessageType string

const (
	// MessageTypeDrainComplete reports the outcome of a drain pass.
	MessageTypeDrainComplete MessageType = "drain_complete"

	// MessageTypeEntryFailed reports a queue entry failure.
	MessageTypeEntryFailed MessageType = "entry_failed"

	// MessageTypeImportComplete reports a finished import run.
	MessageTypeImportComplete MessageType = "import_complete"

	// MessageTypeConnectivity reports an online/offline transition.
	MessageTypeConnectivity MessageType = "connectivity"
)

// Message is the broadcast envelope.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EntryFailedData describes a failed queue entry.
type EntryFailedData struct {
	ID       int64           `json:"id"`
	Op       model.Operation `json:"op"`
	Kind     model.Kind      `json:"kind"`
	EntityID string          `json:"entityId"`
	Retries  int             `json:"retries"`
	Terminal bool            `json:"terminal"`
	Error    string          `json:"error,omitempty"`
}

// ConnectivityData describes an online/offline transition.
type ConnectivityData struct {
	Online bool `json:"online"`
}

// Server is the dashboard HTTP/WebSocket server. It implements engine.Events
// so drain outcomes stream to connected clients as they happen.
type Server struct {
	addr     string
	reporter *stats.Reporter
	logger   *log.Logger

	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a dashboard server bound to addr. The reporter supplies
// the /api/stats snapshot and the /metrics registry.
func NewServer(addr string, reporter *stats.Reporter, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		reporter:  reporter,
		logger:    logger,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start binds the listener and launches the HTTP server and broadcast loop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.Handle("/metrics", s.reporter.MetricsHandler())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Dashboard server error: %v", err)
		}
	}()

	return nil
}

// Stop closes client connections and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("dashboard shutdown error: %w", err)
	}
	s.wg.Wait()
	return nil
}

// Addr returns the bound address, useful when addr was ":0".
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// OnDrainComplete implements engine.Events.
func (s *Server) OnDrainComplete(result engine.DrainResult) {
	s.publish(MessageTypeDrainComplete, result)
}

// OnEntryFailed implements engine.Events.
func (s *Server) OnEntryFailed(entry *model.QueueEntry, terminal bool) {
	s.publish(MessageTypeEntryFailed, EntryFailedData{
		ID:       entry.ID,
		Op:       entry.Op,
		Kind:     entry.Kind,
		EntityID: entry.EntityID,
		Retries:  entry.Retries,
		Terminal: terminal,
		Error:    entry.LastError,
	})
}

// PublishImportComplete broadcasts an import summary.
func (s *Server) PublishImportComplete(summary *importer.Summary) {
	s.publish(MessageTypeImportComplete, summary)
}

// PublishConnectivity broadcasts an online/offline transition.
func (s *Server) PublishConnectivity(online bool) {
	s.publish(MessageTypeConnectivity, ConnectivityData{Online: online})
}

func (s *Server) publish(typ MessageType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Printf("Failed to encode %s broadcast: %v", typ, err)
		return
	}
	msg := Message{Type: typ, Timestamp: time.Now().UTC(), Data: data}

	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Printf("Warning: broadcast channel full, dropping %s message", typ)
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to encode message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Writes happen outside the lock so a slow client cannot
			// block new connections.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("Dashboard client connected (total: %d)", count)

	go s.readLoop(conn)
}

// readLoop drains client frames so pings are answered; client messages are
// otherwise ignored.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	_, exists := s.clients[conn]
	if exists {
		delete(s.clients, conn)
	}
	count := len(s.clients)
	s.clientsMu.Unlock()

	if exists {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Dashboard client disconnected (total: %d)", count)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.reporter.Collect(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>matchsync</title>
</head>
<body>
    <h1>matchsync daemon</h1>
    <p>WebSocket events: <code>ws://%s/ws</code></p>
    <p>Stats snapshot: <a href="/api/stats">/api/stats</a></p>
    <p>Metrics: <a href="/metrics">/metrics</a></p>
</body>
</html>`, r.Host)
}
