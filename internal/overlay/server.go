package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"ltlive/internal/metrics"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// ServerConfig configures the overlay websocket server.
type ServerConfig struct {
	Host string
	Port int
	Path string // websocket endpoint path (default: /ws)
	// MetricsPath mounts the metrics handler on the same mux. Empty disables it.
	MetricsPath string
	Queue       *Queue
	Logger      *slog.Logger
}

// Server drains the overlay queue and broadcasts every event to all
// connected overlay pages.
type Server struct {
	host        string
	port        int
	path        string
	metricsPath string
	queue       *Queue
	logger      *slog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
	// last state-carrying event per type, replayed to new clients
	last  map[string][]byte
	conns sync.WaitGroup
}

type wsClient struct {
	conn *websocket.Conn
	addr string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // the overlay page is opened from a local file or OBS browser source
	},
}

// replayOrder is the order in which remembered state is sent to a new client.
var replayOrder = []string{TypeScreenUpdate, TypeNotificationUpdate, TypePresentationUpdate, TypePendingUpdate}

// NewServer creates an overlay server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.Port == 0 {
		cfg.Port = 8081
	}
	return &Server{
		host:        cfg.Host,
		port:        cfg.Port,
		path:        cfg.Path,
		metricsPath: cfg.MetricsPath,
		queue:       cfg.Queue,
		logger:      cfg.Logger,
		clients:     make(map[*wsClient]struct{}),
		last:        make(map[string][]byte),
	}
}

func (s *Server) Name() string { return "overlay" }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return fmt.Sprintf("%s:%d", s.host, s.port) }

// Handler returns the HTTP handler serving the websocket, /healthz and metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleUpgrade)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metricsPath != "" {
		mux.HandleFunc("GET "+s.metricsPath, metrics.Collector.Handler())
	}
	return mux
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("overlay listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts overlay connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.closed = false
	s.mu.Unlock()

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("overlay server starting", "addr", ln.Addr().String(), "path", s.path)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	pumpCtx, stopPump := context.WithCancel(ctx)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.pump(pumpCtx)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			serveErr = fmt.Errorf("overlay serve: %w", err)
		}
	}

	stopPump()
	<-pumpDone
	s.closeAllClients()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	for range errCh {
	}
	s.conns.Wait()
	return serveErr
}

// pump moves events from the queue to the connected clients.
func (s *Server) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.queue.Ready():
			for _, e := range s.queue.Drain() {
				s.deliver(e)
			}
		}
	}
}

func (s *Server) deliver(e Event) {
	data, err := MarshalEvent(e)
	if err != nil {
		s.logger.Error("encode overlay event", "type", e.Type(), "err", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch e.Type() {
	case TypeNotificationUpdate, TypePresentationUpdate, TypeScreenUpdate, TypePendingUpdate:
		s.last[e.Type()] = data
	}

	for c := range s.clients {
		if err := c.write(data); err != nil {
			s.logger.Debug("overlay write failed, dropping client", "addr", c.addr, "err", err)
			s.dropLocked(c)
		}
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	c := &wsClient{conn: conn, addr: r.RemoteAddr}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()

	s.clients[c] = struct{}{}
	metrics.OverlayClients.Inc()
	for _, typ := range replayOrder {
		data, ok := s.last[typ]
		if !ok {
			continue
		}
		if err := c.write(data); err != nil {
			s.dropLocked(c)
			s.mu.Unlock()
			return
		}
	}
	s.mu.Unlock()

	s.logger.Info("overlay client connected", "addr", c.addr)

	defer func() {
		s.mu.Lock()
		s.dropLocked(c)
		s.mu.Unlock()
		s.logger.Info("overlay client disconnected", "addr", c.addr)
	}()

	// The overlay never sends anything meaningful; reading detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("overlay read error", "addr", c.addr, "err", err)
			}
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := len(s.clients)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": n,
		"pending": s.queue.Len(),
		"time":    time.Now().Format(time.RFC3339),
	})
}

// ClientCount returns the number of connected overlay pages.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// dropLocked removes c and closes its connection. s.mu must be held.
func (s *Server) dropLocked(c *wsClient) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	metrics.OverlayClients.Dec()
	c.conn.Close()
}

func (s *Server) closeAllClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for c := range s.clients {
		s.dropLocked(c)
	}
}

func (c *wsClient) write(data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
