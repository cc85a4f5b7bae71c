package inspector

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fencepost/rbprof/profiler"
)

// Server exposes a Trace Getter registry over HTTP: a health check, a
// per-pid status endpoint, and a websocket sample feed.
type Server struct {
	mu          sync.RWMutex
	getters     map[int]*profiler.Getter
	broadcaster *Broadcaster
	mux         *http.ServeMux
	server      *http.Server
	addr        string
}

// NewServer builds a Server listening on addr (e.g. "127.0.0.1:9547").
func NewServer(addr string) *Server {
	s := &Server{
		getters:     make(map[int]*profiler.Getter),
		broadcaster: NewBroadcaster(),
		mux:         http.NewServeMux(),
		addr:        addr,
	}
	s.registerRoutes()
	return s
}

// Register adds a Getter to the registry so it shows up in /api/v1/status
// and its samples get broadcast over the websocket feed.
func (s *Server) Register(pid int, g *profiler.Getter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getters[pid] = g
}

// Unregister removes a Getter, e.g. once its target has exited.
func (s *Server) Unregister(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.getters, pid)
}

// Publish broadcasts a freshly taken sample to any subscribed websocket
// clients; call this from the sampling loop that drives each Getter.
func (s *Server) Publish(pid int, frames int) {
	s.broadcaster.Broadcast(Event{
		Type: EventSample,
		PID:  pid,
		Data: map[string]interface{}{"frames": frames},
	})
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/v1/status", s.handleStatus)
	s.mux.HandleFunc("/api/v1/ws", s.handleWebSocket)
}

// Handler returns the HTTP handler with localhost-only CORS applied.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// Start runs the HTTP server; it blocks until Shutdown is called or the
// listener fails.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	logrus.WithField("addr", s.addr).Info("inspector: starting")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and closes the broadcaster.
func (s *Server) Shutdown(ctx context.Context) error {
	s.broadcaster.Close()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isAllowedOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	return strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "https://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0.1") ||
		strings.HasPrefix(origin, "https://127.0.0.1")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.RLock()
	count := len(s.getters)
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"getters": count,
		"time":    time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]map[string]interface{}, 0, len(s.getters))
	for pid, g := range s.getters {
		out = append(out, map[string]interface{}{
			"pid":          pid,
			"state":        g.State().String(),
			"reinit_count": g.ReinitCount(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Debug("inspector: failed to encode response")
	}
}
