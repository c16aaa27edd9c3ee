package relay

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/websocket"
)

type healthResponse struct {
	Status    string  `json:"status"`
	Message   string  `json:"message"`
	Timestamp string  `json:"timestamp"`
	Clients   int     `json:"clients"`
	Uptime    float64 `json:"uptime"`
}

type statsResponse struct {
	ConnectedClients int         `json:"connectedClients"`
	ServerUptime     float64     `json:"serverUptime"`
	MemoryUsage      memoryUsage `json:"memoryUsage"`
	Timestamp        string      `json:"timestamp"`
}

type memoryUsage struct {
	HeapAlloc uint64 `json:"heapAlloc"`
	HeapSys   uint64 `json:"heapSys"`
	Sys       uint64 `json:"sys"`
	NumGC     uint32 `json:"numGC"`
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/", s.handleRoot)
	return s.cors(mux)
}

// handleRoot upgrades WebSocket requests on any path and answers the health
// check on "/".
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWebSocket(w, r)
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	now := s.clock.Now()
	writeJSON(w, healthResponse{
		Status:    "OK",
		Message:   "Signaling relay is running",
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Clients:   s.router.Registry().Len(),
		Uptime:    now.Sub(s.startedAt).Seconds(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	now := s.clock.Now()
	writeJSON(w, statsResponse{
		ConnectedClients: s.router.Registry().Len(),
		ServerUptime:     now.Sub(s.startedAt).Seconds(),
		MemoryUsage: memoryUsage{
			HeapAlloc: mem.HeapAlloc,
			HeapSys:   mem.HeapSys,
			Sys:       mem.Sys,
			NumGC:     mem.NumGC,
		},
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	})
}

// cors applies the origin allowlist to plain HTTP requests. WebSocket
// upgrades pass through untouched; handleWebSocket refuses them with a close
// code instead.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		if !s.config.OriginAllowed(origin) {
			http.Error(w, "Not allowed by CORS", http.StatusForbidden)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Add("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
