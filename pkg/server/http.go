package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the admin HTTP routes: /health, /metrics and the /ws bridge
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.HealthHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	mux.HandleFunc("/ws", s.HandleWebSocket)
	return mux
}

// HealthHandler serves health check status
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	state := s.state
	startTime := s.startTime
	s.mu.Unlock()

	status := "healthy"
	code := http.StatusOK
	if state != StateAccepting {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	health := map[string]interface{}{
		"status":         status,
		"state":          state.String(),
		"peers":          s.peers.Len(),
		"codec":          s.codec.Name(),
		"broadcast_mode": s.config.BroadcastMode,
	}
	if !startTime.IsZero() {
		health["uptime_seconds"] = int64(time.Since(startTime).Seconds())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		errorLog.Printf("Error encoding health JSON: %v", err)
	}
}
