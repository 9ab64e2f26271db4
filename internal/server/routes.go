// Package server wires HTTP handlers into a ServeMux for the linechat side
// server via routing helpers.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes configures and returns an HTTP ServeMux with the health check,
// online list, metrics and WebSocket endpoints.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.HealthHandler)
	mux.HandleFunc("/online", s.OnlineHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}
