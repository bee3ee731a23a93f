// Package httpserver builds the process's observability HTTP server.
package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with conservative defaults. It only ever serves
// /metrics and /healthz, so the timeouts are tight.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
