package httpserver

import (
	"net/http"
	"time"
)

// New builds the admin HTTP server. The write timeout is generous because
// CSV exports serialize their whole body into one response.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       time.Minute,
	}
}
