// Package httpserver builds the intake service's HTTP server.
package httpserver

import (
	"net/http"
	"time"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultIdleTimeout       = 2 * time.Minute
)

// Option adjusts the constructed server.
type Option func(*http.Server)

// WithReadHeaderTimeout overrides the header read deadline.
func WithReadHeaderTimeout(d time.Duration) Option {
	return func(srv *http.Server) { srv.ReadHeaderTimeout = d }
}

// WithIdleTimeout overrides how long a keep-alive connection may sit
// between requests.
func WithIdleTimeout(d time.Duration) Option {
	return func(srv *http.Server) { srv.IdleTimeout = d }
}

// New builds the server. There is no global read or write
// timeout: archive downloads and chunk uploads are long-lived
// transfers, so slow-client protection stays at the header and idle
// boundaries and per-step deadlines live in the handlers.
func New(addr string, handler http.Handler, opts ...Option) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}
